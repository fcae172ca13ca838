// Package webhook ingests provider callbacks: verify, classify, record
// once, then route by normalized event kind.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/providers"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Registry   *providers.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	registry   *providers.Registry
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		registry:   p.Registry,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest verifies, parses and processes one inbound provider event.
// A replayed (provider, provider_event_id) pair is acknowledged without
// re-processing; an unrecognized event type is acknowledged and
// dropped.
func (s *Service) Ingest(ctx context.Context, providerCode string, payload []byte, headers http.Header) error {
	provider, err := s.registry.Get(providerCode)
	if err != nil {
		return err
	}

	if err := provider.VerifyWebhook(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected",
			zap.String("provider", provider.Code()),
			zap.Error(err),
		)
		return err
	}

	event, err := provider.ParseWebhook(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Info("webhook event ignored", zap.String("provider", provider.Code()))
			return nil
		}
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, event.Provider, string(event.Kind))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := paymentdomain.EventRecord{
			ID:              s.genID.Generate(),
			Provider:        event.Provider,
			ProviderEventID: event.ProviderEventID,
			EventKind:       string(event.Kind),
			Payload:         datatypes.JSON(event.RawPayload),
			ReceivedAt:      time.Now().UTC(),
		}
		result := tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return paymentdomain.ErrEventAlreadyProcessed
		}

		if err := s.route(ctx, tx, event); err != nil {
			return err
		}

		now := time.Now().UTC()
		return tx.WithContext(ctx).Exec(
			`UPDATE payment_events SET processed_at = ? WHERE id = ?`,
			now,
			record.ID,
		).Error
	})
	if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		s.log.Info("webhook event replayed",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}
	return err
}

// route applies the side effects of one event kind inside the ingest
// transaction.
func (s *Service) route(ctx context.Context, tx *gorm.DB, event *paymentdomain.WebhookEvent) error {
	payment, err := s.lockPaymentByRef(ctx, tx, event.Provider, event.ProviderRef)
	if err != nil {
		return err
	}
	if payment == nil {
		// Providers can emit events before checkout commits the
		// payment row. The record is kept; nothing to route yet.
		s.log.Info("webhook event has no matching payment",
			zap.String("provider", event.Provider),
			zap.String("provider_ref", event.ProviderRef),
			zap.String("kind", string(event.Kind)),
		)
		return nil
	}

	switch event.Kind {
	case paymentdomain.EventPaymentSucceeded, paymentdomain.EventCaptureCompleted:
		return s.markCaptured(ctx, tx, payment)
	case paymentdomain.EventPaymentFailed:
		return s.markClosed(ctx, tx, payment, paymentdomain.PaymentStatusFailed, "failed")
	case paymentdomain.EventAuthorizationCreated:
		return s.markAuthorized(ctx, tx, payment)
	case paymentdomain.EventAuthorizationVoided:
		return s.markClosed(ctx, tx, payment, paymentdomain.PaymentStatusCanceled, "canceled")
	default:
		s.log.Warn("webhook event kind not routed", zap.String("kind", string(event.Kind)))
		return nil
	}
}

func (s *Service) lockPaymentByRef(ctx context.Context, tx *gorm.DB, providerCode, providerRef string) (*paymentdomain.Payment, error) {
	if providerRef == "" {
		return nil, nil
	}
	var payment paymentdomain.Payment
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payments
		 WHERE provider_code = ? AND provider_ref = ?`+db.LockForUpdate(tx),
		providerCode,
		providerRef,
	).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (s *Service) markCaptured(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	if payment.Status == paymentdomain.PaymentStatusCaptured {
		return nil
	}
	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, captured_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		paymentdomain.PaymentStatusCaptured,
		now,
		now,
		payment.ID,
		paymentdomain.PaymentStatusPending,
		paymentdomain.PaymentStatusAuthorized,
	).Error; err != nil {
		return err
	}

	if payment.OrderID != nil {
		return tx.WithContext(ctx).Exec(
			`UPDATE orders
			 SET status = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			"completed",
			now,
			*payment.OrderID,
			"pending",
		).Error
	}
	return nil
}

func (s *Service) markAuthorized(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	if payment.Status != paymentdomain.PaymentStatusPending {
		return nil
	}
	now := time.Now().UTC()
	return tx.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		paymentdomain.PaymentStatusAuthorized,
		now,
		payment.ID,
		paymentdomain.PaymentStatusPending,
	).Error
}

// markClosed finalizes a payment in a terminal non-captured status and
// mirrors it onto the order when one is attached.
func (s *Service) markClosed(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, status paymentdomain.PaymentStatus, orderStatus string) error {
	if payment.Status == paymentdomain.PaymentStatusCaptured {
		// Settled money never flips on a late failure or void event.
		s.log.Warn("ignoring close event for captured payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("target_status", string(status)),
		)
		return nil
	}

	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status,
		now,
		payment.ID,
		paymentdomain.PaymentStatusPending,
		paymentdomain.PaymentStatusAuthorized,
	).Error; err != nil {
		return err
	}

	if payment.OrderID != nil {
		return tx.WithContext(ctx).Exec(
			`UPDATE orders
			 SET status = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			orderStatus,
			now,
			*payment.OrderID,
			"pending",
		).Error
	}
	return nil
}
