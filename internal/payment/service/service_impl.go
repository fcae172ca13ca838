package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/providers"
	"github.com/smallbiznis/storefront/pkg/currency"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		registry:   p.Registry,
		obsMetrics: p.ObsMetrics,
	}
}

// EnsureCollection finds or creates the payment collection for one cart
// or invoice and keeps its amount current.
func (s *Service) EnsureCollection(ctx context.Context, scope paymentdomain.CollectionScope, referenceID snowflake.ID, amount int64, currencyCode string) (*paymentdomain.PaymentCollection, error) {
	currencyCode = currency.Normalize(currencyCode)

	var collection paymentdomain.PaymentCollection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM payment_collections
			 WHERE scope = ? AND reference_id = ?`+db.LockForUpdate(tx),
			scope,
			referenceID,
		).Scan(&collection).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if collection.ID == 0 {
			collection = paymentdomain.PaymentCollection{
				ID:           s.genID.Generate(),
				Scope:        scope,
				ReferenceID:  referenceID,
				Amount:       amount,
				CurrencyCode: currencyCode,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			return tx.WithContext(ctx).Create(&collection).Error
		}

		if collection.Amount != amount || collection.CurrencyCode != currencyCode {
			collection.Amount = amount
			collection.CurrencyCode = currencyCode
			collection.UpdatedAt = now
			return tx.WithContext(ctx).Exec(
				`UPDATE payment_collections
				 SET amount = ?, currency_code = ?, updated_at = ?
				 WHERE id = ?`,
				amount,
				currencyCode,
				now,
				collection.ID,
			).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// InitiateSession creates or reuses the provider's session on a
// collection, then registers the provider-side object. A session whose
// provider call previously failed is reused, never duplicated.
func (s *Service) InitiateSession(ctx context.Context, collectionID snowflake.ID, providerCode string) (*paymentdomain.PaymentSession, error) {
	provider, err := s.registry.Get(providerCode)
	if err != nil {
		return nil, err
	}

	var (
		session    paymentdomain.PaymentSession
		collection paymentdomain.PaymentCollection
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM payment_collections WHERE id = ?`+db.LockForUpdate(tx),
			collectionID,
		).Scan(&collection).Error; err != nil {
			return err
		}
		if collection.ID == 0 {
			return paymentdomain.ErrCollectionNotFound
		}

		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM payment_sessions
			 WHERE collection_id = ? AND provider_code = ?`,
			collectionID,
			provider.Code(),
		).Scan(&session).Error; err != nil {
			return err
		}
		if session.ID != 0 {
			return nil
		}

		now := time.Now().UTC()
		session = paymentdomain.PaymentSession{
			ID:           s.genID.Generate(),
			CollectionID: collectionID,
			ProviderCode: provider.Code(),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.WithContext(ctx).Create(&session).Error
	})
	if err != nil {
		return nil, err
	}

	if session.IsInitiated {
		return &session, nil
	}

	// Provider call happens outside the transaction; on failure the
	// session stays non-initiated and the next call retries it.
	data, err := provider.CreateSession(ctx, paymentdomain.SessionRequest{
		SessionID:    session.ID,
		CollectionID: collection.ID,
		Amount:       collection.Amount,
		CurrencyCode: collection.CurrencyCode,
	})
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE payment_sessions
		 SET data = ?, is_initiated = ?, updated_at = ?
		 WHERE id = ?`,
		datatypes.JSON(encoded),
		true,
		now,
		session.ID,
	).Error; err != nil {
		return nil, err
	}

	session.Data = datatypes.JSON(encoded)
	session.IsInitiated = true
	session.UpdatedAt = now
	return &session, nil
}

// SelectSession makes one session the customer's choice, unselecting
// every other session in the collection in the same transaction.
func (s *Service) SelectSession(ctx context.Context, collectionID, sessionID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var collection paymentdomain.PaymentCollection
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM payment_collections WHERE id = ?`+db.LockForUpdate(tx),
			collectionID,
		).Scan(&collection).Error; err != nil {
			return err
		}
		if collection.ID == 0 {
			return paymentdomain.ErrCollectionNotFound
		}

		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE payment_sessions
			 SET is_selected = ?, updated_at = ?
			 WHERE collection_id = ? AND is_selected = ?`,
			false,
			now,
			collectionID,
			true,
		).Error; err != nil {
			return err
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE payment_sessions
			 SET is_selected = ?, updated_at = ?
			 WHERE id = ? AND collection_id = ?`,
			true,
			now,
			sessionID,
			collectionID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return paymentdomain.ErrSessionNotFound
		}
		return nil
	})
}

// Session loads one payment session by id.
func (s *Service) Session(ctx context.Context, sessionID snowflake.ID) (*paymentdomain.PaymentSession, error) {
	var session paymentdomain.PaymentSession
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM payment_sessions WHERE id = ?`,
		sessionID,
	).Scan(&session).Error; err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, paymentdomain.ErrSessionNotFound
	}
	return &session, nil
}

// Capture dispatches a capture to the session's provider and normalizes
// the outcome.
func (s *Service) Capture(ctx context.Context, session *paymentdomain.PaymentSession, amount int64, currencyCode string) (paymentdomain.CaptureResult, error) {
	provider, err := s.registry.Get(session.ProviderCode)
	if err != nil {
		return paymentdomain.CaptureResult{Status: paymentdomain.CaptureFailed}, err
	}

	result, err := provider.Capture(ctx, session, amount, currencyCode)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentCaptured(ctx, provider.Code(), string(result.Status))
	}
	if err != nil {
		s.log.Warn("payment capture failed",
			zap.String("provider", provider.Code()),
			zap.String("session_id", session.ID.String()),
			zap.Error(err),
		)
		return result, err
	}
	return result, nil
}

// CreatePayment writes a payment record inside the caller's
// transaction.
func (s *Service) CreatePayment(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	if payment.ID == 0 {
		payment.ID = s.genID.Generate()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	payment.CurrencyCode = currency.Normalize(payment.CurrencyCode)
	return tx.WithContext(ctx).Create(payment).Error
}

// NewPaymentFromCapture builds the payment row a commit-eligible
// capture produces. Manual captures stay pending until an operator
// settles them.
func (s *Service) NewPaymentFromCapture(result paymentdomain.CaptureResult, providerCode string, amount int64, currencyCode string) *paymentdomain.Payment {
	status := paymentdomain.PaymentStatusPending
	var capturedAt *time.Time
	if result.Status == paymentdomain.CaptureSucceeded {
		status = paymentdomain.PaymentStatusCaptured
		now := time.Now().UTC()
		capturedAt = &now
	}

	return &paymentdomain.Payment{
		ID:           s.genID.Generate(),
		ProviderCode: providerCode,
		ProviderRef:  result.ProviderRef,
		Amount:       amount,
		CurrencyCode: currency.Normalize(currencyCode),
		Status:       status,
		Payload:      datatypes.JSON(result.Raw),
		CapturedAt:   capturedAt,
	}
}
