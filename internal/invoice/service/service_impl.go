package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/storefront/internal/account/domain"
	currencydomain "github.com/smallbiznis/storefront/internal/currency/domain"
	invoicedomain "github.com/smallbiznis/storefront/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/pkg/currency"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/repository"
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
	Payments   *paymentservice.Service
	Converter  currencydomain.Converter
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	payments   *paymentservice.Service
	converter  currencydomain.Converter
	joinrepo   repository.Repository[invoicedomain.InvoiceLineItem]
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		payments:   p.Payments,
		converter:  p.Converter,
		joinrepo:   repository.ProvideStore[invoicedomain.InvoiceLineItem](p.DB),
		obsMetrics: p.ObsMetrics,
	}
}

// Get loads one invoice by id.
func (s *Service) Get(ctx context.Context, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE id = ?`,
		invoiceID,
	).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return &invoice, nil
}

// CreateFromLineItems aggregates the given unpaid ledger entries into a
// new open invoice. Every id must be unpaid, belong to the account and
// region, and sit on no other non-void invoice; any mismatch creates
// nothing. The total is the sum of entry amounts, independent of id
// order.
func (s *Service) CreateFromLineItems(ctx context.Context, accountID, regionID snowflake.ID, lineItemIDs []snowflake.ID, dueAt *time.Time) (*invoicedomain.Invoice, error) {
	if len(lineItemIDs) == 0 {
		return nil, invoicedomain.ErrNoLineItems
	}

	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []accountdomain.AccountLineItem
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM account_line_items
			 WHERE id IN ?
			   AND account_id = ?
			   AND region_id = ?
			   AND payment_status = ?
			   AND id NOT IN (
			       SELECT ili.account_line_item_id
			       FROM invoice_line_items ili
			       JOIN invoices i ON i.id = ili.invoice_id
			       WHERE i.status <> ?
			   )`+db.LockForUpdate(tx),
			lineItemIDs,
			accountID,
			regionID,
			accountdomain.LineItemUnpaid,
			invoicedomain.StatusVoid,
		).Scan(&items).Error; err != nil {
			return err
		}
		if len(items) != len(lineItemIDs) {
			return invoicedomain.ErrStaleLineItems
		}

		var total int64
		currencyCode := items[0].CurrencyCode
		for _, item := range items {
			total += item.Amount
		}

		now := time.Now().UTC()
		invoice = invoicedomain.Invoice{
			ID:           s.genID.Generate(),
			AccountID:    accountID,
			RegionID:     regionID,
			CurrencyCode: currency.Normalize(currencyCode),
			TotalAmount:  total,
			Status:       invoicedomain.StatusOpen,
			DueAt:        dueAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			return err
		}

		joins := make([]*invoicedomain.InvoiceLineItem, 0, len(items))
		for _, item := range items {
			joins = append(joins, &invoicedomain.InvoiceLineItem{
				ID:                s.genID.Generate(),
				InvoiceID:         invoice.ID,
				AccountLineItemID: item.ID,
				Amount:            item.Amount,
				CreatedAt:         now,
			})
		}
		return s.joinrepo.WithTrx(tx).BatchCreate(ctx, joins)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// Pay captures the invoice total through the payment gateway and
// reconciles the ledger in one transaction: invoice paid, every entry
// paid, account paid_amount bumped by the converted total, payment
// recorded. A failure anywhere aborts the whole reconciliation.
func (s *Service) Pay(ctx context.Context, invoiceID snowflake.ID, providerCode string, sessionID *snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != invoicedomain.StatusOpen {
		return nil, invoicedomain.ErrInvoiceNotOpen
	}

	collection, err := s.payments.EnsureCollection(ctx, paymentdomain.ScopeInvoice, invoice.ID, invoice.TotalAmount, invoice.CurrencyCode)
	if err != nil {
		return nil, err
	}

	var session *paymentdomain.PaymentSession
	if sessionID != nil {
		session, err = s.payments.Session(ctx, *sessionID)
		if err != nil {
			return nil, err
		}
		if session.CollectionID != collection.ID {
			return nil, paymentdomain.ErrSessionNotFound
		}
	} else {
		session, err = s.payments.InitiateSession(ctx, collection.ID, providerCode)
		if err != nil {
			return nil, err
		}
	}

	result, err := s.payments.Capture(ctx, session, invoice.TotalAmount, invoice.CurrencyCode)
	if err != nil || !result.Status.CommitEligible() {
		if err == nil {
			err = paymentdomain.ErrCaptureFailed
		}
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrCaptureFailed, err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked invoicedomain.Invoice
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM invoices WHERE id = ?`+db.LockForUpdate(tx),
			invoice.ID,
		).Scan(&locked).Error; err != nil {
			return err
		}
		if locked.Status != invoicedomain.StatusOpen {
			return invoicedomain.ErrInvoiceNotOpen
		}

		var account accountdomain.Account
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM accounts WHERE id = ?`+db.LockForUpdate(tx),
			locked.AccountID,
		).Scan(&account).Error; err != nil {
			return err
		}
		if account.ID == 0 {
			return accountdomain.ErrAccountNotFound
		}

		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET status = ?, paid_at = ?, updated_at = ?
			 WHERE id = ?`,
			invoicedomain.StatusPaid,
			now,
			now,
			locked.ID,
		).Error; err != nil {
			return err
		}

		// Already-paid entries are skipped so a retried reconciliation
		// never double-settles.
		if err := tx.WithContext(ctx).Exec(
			`UPDATE account_line_items
			 SET payment_status = ?, updated_at = ?
			 WHERE payment_status = ?
			   AND id IN (
			       SELECT account_line_item_id FROM invoice_line_items
			       WHERE invoice_id = ?
			   )`,
			accountdomain.LineItemPaid,
			now,
			accountdomain.LineItemUnpaid,
			locked.ID,
		).Error; err != nil {
			return err
		}

		rate, err := s.converter.Rate(ctx, locked.CurrencyCode, account.CurrencyCode)
		if err != nil {
			return err
		}
		converted, err := s.converter.Convert(ctx, locked.TotalAmount, locked.CurrencyCode, account.CurrencyCode)
		if err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Exec(
			`UPDATE accounts
			 SET paid_amount = paid_amount + ?, updated_at = ?
			 WHERE id = ?`,
			converted,
			now,
			account.ID,
		).Error; err != nil {
			return err
		}

		payment := s.payments.NewPaymentFromCapture(result, session.ProviderCode, locked.TotalAmount, locked.CurrencyCode)
		payment.InvoiceID = &locked.ID
		payment.Payload = paymentPayload(result.Raw, rate, locked.CurrencyCode, account.CurrencyCode)
		return s.payments.CreatePayment(ctx, tx, payment)
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordInvoicePaid(ctx)
	}
	return s.Get(ctx, invoiceID)
}

// paymentPayload wraps the provider response with the conversion rate
// applied during reconciliation, for audit reproducibility.
func paymentPayload(raw []byte, rateMicro int64, fromCode, toCode string) datatypes.JSON {
	payload := map[string]any{
		"fx_rate_micro": rateMicro,
		"fx_from":       fromCode,
		"fx_to":         toCode,
	}
	if len(raw) > 0 {
		payload["capture"] = json.RawMessage(raw)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return datatypes.JSON(raw)
	}
	return datatypes.JSON(encoded)
}
