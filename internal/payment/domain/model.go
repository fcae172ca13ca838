// Package domain contains the payment gateway models shared by the
// provider adapters, session service and webhook routing.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CollectionScope marks what a payment collection settles.
type CollectionScope string

const (
	ScopeCart    CollectionScope = "cart"
	ScopeInvoice CollectionScope = "invoice"
)

// PaymentCollection is the container of candidate payment sessions for
// one cart or one invoice.
type PaymentCollection struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	Scope        CollectionScope `gorm:"type:text;not null"`
	ReferenceID  snowflake.ID    `gorm:"not null;index"`
	Amount       int64           `gorm:"not null"`
	CurrencyCode string          `gorm:"type:text;not null"`
	CreatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentCollection) TableName() string { return "payment_collections" }

// PaymentSession is one candidate attempt against one provider.
// IsInitiated tracks the provider-side session object; IsSelected is
// the customer's current choice. At most one session per collection is
// selected.
type PaymentSession struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	CollectionID snowflake.ID   `gorm:"not null;index"`
	ProviderCode string         `gorm:"type:text;not null"`
	Data         datatypes.JSON `gorm:"type:jsonb"`
	IsInitiated  bool           `gorm:"not null;default:false"`
	IsSelected   bool           `gorm:"not null;default:false"`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PaymentSession) TableName() string { return "payment_sessions" }

// PaymentStatus is the lifecycle of a payment record.
type PaymentStatus string

const (
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCanceled   PaymentStatus = "canceled"
)

// Payment is a captured or attempted payment. Only status and
// captured_at mutate after creation.
type Payment struct {
	ID           snowflake.ID   `gorm:"primaryKey"`
	OrderID      *snowflake.ID  `gorm:"index"`
	InvoiceID    *snowflake.ID  `gorm:"index"`
	ProviderCode string         `gorm:"type:text;not null"`
	ProviderRef  string         `gorm:"type:text"`
	Amount       int64          `gorm:"not null"`
	CurrencyCode string         `gorm:"type:text;not null"`
	Status       PaymentStatus  `gorm:"type:text;not null"`
	Payload      datatypes.JSON `gorm:"type:jsonb"`
	CapturedAt   *time.Time     `gorm:""`
	CreatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// EventRecord stores every inbound webhook event once per
// (provider, provider_event_id) for idempotent processing.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventKind       string         `gorm:"type:text;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time     `gorm:""`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "payment_events" }

// CaptureStatus is the normalized outcome of a capture attempt.
type CaptureStatus string

const (
	CaptureSucceeded     CaptureStatus = "succeeded"
	CaptureManualPending CaptureStatus = "manual_pending"
	CaptureFailed        CaptureStatus = "failed"
)

// CommitEligible reports whether an order or invoice may proceed on
// this capture outcome. Manual captures proceed but leave collection to
// an operator.
func (s CaptureStatus) CommitEligible() bool {
	return s == CaptureSucceeded || s == CaptureManualPending
}

// CaptureResult is a provider's normalized capture response.
type CaptureResult struct {
	Status      CaptureStatus
	ProviderRef string
	Raw         []byte
}

// EventKind is the closed set of normalized webhook event classes.
type EventKind string

const (
	EventPaymentSucceeded     EventKind = "payment_succeeded"
	EventCaptureCompleted     EventKind = "capture_completed"
	EventPaymentFailed        EventKind = "payment_failed"
	EventAuthorizationCreated EventKind = "authorization_created"
	EventAuthorizationVoided  EventKind = "authorization_voided"
)

// WebhookEvent is the canonical event parsed by provider adapters.
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	ProviderRef     string
	Kind            EventKind
	Amount          int64
	CurrencyCode    string
	OccurredAt      time.Time
	RawPayload      []byte
}

// SessionRequest carries what a provider needs to create its session
// object.
type SessionRequest struct {
	SessionID    snowflake.ID
	CollectionID snowflake.ID
	Amount       int64
	CurrencyCode string
}

// Provider is the polymorphic capability set every payment provider
// implements. Capture outcomes are normalized; native status vocabulary
// never leaks past the adapter.
type Provider interface {
	Code() string
	CreateSession(ctx context.Context, req SessionRequest) (map[string]any, error)
	Capture(ctx context.Context, session *PaymentSession, amount int64, currencyCode string) (CaptureResult, error)
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error
	ParseWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

var (
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrCollectionNotFound    = errors.New("payment_collection_not_found")
	ErrSessionNotFound       = errors.New("payment_session_not_found")
	ErrSessionNotSelected    = errors.New("payment_session_not_selected")
	ErrCaptureFailed         = errors.New("payment_capture_failed")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
