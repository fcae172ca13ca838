// Package manual implements the cash-on-delivery provider. It never
// talks to a network; captures report manual_pending and real
// settlement is deferred to an operator.
package manual

import (
	"context"
	"net/http"

	"github.com/smallbiznis/storefront/internal/payment/domain"
)

const Code = "manual"

type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Code() string {
	return Code
}

func (p *Provider) CreateSession(ctx context.Context, req domain.SessionRequest) (map[string]any, error) {
	return map[string]any{
		"status": "pending",
	}, nil
}

func (p *Provider) Capture(ctx context.Context, session *domain.PaymentSession, amount int64, currencyCode string) (domain.CaptureResult, error) {
	return domain.CaptureResult{
		Status:      domain.CaptureManualPending,
		ProviderRef: session.ID.String(),
	}, nil
}

func (p *Provider) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (p *Provider) ParseWebhook(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	return nil, domain.ErrEventIgnored
}
