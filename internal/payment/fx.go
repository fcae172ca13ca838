package payment

import (
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/providers"
	"github.com/smallbiznis/storefront/internal/payment/providers/cardpay"
	"github.com/smallbiznis/storefront/internal/payment/providers/flowpay"
	"github.com/smallbiznis/storefront/internal/payment/providers/manual"
	"github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the configured provider adapters, the session service
// and webhook ingestion.
var Module = fx.Module("payment",
	fx.Provide(
		NewRegistry,
		service.NewService,
		webhook.NewService,
	),
)

// NewRegistry builds the provider registry from configuration. The
// manual provider is always available; the card and wallet providers
// join when their credentials are configured.
func NewRegistry(cfg config.Config, log *zap.Logger) *providers.Registry {
	registered := []domain.Provider{manual.NewProvider()}

	if cfg.Payment.CardpayAPIKey != "" {
		registered = append(registered, cardpay.NewProvider(cardpay.Config{
			BaseURL:       cfg.Payment.CardpayBaseURL,
			APIKey:        cfg.Payment.CardpayAPIKey,
			WebhookSecret: cfg.Payment.CardpayWebhookSecret,
			Timeout:       cfg.Payment.ProviderTimeout,
		}, log))
	}

	if cfg.Payment.FlowpayClientID != "" {
		registered = append(registered, flowpay.NewProvider(flowpay.Config{
			BaseURL:      cfg.Payment.FlowpayBaseURL,
			ClientID:     cfg.Payment.FlowpayClientID,
			ClientSecret: cfg.Payment.FlowpayClientSecret,
			Timeout:      cfg.Payment.ProviderTimeout,
		}, log))
	}

	return providers.NewRegistry(registered...)
}
