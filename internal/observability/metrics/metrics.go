package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ordersCompleted  metric.Int64Counter
	paymentsCaptured metric.Int64Counter
	webhookEvents    metric.Int64Counter
	creditRejections metric.Int64Counter
	invoicesPaid     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storefront"
	}
	meter := provider.Meter(name)

	ordersCompleted, err := meter.Int64Counter("storefront_orders_completed_total")
	if err != nil {
		return nil, err
	}
	paymentsCaptured, err := meter.Int64Counter("storefront_payments_captured_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("storefront_webhook_events_total")
	if err != nil {
		return nil, err
	}
	creditRejections, err := meter.Int64Counter("storefront_credit_rejections_total")
	if err != nil {
		return nil, err
	}
	invoicesPaid, err := meter.Int64Counter("storefront_invoices_paid_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ordersCompleted:  ordersCompleted,
		paymentsCaptured: paymentsCaptured,
		webhookEvents:    webhookEvents,
		creditRejections: creditRejections,
		invoicesPaid:     invoicesPaid,
	}, nil
}

// RecordOrderCompleted increments completed order counts.
func (m *Metrics) RecordOrderCompleted(ctx context.Context, funding string) {
	if m == nil {
		return
	}
	m.ordersCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("funding", funding)))
}

// RecordPaymentCaptured increments captured payment counts per provider.
func (m *Metrics) RecordPaymentCaptured(ctx context.Context, provider string, status string) {
	if m == nil {
		return
	}
	m.paymentsCaptured.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordWebhookEvent increments webhook event counts per provider and kind.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider string, kind string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordCreditRejection increments credit admission rejections.
func (m *Metrics) RecordCreditRejection(ctx context.Context) {
	if m == nil {
		return
	}
	m.creditRejections.Add(ctx, 1)
}

// RecordInvoicePaid increments paid invoice counts.
func (m *Metrics) RecordInvoicePaid(ctx context.Context) {
	if m == nil {
		return
	}
	m.invoicesPaid.Add(ctx, 1)
}

func newExporter(protocol string, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}
