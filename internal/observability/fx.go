package observability

import (
	"github.com/smallbiznis/storefront/internal/config"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/fx"
)

// Module wires the metrics provider and domain instruments.
var Module = fx.Module("observability",
	fx.Provide(func(cfg config.Config) obsmetrics.Config {
		return obsmetrics.Config{
			Enabled:          cfg.MetricsEnabled,
			ExporterEndpoint: cfg.OTLPEndpoint,
			ExporterProtocol: "grpc",
			ServiceName:      cfg.AppName,
		}
	}),
	fx.Provide(obsmetrics.NewProvider),
	fx.Provide(obsmetrics.New),
)
