package checkout

import (
	"github.com/smallbiznis/storefront/internal/checkout/service"
	"go.uber.org/fx"
)

// Module provides the cart finalization orchestrator.
var Module = fx.Module("checkout.service",
	fx.Provide(service.NewService),
)
