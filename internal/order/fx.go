package order

import (
	"github.com/smallbiznis/storefront/internal/order/service"
	"go.uber.org/fx"
)

// Module provides the order service.
var Module = fx.Module("order.service",
	fx.Provide(service.NewService),
)
