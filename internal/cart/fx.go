package cart

import (
	"github.com/smallbiznis/storefront/internal/cart/service"
	"go.uber.org/fx"
)

// Module provides the cart service.
var Module = fx.Module("cart.service",
	fx.Provide(service.NewService),
)
