package invoice

import (
	"github.com/smallbiznis/storefront/internal/invoice/service"
	"go.uber.org/fx"
)

// Module provides the invoice service.
var Module = fx.Module("invoice.service",
	fx.Provide(service.NewService),
)
