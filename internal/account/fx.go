package account

import (
	"github.com/smallbiznis/storefront/internal/account/service"
	"go.uber.org/fx"
)

// Module provides the credit account ledger service.
var Module = fx.Module("account.service",
	fx.Provide(service.NewService),
)
