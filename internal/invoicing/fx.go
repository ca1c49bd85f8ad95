package invoicing

import (
	"go.uber.org/fx"

	"github.com/stackbay/agora/internal/invoicing/service"
)

var Module = fx.Module("invoicing.service",
	fx.Provide(service.NewService),
)
