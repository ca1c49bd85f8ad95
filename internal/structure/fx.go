package structure

import (
	"go.uber.org/fx"

	"github.com/stackbay/agora/internal/structure/service"
)

var Module = fx.Module("structure.service",
	fx.Provide(service.NewService),
)
