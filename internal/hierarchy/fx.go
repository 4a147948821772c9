package hierarchy

import (
	"github.com/credgate/credgate/internal/hierarchy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("hierarchy.service",
	fx.Provide(service.NewService),
)
