package gateway

import (
	"go.uber.org/fx"

	"github.com/credgate/credgate/internal/gateway/service"
)

var Module = fx.Module("gateway.service",
	fx.Provide(
		service.NewService,
	),
)
