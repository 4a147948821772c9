package apikey

import (
	"go.uber.org/fx"

	"github.com/credgate/credgate/internal/apikey/service"
)

var Module = fx.Module("apikey.service",
	fx.Provide(
		service.NewService,
	),
)
