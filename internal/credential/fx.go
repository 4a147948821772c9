package credential

import (
	"go.uber.org/fx"

	"github.com/credgate/credgate/internal/credential/service"
)

var Module = fx.Module("credential.service",
	fx.Provide(
		service.NewService,
	),
)
