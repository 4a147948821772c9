package policy

import (
	"go.uber.org/fx"

	"github.com/credgate/credgate/internal/policy/service"
)

var Module = fx.Module("policy.service",
	fx.Provide(
		service.NewService,
	),
)
