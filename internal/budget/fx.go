package budget

import (
	"go.uber.org/fx"

	"github.com/credgate/credgate/internal/budget/service"
)

var Module = fx.Module("budget.service",
	fx.Provide(
		service.NewService,
	),
)
