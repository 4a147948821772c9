package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/credgate/credgate/internal/audit"
	"github.com/credgate/credgate/internal/budget"
	"github.com/credgate/credgate/internal/clock"
	"github.com/credgate/credgate/internal/config"
	"github.com/credgate/credgate/internal/hierarchy"
	"github.com/credgate/credgate/internal/ledger"
	"github.com/credgate/credgate/internal/migration"
	"github.com/credgate/credgate/internal/observability"
	"github.com/credgate/credgate/internal/pricing"
	"github.com/credgate/credgate/internal/usage"
	"github.com/credgate/credgate/internal/worker"
	"github.com/credgate/credgate/pkg/db"
)

// The worker binary drains the usage-job queue without serving HTTP, so
// deployments can scale ingestion separately from the gateway.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,
		audit.Module,
		hierarchy.Module,
		ledger.Module,
		pricing.Module,
		budget.Module,
		usage.Module,
		worker.Module,
		worker.RunModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
