package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/credgate/credgate/internal/clock"
	"github.com/credgate/credgate/internal/migration"
	"github.com/credgate/credgate/internal/observability"
	"github.com/credgate/credgate/internal/server"
	"github.com/credgate/credgate/pkg/db"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,
		server.Module,
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
