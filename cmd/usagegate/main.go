package main

import (
	"github.com/abiah-ai/usagegate/internal/clock"
	"github.com/abiah-ai/usagegate/internal/config"
	"github.com/abiah-ai/usagegate/internal/migration"
	"github.com/abiah-ai/usagegate/internal/observability"
	"github.com/abiah-ai/usagegate/internal/server"
	"github.com/abiah-ai/usagegate/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus the domain modules it serves
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
