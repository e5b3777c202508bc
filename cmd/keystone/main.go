package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/keystone/internal/clock"
	"github.com/smallbiznis/keystone/internal/config"
	"github.com/smallbiznis/keystone/internal/migration"
	"github.com/smallbiznis/keystone/internal/server"
	"github.com/smallbiznis/keystone/pkg/db"
	"github.com/smallbiznis/keystone/pkg/log"
	"github.com/smallbiznis/keystone/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		telemetry.Module,
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
