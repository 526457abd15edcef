package main

import (
	"github.com/anuaedu/cobranca/internal/audit"
	"github.com/anuaedu/cobranca/internal/billing"
	"github.com/anuaedu/cobranca/internal/clock"
	"github.com/anuaedu/cobranca/internal/config"
	"github.com/anuaedu/cobranca/internal/gateway"
	"github.com/anuaedu/cobranca/internal/lock"
	"github.com/anuaedu/cobranca/internal/migration"
	"github.com/anuaedu/cobranca/internal/scheduler"
	"github.com/anuaedu/cobranca/internal/server"
	"github.com/anuaedu/cobranca/pkg/db"
	"github.com/anuaedu/cobranca/pkg/log"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,
		audit.Module,
		gateway.Module,
		billing.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
