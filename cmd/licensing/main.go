package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"license-controlplane/internal/httpapi"
	"license-controlplane/internal/server"
	pkgasynq "license-controlplane/pkg/asynq"
	"license-controlplane/pkg/config"
	"license-controlplane/pkg/db"
	"license-controlplane/pkg/health"
	"license-controlplane/pkg/locking"
	"license-controlplane/pkg/logger"
	"license-controlplane/pkg/redis"
	"license-controlplane/services/catalog"
	"license-controlplane/services/subscriptions"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		locking.Module,
		health.Module,
		pkgasynq.Client,
		fx.Provide(
			provideSnowflakeNode,
			httpapi.ProvideRouter,
		),
		subscriptions.Module,
		catalog.Module,
		server.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
