package main

import (
	"context"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/db"
	"license-controlplane/pkg/locking"
	"license-controlplane/pkg/logger"
	"license-controlplane/pkg/redis"
	"license-controlplane/pkg/taskname"
	"license-controlplane/services/enterprise"
	"license-controlplane/services/events"
	"license-controlplane/services/notifications"
	"license-controlplane/services/retirement"
	"license-controlplane/services/subscriptions"
	"license-controlplane/services/task"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		locking.Module,
		fx.Provide(
			provideSnowflakeNode,
			registerServerMux,
			registerAsynqServer,
			registerClient,
		),
		subscriptions.Module,
		notifications.Module,
		enterprise.Module,
		events.Module,
		retirement.Module,
		task.Module,
		fx.Invoke(
			registerHandlers,
			runServerMux,
		),
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

func registerClient(lc fx.Lifecycle, cfg *config.Config) *asynq.Client {
	client := asynq.NewClient(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	)

	if err := client.Ping(); err != nil {
		zap.L().Error("[Asynq] Failed to connect to Asynq", zap.Error(err))
		os.Exit(1)
	}

	zap.L().Info("[Asynq] Connected to Asynq")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

func registerServerMux() *asynq.ServeMux {
	return asynq.NewServeMux()
}

func registerAsynqServer(cfg *config.Config) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    10,
			RetryDelayFunc: asynq.DefaultRetryDelayFunc,
			Queues: map[string]int{
				"critical":      10,
				"default":       5,
				"notifications": 4,
				"low":           3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				zap.L().Error("asynq task permanently failed", zap.String("task_type", task.Type()), zap.Error(err))
			}),
		},
	)
}

func runServerMux(lc fx.Lifecycle, server *asynq.Server, mux *asynq.ServeMux) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(mux); err != nil {
					zap.L().Error("[Asynq] Failed to start Asynq server", zap.Error(err))
					os.Exit(1)
				}
			}()
			zap.L().Info("[Asynq] Asynq server started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Stop()
			return nil
		},
	})
}

func registerHandlers(
	mux *asynq.ServeMux,
	subs *subscriptions.Service,
	notify *notifications.Service,
	ent *enterprise.Service,
	evts *events.Service,
	retire *retirement.Service,
) {
	mux.HandleFunc(taskname.SubscriptionProcessRenewal, subscriptions.HandleProcessRenewal(subs))
	mux.HandleFunc(taskname.SubscriptionAutoScale, subscriptions.HandleAutoScale(subs))

	mux.HandleFunc(taskname.LicenseNotifyAssignment, notifications.HandleAssignmentNotice(notify))
	mux.HandleFunc(taskname.LicenseNotifyReminder, notifications.HandleReminderNotice(notify))
	mux.HandleFunc(taskname.LicenseNotifyOnboarding, notifications.HandleOnboardingNotice(notify))
	mux.HandleFunc(taskname.LicenseNotifyCapReached, notifications.HandleCapReachedNotice(notify))
	mux.HandleFunc(taskname.LicenseReminderRun, notifications.HandleReminderRun(subs))

	mux.HandleFunc(taskname.EnterpriseLinkLearners, enterprise.HandleLinkLearners(ent))
	mux.HandleFunc(taskname.EnterpriseRevokeEnrollments, enterprise.HandleRevokeEnrollments(ent))

	mux.HandleFunc(taskname.LicenseTrackEvent, events.HandleTrackEvent(evts))
	mux.HandleFunc(taskname.LicenseRetirementRun, retirement.HandleRetirementRun(retire))
}
