package query

import (
	"context"

	"github.com/canopy-network/spendq/app/query/types"
	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/config"
	"github.com/canopy-network/spendq/pkg/db"
	"github.com/canopy-network/spendq/pkg/engine"
	"github.com/canopy-network/spendq/pkg/events"
	"github.com/canopy-network/spendq/pkg/logging"
	"github.com/canopy-network/spendq/pkg/matcher"
	"github.com/canopy-network/spendq/pkg/prefetch"
	"github.com/canopy-network/spendq/pkg/redis"
	"github.com/canopy-network/spendq/pkg/refresh"
	"github.com/canopy-network/spendq/pkg/refresh/activity"
	"github.com/canopy-network/spendq/pkg/refresh/workflow"
	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/canopy-network/spendq/pkg/temporal"
	"github.com/robfig/cron/v3"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// Initialize builds the serving process: the engine core plus the crons and
// whichever of Redis and Temporal the config enables.
func Initialize(ctx context.Context, configPath string) *types.App {
	logger, err := logging.New("spendq")
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Unable to load config", zap.Error(err))
	}

	app, err := Build(ctx, cfg, logger, "query")
	if err != nil {
		logger.Fatal("Unable to build engine", zap.Error(err))
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	if err := app.Scheduler.SetupScheduler(ctx, cronLogger, cfg.Refresh.Cron); err != nil {
		logger.Fatal("Unable to schedule refresh", zap.Error(err), zap.String("cron", cfg.Refresh.Cron))
	}
	if app.Prefetch != nil {
		if err := app.Prefetch.SetupScheduler(ctx, cronLogger, cfg.Prefetch.Cron); err != nil {
			logger.Fatal("Unable to schedule prefetch", zap.Error(err), zap.String("cron", cfg.Prefetch.Cron))
		}
	}

	if cfg.Stream.Enabled {
		if app.RedisClient == nil {
			logger.Fatal("stream.enabled requires a reachable Redis")
		}
		app.Consumer, err = redis.NewStreamConsumer(app.RedisClient.Raw(), redis.StreamConsumerConfig{
			Stream:   cfg.Stream.Name,
			Group:    cfg.Stream.Group,
			Consumer: cfg.Stream.Consumer,
			Logger:   logger.Named("stream"),
		})
		if err != nil {
			logger.Fatal("Unable to create stream consumer", zap.Error(err))
		}
	}

	if cfg.Temporal.Enabled {
		temporalClient, err := temporal.NewClient(ctx, logger, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue)
		if err != nil {
			logger.Fatal("Unable to establish temporal connection", zap.Error(err))
		}
		activityContext := &activity.Context{Logger: logger, Rebuilder: app.Scheduler}
		workflowContext := workflow.Context{ActivityContext: activityContext}

		wkr := worker.New(temporalClient.TClient, temporalClient.RefreshQueue, worker.Options{})
		wkr.RegisterWorkflow(workflowContext.RefreshTenantWorkflow)
		wkr.RegisterActivity(activityContext.RebuildTenant)

		app.TemporalClient = temporalClient
		app.Worker = wkr
	}

	return app
}

// Build wires the engine core for one process. component selects the
// database pool profile.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, component string) (*types.App, error) {
	backend, err := db.Open(ctx, logger, cfg.Facts.Driver, cfg.Facts.DSN, component)
	if err != nil {
		return nil, err
	}

	app := &types.App{
		Config:  cfg,
		Backend: backend,
		Store:   aggregate.NewStore(),
		Catalog: templates.Default(),
		Bus:     events.NewBus(),
		Logger:  logger,
	}

	cacheOpts := []cache.Option{cache.WithMaxEntries(cfg.Cache.MaxEntries)}
	if cfg.Cache.RedisEnabled || cfg.Stream.Enabled {
		rc, err := redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - remote cache tier and stream disabled", zap.Error(err))
		} else {
			app.RedisClient = rc
			if cfg.Cache.RedisEnabled {
				cacheOpts = append(cacheOpts, cache.WithRemote(redis.NewRemoteCache(rc.Raw())))
				logger.Info("Redis remote cache tier enabled")
			}
		}
	}
	app.Cache = cache.New(logger, cfg.Cache.TTL, cacheOpts...)

	app.Scheduler = refresh.NewScheduler(backend.Facts, app.Store, app.Cache, app.Bus, logger, cfg.Refresh.Workers)
	app.Scheduler.Timeout = cfg.Refresh.Timeout
	if cfg.Refresh.Sink {
		if backend.Sink == nil {
			logger.Warn("refresh.sink set but the facts driver cannot persist snapshots", zap.String("driver", backend.Driver))
		} else {
			app.Scheduler.Sink = backend.Sink
		}
	}

	m, err := matcher.New(app.Catalog, matcher.DefaultCorpus(), app.Store,
		matcher.WithStrategy(matcher.StrategyByName(cfg.Matcher.Strategy)),
		matcher.WithThreshold(cfg.Matcher.ConfidenceThreshold),
		matcher.WithValidateEntities(cfg.Matcher.ValidateEntities),
	)
	if err != nil {
		return nil, err
	}
	app.Engine = engine.New(m, app.Store, app.Cache, logger, engine.WithTTL(cfg.Cache.TTL))

	if cfg.Prefetch.Enabled {
		app.Prefetch = prefetch.New(prefetch.Options{
			Horizon:     cfg.Prefetch.Horizon,
			TopK:        cfg.Prefetch.TopK,
			HalfLife:    cfg.Prefetch.HalfLife,
			Window:      cfg.Prefetch.Window,
			LogCapacity: cfg.Prefetch.LogCapacity,
			Rate:        cfg.Prefetch.Rate,
			Burst:       cfg.Prefetch.Burst,
			Workers:     cfg.Prefetch.Workers,
			History:     cfg.Prefetch.History,
		}, app.Cache, app.Engine, app.Bus, logger)
		app.Engine.SetRecorder(app.Prefetch)
	}

	logger.Info("Engine ready",
		zap.String("driver", backend.Driver),
		zap.Int("templates", len(app.Catalog.All())),
		zap.Bool("prefetch", cfg.Prefetch.Enabled),
		zap.Bool("sink", app.Scheduler.Sink != nil))
	return app, nil
}
