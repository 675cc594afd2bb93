package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/config"
	"github.com/canopy-network/spendq/pkg/db"
	"github.com/canopy-network/spendq/pkg/engine"
	"github.com/canopy-network/spendq/pkg/events"
	"github.com/canopy-network/spendq/pkg/prefetch"
	"github.com/canopy-network/spendq/pkg/redis"
	"github.com/canopy-network/spendq/pkg/refresh"
	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/canopy-network/spendq/pkg/temporal"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

type App struct {
	Config    *config.Config
	Backend   *db.Backend
	Store     *aggregate.Store
	Cache     *cache.Cache
	Catalog   *templates.Catalog
	Bus       *events.Bus
	Engine    *engine.Engine
	Scheduler *refresh.Scheduler
	Prefetch  *prefetch.Engine

	// Optional infrastructure; nil when disabled.
	RedisClient    *redis.Client
	Consumer       *redis.StreamConsumer
	TemporalClient *temporal.Client
	Worker         worker.Worker

	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// StartBackground starts the crons, the Temporal worker and the stream
// consumer. It does not block.
func (a *App) StartBackground(ctx context.Context) error {
	if a.Scheduler.Cron != nil {
		a.Scheduler.StartCron()
	}
	if a.Prefetch != nil && a.Prefetch.Cron != nil {
		a.Prefetch.StartCron()
	}
	if a.Worker != nil {
		if err := a.Worker.Start(); err != nil {
			return err
		}
	}
	if a.Consumer != nil {
		handler := redis.FactsCommittedHandler(a.Scheduler, a.Logger)
		go func() {
			if err := a.Consumer.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("facts stream consumer stopped", zap.Error(err))
			}
		}()
	}
	return nil
}

// Start starts the application and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	if err := a.StartBackground(ctx); err != nil {
		a.Logger.Fatal("Unable to start background services", zap.Error(err))
	}
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.Stop()
}

// Stop releases everything Initialize opened. Safe to call without Start.
func (a *App) Stop() {
	if a.Worker != nil {
		a.Worker.Stop()
	}
	if a.Prefetch != nil {
		a.Prefetch.Stop()
	}
	a.Scheduler.Stop()

	if err := a.Backend.Facts.Close(); err != nil {
		a.Logger.Error("Failed to close fact store", zap.Error(err))
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if a.TemporalClient != nil {
		a.TemporalClient.Close()
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
