// Package refresh rebuilds aggregate tables from committed facts, publishes
// the new snapshots and invalidates the cache scopes they replace.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/db"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/canopy-network/spendq/pkg/events"
	"github.com/canopy-network/spendq/pkg/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Invalidator drops cached answers derived from a replaced snapshot.
type Invalidator interface {
	InvalidateScope(ctx context.Context, tenantID, table string, generation uint64) int
}

// TableReport is the outcome of one table rebuild.
type TableReport struct {
	Table       string        `json:"table"`
	Generation  uint64        `json:"generation,omitempty"`
	Rows        int           `json:"rows"`
	Invalidated int           `json:"invalidated"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Report is the outcome of one tenant rebuild.
type Report struct {
	ID       string        `json:"id"`
	TenantID string        `json:"tenant_id"`
	Reason   string        `json:"reason"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Tables   []TableReport `json:"tables"`
	Failed   int           `json:"failed"`
}

type Scheduler struct {
	Facts  db.FactStore
	Store  *aggregate.Store
	Cache  Invalidator
	Sink   aggregate.Sink
	Bus    *events.Bus
	Logger *zap.Logger

	// Build computes one table; defaults to aggregate.Build.
	Build aggregate.BuildFunc
	// Timeout bounds one tenant rebuild.
	Timeout time.Duration

	Cron     *cron.Cron
	CronSpec string

	pool  pond.Pool
	locks *xsync.Map[string, *sync.Mutex]
}

// NewScheduler builds a scheduler with a pool of workers table jobs.
func NewScheduler(facts db.FactStore, store *aggregate.Store, cache Invalidator, bus *events.Bus, logger *zap.Logger, workers int) *Scheduler {
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		Facts:   facts,
		Store:   store,
		Cache:   cache,
		Bus:     bus,
		Logger:  logger.Named("refresh"),
		Build:   aggregate.Build,
		Timeout: 5 * time.Minute,
		pool:    pond.NewPool(workers, pond.WithQueueSize(workers*len(aggregate.Definitions()))),
		locks:   xsync.NewMap[string, *sync.Mutex](),
	}
}

func (s *Scheduler) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := s.locks.Compute(tenantID, func(old *sync.Mutex, loaded bool) (*sync.Mutex, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		return &sync.Mutex{}, xsync.UpdateOp
	})
	return mu
}

// RebuildTenant rebuilds every table of one tenant from a single fact load.
// Tables are independent: a failed table keeps its previous snapshot and is
// reported, the others are still published. Rebuilds of one tenant never
// overlap.
func (s *Scheduler) RebuildTenant(ctx context.Context, tenantID, reason string) (Report, error) {
	mu := s.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	defs := aggregate.Definitions()
	report := Report{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Reason:   reason,
		Started:  time.Now().UTC(),
		Tables:   make([]TableReport, len(defs)),
	}
	logger := s.Logger.With(zap.String("tenant", tenantID), zap.String("reason", reason), zap.String("report", report.ID))

	in, err := s.Facts.FactsForTenant(ctx, tenantID)
	if err != nil {
		err = eris.Wrapf(err, "load facts for %s", tenantID)
		for i, def := range defs {
			report.Tables[i] = TableReport{Table: def.Name, Error: err.Error()}
			s.fail(tenantID, def.Name, err, logger)
		}
		report.Failed = len(defs)
		report.Finished = time.Now().UTC()
		return report, err
	}

	// every task owns one slot of report.Tables
	tasks := make([]pond.Task, len(defs))
	for i, def := range defs {
		tasks[i] = s.pool.Submit(func() {
			report.Tables[i] = s.rebuildTable(ctx, def, tenantID, in, logger)
		})
	}
	for _, t := range tasks {
		if err := t.Wait(); err != nil {
			logger.Warn("rebuild task encountered error", zap.Error(err))
		}
	}

	for i := range report.Tables {
		if report.Tables[i].Error != "" {
			report.Failed++
		}
	}
	report.Finished = time.Now().UTC()

	logger.Info("tenant rebuilt",
		zap.Int("tables", len(defs)),
		zap.Int("failed", report.Failed),
		zap.Int("facts", len(in)),
		zap.Duration("took", report.Finished.Sub(report.Started)),
	)
	if report.Failed > 0 {
		return report, eris.Errorf("%d of %d tables failed for %s", report.Failed, len(defs), tenantID)
	}
	return report, nil
}

func (s *Scheduler) rebuildTable(ctx context.Context, def aggregate.Definition, tenantID string, in []facts.Fact, logger *zap.Logger) (tr TableReport) {
	start := time.Now()
	tr.Table = def.Name
	defer func() {
		if r := recover(); r != nil {
			err := eris.Errorf("%s panicked: %v", def.Name, r)
			tr.Error = err.Error()
			s.fail(tenantID, def.Name, err, logger)
		}
		tr.Duration = time.Since(start)
		metrics.RebuildDuration.WithLabelValues(def.Name).Observe(tr.Duration.Seconds())
	}()

	if err := ctx.Err(); err != nil {
		tr.Error = err.Error()
		s.fail(tenantID, def.Name, err, logger)
		return tr
	}

	rows, err := s.Build(def, tenantID, in)
	if err == nil {
		err = aggregate.Reconcile(def, tenantID, in, rows)
	}
	if err != nil {
		tr.Error = err.Error()
		s.fail(tenantID, def.Name, err, logger)
		return tr
	}

	snap := s.Store.Publish(tenantID, def.Name, rows)
	tr.Generation = snap.Generation
	tr.Rows = len(snap.Rows)

	if s.Sink != nil {
		if err := s.Sink.Persist(ctx, snap); err != nil {
			// the in-memory snapshot is authoritative; persistence is best effort
			logger.Warn("aggregate sink failed", zap.String("table", def.Name), zap.Uint64("generation", snap.Generation), zap.Error(err))
		}
	}

	if s.Cache != nil {
		tr.Invalidated = s.Cache.InvalidateScope(ctx, tenantID, def.Name, snap.Generation)
	}

	s.Bus.Publish(events.Event{Type: events.TableRebuilt, TenantID: tenantID, Table: def.Name, Generation: snap.Generation, Count: tr.Rows})
	s.Bus.Publish(events.Event{Type: events.ScopeInvalidated, TenantID: tenantID, Table: def.Name, Generation: snap.Generation, Count: tr.Invalidated})
	return tr
}

func (s *Scheduler) fail(tenantID, table string, err error, logger *zap.Logger) {
	s.Store.RecordFailure(tenantID, table, err)
	metrics.RefreshFailures.WithLabelValues(table).Inc()
	logger.Error("table rebuild failed", zap.String("table", table), zap.Error(err))
	s.Bus.Publish(events.Event{Type: events.TableFailed, TenantID: tenantID, Table: table, Detail: err.Error()})
}

// RebuildAll rebuilds every tenant known to the fact store, one tenant at a
// time. Failures are reported per tenant and do not stop the sweep.
func (s *Scheduler) RebuildAll(ctx context.Context) ([]Report, error) {
	tenants, err := s.Facts.Tenants(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list tenants")
	}
	reports := make([]Report, 0, len(tenants))
	var errs []error
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := s.RebuildTenant(ctx, tenantID, "scheduled")
		reports = append(reports, r)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// FactsCommitted is the on-demand trigger from the ingestion pipeline.
func (s *Scheduler) FactsCommitted(ctx context.Context, tenantID string) (Report, error) {
	if tenantID == "" {
		return Report{}, eris.New("facts committed: tenant required")
	}
	s.Bus.Publish(events.Event{Type: events.FactsCommitted, TenantID: tenantID})
	return s.RebuildTenant(ctx, tenantID, "facts_committed")
}

// SetupScheduler registers RebuildAll on cronSpec (seconds field included).
func (s *Scheduler) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	s.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))
	s.CronSpec = cronSpec

	_, err := s.Cron.AddFunc(cronSpec, func() {
		if _, err := s.RebuildAll(ctx); err != nil {
			s.Logger.Warn("scheduled rebuild finished with errors", zap.Error(err))
		}
	})
	return err
}

func (s *Scheduler) StartCron() {
	s.Cron.Start()
	s.Logger.Info("refresh cron started", zap.String("cronSpec", s.CronSpec))
}

// Stop waits for the running cron job and drains the pool.
func (s *Scheduler) Stop() {
	if s.Cron != nil {
		<-s.Cron.Stop().Done()
	}
	s.pool.StopAndWait()
}
