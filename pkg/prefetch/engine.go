// Package prefetch keeps frequently asked answers warm. It scores recent
// accesses by recency-weighted frequency and recomputes the answers whose
// cached entries are about to expire or have been invalidated.
package prefetch

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/compiler"
	"github.com/canopy-network/spendq/pkg/events"
	"github.com/canopy-network/spendq/pkg/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Outcome of one prefetch item.
type Outcome string

const (
	Refreshed      Outcome = "refreshed"
	DiscardedStale Outcome = "discarded_stale"
	Failed         Outcome = "failed"
	Cancelled      Outcome = "cancelled"
)

// Recomputer executes a plan against the current snapshot and writes the
// answer through the generation-checked cache put. It reports false when the
// write was rejected because a rebuild invalidated the scope meanwhile.
type Recomputer interface {
	Recompute(ctx context.Context, plan compiler.Plan) (bool, error)
}

// Entries exposes cached entry lifetimes without counting as reads.
type Entries interface {
	Peek(fp cache.Fingerprint) (cache.Entry, bool)
}

type Options struct {
	Horizon     time.Duration
	TopK        int
	HalfLife    time.Duration
	Window      time.Duration
	LogCapacity int
	// Rate is recomputations per second; Burst the limiter bucket size.
	Rate    float64
	Burst   int
	Workers int
	History int
}

func (o *Options) defaults() {
	if o.Horizon <= 0 {
		o.Horizon = 5 * time.Minute
	}
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.HalfLife <= 0 {
		o.HalfLife = 30 * time.Minute
	}
	if o.Window <= 0 {
		o.Window = 24 * time.Hour
	}
	if o.LogCapacity <= 0 {
		o.LogCapacity = 1024
	}
	if o.Rate <= 0 {
		o.Rate = 20
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.History <= 0 {
		o.History = 50
	}
}

// Item is one considered fingerprint of a run.
type Item struct {
	Fingerprint string        `json:"fingerprint"`
	Template    string        `json:"template"`
	Score       float64       `json:"score"`
	Remaining   time.Duration `json:"remaining"`
	Outcome     Outcome       `json:"outcome"`
	Error       string        `json:"error,omitempty"`
}

// Run is the record of one prefetch pass over a tenant.
type Run struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Items    []Item    `json:"items"`
}

type Engine struct {
	opts    Options
	entries Entries
	target  Recomputer
	bus     *events.Bus
	logger  *zap.Logger
	limiter *rate.Limiter
	pool    pond.Pool
	logs    *xsync.Map[string, *ring]
	now     func() time.Time

	historyMu sync.Mutex
	history   []Run

	Cron     *cron.Cron
	CronSpec string
}

func New(opts Options, entries Entries, target Recomputer, bus *events.Bus, logger *zap.Logger) *Engine {
	opts.defaults()
	return &Engine{
		opts:    opts,
		entries: entries,
		target:  target,
		bus:     bus,
		logger:  logger.Named("prefetch"),
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		pool:    pond.NewPool(opts.Workers, pond.WithQueueSize(opts.TopK*4)),
		logs:    xsync.NewMap[string, *ring](),
		now:     time.Now,
	}
}

func (e *Engine) tenantLog(tenantID string) *ring {
	r, _ := e.logs.Compute(tenantID, func(old *ring, loaded bool) (*ring, xsync.ComputeOp) {
		if loaded {
			return old, xsync.CancelOp
		}
		return newRing(e.opts.LogCapacity), xsync.UpdateOp
	})
	return r
}

// Record logs an access. Unavailable plans are not worth prefetching.
func (e *Engine) Record(tenantID string, fp cache.Fingerprint, plan compiler.Plan, at time.Time) {
	if plan.Unavailable {
		return
	}
	e.tenantLog(tenantID).add(Access{Fingerprint: fp, Plan: plan, At: at})
}

type candidate struct {
	fp        cache.Fingerprint
	plan      compiler.Plan
	score     float64
	remaining time.Duration
}

// Candidates scores the tenant's recent accesses and returns the top-K whose
// cached entry is missing or expires within the horizon, best first.
func (e *Engine) candidates(tenantID string, now time.Time) []candidate {
	r, ok := e.logs.Load(tenantID)
	if !ok {
		return nil
	}
	byFP := map[string]*candidate{}
	var order []string
	for _, a := range r.since(now.Add(-e.opts.Window)) {
		key := a.Fingerprint.String()
		c, ok := byFP[key]
		if !ok {
			c = &candidate{fp: a.Fingerprint}
			byFP[key] = c
			order = append(order, key)
		}
		c.plan = a.Plan
		c.score += Weight(now.Sub(a.At), e.opts.HalfLife)
	}

	out := make([]candidate, 0, len(order))
	for _, key := range order {
		c := byFP[key]
		if entry, ok := e.entries.Peek(c.fp); ok {
			c.remaining = entry.Remaining(now)
		}
		if c.remaining <= e.opts.Horizon {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > e.opts.TopK {
		out = out[:e.opts.TopK]
	}
	return out
}

// Weight is the decayed contribution of one access of the given age.
func Weight(age, halfLife time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())
}

// RunTenant performs one prefetch pass for a tenant. Cancellation stops the
// remaining recomputations; entries already written stay.
func (e *Engine) RunTenant(ctx context.Context, tenantID string) Run {
	now := e.now()
	run := Run{ID: uuid.NewString(), TenantID: tenantID, Started: now.UTC()}
	cands := e.candidates(tenantID, now)
	run.Items = make([]Item, len(cands))

	tasks := make([]pond.Task, len(cands))
	for i, c := range cands {
		run.Items[i] = Item{
			Fingerprint: c.fp.String(),
			Template:    c.plan.Template.Key(),
			Score:       c.score,
			Remaining:   c.remaining,
		}
		tasks[i] = e.pool.Submit(func() {
			run.Items[i].Outcome, run.Items[i].Error = e.recompute(ctx, c.plan)
		})
	}
	for _, t := range tasks {
		_ = t.Wait()
	}
	run.Finished = e.now().UTC()

	counts := map[Outcome]int{}
	for _, it := range run.Items {
		counts[it.Outcome]++
		metrics.PrefetchItems.WithLabelValues(string(it.Outcome)).Inc()
	}
	if len(run.Items) > 0 {
		e.logger.Debug("prefetch run finished",
			zap.String("tenant", tenantID),
			zap.String("run", run.ID),
			zap.Int("refreshed", counts[Refreshed]),
			zap.Int("discarded_stale", counts[DiscardedStale]),
			zap.Int("failed", counts[Failed]),
		)
	}
	e.bus.Publish(events.Event{Type: events.PrefetchCompleted, TenantID: tenantID, Count: counts[Refreshed], Detail: run.ID})
	e.remember(run)
	return run
}

func (e *Engine) recompute(ctx context.Context, plan compiler.Plan) (Outcome, string) {
	if err := e.limiter.Wait(ctx); err != nil {
		return Cancelled, err.Error()
	}
	stored, err := e.target.Recompute(ctx, plan)
	switch {
	case err != nil && ctx.Err() != nil:
		return Cancelled, err.Error()
	case err != nil:
		return Failed, err.Error()
	case !stored:
		return DiscardedStale, ""
	default:
		return Refreshed, ""
	}
}

// Run performs one pass over every tenant with logged accesses.
func (e *Engine) Run(ctx context.Context) []Run {
	var tenants []string
	e.logs.Range(func(tenantID string, _ *ring) bool {
		tenants = append(tenants, tenantID)
		return true
	})
	sort.Strings(tenants)

	runs := make([]Run, 0, len(tenants))
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		runs = append(runs, e.RunTenant(ctx, tenantID))
	}
	return runs
}

func (e *Engine) remember(run Run) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = append(e.history, run)
	if over := len(e.history) - e.opts.History; over > 0 {
		e.history = append([]Run(nil), e.history[over:]...)
	}
}

// History returns recent runs, newest first.
func (e *Engine) History() []Run {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	out := make([]Run, len(e.history))
	for i, r := range e.history {
		out[len(out)-1-i] = r
	}
	return out
}

// SetupScheduler registers Run on cronSpec.
func (e *Engine) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	e.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	e.CronSpec = cronSpec
	_, err := e.Cron.AddFunc(cronSpec, func() { e.Run(ctx) })
	return err
}

func (e *Engine) StartCron() {
	e.Cron.Start()
	e.logger.Info("prefetch cron started", zap.String("cronSpec", e.CronSpec))
}

func (e *Engine) Stop() {
	if e.Cron != nil {
		<-e.Cron.Stop().Done()
	}
	e.pool.StopAndWait()
}
