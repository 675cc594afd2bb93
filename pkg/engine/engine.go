// Package engine answers tenant questions: it resolves the text to a template,
// compiles a plan and serves the result from the cache, computing it at most
// once per fingerprint on a miss.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/compiler"
	"github.com/canopy-network/spendq/pkg/matcher"
	"github.com/canopy-network/spendq/pkg/metrics"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrUnresolvedQuery means the text matched no template with enough
	// confidence.
	ErrUnresolvedQuery = matcher.ErrUnresolved
	// ErrInternal wraps every fault that is not the caller's doing.
	ErrInternal = eris.New("internal error")
)

// IncompleteBindingError names the slot that could not be filled.
type IncompleteBindingError = matcher.IncompleteBindingError

type Outcome string

const (
	Answered Outcome = "answered"
	Empty    Outcome = "empty"
)

type Answer struct {
	Template    string            `json:"template"`
	Title       string            `json:"title"`
	Bindings    matcher.Bindings  `json:"bindings"`
	Window      string            `json:"window"`
	Rows        []compiler.Line   `json:"rows"`
	Summary     string            `json:"summary"`
	Outcome     Outcome           `json:"outcome"`
	Cached      bool              `json:"cached"`
	Generation  uint64            `json:"generation"`
	Unavailable bool              `json:"unavailable,omitempty"`
	Fingerprint cache.Fingerprint `json:"fingerprint"`
}

// Recorder receives every answered plan; the prefetch engine implements it.
type Recorder interface {
	Record(tenantID string, fp cache.Fingerprint, plan compiler.Plan, at time.Time)
}

// payload is what the cache holds for one fingerprint.
type payload struct {
	Result  compiler.Result `json:"result"`
	Summary string          `json:"summary"`
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithTTL overrides the cache's default TTL for answers.
func WithTTL(ttl time.Duration) Option { return func(e *Engine) { e.ttl = ttl } }

type Engine struct {
	matcher  *matcher.Matcher
	store    *aggregate.Store
	cache    *cache.Cache
	flight   cache.Flight
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	ttl      time.Duration

	computations atomic.Int64
	// beforeCompute runs at the start of every computation; tests use it.
	beforeCompute func()
}

func New(m *matcher.Matcher, store *aggregate.Store, c *cache.Cache, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		matcher: m,
		store:   store,
		cache:   c,
		logger:  logger.Named("engine"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetRecorder attaches r after construction, for wiring where the recorder
// itself needs the engine. Call it before the first Ask.
func (e *Engine) SetRecorder(r Recorder) { e.recorder = r }

// Ask answers text for tenantID. Errors are ErrUnresolvedQuery, an
// *IncompleteBindingError, the context's error, or wrap ErrInternal.
func (e *Engine) Ask(ctx context.Context, tenantID, text string) (Answer, error) {
	res, err := e.matcher.Match(ctx, tenantID, text)
	if err != nil {
		var incomplete *IncompleteBindingError
		switch {
		case errors.Is(err, ErrUnresolvedQuery):
			metrics.Questions.WithLabelValues("unresolved").Inc()
			return Answer{}, err
		case errors.As(err, &incomplete):
			metrics.Questions.WithLabelValues("incomplete").Inc()
			return Answer{}, err
		case ctx.Err() != nil:
			return Answer{}, ctx.Err()
		default:
			return Answer{}, e.internal(err, tenantID, "match")
		}
	}

	plan, err := compiler.Compile(res, tenantID, e.now(), e.store)
	if err != nil {
		return Answer{}, e.internal(err, tenantID, "compile")
	}

	if plan.Unavailable {
		result := compiler.Execute(plan, nil)
		e.logger.Info("aggregate unavailable",
			zap.String("tenant", tenantID),
			zap.String("table", plan.Table),
			zap.String("template", plan.Template.Key()))
		metrics.Questions.WithLabelValues("unavailable").Inc()
		return e.answer(plan, payload{Result: result, Summary: compiler.Summarize(plan, result)}, false), nil
	}

	p, cached, err := e.lookup(ctx, plan)
	if err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		return Answer{}, e.internal(err, tenantID, "compute")
	}
	if e.recorder != nil {
		e.recorder.Record(tenantID, plan.Fingerprint, plan, e.now())
	}

	a := e.answer(plan, p, cached)
	metrics.Questions.WithLabelValues(string(a.Outcome)).Inc()
	return a, nil
}

// lookup reads through the cache. Concurrent misses on one fingerprint share
// a single computation.
func (e *Engine) lookup(ctx context.Context, plan compiler.Plan) (payload, bool, error) {
	if entry, ok := e.cache.Get(ctx, plan.Fingerprint); ok {
		var p payload
		if err := json.Unmarshal(entry.Payload, &p); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return p, true, nil
		}
		e.logger.Warn("dropping undecodable cache entry", zap.String("fingerprint", plan.Fingerprint.String()))
	}

	computed, shared, err := e.flight.Do(ctx, plan.Fingerprint, func(ctx context.Context) (cache.Computed, error) {
		// a flight that finished after our cache read may already have stored it
		if entry, ok := e.cache.Peek(plan.Fingerprint); ok {
			var p payload
			if json.Unmarshal(entry.Payload, &p) == nil {
				return cache.Computed{Payload: entry.Payload, Generation: entry.Generation, Stored: true, Hit: true}, nil
			}
		}
		return e.compute(ctx, plan)
	})
	if err != nil {
		return payload{}, false, err
	}
	if computed.Hit {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else if shared {
		metrics.CacheLookups.WithLabelValues("shared").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	var p payload
	if err := json.Unmarshal(computed.Payload, &p); err != nil {
		return payload{}, false, eris.Wrap(err, "decode computed answer")
	}
	return p, computed.Hit, nil
}

// compute executes plan against the current snapshot and stores the result
// under that snapshot's generation.
func (e *Engine) compute(ctx context.Context, plan compiler.Plan) (cache.Computed, error) {
	e.computations.Add(1)
	if e.beforeCompute != nil {
		e.beforeCompute()
	}
	snap, _ := e.store.Snapshot(plan.TenantID, plan.Table)
	start := time.Now()
	result := compiler.Execute(plan, snap)
	metrics.ComputeDuration.WithLabelValues(string(plan.Template.Kind)).Observe(time.Since(start).Seconds())

	raw, err := json.Marshal(payload{Result: result, Summary: compiler.Summarize(plan, result)})
	if err != nil {
		return cache.Computed{}, eris.Wrap(err, "encode answer")
	}
	c := cache.Computed{Payload: raw, Generation: result.Generation}
	if result.Unavailable {
		return c, nil
	}
	c.Stored = e.cache.Put(ctx, plan.Fingerprint, raw, e.ttl, result.Generation)
	if !c.Stored {
		metrics.CacheRejected.Inc()
		e.logger.Debug("stale answer not cached",
			zap.String("fingerprint", plan.Fingerprint.String()),
			zap.Uint64("generation", result.Generation))
	}
	return c, nil
}

// Recompute refreshes the cached answer of plan. It reports false when the
// write was rejected because the scope was invalidated meanwhile.
func (e *Engine) Recompute(ctx context.Context, plan compiler.Plan) (bool, error) {
	c, _, err := e.flight.Do(ctx, plan.Fingerprint, func(ctx context.Context) (cache.Computed, error) {
		return e.compute(ctx, plan)
	})
	return c.Stored, err
}

// Computations is the number of plan executions since start.
func (e *Engine) Computations() int64 {
	return e.computations.Load()
}

func (e *Engine) answer(plan compiler.Plan, p payload, cached bool) Answer {
	a := Answer{
		Template:    plan.Template.Key(),
		Title:       plan.Template.Title,
		Bindings:    plan.Bindings,
		Window:      plan.Window.String(),
		Rows:        p.Result.Lines,
		Summary:     p.Summary,
		Outcome:     Answered,
		Cached:      cached,
		Generation:  p.Result.Generation,
		Unavailable: p.Result.Unavailable,
		Fingerprint: plan.Fingerprint,
	}
	if p.Result.Empty() {
		a.Outcome = Empty
	}
	return a
}

func (e *Engine) internal(err error, tenantID, stage string) error {
	metrics.Questions.WithLabelValues("internal").Inc()
	e.logger.Error("question failed", zap.String("tenant", tenantID), zap.String("stage", stage), zap.Error(err))
	return eris.Wrapf(ErrInternal, "%s: %v", stage, err)
}
