// Package engine runs statements end to end: plan, cache, execute and
// report. It is the entry point used by the command line tool.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/logging"
	_ "github.com/dd0wney/cluso-query/pkg/match" // MATCH planner
	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/stats"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

// Engine executes statements against one database.
type Engine struct {
	db      storage.Database
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Registry
	stats   *stats.QueryStats
	planner *exec.Planner
	cache   *PlanCache
}

// Option configures an Engine.
type Option func(*Engine)

func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = reg }
}

// WithStats shares fan-out statistics between engines.
func WithStats(s *stats.QueryStats) Option {
	return func(e *Engine) { e.stats = s }
}

// New creates an engine over db. Without options it uses the default
// configuration, no logging, no metrics and its own fan-out statistics.
func New(db storage.Database, opts ...Option) (*Engine, error) {
	e := &Engine{
		db:     db,
		cfg:    config.Default(),
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.stats == nil {
		e.stats = stats.New(e.cfg.StatsAlpha)
	}

	e.planner = exec.NewPlanner(db, e.cfg, e.logger)
	e.planner.Stats = e.stats
	e.planner.Metrics = e.metrics
	if e.cfg.PlanCacheSize > 0 {
		cache, err := NewPlanCache(e.cfg.PlanCacheSize, e.metrics)
		if err != nil {
			return nil, fmt.Errorf("plan cache: %w", err)
		}
		e.cache = cache
	}
	e.logger = e.logger.With(logging.Component("engine"))
	return e, nil
}

func (e *Engine) Config() *config.Config   { return e.cfg }
func (e *Engine) Stats() *stats.QueryStats { return e.stats }

// Cache returns the plan cache, or nil when caching is disabled.
func (e *Engine) Cache() *PlanCache { return e.cache }

// Prepare returns a plan ready to be pulled. Cached plans are copied; a
// freshly built plan is cached when all its steps allow it.
func (e *Engine) Prepare(stmt ast.Statement) (*exec.Plan, bool, error) {
	key := stmt.String()
	if e.cache != nil {
		if p, ok := e.cache.Get(key); ok {
			return p, true, nil
		}
	}
	p, err := e.planner.Plan(stmt)
	if err != nil {
		return nil, false, err
	}
	if e.cache != nil && e.cache.Put(key, p) {
		return p.Copy(), false, nil
	}
	return p, false, nil
}

// Execute runs stmt and returns all its rows.
func (e *Engine) Execute(ctx context.Context, stmt ast.Statement, params map[string]any) ([]*result.Row, error) {
	rows, _, err := e.run(ctx, stmt, params, e.cfg)
	return rows, err
}

// ExecuteAll runs statements in order, stopping at the first failure. The
// result is that of the last statement.
func (e *Engine) ExecuteAll(ctx context.Context, stmts []ast.Statement, params map[string]any) ([]*result.Row, error) {
	var rows []*result.Row
	for i, stmt := range stmts {
		var err error
		rows, err = e.Execute(ctx, stmt, params)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return rows, nil
}

// Explain renders the plan of stmt without running it.
func (e *Engine) Explain(stmt ast.Statement) (string, error) {
	p, err := e.planner.Plan(stmt)
	if err != nil {
		return "", err
	}
	defer p.Close()
	return exec.PrettyPrint(p, 0, 2, false), nil
}

// Profile runs stmt with profiling enabled and renders the plan with the
// cost and row count of every step.
func (e *Engine) Profile(ctx context.Context, stmt ast.Statement, params map[string]any) ([]*result.Row, string, error) {
	cfg := *e.cfg
	cfg.Profiling = true
	rows, p, err := e.run(ctx, stmt, params, &cfg)
	if p == nil {
		return rows, "", err
	}
	return rows, exec.PrettyPrint(p, 0, 2, true), err
}

func (e *Engine) run(ctx context.Context, stmt ast.Statement, params map[string]any, cfg *config.Config) ([]*result.Row, *exec.Plan, error) {
	kind := stmt.StatementKind()
	id := uuid.New()
	timer := logging.StartTimer(e.logger, "statement executed",
		logging.Statement(kind),
		logging.String("statement_id", id.String()),
	)

	p, cached, err := e.Prepare(stmt)
	if err != nil {
		e.finish(timer, stmt, cached, nil, err)
		return nil, nil, err
	}
	defer p.Close()

	opts := []exec.Option{
		exec.WithStdContext(ctx),
		exec.WithParams(params),
		exec.WithConfig(cfg),
		exec.WithLogger(e.logger.With(logging.Plan(p.ID.String()))),
		exec.WithStats(e.stats),
	}
	if e.metrics != nil {
		opts = append(opts, exec.WithMetrics(e.metrics))
	}
	rows, err := exec.DrainPlan(exec.NewContext(e.db, opts...), p)
	if err != nil {
		rows = nil
	}
	e.finish(timer, stmt, cached, rows, err)
	return rows, p, err
}

func (e *Engine) finish(timer *logging.TimedOperation, stmt ast.Statement, cached bool, rows []*result.Row, err error) {
	d := timer.Elapsed()
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, qerr.ErrTimeout):
		status = "timeout"
	default:
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordStatement(stmt.StatementKind(), status, d, len(rows))
	}
	if e.cache != nil {
		e.cache.RecordExecution(stmt.String(), d, cached, err)
	}
	if err != nil {
		timer.EndError(err, logging.String("status", status))
		return
	}
	timer.End(logging.Rows(len(rows)), logging.Bool("cached", cached))
}

// OpenStore creates an empty store over sch with the index backend named by
// cfg. The returned close function releases the store and its backend.
func OpenStore(cfg *config.Config, sch *schema.Schema, reg *metrics.Registry) (*storage.Store, func() error, error) {
	opts := []storage.Option{}
	if reg != nil {
		opts = append(opts, storage.WithMetrics(reg))
	}
	var backend *storage.BadgerBackend
	if cfg.IndexBackend == config.BackendBadger {
		b, err := storage.OpenBadgerBackend(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		backend = b
		opts = append(opts, storage.WithIndexFactory(b.Factory()))
	}
	store := storage.NewStore(sch, opts...)
	closeFn := func() error {
		err := store.Close()
		if backend != nil {
			if berr := backend.Close(); err == nil {
				err = berr
			}
		}
		return err
	}
	return store, closeFn, nil
}

