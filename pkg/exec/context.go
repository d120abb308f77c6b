// Package exec is the pull-based execution pipeline: steps chained into
// plans, the context they run in, planners per statement kind, and plan
// rendering and serialization.
package exec

import (
	"context"
	"errors"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/stats"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

// Well-known context variables
const (
	VarCurrent = "$current"
	VarParent  = "$parent"
	VarMatched = "$matched"
	VarDepth   = "$depth"
)

// Context carries variables, parameters and services down a pull chain.
// A child context reads through to its parent and writes locally. A Context
// is used by one pull chain at a time and needs no locking.
type Context struct {
	parent  *Context
	vars    map[string]any
	params  map[string]any
	db      storage.Database
	logger  logging.Logger
	metrics *metrics.Registry
	stats   *stats.QueryStats
	cfg     *config.Config
	std     context.Context

	returned   bool
	returnRows []*result.Row
}

var _ ast.Context = (*Context)(nil)

// Option configures a root Context.
type Option func(*Context)

// WithParams sets the statement input parameters.
func WithParams(params map[string]any) Option {
	return func(c *Context) { c.params = params }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithMetrics records pulls, timeouts and index scans on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(c *Context) { c.metrics = reg }
}

// WithStats sets the fan-out statistics used and updated by traversals.
func WithStats(s *stats.QueryStats) Option {
	return func(c *Context) { c.stats = s }
}

// WithConfig sets the engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(c *Context) { c.cfg = cfg }
}

// WithStdContext attaches a cancellation context, checked at loop and retry
// boundaries.
func WithStdContext(ctx context.Context) Option {
	return func(c *Context) { c.std = ctx }
}

// NewContext creates a root context over db.
func NewContext(db storage.Database, opts ...Option) *Context {
	c := &Context{
		vars:   make(map[string]any),
		db:     db,
		logger: logging.NewNopLogger(),
		stats:  stats.Global(),
		cfg:    config.Default(),
		std:    context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Child creates a context whose variables overlay c's.
func (c *Context) Child() *Context {
	return &Context{
		parent:  c,
		vars:    make(map[string]any),
		params:  c.params,
		db:      c.db,
		logger:  c.logger,
		metrics: c.metrics,
		stats:   c.stats,
		cfg:     c.cfg,
		std:     c.std,
	}
}

// Parent returns the parent context, or nil for a root.
func (c *Context) Parent() *Context { return c.parent }

func varKey(name string) string {
	return strings.TrimPrefix(name, "$")
}

// Variable resolves a variable. Per-row LET values stored on the current
// row take precedence; unresolved names are looked up in the parent.
func (c *Context) Variable(name string) (any, bool) {
	key := varKey(name)
	if key == "parent" && c.parent != nil {
		if v, ok := c.vars[key]; ok {
			return v, true
		}
		return c.parent, true
	}
	if key != "current" {
		if row, ok := c.vars["current"].(*result.Row); ok {
			if v, ok := row.Meta(key); ok {
				return v, true
			}
		}
	}
	for ctx := c; ctx != nil; ctx = ctx.parent {
		if v, ok := ctx.vars[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// SetVariable writes a variable in this context.
func (c *Context) SetVariable(name string, v any) {
	c.vars[varKey(name)] = v
}

// Get exposes variables as properties so that $parent.$current.x resolves.
func (c *Context) Get(name string) (any, bool) {
	return c.Variable(name)
}

// Param returns a statement parameter.
func (c *Context) Param(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

func (c *Context) Params() map[string]any { return c.params }

func (c *Context) Database() storage.Database { return c.db }
func (c *Context) Logger() logging.Logger     { return c.logger }
func (c *Context) Metrics() *metrics.Registry { return c.metrics }
func (c *Context) Stats() *stats.QueryStats   { return c.stats }
func (c *Context) Config() *config.Config     { return c.cfg }
func (c *Context) Std() context.Context       { return c.std }

// Profiling reports whether steps record their cost.
func (c *Context) Profiling() bool { return c.cfg != nil && c.cfg.Profiling }

// CheckInterrupted reports cooperative cancellation of the statement.
func (c *Context) CheckInterrupted(op string) error {
	if c.std == nil {
		return nil
	}
	err := c.std.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return qerr.Timeout(op, "statement deadline exceeded")
	}
	return qerr.Interrupted(op, err)
}

// markReturned records the rows of a script RETURN.
func (c *Context) markReturned(rows []*result.Row) {
	c.returned = true
	c.returnRows = rows
}

// Returned reports whether a script RETURN ran in this context.
func (c *Context) Returned() bool { return c.returned }
