package exec

import (
	"strings"
	"sync"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/stats"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

// PlanFunc builds the plan of one statement kind.
type PlanFunc func(p *Planner, stmt ast.Statement) (*Plan, error)

var (
	plannersMu sync.RWMutex
	planners   = make(map[string]PlanFunc)
)

// RegisterPlanner installs the planner of a statement kind that lives
// outside this package (MATCH).
func RegisterPlanner(kind string, fn PlanFunc) {
	plannersMu.Lock()
	defer plannersMu.Unlock()
	planners[kind] = fn
}

func lookupPlanner(kind string) (PlanFunc, bool) {
	plannersMu.RLock()
	defer plannersMu.RUnlock()
	fn, ok := planners[kind]
	return fn, ok
}

// Planner turns statements into plans. The database is consulted for the
// schema and, by the MATCH planner, for cardinality estimates.
type Planner struct {
	DB      storage.Database
	Schema  schema.Lookup
	Config  *config.Config
	Logger  logging.Logger
	Stats   *stats.QueryStats
	// Metrics receives planning observations; nil disables them.
	Metrics *metrics.Registry
}

// NewPlanner creates a planner over db. A nil cfg or logger gets the
// defaults.
func NewPlanner(db storage.Database, cfg *config.Config, logger logging.Logger) *Planner {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Planner{
		DB:     db,
		Schema: db.Schema(),
		Config: cfg,
		Logger: logger.With(logging.Component("planner")),
		Stats:  stats.Global(),
	}
}

// Plan builds the plan of stmt.
func (p *Planner) Plan(stmt ast.Statement) (*Plan, error) {
	var (
		plan *Plan
		err  error
	)
	switch s := stmt.(type) {
	case *ast.Select:
		plan, err = p.planSelect(s)
	case *ast.Insert:
		plan, err = p.planInsert(s)
	case *ast.Update:
		plan, err = p.planUpdate(s)
	case *ast.Delete:
		plan, err = p.planDelete(s)
	case *ast.CreateEdge:
		plan, err = p.planCreateEdge(s)
	case *ast.MoveVertex:
		plan, err = p.planMoveVertex(s)
	case *ast.Script:
		plan, err = p.planBlock(s.String(), s.Statements)
	case *ast.If, *ast.While, *ast.ForEach, *ast.LetStatement, *ast.Return, *ast.Begin, *ast.Commit:
		plan, err = p.planBlock(s.String(), []ast.Statement{s})
	default:
		fn, ok := lookupPlanner(stmt.StatementKind())
		if !ok {
			return nil, qerr.Execution("plan", nil, "unsupported statement %s", stmt.StatementKind())
		}
		plan, err = fn(p, stmt)
	}
	if err != nil {
		p.Logger.Debug("planning failed",
			logging.Statement(stmt.StatementKind()),
			logging.Error(err),
		)
		return nil, err
	}
	p.Logger.Debug("statement planned",
		logging.Statement(stmt.StatementKind()),
		logging.Plan(plan.ID.String()),
		logging.Int("steps", len(plan.Steps())),
	)
	return plan, nil
}

// PrefetchThreshold is the configured prefetch cap for MATCH roots.
func (p *Planner) PrefetchThreshold() int64 {
	if p.Config != nil && p.Config.PrefetchThreshold > 0 {
		return p.Config.PrefetchThreshold
	}
	return config.DefaultPrefetchThreshold
}

// chainTimeout appends the statement's timeout, or the configured default
// one.
func (p *Planner) chainTimeout(plan *Plan, t *ast.Timeout) {
	switch {
	case t != nil && t.Duration > 0:
		plan.Chain(NewTimeoutStep(t.Duration, t.Strategy))
	case p.Config != nil && p.Config.QueryTimeout > 0:
		plan.Chain(NewAccumulatingTimeoutStep(p.Config.QueryTimeout, ""))
	}
}

// chainSkipLimit appends SKIP and LIMIT when present.
func chainSkipLimit(plan *Plan, skip, limit ast.Expr) {
	if skip != nil {
		plan.Chain(NewSkipStep(skip))
	}
	if limit != nil {
		plan.Chain(NewLimitStep(limit))
	}
}

// earlyCalculated reports whether e can be computed once per statement: it
// reads no row field and none of the named per-row variables.
func earlyCalculated(e ast.Expr, perRow map[string]bool) bool {
	switch x := e.(type) {
	case nil, *ast.Literal, *ast.Param:
		return true
	case *ast.Variable:
		switch varKey(x.Name) {
		case varKey(VarCurrent), varKey(VarParent), varKey(VarMatched), varKey(VarDepth):
			return false
		}
		return !perRow[varKey(x.Name)]
	case *ast.ListLit:
		return allEarly(x.Items, perRow)
	case *ast.MapLit:
		for _, v := range x.Entries {
			if !earlyCalculated(v, perRow) {
				return false
			}
		}
		return true
	case *ast.Binary:
		return earlyCalculated(x.Left, perRow) && earlyCalculated(x.Right, perRow)
	case *ast.Comparison:
		return earlyCalculated(x.Left, perRow) && earlyCalculated(x.Right, perRow)
	case *ast.And:
		return allEarly(x.Terms, perRow)
	case *ast.Or:
		return allEarly(x.Terms, perRow)
	case *ast.Not:
		return earlyCalculated(x.Expr, perRow)
	case *ast.FieldAccess:
		return earlyCalculated(x.Base, perRow)
	case *ast.IndexAccess:
		return earlyCalculated(x.Base, perRow) && earlyCalculated(x.Index, perRow)
	case *ast.Call:
		if x.Receiver == nil {
			if _, graph := ast.LookupGraphMethod(x.Name); graph {
				return false
			}
		} else if !earlyCalculated(x.Receiver, perRow) {
			return false
		}
		return allEarly(x.Args, perRow)
	}
	return false
}

func allEarly(exprs []ast.Expr, perRow map[string]bool) bool {
	for _, e := range exprs {
		if !earlyCalculated(e, perRow) {
			return false
		}
	}
	return true
}

// correlated reports whether a LET sub-query reads the outer row.
func correlated(q ast.Statement, perRow map[string]bool) bool {
	s := q.String()
	if strings.Contains(s, VarParent) || strings.Contains(s, VarCurrent) {
		return true
	}
	for name := range perRow {
		if strings.Contains(s, "$"+name) {
			return true
		}
	}
	return false
}
