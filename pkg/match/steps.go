package match

import (
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/visited"
)

func copyPlan(p *exec.Plan) *exec.Plan {
	if p == nil {
		return nil
	}
	return p.Copy()
}

func plans(ps ...*exec.Plan) []*exec.Plan {
	var out []*exec.Plan
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// MatchPrefetchStep materializes the candidates of one alias before the
// traversal starts. Later steps read them from the context instead of
// scanning the class again for every row.
type MatchPrefetchStep struct {
	exec.Base
	Alias string
	Sub   *exec.Plan
	done  bool
}

func NewMatchPrefetchStep(alias string, sub *exec.Plan) *MatchPrefetchStep {
	return &MatchPrefetchStep{Alias: alias, Sub: sub}
}

func (s *MatchPrefetchStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	if s.done {
		return result.Empty(), nil
	}
	s.done = true
	if err := s.DrainPrev(ctx); err != nil {
		return nil, err
	}
	s.Sub.Reset()
	rows, err := exec.DrainPlan(ctx.Child(), s.Sub)
	if err != nil {
		return nil, err
	}
	c := &candidates{ids: visited.New()}
	for _, r := range rows {
		if rec := r.Element(); rec != nil && c.ids.Add(rec.Identity()) {
			c.records = append(c.records, rec)
		}
	}
	ctx.SetVariable(prefetchVar(s.Alias), c)
	if m := ctx.Metrics(); m != nil {
		m.PrefetchedAliases.Inc()
	}
	ctx.Logger().Debug("alias prefetched", logging.Alias(s.Alias), logging.Rows(len(c.records)))
	return result.Empty(), nil
}

func (s *MatchPrefetchStep) Reset() {
	s.Base.Reset()
	s.Sub.Reset()
	s.done = false
}

func (s *MatchPrefetchStep) Close() {
	s.Sub.Close()
	s.Base.Close()
}

func (s *MatchPrefetchStep) SendTimeout() {
	s.Sub.SendTimeout()
	s.Base.SendTimeout()
}

func (s *MatchPrefetchStep) Name() string           { return "MatchPrefetchStep" }
func (s *MatchPrefetchStep) Detail() string         { return "PREFETCH " + s.Alias }
func (s *MatchPrefetchStep) SubPlans() []*exec.Plan { return []*exec.Plan{s.Sub} }
func (s *MatchPrefetchStep) Copy() exec.Step        { return NewMatchPrefetchStep(s.Alias, s.Sub.Copy()) }
func (s *MatchPrefetchStep) Serialize(e *exec.Encoder) {
	e.Str("alias", s.Alias)
	e.Plan("sub", s.Sub)
}

// MatchFirstStep emits one row per candidate of a component's root, binding
// the record to the root's alias. Candidates come from the prefetched
// buffer, the root's rid, or the scan sub-plan, in that order.
type MatchFirstStep struct {
	exec.Base
	Filter *ast.NodeFilter
	Sub    *exec.Plan

	buf     exec.Buffer
	child   *exec.Context
	started bool
	done    bool
}

func NewMatchFirstStep(filter *ast.NodeFilter, sub *exec.Plan) *MatchFirstStep {
	return &MatchFirstStep{Filter: filter, Sub: sub}
}

func (s *MatchFirstStep) bind(rec *storage.Record) *result.Row {
	row := result.New()
	row.Set(s.Filter.Alias, rec)
	return row
}

func (s *MatchFirstStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	if !s.started {
		s.started = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		recs, fixed, err := fixedCandidates(ctx, s.Filter, result.New())
		if err != nil {
			return nil, err
		}
		if fixed || s.Sub == nil {
			rows := make([]*result.Row, len(recs))
			for i, rec := range recs {
				rows[i] = s.bind(rec)
			}
			s.buf.Fill(rows)
		} else {
			s.child = ctx.Child()
		}
	}
	if s.buf.Filled() {
		return s.buf.Take(n), nil
	}
	var out []*result.Row
	for len(out) < n && !s.done && !s.TimedOut() {
		rs, err := s.Sub.Pull(s.child, n-len(out))
		if err != nil {
			return nil, err
		}
		rows, err := result.Drain(rs)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			s.done = true
		}
		for _, r := range rows {
			if rec := r.Element(); rec != nil {
				out = append(out, s.bind(rec))
			}
		}
	}
	return result.Of(out...), nil
}

func (s *MatchFirstStep) Reset() {
	s.Base.Reset()
	if s.Sub != nil {
		s.Sub.Reset()
	}
	s.buf.Reset()
	s.child = nil
	s.started, s.done = false, false
}

func (s *MatchFirstStep) Close() {
	if s.Sub != nil {
		s.Sub.Close()
	}
	s.Base.Close()
}

func (s *MatchFirstStep) SendTimeout() {
	if s.Sub != nil {
		s.Sub.SendTimeout()
	}
	s.Base.SendTimeout()
}

func (s *MatchFirstStep) Name() string           { return "MatchFirstStep" }
func (s *MatchFirstStep) Detail() string         { return "SET " + s.Filter.String() }
func (s *MatchFirstStep) SubPlans() []*exec.Plan { return plans(s.Sub) }
func (s *MatchFirstStep) Copy() exec.Step        { return NewMatchFirstStep(s.Filter, copyPlan(s.Sub)) }
func (s *MatchFirstStep) Serialize(e *exec.Encoder) {
	e.Filter("filter", s.Filter)
	e.Plan("sub", s.Sub)
}

// MatchStep extends every upstream row along one scheduled edge. Item is
// the hop in the direction it is walked and Item.Filter carries the merged
// constraints of the alias it reaches.
//
// An empty From joins a further root of the same component: its candidates
// are fetched per row, with the row visible as $matched.
//
// When the target alias is already bound the traversal must reach that
// same record. With an optional target, a row reaching nothing is kept once
// with EmptyOptional bound; otherwise it is dropped.
type MatchStep struct {
	exec.Base
	From string
	Item *ast.PathItem
	Sub  *exec.Plan
	t    exec.Transform
}

func NewMatchStep(from string, item *ast.PathItem, sub *exec.Plan) *MatchStep {
	return &MatchStep{From: from, Item: item, Sub: sub}
}

func (s *MatchStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		return s.expand(ctx, row)
	})
}

func (s *MatchStep) expand(ctx *exec.Context, row *result.Row) ([]*result.Row, error) {
	f := s.Item.Filter
	var (
		targets []target
		err     error
	)
	if s.From == "" {
		targets, err = s.join(ctx, row)
	} else if src := recordOf(row.Property(s.From)); src != nil {
		targets, err = newEnv(ctx, row).traverse(s.Item, src, true)
	}
	if err != nil {
		return nil, err
	}
	if bound, ok := row.Get(f.Alias); ok {
		targets = agreeing(targets, recordOf(bound))
	}

	if len(targets) == 0 {
		if !f.Optional {
			return nil, nil
		}
		out := row.Copy()
		out.Set(f.Alias, EmptyOptional)
		return []*result.Row{out}, nil
	}
	out := make([]*result.Row, 0, len(targets))
	for _, t := range targets {
		r := row.Copy()
		r.Set(f.Alias, t.rec)
		if f.DepthAlias != "" {
			r.Set(f.DepthAlias, int64(t.depth))
		}
		if f.PathAlias != "" {
			path := make([]any, len(t.path))
			for i, p := range t.path {
				path[i] = p
			}
			r.Set(f.PathAlias, path)
		}
		out = append(out, r)
	}
	return out, nil
}

// join fetches the candidates of a root joined into a running component.
func (s *MatchStep) join(ctx *exec.Context, row *result.Row) ([]target, error) {
	recs, fixed, err := fixedCandidates(ctx, s.Item.Filter, row)
	if err != nil {
		return nil, err
	}
	if !fixed && s.Sub != nil {
		s.Sub.Reset()
		c := ctx.Child()
		c.SetVariable(exec.VarMatched, row)
		rows, err := exec.DrainPlan(c, s.Sub)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if rec := r.Element(); rec != nil {
				recs = append(recs, rec)
			}
		}
	}
	out := make([]target, len(recs))
	for i, rec := range recs {
		out[i] = target{rec: rec}
	}
	return out, nil
}

// agreeing keeps the targets that are bound, the only record an alias
// already bound in the row may take. A nil bound matches nothing.
func agreeing(targets []target, bound *storage.Record) []target {
	if bound == nil {
		return nil
	}
	for _, t := range targets {
		if t.rec.Identity() == bound.Identity() {
			return []target{t}
		}
	}
	return nil
}

func (s *MatchStep) Reset() {
	s.Base.Reset()
	s.t.Reset()
	if s.Sub != nil {
		s.Sub.Reset()
	}
}

func (s *MatchStep) Close() {
	if s.Sub != nil {
		s.Sub.Close()
	}
	s.Base.Close()
}

func (s *MatchStep) Name() string {
	if s.Item.Filter.Optional {
		return "OptionalMatchStep"
	}
	return "MatchStep"
}

func (s *MatchStep) Detail() string {
	var sb strings.Builder
	if s.Item.Filter.Optional {
		sb.WriteString("OPTIONAL ")
	}
	if s.From == "" {
		sb.WriteString("JOIN ")
		sb.WriteString(s.Item.Filter.String())
		return sb.String()
	}
	sb.WriteString("MATCH {")
	sb.WriteString(s.From)
	sb.WriteString("}")
	sb.WriteString(s.Item.String())
	return sb.String()
}

func (s *MatchStep) SubPlans() []*exec.Plan { return plans(s.Sub) }
func (s *MatchStep) Copy() exec.Step        { return NewMatchStep(s.From, s.Item, copyPlan(s.Sub)) }
func (s *MatchStep) Serialize(e *exec.Encoder) {
	e.Str("from", s.From)
	e.PathItem("item", s.Item)
	e.Plan("sub", s.Sub)
}

// RemoveEmptyOptionalsStep turns EmptyOptional bindings into null.
type RemoveEmptyOptionalsStep struct {
	exec.Base
	t exec.Transform
}

func NewRemoveEmptyOptionalsStep() *RemoveEmptyOptionalsStep { return &RemoveEmptyOptionalsStep{} }

func (s *RemoveEmptyOptionalsStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		for _, name := range row.PropertyNames() {
			if isEmptyOptional(row.Property(name)) {
				row.Set(name, nil)
			}
		}
		return []*result.Row{row}, nil
	})
}

func (s *RemoveEmptyOptionalsStep) Reset()          { s.Base.Reset(); s.t.Reset() }
func (s *RemoveEmptyOptionalsStep) Name() string    { return "RemoveEmptyOptionalsStep" }
func (s *RemoveEmptyOptionalsStep) Detail() string  { return "REMOVE EMPTY OPTIONALS" }
func (s *RemoveEmptyOptionalsStep) Copy() exec.Step { return NewRemoveEmptyOptionalsStep() }

// FilterNotMatchPatternStep drops the rows for which one of the NOT
// expressions matches, starting from the record bound to its origin alias.
type FilterNotMatchPatternStep struct {
	exec.Base
	Patterns []*ast.PathExpr
	t        exec.Transform
}

func NewFilterNotMatchPatternStep(patterns []*ast.PathExpr) *FilterNotMatchPatternStep {
	return &FilterNotMatchPatternStep{Patterns: patterns}
}

func (s *FilterNotMatchPatternStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		for _, p := range s.Patterns {
			ok, err := matchesPath(ctx, row, p)
			if err != nil || ok {
				return nil, err
			}
		}
		return []*result.Row{row}, nil
	})
}

func matchesPath(ctx *exec.Context, row *result.Row, p *ast.PathExpr) (bool, error) {
	e := newEnv(ctx, row)
	start := recordOf(row.Property(p.Origin.Alias))
	ok, err := e.accepts(p.Origin, start, false)
	if err != nil || !ok {
		return false, err
	}
	return e.walkPath(row, p.Items, start)
}

// walkPath reports whether items can be walked from src, honoring the
// aliases the row already binds.
func (e *env) walkPath(row *result.Row, items []*ast.PathItem, src *storage.Record) (bool, error) {
	if len(items) == 0 {
		return true, nil
	}
	item := items[0]
	targets, err := e.traverse(item, src, false)
	if err != nil {
		return false, err
	}
	for _, t := range targets {
		if item.Filter != nil && item.Filter.Alias != "" {
			if v, bound := row.Get(item.Filter.Alias); bound {
				if rec := recordOf(v); rec == nil || rec.Identity() != t.rec.Identity() {
					continue
				}
			}
		}
		ok, err := e.walkPath(row, items[1:], t.rec)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (s *FilterNotMatchPatternStep) Reset()       { s.Base.Reset(); s.t.Reset() }
func (s *FilterNotMatchPatternStep) Name() string { return "FilterNotMatchPatternStep" }

func (s *FilterNotMatchPatternStep) Detail() string {
	parts := make([]string, len(s.Patterns))
	for i, p := range s.Patterns {
		parts[i] = p.String()
	}
	return "NOT " + strings.Join(parts, ", NOT ")
}

func (s *FilterNotMatchPatternStep) Copy() exec.Step { return NewFilterNotMatchPatternStep(s.Patterns) }

// Serialize stores each NOT expression as one chained path item whose
// filter is the origin.
func (s *FilterNotMatchPatternStep) Serialize(e *exec.Encoder) {
	e.Int("patterns", int64(len(s.Patterns)))
	for i, p := range s.Patterns {
		e.PathItem(notKey(i), &ast.PathItem{Chain: p.Items, Filter: p.Origin})
	}
}
