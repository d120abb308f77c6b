package exec

import (
	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/indexplan"
	"github.com/dd0wney/cluso-query/pkg/qerr"
)

// countAlias is the output name of a lone count(*) projection.
func countAlias(proj *ast.Projection) (string, bool) {
	if proj == nil || len(proj.Items) != 1 || proj.Expand {
		return "", false
	}
	if !ast.IsCountStar(proj.Items[0].Expr) {
		return "", false
	}
	return proj.Items[0].Name(), true
}

// ridOrder recognizes ORDER BY @rid, which a class or cluster scan yields by
// itself.
func ridOrder(items []ast.OrderItem) (ascending, ok bool) {
	if len(items) != 1 {
		return false, false
	}
	id, isIdent := items[0].Expr.(*ast.Ident)
	if !isIdent || id.Name != "@rid" {
		return false, false
	}
	return !items[0].Desc, true
}

// scansInRIDOrder reports whether the fetch chosen for target walks records
// in identity order.
func (p *Planner) scansInRIDOrder(t ast.Target, where ast.Expr, rowLets bool) bool {
	switch t.Kind {
	case ast.TargetCluster:
		return true
	case ast.TargetClass:
		if rowLets {
			return true
		}
		_, indexed := indexplan.Select(t.Name, where, p.Schema)
		return !indexed
	}
	return false
}

// orderAfterProjection reports whether every ORDER BY key names a projected
// item, so that sorting can run on the projected rows.
func orderAfterProjection(proj *ast.Projection, items []ast.OrderItem) bool {
	if proj.IsStar() || len(items) == 0 {
		return false
	}
	names := make(map[string]bool, len(proj.Items))
	for _, it := range proj.Items {
		names[it.Name()] = true
	}
	for _, o := range items {
		id, ok := o.Expr.(*ast.Ident)
		if !ok || !names[id.Name] {
			return false
		}
	}
	return true
}

func (p *Planner) planSelect(s *ast.Select) (*Plan, error) {
	plan := NewPlan(s.String())
	if s.NoCache {
		plan.DisableCache()
	}

	perRow, err := p.chainGlobalLets(plan, s.Lets)
	if err != nil {
		return nil, err
	}

	alias, countOnly := countAlias(s.Projection)
	countOnly = countOnly && len(s.Unwind) == 0
	if countOnly && s.Target.Kind == ast.TargetClass && s.Where == nil && len(perRow) == 0 {
		plan.Chain(NewCountFromClassStep(s.Target.Name, alias))
		chainSkipLimit(plan, s.Skip, s.Limit)
		p.chainTimeout(plan, s.Timeout)
		return plan, nil
	}

	orderBy := s.OrderBy
	ascending := true
	if asc, ok := ridOrder(orderBy); ok && p.scansInRIDOrder(s.Target, s.Where, len(perRow) > 0) {
		ascending = asc
		orderBy = nil
	}
	if s.Target.Kind == ast.TargetIndex && len(orderBy) == 1 && ast.IsKey(orderBy[0].Expr) {
		ascending = !orderBy[0].Desc
		orderBy = nil
	}

	// Per-row LETs must be bound before the WHERE runs, so the index can
	// only take over the filter when there are none.
	where := s.Where
	if len(perRow) == 0 {
		if where, err = p.chainFetch(plan, s.Target, s.Where, ascending); err != nil {
			return nil, err
		}
	} else if _, err = p.chainFetch(plan, s.Target, nil, ascending); err != nil {
		return nil, err
	}
	if err := p.chainRowLets(plan, s.Lets, perRow); err != nil {
		return nil, err
	}
	if where != nil {
		plan.Chain(NewFilterStep(where))
	}

	if countOnly {
		plan.Chain(NewCountStep(alias))
		chainSkipLimit(plan, s.Skip, s.Limit)
		p.chainTimeout(plan, s.Timeout)
		return plan, nil
	}

	late := orderAfterProjection(s.Projection, orderBy)
	if len(orderBy) > 0 && !late {
		plan.Chain(NewOrderByStep(orderBy))
	}
	if !s.Projection.IsStar() {
		plan.Chain(NewProjectionStep(s.Projection))
	}
	if s.Projection != nil && s.Projection.Expand {
		plan.Chain(NewExpandStep())
	}
	if len(s.Unwind) > 0 {
		plan.Chain(NewUnwindStep(s.Unwind))
	}
	if s.Projection != nil && s.Projection.Distinct {
		plan.Chain(NewDistinctStep())
	}
	if late {
		plan.Chain(NewOrderByStep(orderBy))
	}
	chainSkipLimit(plan, s.Skip, s.Limit)
	p.chainTimeout(plan, s.Timeout)
	return plan, nil
}

// chainGlobalLets chains the LETs computable once per statement and returns
// the names of the rest.
func (p *Planner) chainGlobalLets(plan *Plan, lets []ast.Let) (map[string]bool, error) {
	perRow := make(map[string]bool)
	for _, l := range lets {
		switch {
		case l.Query != nil && !correlated(l.Query, perRow):
			sub, err := p.Plan(l.Query)
			if err != nil {
				return nil, err
			}
			plan.Chain(NewGlobalLetQueryStep(l.Name, sub))
		case l.Query == nil && earlyCalculated(l.Expr, perRow):
			plan.Chain(NewGlobalLetExpressionStep(l.Name, l.Expr))
		default:
			perRow[varKey(l.Name)] = true
		}
	}
	return perRow, nil
}

func (p *Planner) chainRowLets(plan *Plan, lets []ast.Let, perRow map[string]bool) error {
	for _, l := range lets {
		if !perRow[varKey(l.Name)] {
			continue
		}
		if l.Query == nil {
			plan.Chain(NewLetExpressionStep(l.Name, l.Expr))
			continue
		}
		sub, err := p.Plan(l.Query)
		if err != nil {
			return err
		}
		plan.Chain(NewLetQueryStep(l.Name, sub))
	}
	return nil
}

// chainFetch chains the access path of target. For class targets the WHERE
// may be answered by an index; the returned expression is the part of where
// still to be filtered.
func (p *Planner) chainFetch(plan *Plan, t ast.Target, where ast.Expr, ascending bool) (ast.Expr, error) {
	switch t.Kind {
	case ast.TargetNone:
		plan.Chain(NewEmptyDataGeneratorStep(1))
	case ast.TargetClass:
		if desc, ok := indexplan.Select(t.Name, where, p.Schema); ok {
			plan.Chain(NewFetchFromIndexStep(desc, true, false))
			if desc.Index.Class != t.Name {
				plan.Chain(NewFilterByClassStep(t.Name))
			}
			return desc.Remaining, nil
		}
		plan.Chain(NewFetchFromClassStep(t.Name, ascending))
	case ast.TargetCluster:
		if len(t.Clusters) == 1 {
			plan.Chain(NewFetchFromClusterStep(t.Clusters[0], ascending))
		} else {
			plan.Chain(NewFetchFromClustersStep(t.Clusters, ascending))
		}
	case ast.TargetRIDs:
		plan.Chain(NewFetchFromRidsStep(t.RIDs))
	case ast.TargetIndex:
		def, ok := p.Schema.Index(t.Name)
		if !ok {
			return nil, qerr.New("plan").Subject(t.Name).Cause(qerr.ErrUnknownIndex).Err()
		}
		desc, err := indexplan.FromKeyCondition(def, where)
		if err != nil {
			return nil, err
		}
		plan.Chain(NewFetchFromIndexStep(desc, ascending, true))
		return nil, nil
	case ast.TargetVariable:
		plan.Chain(NewFetchFromVariableStep(t.Name))
	case ast.TargetMetadata:
		plan.Chain(NewFetchFromMetadataStep(t.Name))
	case ast.TargetSubQuery:
		sub, err := p.planSelect(t.Query)
		if err != nil {
			return nil, err
		}
		plan.Chain(NewSubQueryStep(sub))
	default:
		return nil, qerr.Execution("plan", nil, "unsupported target kind %d", t.Kind)
	}
	return where, nil
}
