package match

import (
	"fmt"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/qerr"
)

func init() {
	exec.RegisterPlanner("MATCH", Plan)

	exec.RegisterStep("MatchPrefetchStep", func(d *exec.Decoder) exec.Step {
		return NewMatchPrefetchStep(d.Str("alias"), d.SubPlan("sub"))
	})
	exec.RegisterStep("MatchFirstStep", func(d *exec.Decoder) exec.Step {
		return NewMatchFirstStep(d.Filter("filter"), d.Plan("sub"))
	})
	decodeMatch := func(d *exec.Decoder) exec.Step {
		return NewMatchStep(d.Str("from"), d.PathItem("item"), d.Plan("sub"))
	}
	exec.RegisterStep("MatchStep", decodeMatch)
	exec.RegisterStep("OptionalMatchStep", decodeMatch)
	exec.RegisterStep("RemoveEmptyOptionalsStep", func(*exec.Decoder) exec.Step { return NewRemoveEmptyOptionalsStep() })
	exec.RegisterStep("FilterNotMatchPatternStep", func(d *exec.Decoder) exec.Step {
		n := int(d.Int("patterns"))
		patterns := make([]*ast.PathExpr, 0, n)
		for i := 0; i < n; i++ {
			if it := d.PathItem(notKey(i)); it != nil {
				patterns = append(patterns, &ast.PathExpr{Origin: it.Filter, Items: it.Chain})
			}
		}
		return NewFilterNotMatchPatternStep(patterns)
	})
	exec.RegisterStep("ReturnMatchPatternsStep", func(*exec.Decoder) exec.Step { return NewReturnMatchPatternsStep() })
	exec.RegisterStep("ReturnMatchPathsStep", func(*exec.Decoder) exec.Step { return NewReturnMatchPathsStep() })
	exec.RegisterStep("ReturnMatchElementsStep", func(*exec.Decoder) exec.Step { return NewReturnMatchElementsStep(false) })
	exec.RegisterStep("ReturnMatchPathElementsStep", func(*exec.Decoder) exec.Step {
		return NewReturnMatchElementsStep(true)
	})
}

func notKey(i int) string { return fmt.Sprintf("not%d", i) }

type planner struct {
	p       *exec.Planner
	pattern *Pattern
}

// Plan builds the plan of a MATCH statement. Importing this package
// registers it with the exec planner.
func Plan(p *exec.Planner, stmt ast.Statement) (*exec.Plan, error) {
	m, ok := stmt.(*ast.Match)
	if !ok {
		return nil, qerr.Execution("plan match", nil, "unexpected statement %s", stmt.StatementKind())
	}
	if len(m.Patterns) == 0 {
		return nil, qerr.Execution("plan match", nil, "MATCH without a pattern")
	}
	pattern, err := Build(m.Patterns, p.Schema)
	if err != nil {
		return nil, err
	}
	// An optional alias may be bound to EmptyOptional, which no hop can
	// start from.
	for _, e := range pattern.Edges {
		if e.From.Optional {
			return nil, qerr.New("plan match").Subject(e.From.Alias).Cause(qerr.ErrOptionalNotLast).
				Detail("%s follows it", e.Item).Err()
		}
	}
	pl := &planner{p: p, pattern: pattern}
	return pl.plan(m)
}

func (pl *planner) plan(m *ast.Match) (*exec.Plan, error) {
	for _, not := range m.NotPatterns {
		if not.Origin == nil || not.Origin.Alias == "" {
			return nil, qerr.Execution("plan match", nil, "NOT pattern %s must start from an alias", not)
		}
		if _, ok := pl.pattern.Node(not.Origin.Alias); !ok {
			return nil, qerr.Execution("plan match", nil, "NOT pattern starts from unknown alias %s", not.Origin.Alias)
		}
	}

	plan := exec.NewPlan(m.String())
	est := make(map[*Node]int64, len(pl.pattern.Nodes))
	optional := false
	for _, n := range pl.pattern.Nodes {
		est[n] = pl.estimate(n)
		optional = optional || n.Optional
	}

	prefetched := make(map[*Node]bool)
	threshold := pl.p.PrefetchThreshold()
	for _, n := range pl.pattern.Nodes {
		if n.Class == "" || n.RID != nil || len(n.deps) > 0 || est[n] >= threshold {
			continue
		}
		sub, err := pl.scanPlan(n)
		if err != nil {
			return nil, err
		}
		plan.Chain(NewMatchPrefetchStep(n.Alias, sub))
		prefetched[n] = true
	}

	comps := pl.pattern.Components()
	if pl.p.Metrics != nil {
		pl.p.Metrics.PatternComponents.Observe(float64(len(comps)))
	}
	if len(comps) == 1 {
		if err := pl.chainComponent(plan, comps[0], est, prefetched); err != nil {
			return nil, err
		}
	} else {
		subs := make([]*exec.Plan, len(comps))
		for i, c := range comps {
			subs[i] = exec.NewPlan(fmt.Sprintf("component %d", i))
			if err := pl.chainComponent(subs[i], c, est, prefetched); err != nil {
				return nil, err
			}
		}
		plan.Chain(exec.NewCartesianProductStep(subs))
	}

	if len(m.NotPatterns) > 0 {
		plan.Chain(NewFilterNotMatchPatternStep(m.NotPatterns))
	}
	if optional {
		plan.Chain(NewRemoveEmptyOptionalsStep())
	}
	distinct := m.Distinct
	switch m.ReturnMode {
	case ast.ReturnPatterns:
		plan.Chain(NewReturnMatchPatternsStep())
	case ast.ReturnPaths:
		plan.Chain(NewReturnMatchPathsStep())
	case ast.ReturnElements:
		plan.Chain(NewReturnMatchElementsStep(false))
		distinct = true
	case ast.ReturnPathElements:
		plan.Chain(NewReturnMatchElementsStep(true))
		distinct = true
	case "":
		if len(m.Return) == 0 {
			return nil, qerr.Execution("plan match", nil, "MATCH without RETURN")
		}
		plan.Chain(exec.NewProjectionStep(&ast.Projection{Items: m.Return}))
	default:
		return nil, qerr.Execution("plan match", nil, "unknown return mode %s", m.ReturnMode)
	}
	if distinct {
		plan.Chain(exec.NewDistinctStep())
	}
	if len(m.OrderBy) > 0 {
		plan.Chain(exec.NewOrderByStep(m.OrderBy))
	}
	if m.Skip != nil {
		plan.Chain(exec.NewSkipStep(m.Skip))
	}
	if m.Limit != nil {
		plan.Chain(exec.NewLimitStep(m.Limit))
	}
	return plan, nil
}

// chainComponent appends the traversal of one component: its root, then
// one step per scheduled hop.
func (pl *planner) chainComponent(plan *exec.Plan, c *Component, est map[*Node]int64, prefetched map[*Node]bool) error {
	s, err := pl.schedule(c, est)
	if err != nil {
		return err
	}
	pl.p.Logger.Debug("match component scheduled",
		logging.Alias(s.root.Alias),
		logging.Int("aliases", len(c.Nodes)),
		logging.Int("hops", len(s.hops)),
	)

	sub, err := pl.rootPlan(s.root, prefetched)
	if err != nil {
		return err
	}
	plan.Chain(NewMatchFirstStep(s.root.Filter(), sub))
	for _, h := range s.hops {
		if h.root == nil {
			plan.Chain(NewMatchStep(h.from, h.item, nil))
			continue
		}
		sub, err := pl.rootPlan(h.root, prefetched)
		if err != nil {
			return err
		}
		plan.Chain(NewMatchStep("", h.item, sub))
	}
	return nil
}

// rootPlan is the scan of a root, or nil when its candidates are prefetched
// or named by rid.
func (pl *planner) rootPlan(n *Node, prefetched map[*Node]bool) (*exec.Plan, error) {
	if prefetched[n] || n.RID != nil {
		return nil, nil
	}
	return pl.scanPlan(n)
}

func (pl *planner) scanPlan(n *Node) (*exec.Plan, error) {
	return pl.p.Plan(&ast.Select{
		Target: ast.Target{Kind: ast.TargetClass, Name: n.Class},
		Where:  n.Where,
	})
}
