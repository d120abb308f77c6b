package match

import (
	"math"
	"sort"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/stats"
)

// unbounded is the estimate of an alias with neither class nor rid. Such an
// alias cannot be fetched on its own and is never a root.
const unbounded = math.MaxInt64

// estimate bounds the candidates of n: one for a rid, the class count when
// there is no condition, and with a condition the number of matching
// records counted up to the prefetch threshold.
func (pl *planner) estimate(n *Node) int64 {
	switch {
	case n.RID != nil:
		return 1
	case n.Class == "":
		return unbounded
	}
	count := pl.p.DB.CountClass(n.Class, true)
	threshold := pl.p.PrefetchThreshold()
	if n.Where == nil || len(n.deps) > 0 || count < threshold {
		return count
	}
	sel := &ast.Select{
		Target: ast.Target{Kind: ast.TargetClass, Name: n.Class},
		Where:  n.Where,
		Limit:  ast.Lit(threshold),
	}
	plan, err := pl.p.Plan(sel)
	if err != nil {
		return count
	}
	ctx := exec.NewContext(pl.p.DB, exec.WithConfig(pl.p.Config), exec.WithLogger(pl.p.Logger))
	rows, err := exec.DrainPlan(ctx, plan)
	plan.Close()
	if err != nil || int64(len(rows)) >= threshold {
		return count
	}
	return int64(len(rows))
}

// hop is one scheduled traversal. A hop without from joins root into the
// component.
type hop struct {
	from string
	item *ast.PathItem
	root *Node
}

// schedule is the traversal order of one component.
type schedule struct {
	root *Node
	hops []hop
}

// schedule orders the edges of c. Starting from the cheapest eligible root
// it walks breadth first, consuming every edge leaving a reached alias and
// every bidirectional edge entering a reached mandatory one. An edge into an alias whose
// $matched dependencies are not reached yet waits. When nothing more can be
// consumed the next cheapest root is joined in.
func (pl *planner) schedule(c *Component, est map[*Node]int64) (*schedule, error) {
	s := &schedule{}
	visited := make(map[*Node]bool, len(c.Nodes))
	done := make(map[*Edge]bool, len(c.Edges))
	var order []*Node
	visit := func(n *Node) {
		visited[n] = true
		order = append(order, n)
	}
	ready := func(n *Node) bool {
		for _, d := range n.deps {
			if dep, _ := pl.pattern.Node(d); !visited[dep] {
				return false
			}
		}
		return true
	}

	for {
		for progress := true; progress; {
			progress = false
			for i := 0; i < len(order); i++ {
				n := order[i]
				for _, e := range pl.outgoing(n, c, done) {
					forward := e.From == n
					other := e.To
					if !forward {
						other = e.From
					}
					if !visited[other] && !ready(other) {
						continue
					}
					done[e] = true
					s.hops = append(s.hops, pl.hopOf(e, forward))
					if !visited[other] {
						visit(other)
					}
					progress = true
				}
			}
		}
		if len(visited) == len(c.Nodes) && len(done) == len(c.Edges) {
			return s, nil
		}

		root := pickRoot(c, visited, est, ready)
		if root == nil {
			var left []string
			for _, n := range c.Nodes {
				if !visited[n] {
					left = append(left, n.Alias)
				}
			}
			return nil, qerr.Execution("plan match", nil,
				"no alias to start from: %s need a class or rid, a non optional declaration, or a reachable $matched dependency",
				strings.Join(left, ", "))
		}
		visit(root)
		if s.root == nil {
			s.root = root
		} else {
			s.hops = append(s.hops, hop{root: root, item: &ast.PathItem{Filter: root.Filter()}})
		}
	}
}

// pickRoot returns the cheapest unvisited alias that can start a traversal.
func pickRoot(c *Component, visited map[*Node]bool, est map[*Node]int64, ready func(*Node) bool) *Node {
	var best *Node
	for _, n := range c.Nodes {
		if visited[n] || n.Optional || est[n] == unbounded || !ready(n) {
			continue
		}
		if best == nil || est[n] < est[best] {
			best = n
		}
	}
	return best
}

// outgoing lists the unconsumed edges n can walk, cheapest known fan-out
// first.
func (pl *planner) outgoing(n *Node, c *Component, done map[*Edge]bool) []*Edge {
	var out []*Edge
	for _, e := range c.Edges {
		if done[e] {
			continue
		}
		if e.From == n || (e.To == n && !n.Optional && e.Bidirectional()) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return pl.fanout(out[i], out[i].From == n) < pl.fanout(out[j], out[j].From == n)
	})
	return out
}

// fanout is the observed average fan-out of walking e, or +Inf.
func (pl *planner) fanout(e *Edge, forward bool) float64 {
	if pl.p.Stats == nil || e.Item.Method == nil {
		return math.Inf(1)
	}
	g, ok := ast.LookupGraphMethod(e.Item.Method.Name)
	if !ok {
		return math.Inf(1)
	}
	classes, ok := literalClasses(e.Item.Method)
	if !ok {
		return math.Inf(1)
	}
	src := e.From
	if !forward {
		g, src = g.Reverse(), e.To
	}
	f, ok := pl.p.Stats.Fanout(stats.Key{VertexClass: src.Class, EdgeClass: edgeClass(classes), Direction: g.Direction.String()})
	if !ok {
		return math.Inf(1)
	}
	return f
}

// hopOf builds the traversal of e in the chosen direction. The hop's filter
// is the merged filter of the alias reached; a forward hop keeps the
// recursion settings of the path item.
func (pl *planner) hopOf(e *Edge, forward bool) hop {
	if forward {
		f := e.To.Filter()
		f.While = e.Item.Filter.While
		f.MaxDepth = e.Item.Filter.MaxDepth
		f.DepthAlias = e.Item.Filter.DepthAlias
		f.PathAlias = e.Item.Filter.PathAlias
		item := *e.Item
		item.Filter = f
		return hop{from: e.From.Alias, item: &item}
	}
	g, _ := ast.LookupGraphMethod(e.Item.Method.Name)
	call := &ast.Call{Name: g.Reverse().Name, Args: e.Item.Method.Args}
	return hop{from: e.To.Alias, item: &ast.PathItem{Method: call, Filter: e.From.Filter()}}
}
