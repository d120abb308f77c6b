// Package match plans and runs MATCH statements.
//
// The match expressions of a statement are merged into one pattern graph:
// a Node per alias and an Edge per path item. The planner splits the graph
// into connected components, orders each component's edges from its
// cheapest root and turns the schedule into a chain of traversal steps
// running on the exec pipeline.
package match

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/schema"
)

// anonPrefix starts the aliases given to filters that declare none.
const anonPrefix = "$ANON_ALIAS_"

// IsAnonymous reports whether alias was generated for an unnamed filter.
func IsAnonymous(alias string) bool { return strings.HasPrefix(alias, anonPrefix) }

// Node is one alias of the pattern with the constraints of all its
// occurrences merged.
type Node struct {
	Alias    string
	Class    string
	RID      ast.Expr
	Where    ast.Expr
	Optional bool

	// deps are the aliases Where reads through $matched.
	deps []string
	pos  int
}

// Filter returns the merged constraints as a node filter.
func (n *Node) Filter() *ast.NodeFilter {
	return &ast.NodeFilter{Alias: n.Alias, Class: n.Class, RID: n.RID, Where: n.Where, Optional: n.Optional}
}

func (n *Node) String() string { return n.Filter().String() }

// Edge is one path item between two aliases.
type Edge struct {
	From, To *Node
	Item     *ast.PathItem
}

// Recursive reports a WHILE/maxDepth hop.
func (e *Edge) Recursive() bool { return e.Item.Filter.Recursive() }

// Bidirectional reports whether the edge can be walked from its target back
// to its source: plain graph method hops only.
func (e *Edge) Bidirectional() bool {
	if e.Item.Method == nil || e.Recursive() {
		return false
	}
	_, ok := ast.LookupGraphMethod(e.Item.Method.Name)
	return ok
}

func (e *Edge) String() string {
	return "{" + e.From.Alias + "}" + e.Item.String()
}

// Pattern is the merged graph of a statement's match expressions.
type Pattern struct {
	Nodes []*Node
	Edges []*Edge

	byAlias map[string]*Node
	anon    int
	schema  schema.Lookup
}

// Build merges match expressions into a pattern. Filters of the same alias
// are combined by AND and their classes unified to the most specific one.
func Build(exprs []*ast.PathExpr, l schema.Lookup) (*Pattern, error) {
	p := &Pattern{byAlias: make(map[string]*Node), schema: l}
	for _, expr := range exprs {
		from, _, err := p.add(expr.Origin)
		if err != nil {
			return nil, err
		}
		for _, item := range expr.Items {
			to, filter, err := p.add(item.Filter)
			if err != nil {
				return nil, err
			}
			hop := *item
			hop.Filter = filter
			p.Edges = append(p.Edges, &Edge{From: from, To: to, Item: &hop})
			from = to
		}
	}
	for _, n := range p.Nodes {
		n.deps = p.matchedDeps(n)
	}
	return p, nil
}

// Node returns the node of alias.
func (p *Pattern) Node(alias string) (*Node, bool) {
	n, ok := p.byAlias[alias]
	return n, ok
}

// add merges f into the node of its alias and returns the node together
// with a copy of f carrying the resolved alias.
func (p *Pattern) add(f *ast.NodeFilter) (*Node, *ast.NodeFilter, error) {
	var filter ast.NodeFilter
	if f != nil {
		filter = *f
	}
	if filter.Alias == "" {
		filter.Alias = fmt.Sprintf("%s%d", anonPrefix, p.anon)
		p.anon++
	}
	n, ok := p.byAlias[filter.Alias]
	if !ok {
		n = &Node{Alias: filter.Alias, pos: len(p.Nodes)}
		p.byAlias[n.Alias] = n
		p.Nodes = append(p.Nodes, n)
	}

	if filter.Class != "" {
		if _, ok := p.schema.Class(filter.Class); !ok {
			return nil, nil, qerr.New("match").Subject(filter.Class).Cause(qerr.ErrUnknownClass).Err()
		}
	}
	class, ok := schema.MostSpecific(p.schema, n.Class, filter.Class)
	if !ok {
		return nil, nil, qerr.New("match").
			Subject(n.Alias).
			Cause(qerr.ErrIncompatibleClasses).
			Detail("%s and %s", n.Class, filter.Class).
			Err()
	}
	n.Class = class
	n.Where = and(n.Where, filter.Where)
	if filter.RID != nil {
		if n.RID != nil && n.RID.String() != filter.RID.String() {
			return nil, nil, qerr.Execution("match", nil, "alias %s has conflicting rids %s and %s",
				n.Alias, n.RID, filter.RID)
		}
		n.RID = filter.RID
	}
	n.Optional = n.Optional || filter.Optional
	return n, &filter, nil
}

func and(a, b ast.Expr) ast.Expr {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	if x, ok := a.(*ast.And); ok {
		return ast.AndOf(append(append([]ast.Expr(nil), x.Terms...), b)...)
	}
	return ast.AndOf(a, b)
}

var matchedRef = regexp.MustCompile(`\$matched\.([A-Za-z_$][A-Za-z0-9_$]*)`)

// matchedDeps lists the other aliases n's condition reads through $matched.
func (p *Pattern) matchedDeps(n *Node) []string {
	if n.Where == nil {
		return nil
	}
	var deps []string
	seen := make(map[string]bool)
	for _, m := range matchedRef.FindAllStringSubmatch(n.Where.String(), -1) {
		alias := m[1]
		if alias == n.Alias || seen[alias] {
			continue
		}
		if _, ok := p.byAlias[alias]; ok {
			seen[alias] = true
			deps = append(deps, alias)
		}
	}
	return deps
}

// Component is a connected part of a pattern. Aliases joined only through
// a $matched reference belong to the same component.
type Component struct {
	Nodes []*Node
	Edges []*Edge
}

// Components splits the pattern, in order of first appearance.
func (p *Pattern) Components() []*Component {
	parent := make([]int, len(p.Nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}
	for _, e := range p.Edges {
		union(e.From.pos, e.To.pos)
	}
	for _, n := range p.Nodes {
		for _, d := range n.deps {
			union(n.pos, p.byAlias[d].pos)
		}
	}

	byRoot := make(map[int]*Component)
	var out []*Component
	for _, n := range p.Nodes {
		r := find(n.pos)
		c, ok := byRoot[r]
		if !ok {
			c = &Component{}
			byRoot[r] = c
			out = append(out, c)
		}
		c.Nodes = append(c.Nodes, n)
	}
	for _, e := range p.Edges {
		c := byRoot[find(e.From.pos)]
		c.Edges = append(c.Edges, e)
	}
	return out
}
