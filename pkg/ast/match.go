package ast

import (
	"strconv"
	"strings"
)

// Match return modes besides plain projections
const (
	ReturnElements     = "$elements"
	ReturnPathElements = "$pathElements"
	ReturnPatterns     = "$patterns"
	ReturnPaths        = "$paths"
)

// NodeFilter is the {...} block of a match expression.
type NodeFilter struct {
	Alias    string
	Class    string
	RID      Expr
	Where    Expr
	While    Expr
	MaxDepth *int
	Optional bool
	// DepthAlias binds the recursion depth of a WHILE traversal.
	DepthAlias string
	// PathAlias binds the list of records walked to reach the node.
	PathAlias string
}

// Recursive reports whether the filter asks for a WHILE/maxDepth expansion.
func (f *NodeFilter) Recursive() bool {
	return f != nil && (f.While != nil || f.MaxDepth != nil)
}

func (f *NodeFilter) String() string {
	if f == nil {
		return "{}"
	}
	var parts []string
	if f.Class != "" {
		parts = append(parts, "class: "+f.Class)
	}
	if f.Alias != "" {
		parts = append(parts, "as: "+f.Alias)
	}
	if f.RID != nil {
		parts = append(parts, "rid: "+f.RID.String())
	}
	if f.Where != nil {
		parts = append(parts, "where: ("+f.Where.String()+")")
	}
	if f.While != nil {
		parts = append(parts, "while: ("+f.While.String()+")")
	}
	if f.MaxDepth != nil {
		parts = append(parts, "maxDepth: "+strconv.Itoa(*f.MaxDepth))
	}
	if f.Optional {
		parts = append(parts, "optional: true")
	}
	if f.DepthAlias != "" {
		parts = append(parts, "depthAlias: "+f.DepthAlias)
	}
	if f.PathAlias != "" {
		parts = append(parts, "pathAlias: "+f.PathAlias)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// PathItem is one hop of a match expression. Exactly one of Method, Field
// and Chain is set: a graph method hop (.out('E')), a field expression hop
// (.(expr)) or a multi-hop chain (.(out('A').out('B'))).
type PathItem struct {
	Method *Call
	Field  Expr
	Chain  []*PathItem
	Filter *NodeFilter
}

func (p *PathItem) String() string {
	var hop string
	switch {
	case p.Method != nil:
		hop = "." + p.Method.String()
	case p.Field != nil:
		hop = ".(" + p.Field.String() + ")"
	default:
		parts := make([]string, len(p.Chain))
		for i, c := range p.Chain {
			parts[i] = strings.TrimPrefix(c.String(), ".")
		}
		hop = ".(" + strings.Join(parts, ".") + ")"
	}
	return hop + p.Filter.String()
}

// PathExpr is one match expression: an origin followed by hops.
type PathExpr struct {
	Origin *NodeFilter
	Items  []*PathItem
}

func (p *PathExpr) String() string {
	var sb strings.Builder
	sb.WriteString(p.Origin.String())
	for _, it := range p.Items {
		sb.WriteString(it.String())
	}
	return sb.String()
}

// Match is a MATCH statement.
type Match struct {
	Patterns    []*PathExpr
	NotPatterns []*PathExpr
	Return      []ProjectionItem
	// ReturnMode is one of the $ modes; empty means the Return items.
	ReturnMode string
	Distinct   bool
	OrderBy    []OrderItem
	Skip       Expr
	Limit      Expr
}

func (*Match) StatementKind() string { return "MATCH" }

func (m *Match) String() string {
	var sb strings.Builder
	sb.WriteString("MATCH ")
	parts := make([]string, 0, len(m.Patterns)+len(m.NotPatterns))
	for _, p := range m.Patterns {
		parts = append(parts, p.String())
	}
	for _, p := range m.NotPatterns {
		parts = append(parts, "NOT "+p.String())
	}
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString(" RETURN ")
	if m.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if m.ReturnMode != "" {
		sb.WriteString(m.ReturnMode)
	} else {
		sb.WriteString((&Projection{Items: m.Return}).String())
	}
	writeOrderBy(&sb, m.OrderBy)
	writeSkipLimit(&sb, m.Skip, m.Limit)
	return sb.String()
}
