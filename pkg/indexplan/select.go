package indexplan

import (
	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/schema"
)

// fieldTerm is a WHERE conjunct of the form field <op> value.
type fieldTerm struct {
	expr  ast.Expr
	field string
	op    string
	value ast.Expr
	// between bounds, when op is "BETWEEN"
	low, high ast.Expr
}

const opBetween = "BETWEEN"

var flipped = map[string]string{
	ast.OpEq: ast.OpEq,
	ast.OpLt: ast.OpGt,
	ast.OpLe: ast.OpGe,
	ast.OpGt: ast.OpLt,
	ast.OpGe: ast.OpLe,
}

// classify recognises field comparisons whose other side does not depend on
// the current row.
func classify(e ast.Expr) (fieldTerm, bool) {
	switch x := e.(type) {
	case *ast.Comparison:
		if x.Operator != ast.OpEq && !ast.IsRangeOperator(x.Operator) {
			return fieldTerm{}, false
		}
		if id, ok := x.Left.(*ast.Ident); ok && indexable(id) && rowIndependent(x.Right) {
			return fieldTerm{expr: e, field: id.Name, op: x.Operator, value: x.Right}, true
		}
		if id, ok := x.Right.(*ast.Ident); ok && indexable(id) && rowIndependent(x.Left) {
			return fieldTerm{expr: e, field: id.Name, op: flipped[x.Operator], value: x.Left}, true
		}
	case *ast.Between:
		if id, ok := x.Expr.(*ast.Ident); ok && indexable(id) && rowIndependent(x.Low) && rowIndependent(x.High) {
			return fieldTerm{expr: e, field: id.Name, op: opBetween, low: x.Low, high: x.High}, true
		}
	}
	return fieldTerm{}, false
}

func indexable(id *ast.Ident) bool {
	return id.Name != "" && id.Name[0] != '@'
}

func rowIndependent(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.Literal, *ast.Param, *ast.Variable:
		return true
	case *ast.ListLit:
		for _, item := range x.Items {
			if !rowIndependent(item) {
				return false
			}
		}
		return true
	case *ast.Binary:
		return rowIndependent(x.Left) && rowIndependent(x.Right)
	}
	return false
}

type candidate struct {
	desc  *Descriptor
	score int
}

// Select picks the best index of class for where. Each index is scored by
// the equality prefix it can resolve (two points per field) plus one for a
// range or BETWEEN on the following field. Ties prefer unique indexes, then
// index name. The returned descriptor's Remaining is the filter still to be
// applied to fetched records; range terms stay in it because an open bound
// extends across other value kinds.
func Select(class string, where ast.Expr, l schema.Lookup) (*Descriptor, bool) {
	if where == nil {
		return nil, false
	}
	terms := conjuncts(where)

	var best *candidate
	for _, def := range l.Indexes(class) {
		c := evaluate(def, terms)
		if c == nil {
			continue
		}
		if best == nil || c.score > best.score ||
			(c.score == best.score && c.desc.Index.Unique && !best.desc.Index.Unique) {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return best.desc, true
}

func evaluate(def *schema.IndexDef, terms []ast.Expr) *candidate {
	classified := make([]*fieldTerm, len(terms))
	for i, t := range terms {
		if ft, ok := classify(t); ok {
			classified[i] = &ft
		}
	}
	consumed := make([]bool, len(terms))

	var eq []ast.Expr
	for _, field := range def.Fields {
		found := false
		for i, ft := range classified {
			if ft != nil && !consumed[i] && ft.field == field && ft.op == ast.OpEq {
				eq = append(eq, ft.value)
				consumed[i] = true
				found = true
				break
			}
		}
		if !found {
			break
		}
	}

	var lower, upper, between *fieldTerm
	keep := make([]bool, len(terms))
	if len(eq) < len(def.Fields) {
		next := def.Fields[len(eq)]
		for i, ft := range classified {
			if ft == nil || consumed[i] || ft.field != next {
				continue
			}
			switch ft.op {
			case opBetween:
				if between == nil && lower == nil && upper == nil {
					between = ft
					consumed[i], keep[i] = true, true
				}
			case ast.OpGt, ast.OpGe:
				if lower == nil && between == nil {
					lower = ft
					consumed[i], keep[i] = true, true
				}
			case ast.OpLt, ast.OpLe:
				if upper == nil && between == nil {
					upper = ft
					consumed[i], keep[i] = true, true
				}
			}
		}
	}
	hasRange := lower != nil || upper != nil || between != nil
	if len(eq) == 0 && !hasRange {
		return nil
	}

	d := &Descriptor{Index: def}
	composite := def.Composite()
	tuple := func(last ast.Expr) ast.Expr {
		if !composite {
			return last
		}
		items := append(append([]ast.Expr(nil), eq...), last)
		return &ast.ListLit{Items: items}
	}
	prefix := func() ast.Expr {
		return &ast.ListLit{Items: append([]ast.Expr(nil), eq...)}
	}

	switch {
	case between != nil:
		d.Key = &ast.Between{Expr: ast.Key(), Low: tuple(between.low), High: tuple(between.high)}
	case hasRange:
		var block []ast.Expr
		if lower != nil {
			block = append(block, ast.Cmp(ast.Key(), lower.op, tuple(lower.value)))
		}
		if upper != nil {
			block = append(block, ast.Cmp(ast.Key(), upper.op, tuple(upper.value)))
		}
		d.Key = ast.AndOf(block...)
		if composite && len(eq) > 0 {
			// keep the scan inside the equality prefix
			switch {
			case lower == nil:
				d.Additional = ast.Cmp(ast.Key(), ast.OpGe, prefix())
			case upper == nil:
				d.Additional = ast.Cmp(ast.Key(), ast.OpLe, prefix())
			}
		}
	case !composite:
		d.Key = ast.Eq(ast.Key(), eq[0])
	case len(eq) == len(def.Fields):
		d.Key = ast.Eq(ast.Key(), prefix())
	default:
		d.Key = &ast.Between{Expr: ast.Key(), Low: prefix(), High: prefix()}
	}

	var rest []ast.Expr
	for i, t := range terms {
		if !consumed[i] || keep[i] {
			rest = append(rest, t)
		}
	}
	switch len(rest) {
	case 0:
	case 1:
		d.Remaining = rest[0]
	default:
		d.Remaining = ast.AndOf(rest...)
	}

	score := len(eq) * 2
	if hasRange {
		score++
	}
	return &candidate{desc: d, score: score}
}
