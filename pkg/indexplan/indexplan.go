// Package indexplan translates key conditions into ordered index scans and
// picks the index a class scan should use for a WHERE clause.
//
// Key conditions are written against the synthetic "key" field:
//
//	key = v                   point lookup
//	key > v, key <= v, ...    half-open range to the extreme of the key space
//	key BETWEEN a AND b       closed range
//	key >= a AND key < b      AND-block of one or two comparisons
//
// An AND-block may be completed by an additional condition supplying the
// bound the block itself lacks.
package indexplan

import (
	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Descriptor is an index handle plus the key condition to scan it with.
type Descriptor struct {
	Index *schema.IndexDef
	// Key is a comparison or BETWEEN on the key, or an AND-block of them.
	Key ast.Expr
	// Additional, when set, is a comparison on the key supplying the bound
	// missing from Key.
	Additional ast.Expr
	// RIDFilter is evaluated against each matched identity, exposed as the
	// "rid" (and "@rid") property.
	RIDFilter ast.Expr
	// Remaining is the part of the original WHERE the scan does not decide.
	Remaining ast.Expr
}

// Kind names the shape of the scan for metrics and explain output.
func (d *Descriptor) Kind() string {
	if d.Key == nil {
		return "full"
	}
	switch k := d.Key.(type) {
	case *ast.Between:
		return "between"
	case *ast.Comparison:
		if k.Operator == ast.OpEq {
			return "point"
		}
	case *ast.And:
		if len(k.Terms) == 1 {
			if c, ok := k.Terms[0].(*ast.Comparison); ok && c.Operator == ast.OpEq {
				return "point"
			}
		}
	}
	return "range"
}

func (d *Descriptor) String() string {
	s := "index " + d.Index.Name
	if d.Key != nil {
		s += " (" + d.Key.String() + ")"
	}
	if d.Additional != nil {
		s += " + (" + d.Additional.String() + ")"
	}
	return s
}

func unsupported(format string, args ...any) error {
	return qerr.New("index range").Cause(qerr.ErrUnsupportedIndexOp).Detail(format, args...).Err()
}

// BuildRange evaluates the descriptor's key condition into a scan range.
// Iteration order is the caller's choice.
func BuildRange(d *Descriptor, ctx ast.Context, ascending bool) (storage.Range, error) {
	if d.Key == nil {
		return storage.Range{Ascending: ascending}, nil
	}

	switch k := d.Key.(type) {
	case *ast.Comparison:
		if k.Operator == ast.OpEq {
			return point(d, k, ctx, ascending)
		}
		return rangeOf(d, []ast.Expr{k}, ctx, ascending)
	case *ast.Between:
		if !ast.IsKey(k.Expr) {
			return storage.Range{}, unsupported("BETWEEN on %s", k.Expr)
		}
		lo, err := keyValue(d, k.Low, ctx)
		if err != nil {
			return storage.Range{}, err
		}
		hi, err := keyValue(d, k.High, ctx)
		if err != nil {
			return storage.Range{}, err
		}
		return storage.Range{
			From: lo, HasFrom: true, FromInclusive: true,
			To: hi, HasTo: true, ToInclusive: true,
			Ascending: ascending,
		}, nil
	case *ast.And:
		if len(k.Terms) == 1 {
			if c, ok := k.Terms[0].(*ast.Comparison); ok && c.Operator == ast.OpEq {
				return point(d, c, ctx, ascending)
			}
		}
		return rangeOf(d, k.Terms, ctx, ascending)
	}
	return storage.Range{}, unsupported("condition %s", d.Key)
}

func point(d *Descriptor, c *ast.Comparison, ctx ast.Context, ascending bool) (storage.Range, error) {
	if !ast.IsKey(c.Left) {
		return storage.Range{}, unsupported("equality on %s", c.Left)
	}
	v, err := keyValue(d, c.Right, ctx)
	if err != nil {
		return storage.Range{}, err
	}
	return storage.Point(v, ascending), nil
}

type bound struct {
	value     any
	inclusive bool
	set       bool
}

// tighten keeps the more restrictive of two bounds on the same side; lower
// is true for lower bounds.
func (b *bound) tighten(v any, inclusive, lower bool) {
	if !b.set {
		*b = bound{value: v, inclusive: inclusive, set: true}
		return
	}
	c := value.SortCompare(v, b.value)
	if (lower && c > 0) || (!lower && c < 0) || (c == 0 && !inclusive) {
		*b = bound{value: v, inclusive: inclusive, set: true}
	}
}

// rangeOf derives the range of an AND-block of one or two comparisons. The
// lower bound comes from the block's > / >= terms, or from the additional
// condition when the block has none; the upper bound symmetrically.
func rangeOf(d *Descriptor, terms []ast.Expr, ctx ast.Context, ascending bool) (storage.Range, error) {
	if len(terms) == 0 || len(terms) > 2 {
		return storage.Range{}, unsupported("AND-block of %d terms", len(terms))
	}
	var lo, hi bound
	for _, t := range terms {
		c, ok := t.(*ast.Comparison)
		if !ok || !ast.IsKey(c.Left) || !ast.IsRangeOperator(c.Operator) {
			return storage.Range{}, unsupported("term %s", t)
		}
		v, err := keyValue(d, c.Right, ctx)
		if err != nil {
			return storage.Range{}, err
		}
		switch c.Operator {
		case ast.OpGt, ast.OpGe:
			lo.tighten(v, c.Operator == ast.OpGe, true)
		default:
			hi.tighten(v, c.Operator == ast.OpLe, false)
		}
	}

	if d.Additional != nil && (!lo.set || !hi.set) {
		c, ok := d.Additional.(*ast.Comparison)
		if !ok || !ast.IsKey(c.Left) {
			return storage.Range{}, unsupported("additional condition %s", d.Additional)
		}
		v, err := keyValue(d, c.Right, ctx)
		if err != nil {
			return storage.Range{}, err
		}
		switch c.Operator {
		case ast.OpGt, ast.OpGe:
			if !lo.set {
				lo = bound{value: v, inclusive: c.Operator == ast.OpGe, set: true}
			}
		case ast.OpLt, ast.OpLe:
			if !hi.set {
				hi = bound{value: v, inclusive: c.Operator == ast.OpLe, set: true}
			}
		default:
			return storage.Range{}, unsupported("additional operator %s", c.Operator)
		}
	}

	return storage.Range{
		From: lo.value, HasFrom: lo.set, FromInclusive: lo.inclusive,
		To: hi.value, HasTo: hi.set, ToInclusive: hi.inclusive,
		Ascending: ascending,
	}, nil
}

// keyValue evaluates a right-hand side and shapes it for the index: single
// field indexes unwrap singleton collections, composite indexes require a
// tuple.
func keyValue(d *Descriptor, e ast.Expr, ctx ast.Context) (any, error) {
	v, err := e.Eval(nil, ctx)
	if err != nil {
		return nil, err
	}
	v = value.Normalize(v)
	if d.Index == nil || !d.Index.Composite() {
		return value.Unwrap(v), nil
	}
	if _, ok := v.([]any); !ok {
		return nil, qerr.New("index range").Subject(d.Index.Name).
			Cause(qerr.ErrUnsupportedIndexOp).
			Detail("composite key must be a tuple, got %T", v).Err()
	}
	return v, nil
}

// MatchesRID applies the descriptor's identity post-filter.
func MatchesRID(d *Descriptor, r rid.RID, ctx ast.Context) (bool, error) {
	if d.RIDFilter == nil {
		return true, nil
	}
	return ast.Matches(d.RIDFilter, ridRow(r), ctx)
}

type ridRow rid.RID

func (r ridRow) Get(name string) (any, bool) {
	if name == "rid" || name == "@rid" {
		return rid.RID(r), true
	}
	return nil, false
}

// FromKeyCondition builds the descriptor of an index: target, whose WHERE
// must only constrain the key with one or two comparisons, a BETWEEN or an
// equality.
func FromKeyCondition(def *schema.IndexDef, where ast.Expr) (*Descriptor, error) {
	d := &Descriptor{Index: def}
	if where == nil {
		return d, nil
	}
	terms := conjuncts(where)
	var keyTerms, ridTerms, other []ast.Expr
	for _, t := range terms {
		switch {
		case onKey(t):
			keyTerms = append(keyTerms, t)
		case onRID(t):
			ridTerms = append(ridTerms, t)
		default:
			other = append(other, t)
		}
	}
	switch len(ridTerms) {
	case 0:
	case 1:
		d.RIDFilter = ridTerms[0]
	default:
		d.RIDFilter = ast.AndOf(ridTerms...)
	}
	if len(other) > 0 {
		return nil, unsupported("index target filter %s", ast.AndOf(other...))
	}
	switch len(keyTerms) {
	case 0:
	case 1:
		d.Key = keyTerms[0]
	default:
		d.Key = ast.AndOf(keyTerms...)
	}
	return d, nil
}

func onKey(e ast.Expr) bool {
	switch x := e.(type) {
	case *ast.Comparison:
		return ast.IsKey(x.Left)
	case *ast.Between:
		return ast.IsKey(x.Expr)
	}
	return false
}

func onRID(e ast.Expr) bool {
	c, ok := e.(*ast.Comparison)
	if !ok {
		return false
	}
	id, ok := c.Left.(*ast.Ident)
	return ok && (id.Name == "rid" || id.Name == "@rid")
}

func conjuncts(e ast.Expr) []ast.Expr {
	if a, ok := e.(*ast.And); ok {
		var out []ast.Expr
		for _, t := range a.Terms {
			out = append(out, conjuncts(t)...)
		}
		return out
	}
	return []ast.Expr{e}
}
