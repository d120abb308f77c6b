package ast

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/dd0wney/cluso-query/pkg/value"
)

// Binary is arithmetic: +, -, *, /, %. Any nil operand yields nil; + also
// concatenates strings.
type Binary struct {
	Left     Expr
	Operator string
	Right    Expr
}

func (b *Binary) Eval(row Row, ctx Context) (any, error) {
	l, err := b.Left.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	r, err := b.Right.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	l, r = value.Normalize(l), value.Normalize(r)
	if l == nil || r == nil {
		return nil, nil
	}
	return arithmetic(l, b.Operator, r)
}

func (b *Binary) String() string {
	return "(" + b.Left.String() + " " + b.Operator + " " + b.Right.String() + ")"
}

func arithmetic(left any, op string, right any) (any, error) {
	if op == "+" {
		ls, lok := left.(string)
		rs, rok := right.(string)
		switch {
		case lok && rok:
			return ls + rs, nil
		case lok:
			return ls + fmt.Sprint(right), nil
		case rok:
			return fmt.Sprint(left) + rs, nil
		}
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt {
		return intOp(li, op, ri)
	}
	lf, lok := value.ToFloat(left)
	rf, rok := value.ToFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("cannot use %s with %T and %T", op, left, right)
	}
	return floatOp(lf, op, rf)
}

func intOp(left int64, op string, right int64) (any, error) {
	switch op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case "%":
		if right == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return left % right, nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator: %s", op)
}

func floatOp(left float64, op string, right float64) (any, error) {
	switch op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case "%":
		if right == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(left, right), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator: %s", op)
}

// Comparison operators
const (
	OpEq   = "="
	OpNe   = "<>"
	OpLt   = "<"
	OpLe   = "<="
	OpGt   = ">"
	OpGe   = ">="
	OpLike = "LIKE"
)

// Comparison compares two values. Comparisons against null are false;
// incomparable kinds are unequal.
type Comparison struct {
	Left     Expr
	Operator string
	Right    Expr
}

func (c *Comparison) Eval(row Row, ctx Context) (any, error) {
	l, err := c.Left.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Right.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	return Compare(l, c.Operator, r)
}

func (c *Comparison) String() string {
	return c.Left.String() + " " + c.Operator + " " + c.Right.String()
}

// Compare applies a comparison operator to two evaluated values.
func Compare(l any, op string, r any) (bool, error) {
	if l == nil || r == nil {
		return false, nil
	}
	switch op {
	case OpEq:
		return value.Equals(l, r), nil
	case OpNe, "!=":
		return !value.Equals(l, r), nil
	case OpLike:
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return false, nil
		}
		re, err := likePattern(rs)
		if err != nil {
			return false, err
		}
		return re.MatchString(ls), nil
	}
	cmp, ok := value.Compare(l, r)
	if !ok {
		return false, nil
	}
	switch op {
	case OpLt:
		return cmp < 0, nil
	case OpLe:
		return cmp <= 0, nil
	case OpGt:
		return cmp > 0, nil
	case OpGe:
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unknown comparison operator: %s", op)
}

// IsRangeOperator reports whether op is one of <, <=, >, >=.
func IsRangeOperator(op string) bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

var likeCache sync.Map

// likePattern compiles a LIKE pattern: % matches any run, _ one character.
func likePattern(p string) (*regexp.Regexp, error) {
	if re, ok := likeCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	var sb strings.Builder
	sb.WriteString("(?s)^")
	for _, ch := range p {
		switch ch {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, err
	}
	likeCache.Store(p, re)
	return re, nil
}

// And is a conjunction (an AND-block). An empty block is true.
type And struct {
	Terms []Expr
}

func (a *And) Eval(row Row, ctx Context) (any, error) {
	for _, t := range a.Terms {
		ok, err := Matches(t, row, ctx)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a *And) String() string { return joinTerms(a.Terms, " AND ", "true") }

// Or is a disjunction. An empty block is false.
type Or struct {
	Terms []Expr
}

func (o *Or) Eval(row Row, ctx Context) (any, error) {
	for _, t := range o.Terms {
		ok, err := Matches(t, row, ctx)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (o *Or) String() string { return joinTerms(o.Terms, " OR ", "false") }

func joinTerms(terms []Expr, sep, empty string) string {
	if len(terms) == 0 {
		return empty
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Not negates a condition.
type Not struct {
	Expr Expr
}

func (n *Not) Eval(row Row, ctx Context) (any, error) {
	ok, err := Matches(n.Expr, row, ctx)
	return !ok, err
}

func (n *Not) String() string { return "NOT " + n.Expr.String() }

// Between is Expr BETWEEN Low AND High, inclusive at both ends.
type Between struct {
	Expr Expr
	Low  Expr
	High Expr
}

func (b *Between) Eval(row Row, ctx Context) (any, error) {
	vals, err := EvalAll([]Expr{b.Expr, b.Low, b.High}, row, ctx)
	if err != nil {
		return nil, err
	}
	lo, err := Compare(vals[0], OpGe, vals[1])
	if err != nil || !lo {
		return false, err
	}
	return Compare(vals[0], OpLe, vals[2])
}

func (b *Between) String() string {
	return b.Expr.String() + " BETWEEN " + b.Low.String() + " AND " + b.High.String()
}

// IsNull tests for a missing or null value.
type IsNull struct {
	Expr   Expr
	Negate bool
}

func (n *IsNull) Eval(row Row, ctx Context) (any, error) {
	v, err := n.Expr.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	return (v == nil) != n.Negate, nil
}

func (n *IsNull) String() string {
	if n.Negate {
		return n.Expr.String() + " IS NOT NULL"
	}
	return n.Expr.String() + " IS NULL"
}

// InstanceOf tests whether a record's class is Class or one of its
// subclasses.
type InstanceOf struct {
	Expr  Expr
	Class string
}

func (i *InstanceOf) Eval(row Row, ctx Context) (any, error) {
	v, err := i.Expr.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	rec, err := resolveRecord(v, ctx)
	if err != nil || rec == nil {
		return false, err
	}
	if ctx == nil || ctx.Database() == nil {
		return rec.Class() == i.Class, nil
	}
	return ctx.Database().Schema().IsSubclassOf(rec.Class(), i.Class), nil
}

func (i *InstanceOf) String() string { return i.Expr.String() + " INSTANCEOF " + i.Class }

// In tests list membership: Left IN Right.
type In struct {
	Left  Expr
	Right Expr
}

func (in *In) Eval(row Row, ctx Context) (any, error) {
	l, err := in.Left.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	r, err := in.Right.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	return contains(r, l), nil
}

func (in *In) String() string { return in.Left.String() + " IN " + in.Right.String() }

// Contains tests list membership the other way round: Left CONTAINS Right.
type Contains struct {
	Left  Expr
	Right Expr
}

func (c *Contains) Eval(row Row, ctx Context) (any, error) {
	l, err := c.Left.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Right.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	return contains(l, r), nil
}

func (c *Contains) String() string { return c.Left.String() + " CONTAINS " + c.Right.String() }

func contains(list, item any) bool {
	if item == nil {
		return false
	}
	for _, v := range value.ToList(list) {
		if value.Equals(v, item) {
			return true
		}
	}
	return false
}
