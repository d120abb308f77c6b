package ast

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Literal is a constant value.
type Literal struct {
	Value any
}

func (l *Literal) Eval(Row, Context) (any, error) { return value.Normalize(l.Value), nil }

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case rid.RID:
		return v.String()
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = (&Literal{Value: item}).String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v", l.Value)
}

// Ident reads a property of the current row. Names starting with @ resolve
// record attributes (@rid, @class, @version); @this is the row itself.
type Ident struct {
	Name string
}

func (i *Ident) Eval(row Row, _ Context) (any, error) {
	if row == nil {
		return nil, nil
	}
	if i.Name == "@this" {
		return row, nil
	}
	v, _ := row.Get(i.Name)
	return v, nil
}

func (i *Ident) String() string { return i.Name }

// KeyField is the synthetic left-hand side of index key conditions.
const KeyField = "key"

// IsKey reports whether e is the index key placeholder.
func IsKey(e Expr) bool {
	id, ok := e.(*Ident)
	return ok && id.Name == KeyField
}

// Variable reads a context variable such as $current, $matched or a LET name.
type Variable struct {
	Name string
}

func (v *Variable) Eval(_ Row, ctx Context) (any, error) {
	if ctx == nil {
		return nil, nil
	}
	val, _ := ctx.Variable(v.Name)
	return val, nil
}

func (v *Variable) String() string { return v.Name }

// Param is a statement input parameter; positional parameters are named by
// their zero-based position.
type Param struct {
	Name string
}

func (p *Param) Eval(_ Row, ctx Context) (any, error) {
	if ctx == nil {
		return nil, fmt.Errorf("parameter %s: no context", p)
	}
	v, ok := ctx.Param(p.Name)
	if !ok {
		return nil, fmt.Errorf("parameter %s not bound", p)
	}
	return value.Normalize(v), nil
}

func (p *Param) String() string {
	if _, err := strconv.Atoi(p.Name); err == nil {
		return "?"
	}
	return ":" + p.Name
}

// FieldAccess reads Field from the value of Base. Identities are loaded;
// lists map the access over their elements.
type FieldAccess struct {
	Base  Expr
	Field string
}

func (f *FieldAccess) Eval(row Row, ctx Context) (any, error) {
	base, err := f.Base.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	return fieldOf(base, f.Field, ctx)
}

func (f *FieldAccess) String() string { return f.Base.String() + "." + f.Field }

func fieldOf(v any, name string, ctx Context) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return x[name], nil
	case Row:
		if name == "@this" {
			return x, nil
		}
		val, _ := x.Get(name)
		return val, nil
	case []any:
		out := make([]any, 0, len(x))
		for _, item := range x {
			val, err := fieldOf(item, name, ctx)
			if err != nil {
				return nil, err
			}
			if val != nil {
				out = append(out, val)
			}
		}
		return out, nil
	}
	if _, ok := value.AsRID(v); ok {
		rec, err := resolveRecord(v, ctx)
		if err != nil || rec == nil {
			return nil, err
		}
		val, _ := rec.Get(name)
		return val, nil
	}
	return nil, nil
}

// IndexAccess reads Base[Index] from lists (negative positions count from
// the end), maps and rows.
type IndexAccess struct {
	Base  Expr
	Index Expr
}

func (a *IndexAccess) Eval(row Row, ctx Context) (any, error) {
	base, err := a.Base.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	idx, err := a.Index.Eval(row, ctx)
	if err != nil {
		return nil, err
	}
	if name, ok := idx.(string); ok {
		return fieldOf(base, name, ctx)
	}
	pos, ok := value.ToInt(idx)
	if !ok {
		return nil, nil
	}
	list := value.ToList(base)
	if pos < 0 {
		pos += int64(len(list))
	}
	if pos < 0 || pos >= int64(len(list)) {
		return nil, nil
	}
	return list[pos], nil
}

func (a *IndexAccess) String() string { return a.Base.String() + "[" + a.Index.String() + "]" }

// ListLit builds a list from its items.
type ListLit struct {
	Items []Expr
}

func (l *ListLit) Eval(row Row, ctx Context) (any, error) {
	return EvalAll(l.Items, row, ctx)
}

func (l *ListLit) String() string {
	parts := make([]string, len(l.Items))
	for i, item := range l.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MapLit builds a map; it is also the shape of CONTENT clauses.
type MapLit struct {
	Entries map[string]Expr
}

func (m *MapLit) Eval(row Row, ctx Context) (any, error) {
	out := make(map[string]any, len(m.Entries))
	for k, e := range m.Entries {
		v, err := e.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Keys returns the entry names in sorted order.
func (m *MapLit) Keys() []string {
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MapLit) String() string {
	keys := m.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Quote(k) + ": " + m.Entries[k].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Star is the * projection and the argument of count(*).
type Star struct{}

func (Star) Eval(row Row, _ Context) (any, error) { return row, nil }
func (Star) String() string                       { return "*" }
