// Package ast holds the already-parsed form of statements and expressions the
// planners consume. There is no grammar here: statements are built directly
// (by tests, the CLI, or an external parser) from these node types.
package ast

import (
	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Row is anything expressions can read properties from: result rows and
// stored records both qualify.
type Row interface {
	Get(name string) (any, bool)
}

// Context supplies variables, parameters and record lookup during evaluation.
type Context interface {
	Variable(name string) (any, bool)
	Param(name string) (any, bool)
	Database() storage.Database
}

// Expr is a side-effect-free expression or condition.
type Expr interface {
	Eval(row Row, ctx Context) (any, error)
	String() string
}

// Matches evaluates a condition; a nil condition matches everything.
func Matches(cond Expr, row Row, ctx Context) (bool, error) {
	if cond == nil {
		return true, nil
	}
	v, err := cond.Eval(row, ctx)
	if err != nil {
		return false, err
	}
	return value.Truthy(v), nil
}

// EvalAll evaluates a list of expressions in order.
func EvalAll(exprs []Expr, row Row, ctx Context) ([]any, error) {
	out := make([]any, len(exprs))
	for i, e := range exprs {
		v, err := e.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// elementOf returns the stored record behind a row, loading it through the
// context when the row only carries an identity.
func elementOf(row Row, ctx Context) (*storage.Record, error) {
	switch r := row.(type) {
	case nil:
		return nil, nil
	case *storage.Record:
		return r, nil
	case interface{ Element() *storage.Record }:
		if rec := r.Element(); rec != nil {
			return rec, nil
		}
	}
	if v, ok := row.Get("@rid"); ok {
		return resolveRecord(v, ctx)
	}
	return nil, nil
}

// resolveRecord turns a record, row or identity into a loaded record.
func resolveRecord(v any, ctx Context) (*storage.Record, error) {
	switch x := v.(type) {
	case *storage.Record:
		return x, nil
	case interface{ Element() *storage.Record }:
		if rec := x.Element(); rec != nil {
			return rec, nil
		}
		return nil, nil
	}
	r, ok := value.AsRID(v)
	if !ok || !r.IsValid() || ctx == nil || ctx.Database() == nil {
		return nil, nil
	}
	rec, err := ctx.Database().Load(r)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	return rec, err
}
