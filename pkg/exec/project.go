package exec

import (
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

// MetaBefore holds the record content captured before an update.
const MetaBefore = "before"

// ProjectionStep computes the output row of each input row. A lone * passes
// rows through; * among other items keeps the row and adds the others.
type ProjectionStep struct {
	Base
	Projection *ast.Projection
	t          Transform
}

func NewProjectionStep(p *ast.Projection) *ProjectionStep {
	return &ProjectionStep{Projection: p}
}

func (s *ProjectionStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		ctx.SetVariable(VarCurrent, row)
		out, err := project(ctx, row, s.Projection.Items)
		if err != nil {
			return nil, err
		}
		return one(out), nil
	})
}

func project(ctx *Context, row *result.Row, items []ast.ProjectionItem) (*result.Row, error) {
	if (&ast.Projection{Items: items}).IsStar() {
		return row, nil
	}
	var out *result.Row
	for _, it := range items {
		if _, ok := it.Expr.(ast.Star); ok {
			out = row.Copy()
			break
		}
	}
	if out == nil {
		out = result.New()
	}
	for _, it := range items {
		if _, ok := it.Expr.(ast.Star); ok {
			continue
		}
		v, err := it.Expr.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		out.Set(it.Name(), v)
	}
	return out, nil
}

func (s *ProjectionStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *ProjectionStep) Name() string         { return "ProjectionStep" }
func (s *ProjectionStep) Detail() string       { return "PROJECT " + s.Projection.String() }
func (s *ProjectionStep) Copy() Step           { return NewProjectionStep(s.Projection) }
func (s *ProjectionStep) Serialize(e *Encoder) { e.Projection("projection", s.Projection) }

// LetExpressionStep binds Name to Expr for each row. The value travels with
// the row, so later steps see the value of the row they are processing.
type LetExpressionStep struct {
	Base
	Variable string
	Expr     ast.Expr
	t        Transform
}

func NewLetExpressionStep(name string, expr ast.Expr) *LetExpressionStep {
	return &LetExpressionStep{Variable: name, Expr: expr}
}

func (s *LetExpressionStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		ctx.SetVariable(VarCurrent, row)
		v, err := s.Expr.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		bindRow(ctx, row, s.Variable, v)
		return one(row), nil
	})
}

func bindRow(ctx *Context, row *result.Row, name string, v any) {
	row.SetMeta(varKey(name), v)
	ctx.SetVariable(name, v)
}

func (s *LetExpressionStep) Reset()         { s.Base.Reset(); s.t.Reset() }
func (s *LetExpressionStep) Name() string   { return "LetExpressionStep" }
func (s *LetExpressionStep) Detail() string { return "LET (for each record) " + s.Variable + " = " + s.Expr.String() }
func (s *LetExpressionStep) Copy() Step     { return NewLetExpressionStep(s.Variable, s.Expr) }
func (s *LetExpressionStep) Serialize(e *Encoder) {
	e.Str("var", s.Variable)
	e.Expr("expr", s.Expr)
}

// LetQueryStep binds Name to the rows of a sub-query run once per row. The
// sub-query reads the row as $parent.$current.
type LetQueryStep struct {
	Base
	Variable string
	Sub      *Plan
	t        Transform
}

func NewLetQueryStep(name string, sub *Plan) *LetQueryStep {
	return &LetQueryStep{Variable: name, Sub: sub}
}

func (s *LetQueryStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		ctx.SetVariable(VarCurrent, row)
		v, err := runSubQuery(ctx, s.Sub)
		if err != nil {
			return nil, err
		}
		bindRow(ctx, row, s.Variable, v)
		return one(row), nil
	})
}

// runSubQuery runs sub from the start in a child of ctx and returns its rows
// as a list value.
func runSubQuery(ctx *Context, sub *Plan) ([]any, error) {
	sub.Reset()
	rows, err := DrainPlan(ctx.Child(), sub)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (s *LetQueryStep) Reset() {
	s.Base.Reset()
	s.t.Reset()
	s.Sub.Reset()
}

func (s *LetQueryStep) Close() {
	s.Sub.Close()
	s.Base.Close()
}

func (s *LetQueryStep) Name() string      { return "LetQueryStep" }
func (s *LetQueryStep) Detail() string    { return "LET (for each record) " + s.Variable + " = (" + s.Sub.Statement + ")" }
func (s *LetQueryStep) SubPlans() []*Plan { return []*Plan{s.Sub} }
func (s *LetQueryStep) Copy() Step        { return NewLetQueryStep(s.Variable, s.Sub.Copy()) }
func (s *LetQueryStep) Serialize(e *Encoder) {
	e.Str("var", s.Variable)
	e.Plan("sub", s.Sub)
}

// GlobalLetExpressionStep binds Name once, before the statement's fetch.
type GlobalLetExpressionStep struct {
	Base
	Variable string
	Expr     ast.Expr
	done     bool
}

func NewGlobalLetExpressionStep(name string, expr ast.Expr) *GlobalLetExpressionStep {
	return &GlobalLetExpressionStep{Variable: name, Expr: expr}
}

func (s *GlobalLetExpressionStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.done {
		s.done = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		v, err := s.Expr.Eval(nil, ctx)
		if err != nil {
			return nil, err
		}
		ctx.SetVariable(s.Variable, v)
	}
	return result.Empty(), nil
}

func (s *GlobalLetExpressionStep) Reset()         { s.Base.Reset(); s.done = false }
func (s *GlobalLetExpressionStep) Name() string   { return "GlobalLetExpressionStep" }
func (s *GlobalLetExpressionStep) Detail() string { return "LET (once) " + s.Variable + " = " + s.Expr.String() }
func (s *GlobalLetExpressionStep) Copy() Step     { return NewGlobalLetExpressionStep(s.Variable, s.Expr) }
func (s *GlobalLetExpressionStep) Serialize(e *Encoder) {
	e.Str("var", s.Variable)
	e.Expr("expr", s.Expr)
}

// GlobalLetQueryStep binds Name once to the rows of a sub-query.
type GlobalLetQueryStep struct {
	Base
	Variable string
	Sub      *Plan
	done     bool
}

func NewGlobalLetQueryStep(name string, sub *Plan) *GlobalLetQueryStep {
	return &GlobalLetQueryStep{Variable: name, Sub: sub}
}

func (s *GlobalLetQueryStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.done {
		s.done = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		v, err := runSubQuery(ctx, s.Sub)
		if err != nil {
			return nil, err
		}
		ctx.SetVariable(s.Variable, v)
	}
	return result.Empty(), nil
}

func (s *GlobalLetQueryStep) Reset() {
	s.Base.Reset()
	s.Sub.Reset()
	s.done = false
}

func (s *GlobalLetQueryStep) Close() {
	s.Sub.Close()
	s.Base.Close()
}

func (s *GlobalLetQueryStep) Name() string      { return "GlobalLetQueryStep" }
func (s *GlobalLetQueryStep) Detail() string    { return "LET (once) " + s.Variable + " = (" + s.Sub.Statement + ")" }
func (s *GlobalLetQueryStep) SubPlans() []*Plan { return []*Plan{s.Sub} }
func (s *GlobalLetQueryStep) Copy() Step        { return NewGlobalLetQueryStep(s.Variable, s.Sub.Copy()) }
func (s *GlobalLetQueryStep) Serialize(e *Encoder) {
	e.Str("var", s.Variable)
	e.Plan("sub", s.Sub)
}

// ConvertToRowStep turns element and updatable rows into plain rows. With
// Before set it emits the content captured before the update instead.
type ConvertToRowStep struct {
	Base
	Before bool
	t      Transform
}

func NewConvertToRowStep(before bool) *ConvertToRowStep { return &ConvertToRowStep{Before: before} }

func (s *ConvertToRowStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		if s.Before {
			if rec, ok := row.Meta(MetaBefore); ok {
				return one(recordRow(rec.(*storage.Record))), nil
			}
		}
		return one(result.FromMap(row.ToMap())), nil
	})
}

func recordRow(rec *storage.Record) *result.Row {
	m := rec.Properties()
	m["@rid"] = rec.Identity()
	m["@class"] = rec.Class()
	return result.FromMap(m)
}

func (s *ConvertToRowStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *ConvertToRowStep) Name() string         { return "ConvertToRowStep" }
func (s *ConvertToRowStep) Serialize(e *Encoder) { e.Bool("before", s.Before) }
func (s *ConvertToRowStep) Copy() Step           { return NewConvertToRowStep(s.Before) }
func (s *ConvertToRowStep) Detail() string {
	if s.Before {
		return "CONVERT TO ROW (before update)"
	}
	return "CONVERT TO ROW"
}

// ConvertToUpdatableRowStep gives each record row a private, writable copy
// of its record. Rows without a record are dropped.
type ConvertToUpdatableRowStep struct {
	Base
	t Transform
}

func NewConvertToUpdatableRowStep() *ConvertToUpdatableRowStep { return &ConvertToUpdatableRowStep{} }

func (s *ConvertToUpdatableRowStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		if row.IsUpdatable() {
			return one(row), nil
		}
		rec, err := element(ctx, row)
		if err != nil || rec == nil {
			return nil, err
		}
		return one(result.Updatable(rec)), nil
	})
}

func (s *ConvertToUpdatableRowStep) Reset()         { s.Base.Reset(); s.t.Reset() }
func (s *ConvertToUpdatableRowStep) Name() string   { return "ConvertToUpdatableRowStep" }
func (s *ConvertToUpdatableRowStep) Detail() string { return "CONVERT TO UPDATABLE ROW" }
func (s *ConvertToUpdatableRowStep) Copy() Step     { return NewConvertToUpdatableRowStep() }

// CastStep checks that every row is a vertex (or an edge).
type CastStep struct {
	Base
	Edge bool
	t    Transform
}

func NewCastToVertexStep() *CastStep { return &CastStep{} }
func NewCastToEdgeStep() *CastStep   { return &CastStep{Edge: true} }

func (s *CastStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	l := ctx.Database().Schema()
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		rec, err := element(ctx, row)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, s.fail("row %s is not a record", row)
		}
		if s.Edge && !(rec.IsEdge() || schema.IsEdgeClass(l, rec.Class())) {
			return nil, s.fail("%s of class %s is not an edge", rec.Identity(), rec.Class())
		}
		if !s.Edge && !(rec.IsVertex() || schema.IsVertexClass(l, rec.Class())) {
			return nil, s.fail("%s of class %s is not a vertex", rec.Identity(), rec.Class())
		}
		return one(row), nil
	})
}

func (s *CastStep) fail(format string, args ...any) error {
	return qerr.New(strings.ToLower(s.Detail())).Cause(qerr.ErrInvalidCast).Detail(format, args...).Err()
}

func (s *CastStep) Reset() { s.Base.Reset(); s.t.Reset() }

func (s *CastStep) Name() string {
	if s.Edge {
		return "CastToEdgeStep"
	}
	return "CastToVertexStep"
}

func (s *CastStep) Detail() string {
	if s.Edge {
		return "CAST TO EDGE"
	}
	return "CAST TO VERTEX"
}

func (s *CastStep) Copy() Step { return &CastStep{Edge: s.Edge} }

// CopyRecordContentBeforeUpdateStep captures each record's content before
// the update steps that follow change it.
type CopyRecordContentBeforeUpdateStep struct {
	Base
	t Transform
}

func NewCopyRecordContentBeforeUpdateStep() *CopyRecordContentBeforeUpdateStep {
	return &CopyRecordContentBeforeUpdateStep{}
}

func (s *CopyRecordContentBeforeUpdateStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		if rec := row.Element(); rec != nil {
			row.SetMeta(MetaBefore, rec.Copy())
		}
		return one(row), nil
	})
}

func (s *CopyRecordContentBeforeUpdateStep) Reset()       { s.Base.Reset(); s.t.Reset() }
func (s *CopyRecordContentBeforeUpdateStep) Name() string { return "CopyRecordContentBeforeUpdateStep" }
func (s *CopyRecordContentBeforeUpdateStep) Detail() string {
	return "COPY RECORD CONTENT BEFORE UPDATE"
}
func (s *CopyRecordContentBeforeUpdateStep) Copy() Step {
	return NewCopyRecordContentBeforeUpdateStep()
}

func init() {
	RegisterStep("ProjectionStep", func(d *Decoder) Step { return NewProjectionStep(d.Projection("projection")) })
	RegisterStep("LetExpressionStep", func(d *Decoder) Step {
		return NewLetExpressionStep(d.Str("var"), d.Expr("expr"))
	})
	RegisterStep("LetQueryStep", func(d *Decoder) Step { return NewLetQueryStep(d.Str("var"), d.SubPlan("sub")) })
	RegisterStep("GlobalLetExpressionStep", func(d *Decoder) Step {
		return NewGlobalLetExpressionStep(d.Str("var"), d.Expr("expr"))
	})
	RegisterStep("GlobalLetQueryStep", func(d *Decoder) Step {
		return NewGlobalLetQueryStep(d.Str("var"), d.SubPlan("sub"))
	})
	RegisterStep("ConvertToRowStep", func(d *Decoder) Step { return NewConvertToRowStep(d.Bool("before")) })
	RegisterStep("ConvertToUpdatableRowStep", func(*Decoder) Step { return NewConvertToUpdatableRowStep() })
	RegisterStep("CastToVertexStep", func(*Decoder) Step { return NewCastToVertexStep() })
	RegisterStep("CastToEdgeStep", func(*Decoder) Step { return NewCastToEdgeStep() })
	RegisterStep("CopyRecordContentBeforeUpdateStep", func(*Decoder) Step {
		return NewCopyRecordContentBeforeUpdateStep()
	})
}
