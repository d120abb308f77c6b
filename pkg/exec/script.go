package exec

import (
	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// scriptStep is embedded by the steps of a script plan. Each one runs the
// statements before it to completion first; once a RETURN has run, it
// skips its own work and emits the returned rows.
type scriptStep struct {
	Base
	buf Buffer
}

func (s *scriptStep) start(ctx *Context) (returned bool, err error) {
	if err := s.DrainPrev(ctx); err != nil {
		return false, err
	}
	if ctx.Returned() {
		s.buf.Fill(ctx.returnRows)
		return true, nil
	}
	return false, nil
}

// fillResult buffers rows, or the returned rows when the statement body ran
// a RETURN.
func (s *scriptStep) fillResult(ctx *Context, rows []*result.Row) {
	if ctx.Returned() {
		rows = ctx.returnRows
	}
	s.buf.Fill(rows)
}

func (s *scriptStep) Reset() {
	s.Base.Reset()
	s.buf.Reset()
}

// runBlock runs a block plan from the start on ctx.
func runBlock(ctx *Context, p *Plan) ([]*result.Row, error) {
	if p == nil {
		return nil, nil
	}
	p.Reset()
	return DrainPlan(ctx, p)
}

// ScriptLineStep runs one statement of a script and emits its rows.
type ScriptLineStep struct {
	scriptStep
	Sub *Plan
}

func NewScriptLineStep(sub *Plan) *ScriptLineStep { return &ScriptLineStep{Sub: sub} }

func (s *ScriptLineStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		if !returned {
			rows, err := runBlock(ctx, s.Sub)
			if err != nil {
				return nil, err
			}
			s.fillResult(ctx, rows)
		}
	}
	return s.buf.Take(n), nil
}

func (s *ScriptLineStep) Reset() {
	s.scriptStep.Reset()
	s.Sub.Reset()
}

func (s *ScriptLineStep) Close() {
	s.Sub.Close()
	s.Base.Close()
}

func (s *ScriptLineStep) Name() string         { return "ScriptLineStep" }
func (s *ScriptLineStep) Detail() string       { return s.Sub.Statement }
func (s *ScriptLineStep) SubPlans() []*Plan    { return []*Plan{s.Sub} }
func (s *ScriptLineStep) Copy() Step           { return NewScriptLineStep(s.Sub.Copy()) }
func (s *ScriptLineStep) Serialize(e *Encoder) { e.Plan("sub", s.Sub) }

// IfStep runs Then or Else depending on Cond. It emits rows only when the
// branch ran a RETURN.
type IfStep struct {
	scriptStep
	Cond ast.Expr
	Then *Plan
	Else *Plan
}

func NewIfStep(cond ast.Expr, then, els *Plan) *IfStep {
	return &IfStep{Cond: cond, Then: then, Else: els}
}

func (s *IfStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		if !returned {
			ok, err := ast.Matches(s.Cond, nil, ctx)
			if err != nil {
				return nil, err
			}
			branch := s.Else
			if ok {
				branch = s.Then
			}
			if _, err := runBlock(ctx, branch); err != nil {
				return nil, err
			}
			s.fillResult(ctx, nil)
		}
	}
	return s.buf.Take(n), nil
}

func (s *IfStep) Reset() {
	s.scriptStep.Reset()
	s.Then.Reset()
	if s.Else != nil {
		s.Else.Reset()
	}
}

func (s *IfStep) Name() string      { return "IfStep" }
func (s *IfStep) Detail() string    { return "IF " + s.Cond.String() }
func (s *IfStep) SubPlans() []*Plan { return nonNil(s.Then, s.Else) }
func (s *IfStep) Copy() Step        { return NewIfStep(s.Cond, s.Then.Copy(), copyPlan(s.Else)) }
func (s *IfStep) Serialize(e *Encoder) {
	e.Expr("cond", s.Cond)
	e.Plan("then", s.Then)
	e.Plan("else", s.Else)
}

// WhileStep runs Body while Cond holds, checking for interruption on every
// iteration.
type WhileStep struct {
	scriptStep
	Cond ast.Expr
	Body *Plan
}

func NewWhileStep(cond ast.Expr, body *Plan) *WhileStep { return &WhileStep{Cond: cond, Body: body} }

func (s *WhileStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		for !returned {
			if err := ctx.CheckInterrupted("while"); err != nil {
				return nil, err
			}
			ok, err := ast.Matches(s.Cond, nil, ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if _, err := runBlock(ctx, s.Body); err != nil {
				return nil, err
			}
			returned = ctx.Returned()
		}
		s.fillResult(ctx, nil)
	}
	return s.buf.Take(n), nil
}

func (s *WhileStep) Reset() {
	s.scriptStep.Reset()
	s.Body.Reset()
}

func (s *WhileStep) Name() string      { return "WhileStep" }
func (s *WhileStep) Detail() string    { return "WHILE " + s.Cond.String() }
func (s *WhileStep) SubPlans() []*Plan { return []*Plan{s.Body} }
func (s *WhileStep) Copy() Step        { return NewWhileStep(s.Cond, s.Body.Copy()) }
func (s *WhileStep) Serialize(e *Encoder) {
	e.Expr("cond", s.Cond)
	e.Plan("body", s.Body)
}

// ForEachStep binds Variable to each element of Source in turn and runs
// Body.
type ForEachStep struct {
	scriptStep
	Variable string
	Source   ast.Expr
	Body     *Plan
}

func NewForEachStep(name string, source ast.Expr, body *Plan) *ForEachStep {
	return &ForEachStep{Variable: name, Source: source, Body: body}
}

func (s *ForEachStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		if !returned {
			src, err := s.Source.Eval(nil, ctx)
			if err != nil {
				return nil, err
			}
			for _, item := range value.ToList(src) {
				if err := ctx.CheckInterrupted("foreach"); err != nil {
					return nil, err
				}
				ctx.SetVariable(s.Variable, item)
				if _, err := runBlock(ctx, s.Body); err != nil {
					return nil, err
				}
				if ctx.Returned() {
					break
				}
			}
			s.fillResult(ctx, nil)
		}
	}
	return s.buf.Take(n), nil
}

func (s *ForEachStep) Reset() {
	s.scriptStep.Reset()
	s.Body.Reset()
}

func (s *ForEachStep) Name() string { return "ForEachStep" }
func (s *ForEachStep) Detail() string {
	return "FOREACH " + s.Variable + " IN " + s.Source.String()
}
func (s *ForEachStep) SubPlans() []*Plan { return []*Plan{s.Body} }
func (s *ForEachStep) Copy() Step        { return NewForEachStep(s.Variable, s.Source, s.Body.Copy()) }
func (s *ForEachStep) Serialize(e *Encoder) {
	e.Str("var", s.Variable)
	e.Expr("source", s.Source)
	e.Plan("body", s.Body)
}

// ReturnStep ends the script with the rows Expr denotes.
type ReturnStep struct {
	scriptStep
	Expr ast.Expr
}

func NewReturnStep(expr ast.Expr) *ReturnStep { return &ReturnStep{Expr: expr} }

func (s *ReturnStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		if !returned {
			var rows []*result.Row
			if s.Expr != nil {
				v, err := s.Expr.Eval(nil, ctx)
				if err != nil {
					return nil, err
				}
				if rows, err = toRows(ctx, v); err != nil {
					return nil, err
				}
			}
			ctx.markReturned(rows)
			s.buf.Fill(rows)
		}
	}
	return s.buf.Take(n), nil
}

func (s *ReturnStep) Name() string { return "ReturnStep" }
func (s *ReturnStep) Detail() string {
	if s.Expr == nil {
		return "RETURN"
	}
	return "RETURN " + s.Expr.String()
}
func (s *ReturnStep) Copy() Step           { return NewReturnStep(s.Expr) }
func (s *ReturnStep) Serialize(e *Encoder) { e.Expr("expr", s.Expr) }

// BeginStep opens a transaction.
type BeginStep struct {
	scriptStep
}

func NewBeginStep() *BeginStep { return &BeginStep{} }

func (s *BeginStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		if !returned {
			if err := ctx.Database().Begin(); err != nil {
				return nil, err
			}
			s.buf.Fill(nil)
		}
	}
	return s.buf.Take(n), nil
}

func (s *BeginStep) Name() string   { return "BeginStep" }
func (s *BeginStep) Detail() string { return "BEGIN" }
func (s *BeginStep) Copy() Step     { return NewBeginStep() }

// CommitStep commits the open transaction.
type CommitStep struct {
	scriptStep
}

func NewCommitStep() *CommitStep { return &CommitStep{} }

func (s *CommitStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		if !returned {
			if err := ctx.Database().Commit(); err != nil {
				return nil, err
			}
			s.buf.Fill(nil)
		}
	}
	return s.buf.Take(n), nil
}

func (s *CommitStep) Name() string   { return "CommitStep" }
func (s *CommitStep) Detail() string { return "COMMIT" }
func (s *CommitStep) Copy() Step     { return NewCommitStep() }

func init() {
	RegisterStep("ScriptLineStep", func(d *Decoder) Step { return NewScriptLineStep(d.SubPlan("sub")) })
	RegisterStep("IfStep", func(d *Decoder) Step {
		return NewIfStep(d.Expr("cond"), d.SubPlan("then"), d.Plan("else"))
	})
	RegisterStep("WhileStep", func(d *Decoder) Step { return NewWhileStep(d.Expr("cond"), d.SubPlan("body")) })
	RegisterStep("ForEachStep", func(d *Decoder) Step {
		return NewForEachStep(d.Str("var"), d.Expr("source"), d.SubPlan("body"))
	})
	RegisterStep("ReturnStep", func(d *Decoder) Step { return NewReturnStep(d.Expr("expr")) })
	RegisterStep("BeginStep", func(*Decoder) Step { return NewBeginStep() })
	RegisterStep("CommitStep", func(*Decoder) Step { return NewCommitStep() })
}
