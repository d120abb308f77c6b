package exec

import (
	"github.com/google/uuid"

	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
)

// Plan owns an arena of steps. Step i pulls from step i-1; the plan pulls
// from the last step.
type Plan struct {
	ID        uuid.UUID
	Statement string
	steps     []Step
	noCache   bool
}

// NewPlan creates an empty plan for statement.
func NewPlan(statement string) *Plan {
	return &Plan{ID: uuid.New(), Statement: statement}
}

// Chain appends s to the plan. A step can be chained once.
func (p *Plan) Chain(s Step) {
	if s == nil {
		qerr.Misuse("chain", "nil step")
	}
	s.base().attach(p, len(p.steps))
	p.steps = append(p.steps, s)
}

// Steps returns the chained steps in pull order.
func (p *Plan) Steps() []Step { return p.steps }

// Last returns the final step, or nil for an empty plan.
func (p *Plan) Last() Step {
	if len(p.steps) == 0 {
		return nil
	}
	return p.steps[len(p.steps)-1]
}

// Pull returns at most n rows from the end of the chain.
func (p *Plan) Pull(ctx *Context, n int) (result.RowSet, error) {
	last := p.Last()
	if last == nil || n <= 0 {
		return result.Empty(), nil
	}
	if err := ctx.CheckInterrupted("pull"); err != nil {
		return nil, err
	}
	return pullTimed(ctx, last, n)
}

// Reset returns every step to its initial state so that the plan can be
// pulled again.
func (p *Plan) Reset() {
	for _, s := range p.steps {
		s.Reset()
		for _, sub := range s.SubPlans() {
			sub.Reset()
		}
	}
}

// Close closes the chain from the last step.
func (p *Plan) Close() {
	if last := p.Last(); last != nil {
		last.Close()
	}
}

// SendTimeout signals a timeout through the chain.
func (p *Plan) SendTimeout() {
	if last := p.Last(); last != nil {
		last.SendTimeout()
	}
}

// Copy returns an independent plan with the same configuration and a new
// identity.
func (p *Plan) Copy() *Plan {
	c := NewPlan(p.Statement)
	c.noCache = p.noCache
	for _, s := range p.steps {
		c.Chain(s.Copy())
	}
	return c
}

// DisableCache marks the plan as not reusable across executions.
func (p *Plan) DisableCache() { p.noCache = true }

// CanBeCached reports whether a copy of the plan may serve later executions
// of the same statement.
func (p *Plan) CanBeCached() bool {
	if p.noCache {
		return false
	}
	for _, s := range p.steps {
		if !s.CanBeCached() {
			return false
		}
		for _, sub := range s.SubPlans() {
			if !sub.CanBeCached() {
				return false
			}
		}
	}
	return true
}

func copyPlans(plans []*Plan) []*Plan {
	out := make([]*Plan, len(plans))
	for i, p := range plans {
		out[i] = copyPlan(p)
	}
	return out
}

func copyPlan(p *Plan) *Plan {
	if p == nil {
		return nil
	}
	return p.Copy()
}

func closePlans(plans ...*Plan) {
	for _, p := range plans {
		if p != nil {
			p.Close()
		}
	}
}

func timeoutPlans(plans ...*Plan) {
	for _, p := range plans {
		if p != nil {
			p.SendTimeout()
		}
	}
}

func nonNil(plans ...*Plan) []*Plan {
	var out []*Plan
	for _, p := range plans {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
