package match

import (
	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/result"
)

// ReturnMatchPatternsStep keeps the user-named aliases of each match.
type ReturnMatchPatternsStep struct {
	exec.Base
	t exec.Transform
}

func NewReturnMatchPatternsStep() *ReturnMatchPatternsStep { return &ReturnMatchPatternsStep{} }

func (s *ReturnMatchPatternsStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		out := result.New()
		for _, name := range row.PropertyNames() {
			if !IsAnonymous(name) {
				out.Set(name, row.Property(name))
			}
		}
		return []*result.Row{out}, nil
	})
}

func (s *ReturnMatchPatternsStep) Reset()          { s.Base.Reset(); s.t.Reset() }
func (s *ReturnMatchPatternsStep) Name() string    { return "ReturnMatchPatternsStep" }
func (s *ReturnMatchPatternsStep) Detail() string  { return "RETURN $patterns" }
func (s *ReturnMatchPatternsStep) Copy() exec.Step { return NewReturnMatchPatternsStep() }

// ReturnMatchPathsStep returns every binding, generated aliases included.
type ReturnMatchPathsStep struct {
	exec.Base
}

func NewReturnMatchPathsStep() *ReturnMatchPathsStep { return &ReturnMatchPathsStep{} }

func (s *ReturnMatchPathsStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	return s.PullPrev(ctx, n)
}

func (s *ReturnMatchPathsStep) Name() string    { return "ReturnMatchPathsStep" }
func (s *ReturnMatchPathsStep) Detail() string  { return "RETURN $paths" }
func (s *ReturnMatchPathsStep) Copy() exec.Step { return NewReturnMatchPathsStep() }

// ReturnMatchElementsStep unrolls each match into one row per bound record:
// the user-named aliases for $elements, all of them for $pathElements.
type ReturnMatchElementsStep struct {
	exec.Base
	Anonymous bool
	t         exec.Transform
}

func NewReturnMatchElementsStep(anonymous bool) *ReturnMatchElementsStep {
	return &ReturnMatchElementsStep{Anonymous: anonymous}
}

func (s *ReturnMatchElementsStep) Pull(ctx *exec.Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		var out []*result.Row
		for _, name := range row.PropertyNames() {
			if IsAnonymous(name) && !s.Anonymous {
				continue
			}
			if rec := recordOf(row.Property(name)); rec != nil {
				out = append(out, result.FromRecord(rec))
			}
		}
		return out, nil
	})
}

func (s *ReturnMatchElementsStep) Reset() { s.Base.Reset(); s.t.Reset() }

func (s *ReturnMatchElementsStep) Name() string {
	if s.Anonymous {
		return "ReturnMatchPathElementsStep"
	}
	return "ReturnMatchElementsStep"
}

func (s *ReturnMatchElementsStep) Detail() string {
	if s.Anonymous {
		return "UNROLL $pathElements"
	}
	return "UNROLL $elements"
}

func (s *ReturnMatchElementsStep) Copy() exec.Step { return NewReturnMatchElementsStep(s.Anonymous) }
