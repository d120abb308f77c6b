package exec

import (
	"time"

	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
)

// Step is one stage of a pull chain.
type Step interface {
	// Pull returns at most n rows. Fewer rows is not an error; a pull that
	// returns no rows means the step is exhausted.
	Pull(ctx *Context, n int) (result.RowSet, error)
	// Reset returns the step to its state before the first pull.
	Reset()
	// Close releases the step and propagates to its predecessor only.
	Close()
	// SendTimeout marks the step timed out and propagates to its predecessor.
	SendTimeout()

	// Name is the step type, used in metrics, explain output and the codec.
	Name() string
	// Detail is a one-line description of the step's configuration.
	Detail() string
	// SubPlans lists the plans the step owns.
	SubPlans() []*Plan
	// Copy returns an unchained step with the same configuration.
	Copy() Step
	CanBeCached() bool
	// Serialize writes the step's configuration.
	Serialize(e *Encoder)

	base() *Base
}

// Base is embedded by every step. It holds the step's position in its
// plan's arena and the one-shot closed and timed-out flags.
type Base struct {
	plan     *Plan
	pos      int
	closed   bool
	timedOut bool
	cost     time.Duration
	rows     int64
}

func (b *Base) base() *Base { return b }

// Prev returns the predecessor in the owning plan, or nil for a leaf.
func (b *Base) Prev() Step {
	if b.plan == nil || b.pos == 0 {
		return nil
	}
	return b.plan.steps[b.pos-1]
}

// Plan returns the owning plan.
func (b *Base) Plan() *Plan { return b.plan }

func (b *Base) attach(p *Plan, pos int) {
	if b.plan != nil {
		qerr.Misuse("chain", "step is already chained at position %d", b.pos)
	}
	b.plan = p
	b.pos = pos
}

func (b *Base) Close() {
	if b.closed {
		return
	}
	b.closed = true
	if prev := b.Prev(); prev != nil {
		prev.Close()
	}
}

func (b *Base) SendTimeout() {
	if b.timedOut {
		return
	}
	b.timedOut = true
	if prev := b.Prev(); prev != nil {
		prev.SendTimeout()
	}
}

func (b *Base) Closed() bool   { return b.closed }
func (b *Base) TimedOut() bool { return b.timedOut }

// Reset clears the lifecycle flags and the recorded cost.
func (b *Base) Reset() {
	b.closed = false
	b.timedOut = false
	b.cost = 0
	b.rows = 0
}

func (b *Base) Detail() string      { return "" }
func (b *Base) SubPlans() []*Plan   { return nil }
func (b *Base) CanBeCached() bool   { return true }
func (b *Base) Serialize(*Encoder)  {}
func (b *Base) Cost() time.Duration { return b.cost }
func (b *Base) RowsProduced() int64 { return b.rows }

// PullPrev pulls from the predecessor, recording its cost. A leaf has no
// predecessor and sees an empty upstream.
func (b *Base) PullPrev(ctx *Context, n int) (result.RowSet, error) {
	prev := b.Prev()
	if prev == nil || n <= 0 {
		return result.Empty(), nil
	}
	return pullTimed(ctx, prev, n)
}

// pullTimed pulls from s, accounting time and rows to it.
func pullTimed(ctx *Context, s Step, n int) (result.RowSet, error) {
	if !ctx.Profiling() && ctx.Metrics() == nil {
		return s.Pull(ctx, n)
	}
	start := time.Now()
	rs, err := s.Pull(ctx, n)
	elapsed := time.Since(start)
	rows := 0
	if rs != nil {
		rows = max(result.Len(rs), 0)
	}
	b := s.base()
	b.cost += elapsed
	b.rows += int64(rows)
	if m := ctx.Metrics(); m != nil {
		m.RecordPull(s.Name(), rows, elapsed)
	}
	return rs, err
}

// DrainPrev pulls the predecessor until it is exhausted, discarding rows.
// Leaf steps call it on their first pull so that global LET steps chained
// before them run first.
func (b *Base) DrainPrev(ctx *Context) error {
	if b.Prev() == nil {
		return nil
	}
	for {
		rs, err := b.PullPrev(ctx, batchSize(ctx))
		if err != nil {
			return err
		}
		rows, err := result.Drain(rs)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
	}
}

func batchSize(ctx *Context) int {
	if cfg := ctx.Config(); cfg != nil && cfg.BatchSize > 0 {
		return cfg.BatchSize
	}
	return 100
}

// Feed reads upstream rows one at a time across pulls. The upstream is
// exhausted once a pull returns no rows.
type Feed struct {
	rs   result.RowSet
	got  int
	done bool
}

// Next returns the next upstream row, or nil when upstream is exhausted.
func (f *Feed) Next(ctx *Context, b *Base, n int) (*result.Row, error) {
	for !f.done {
		if f.rs != nil {
			ok, err := f.rs.HasNext()
			if err != nil {
				return nil, err
			}
			if ok {
				f.got++
				return f.rs.Next()
			}
			f.rs.Close()
			f.rs = nil
			if f.got == 0 {
				f.done = true
				break
			}
		}
		rs, err := b.PullPrev(ctx, max(n, 1))
		if err != nil {
			return nil, err
		}
		f.rs, f.got = rs, 0
	}
	return nil, nil
}

// Reset forgets any upstream set in flight.
func (f *Feed) Reset() {
	if f.rs != nil {
		f.rs.Close()
	}
	*f = Feed{}
}

// Transform is the common shape of row-by-row steps: each upstream row is
// mapped to zero or more output rows; rows beyond n are kept for the next
// pull.
type Transform struct {
	Feed
	pending []*result.Row
}

// Pull produces up to n rows through fn.
func (t *Transform) Pull(ctx *Context, b *Base, n int, fn func(*result.Row) ([]*result.Row, error)) (result.RowSet, error) {
	if n <= 0 {
		return result.Empty(), nil
	}
	out := make([]*result.Row, 0, min(n, 64))
	for len(out) < n && len(t.pending) > 0 {
		out = append(out, t.pending[0])
		t.pending = t.pending[1:]
	}
	for len(out) < n {
		row, err := t.Next(ctx, b, n-len(out))
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		produced, err := fn(row)
		if err != nil {
			return nil, err
		}
		for _, r := range produced {
			if len(out) < n {
				out = append(out, r)
			} else {
				t.pending = append(t.pending, r)
			}
		}
	}
	return result.Of(out...), nil
}

func (t *Transform) Reset() {
	t.Feed.Reset()
	t.pending = nil
}

// Buffer emits materialized rows in pulls of at most n.
type Buffer struct {
	rows   []*result.Row
	pos    int
	filled bool
}

func (b *Buffer) Fill(rows []*result.Row) {
	b.rows = rows
	b.pos = 0
	b.filled = true
}

func (b *Buffer) Filled() bool { return b.filled }

func (b *Buffer) Take(n int) result.RowSet {
	if n <= 0 || b.pos >= len(b.rows) {
		return result.Empty()
	}
	end := min(b.pos+n, len(b.rows))
	out := b.rows[b.pos:end]
	b.pos = end
	return result.Of(append([]*result.Row(nil), out...)...)
}

func (b *Buffer) Reset() { *b = Buffer{} }

// one wraps a single row.
func one(r *result.Row) []*result.Row { return []*result.Row{r} }

// DrainPlan runs a plan to exhaustion.
func DrainPlan(ctx *Context, p *Plan) ([]*result.Row, error) {
	var out []*result.Row
	n := batchSize(ctx)
	for {
		rs, err := p.Pull(ctx, n)
		if err != nil {
			return out, err
		}
		rows, err := result.Drain(rs)
		if err != nil {
			return out, err
		}
		if len(rows) == 0 {
			return out, nil
		}
		out = append(out, rows...)
	}
}
