package exec

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
)

// Retry outcomes recorded in metrics
const (
	RetryRetried   = "retried"
	RetrySucceeded = "succeeded"
	RetryExhausted = "exhausted"
)

// timeoutState is shared by the two timeout steps: it fires once, sending
// the timeout upstream and then either ending the result or failing.
type timeoutState struct {
	Timeout  time.Duration
	Strategy string
	fired    bool
}

func (t *timeoutState) strategy(ctx *Context) string {
	if t.Strategy != "" {
		return t.Strategy
	}
	if cfg := ctx.Config(); cfg != nil && cfg.TimeoutStrategy != "" {
		return cfg.TimeoutStrategy
	}
	return config.TimeoutException
}

func (t *timeoutState) fire(ctx *Context, b *Base, name string, elapsed time.Duration) (result.RowSet, error) {
	t.fired = true
	b.SendTimeout()
	strategy := t.strategy(ctx)
	if m := ctx.Metrics(); m != nil {
		m.RecordTimeout(strategy)
	}
	ctx.Logger().Warn("query timed out",
		logging.Step(name),
		logging.Duration("timeout", t.Timeout),
		logging.Duration("elapsed", elapsed),
		logging.String("strategy", strategy))
	if strategy == config.TimeoutReturn {
		return result.Empty(), nil
	}
	return nil, qerr.Timeout(name, fmt.Sprintf("exceeded %s", t.Timeout))
}

func (t *timeoutState) detail(prefix string) string {
	d := fmt.Sprintf("%s %s", prefix, t.Timeout)
	if t.Strategy != "" {
		d += " " + t.Strategy
	}
	return d
}

func (t *timeoutState) serialize(e *Encoder) {
	e.Duration("timeout", t.Timeout)
	e.Str("strategy", t.Strategy)
}

// TimeoutStep ends the statement once Timeout of wall time has passed since
// its first pull.
type TimeoutStep struct {
	Base
	timeoutState
	start time.Time
}

func NewTimeoutStep(timeout time.Duration, strategy string) *TimeoutStep {
	return &TimeoutStep{timeoutState: timeoutState{Timeout: timeout, Strategy: strategy}}
}

func (s *TimeoutStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.fired {
		return result.Empty(), nil
	}
	if s.start.IsZero() {
		s.start = time.Now()
	}
	if elapsed := time.Since(s.start); elapsed > s.Timeout {
		return s.fire(ctx, &s.Base, s.Name(), elapsed)
	}
	return s.PullPrev(ctx, n)
}

func (s *TimeoutStep) Reset() {
	s.Base.Reset()
	s.fired = false
	s.start = time.Time{}
}

func (s *TimeoutStep) Name() string         { return "TimeoutStep" }
func (s *TimeoutStep) Detail() string       { return s.detail("TIMEOUT") }
func (s *TimeoutStep) Copy() Step           { return NewTimeoutStep(s.Timeout, s.Strategy) }
func (s *TimeoutStep) Serialize(e *Encoder) { s.serialize(e) }

// AccumulatingTimeoutStep counts only the time spent inside upstream pulls,
// so a slow consumer does not use up the budget.
type AccumulatingTimeoutStep struct {
	Base
	timeoutState
	spent time.Duration
}

func NewAccumulatingTimeoutStep(timeout time.Duration, strategy string) *AccumulatingTimeoutStep {
	return &AccumulatingTimeoutStep{timeoutState: timeoutState{Timeout: timeout, Strategy: strategy}}
}

func (s *AccumulatingTimeoutStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.fired {
		return result.Empty(), nil
	}
	if s.spent > s.Timeout {
		return s.fire(ctx, &s.Base, s.Name(), s.spent)
	}
	start := time.Now()
	rs, err := s.PullPrev(ctx, n)
	s.spent += time.Since(start)
	return rs, err
}

func (s *AccumulatingTimeoutStep) Reset() {
	s.Base.Reset()
	s.fired = false
	s.spent = 0
}

func (s *AccumulatingTimeoutStep) Name() string   { return "AccumulatingTimeoutStep" }
func (s *AccumulatingTimeoutStep) Detail() string { return s.detail("TIMEOUT (accumulating)") }
func (s *AccumulatingTimeoutStep) Copy() Step {
	return NewAccumulatingTimeoutStep(s.Timeout, s.Strategy)
}
func (s *AccumulatingTimeoutStep) Serialize(e *Encoder) { s.serialize(e) }

// RetryStep runs Body up to Retries+1 times while it fails with a retryable
// conflict, rolling back the open transaction between attempts. When every
// attempt failed, Else runs; with ElseFail set the conflict is then
// returned, otherwise the rows of Else are.
type RetryStep struct {
	scriptStep
	Body     *Plan
	Retries  int
	Else     *Plan
	ElseFail bool
}

func NewRetryStep(body *Plan, retries int, elsePlan *Plan, elseFail bool) *RetryStep {
	return &RetryStep{Body: body, Retries: retries, Else: elsePlan, ElseFail: elseFail}
}

func (s *RetryStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		returned, err := s.start(ctx)
		if err != nil {
			return nil, err
		}
		if !returned {
			rows, err := s.run(ctx)
			if err != nil {
				return nil, err
			}
			s.fillResult(ctx, rows)
		}
	}
	return s.buf.Take(n), nil
}

func (s *RetryStep) run(ctx *Context) ([]*result.Row, error) {
	db := ctx.Database()
	log := ctx.Logger().With(logging.Step(s.Name()))
	var last error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if err := ctx.CheckInterrupted("retry"); err != nil {
			return nil, err
		}
		rows, err := DrainPlan(ctx, s.Body.Copy())
		if err == nil {
			if m := ctx.Metrics(); m != nil {
				m.RecordRetry(RetrySucceeded)
			}
			return rows, nil
		}
		if !qerr.IsRetryable(err) {
			return nil, err
		}
		if db.InTx() {
			if rerr := db.Rollback(); rerr != nil {
				return nil, qerr.Execution("retry", rerr, "rollback after %v", err)
			}
		}
		last = err
		if m := ctx.Metrics(); m != nil {
			m.RecordRetry(RetryRetried)
		}
		log.Debug("retrying after conflict", logging.Attempt(attempt+1), logging.Error(err))
	}

	if m := ctx.Metrics(); m != nil {
		m.RecordRetry(RetryExhausted)
	}
	log.Warn("retries exhausted", logging.Int("retries", s.Retries), logging.Error(last))
	if s.Else == nil {
		return nil, last
	}
	rows, err := DrainPlan(ctx, s.Else.Copy())
	if err != nil {
		return nil, err
	}
	if s.ElseFail {
		return nil, last
	}
	return rows, nil
}

func (s *RetryStep) Reset() {
	s.scriptStep.Reset()
	s.Body.Reset()
	if s.Else != nil {
		s.Else.Reset()
	}
}

func (s *RetryStep) Name() string { return "RetryStep" }

func (s *RetryStep) Detail() string {
	d := fmt.Sprintf("RETRY %d", s.Retries)
	if s.Else != nil {
		if s.ElseFail {
			d += " ELSE (and fail)"
		} else {
			d += " ELSE (and continue)"
		}
	}
	return d
}

func (s *RetryStep) SubPlans() []*Plan { return nonNil(s.Body, s.Else) }

func (s *RetryStep) Copy() Step {
	return NewRetryStep(s.Body.Copy(), s.Retries, copyPlan(s.Else), s.ElseFail)
}

func (s *RetryStep) Serialize(e *Encoder) {
	e.Plan("body", s.Body)
	e.Int("retries", int64(s.Retries))
	e.Plan("else", s.Else)
	e.Bool("elseFail", s.ElseFail)
}

// CartesianProductStep emits every combination of the rows of its
// sub-plans, each combination merged into one row. The rightmost sub-plan
// varies fastest.
type CartesianProductStep struct {
	Base
	Subs    []*Plan
	sets    [][]*result.Row
	odo     []int
	started bool
	done    bool
}

func NewCartesianProductStep(subs []*Plan) *CartesianProductStep {
	return &CartesianProductStep{Subs: subs}
}

func (s *CartesianProductStep) load(ctx *Context) error {
	s.started = true
	if err := s.DrainPrev(ctx); err != nil {
		return err
	}
	s.sets = make([][]*result.Row, len(s.Subs))
	for i, sub := range s.Subs {
		rows, err := DrainPlan(ctx.Child(), sub)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			s.done = true
		}
		s.sets[i] = rows
	}
	s.odo = make([]int, len(s.Subs))
	s.done = s.done || len(s.Subs) == 0
	return nil
}

func (s *CartesianProductStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.started {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}
	var rows []*result.Row
	for len(rows) < n && !s.done && !s.TimedOut() {
		out := result.New()
		for i, set := range s.sets {
			r := set[s.odo[i]]
			for _, name := range r.PropertyNames() {
				out.Set(name, r.Property(name))
			}
		}
		rows = append(rows, out)
		s.advance()
	}
	return result.Of(rows...), nil
}

func (s *CartesianProductStep) advance() {
	for i := len(s.odo) - 1; i >= 0; i-- {
		s.odo[i]++
		if s.odo[i] < len(s.sets[i]) {
			return
		}
		s.odo[i] = 0
	}
	s.done = true
}

func (s *CartesianProductStep) Reset() {
	s.Base.Reset()
	for _, sub := range s.Subs {
		sub.Reset()
	}
	s.sets, s.odo = nil, nil
	s.started, s.done = false, false
}

func (s *CartesianProductStep) Close() {
	closePlans(s.Subs...)
	s.Base.Close()
}

func (s *CartesianProductStep) SendTimeout() {
	timeoutPlans(s.Subs...)
	s.Base.SendTimeout()
}

func (s *CartesianProductStep) Name() string         { return "CartesianProductStep" }
func (s *CartesianProductStep) Detail() string       { return fmt.Sprintf("CARTESIAN PRODUCT OF %d", len(s.Subs)) }
func (s *CartesianProductStep) SubPlans() []*Plan    { return s.Subs }
func (s *CartesianProductStep) Copy() Step           { return NewCartesianProductStep(copyPlans(s.Subs)) }
func (s *CartesianProductStep) Serialize(e *Encoder) { e.Plans("subs", s.Subs) }

// ParallelExecStep emits the rows of each sub-plan in turn. The sub-plans
// run one after the other.
type ParallelExecStep struct {
	Base
	Subs    []*Plan
	cur     int
	started bool
}

func NewParallelExecStep(subs []*Plan) *ParallelExecStep { return &ParallelExecStep{Subs: subs} }

func (s *ParallelExecStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.started {
		s.started = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
	}
	for s.cur < len(s.Subs) && !s.TimedOut() {
		rs, err := s.Subs[s.cur].Pull(ctx, n)
		if err != nil {
			return nil, err
		}
		rows, err := result.Drain(rs)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return result.Of(rows...), nil
		}
		s.cur++
	}
	return result.Empty(), nil
}

func (s *ParallelExecStep) Reset() {
	s.Base.Reset()
	for _, sub := range s.Subs {
		sub.Reset()
	}
	s.cur = 0
	s.started = false
}

func (s *ParallelExecStep) Close() {
	closePlans(s.Subs...)
	s.Base.Close()
}

func (s *ParallelExecStep) SendTimeout() {
	timeoutPlans(s.Subs...)
	s.Base.SendTimeout()
}

func (s *ParallelExecStep) Name() string         { return "ParallelExecStep" }
func (s *ParallelExecStep) Detail() string       { return fmt.Sprintf("UNION OF %d", len(s.Subs)) }
func (s *ParallelExecStep) SubPlans() []*Plan    { return s.Subs }
func (s *ParallelExecStep) Copy() Step           { return NewParallelExecStep(copyPlans(s.Subs)) }
func (s *ParallelExecStep) Serialize(e *Encoder) { e.Plans("subs", s.Subs) }

func init() {
	RegisterStep("TimeoutStep", func(d *Decoder) Step {
		return NewTimeoutStep(d.Duration("timeout"), d.Str("strategy"))
	})
	RegisterStep("AccumulatingTimeoutStep", func(d *Decoder) Step {
		return NewAccumulatingTimeoutStep(d.Duration("timeout"), d.Str("strategy"))
	})
	RegisterStep("RetryStep", func(d *Decoder) Step {
		return NewRetryStep(d.SubPlan("body"), int(d.Int("retries")), d.Plan("else"), d.Bool("elseFail"))
	})
	RegisterStep("CartesianProductStep", func(d *Decoder) Step { return NewCartesianProductStep(d.Plans("subs")) })
	RegisterStep("ParallelExecStep", func(d *Decoder) Step { return NewParallelExecStep(d.Plans("subs")) })
}
