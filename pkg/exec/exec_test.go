package exec

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	sch := schema.New()
	sch.MustCreateClass("Person", schema.VertexClass)
	sch.MustCreateClass("Employee", "Person")
	sch.MustCreateClass("Knows", schema.EdgeClass)
	sch.MustCreateClass("Note", "")
	store := storage.NewStore(sch)
	t.Cleanup(func() { store.Close() })
	_, err := store.CreateIndex("Person.name", "Person", true, "name")
	require.NoError(t, err)
	return store
}

func newTestDB(t *testing.T) *storage.Session {
	t.Helper()
	return newTestStore(t).Session()
}

func savePerson(t *testing.T, db storage.Database, class, name string, age int64) *storage.Record {
	t.Helper()
	rec := storage.NewRecord(class, storage.KindVertex)
	rec.Set("name", name)
	rec.Set("age", age)
	saved, err := db.Save(rec)
	require.NoError(t, err)
	return saved
}

// seedPeople stores alice (30), bob (25), carol (35) and the employee dave (40).
func seedPeople(t *testing.T, db storage.Database) map[string]*storage.Record {
	t.Helper()
	return map[string]*storage.Record{
		"alice": savePerson(t, db, "Person", "alice", 30),
		"bob":   savePerson(t, db, "Person", "bob", 25),
		"carol": savePerson(t, db, "Person", "carol", 35),
		"dave":  savePerson(t, db, "Employee", "dave", 40),
	}
}

func drain(t *testing.T, ctx *Context, p *Plan) []*result.Row {
	t.Helper()
	rows, err := DrainPlan(ctx, p)
	require.NoError(t, err)
	return rows
}

func column(rows []*result.Row, name string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.Property(name)
	}
	return out
}

func planOf(steps ...Step) *Plan {
	p := NewPlan("test")
	for _, s := range steps {
		p.Chain(s)
	}
	return p
}

func rowsVar(maps ...map[string]any) []any {
	out := make([]any, len(maps))
	for i, m := range maps {
		out[i] = m
	}
	return out
}

// slowStep emits one row per pull after sleeping, forever.
type slowStep struct {
	Base
	delay time.Duration
}

func (s *slowStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	time.Sleep(s.delay)
	return result.Of(result.New()), nil
}
func (s *slowStep) Name() string { return "slowStep" }
func (s *slowStep) Copy() Step   { return &slowStep{delay: s.delay} }

// flakyStep fails with a retryable conflict while failures remain. Copies
// share the counter.
type flakyStep struct {
	Base
	failures *int
	calls    *int
}

func (s *flakyStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if err := s.DrainPrev(ctx); err != nil {
		return nil, err
	}
	*s.calls++
	if *s.failures > 0 {
		*s.failures--
		return nil, qerr.Retry("flaky", storage.ErrConflict)
	}
	return result.Empty(), nil
}
func (s *flakyStep) Name() string { return "flakyStep" }
func (s *flakyStep) Copy() Step   { return &flakyStep{failures: s.failures, calls: s.calls} }

func TestPullNeverExceedsRequest(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every pull returns at most n rows and the total is bounded by LIMIT", prop.ForAll(
		func(count, limit, skip, n int) bool {
			db := newTestDB(t)
			ctx := NewContext(db)
			p := planOf(
				NewEmptyDataGeneratorStep(count),
				NewSkipStep(ast.Lit(skip)),
				NewLimitStep(ast.Lit(limit)),
			)
			total := 0
			for {
				rs, err := p.Pull(ctx, n)
				if err != nil {
					return false
				}
				rows, err := result.Drain(rs)
				if err != nil || len(rows) > n {
					return false
				}
				if len(rows) == 0 {
					break
				}
				total += len(rows)
			}
			return total == min(max(count-skip, 0), limit)
		},
		gen.IntRange(0, 250),
		gen.IntRange(0, 120),
		gen.IntRange(0, 60),
		gen.IntRange(1, 17),
	))

	properties.TestingRun(t)
}

func TestSkipAndLimit(t *testing.T) {
	tests := []struct {
		name  string
		skip  ast.Expr
		limit ast.Expr
		want  int
	}{
		{"no bounds", nil, nil, 10},
		{"skip", ast.Lit(3), nil, 7},
		{"skip past end", ast.Lit(30), nil, 0},
		{"limit", nil, ast.Lit(4), 4},
		{"limit zero", nil, ast.Lit(0), 0},
		{"negative limit is unbounded", nil, ast.Lit(-1), 10},
		{"skip then limit", ast.Lit(8), ast.Lit(5), 2},
		{"limit from parameter", nil, &ast.Param{Name: "n"}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(newTestDB(t), WithParams(map[string]any{"n": 6}))
			p := planOf(NewEmptyDataGeneratorStep(10))
			chainSkipLimit(p, tt.skip, tt.limit)
			assert.Len(t, drain(t, ctx, p), tt.want)
		})
	}
}

func TestZeroPullLeavesStepUsable(t *testing.T) {
	tests := []struct {
		name string
		last func() Step
		want int
	}{
		{"limit", func() Step { return NewLimitStep(ast.Lit(2)) }, 2},
		{"skip", func() Step { return NewSkipStep(ast.Lit(3)) }, 1},
		{"batch commit", func() Step { return NewBatchCommitStep(2) }, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(newTestDB(t))
			last := tt.last()
			planOf(NewEmptyDataGeneratorStep(4), last)

			rs, err := last.Pull(ctx, 0)
			require.NoError(t, err)
			rows, err := result.Drain(rs)
			require.NoError(t, err)
			assert.Empty(t, rows)

			total := 0
			for {
				rs, err := last.Pull(ctx, 10)
				require.NoError(t, err)
				rows, err := result.Drain(rs)
				require.NoError(t, err)
				if len(rows) == 0 {
					break
				}
				total += len(rows)
			}
			assert.Equal(t, tt.want, total)
		})
	}
}

func TestDistinct(t *testing.T) {
	db := newTestDB(t)
	people := seedPeople(t, db)
	ctx := NewContext(db)
	ctx.SetVariable("$rows", []any{
		map[string]any{"a": 1}, map[string]any{"a": 1}, map[string]any{"a": int64(1)},
		map[string]any{"a": 2},
		people["alice"], people["alice"].Identity(), people["bob"],
	})

	rows := drain(t, ctx, planOf(NewFetchFromVariableStep("$rows"), NewDistinctStep()))
	require.Len(t, rows, 4)
	assert.EqualValues(t, 1, rows[0].Property("a"))
	assert.EqualValues(t, 2, rows[1].Property("a"))
	assert.Equal(t, "alice", rows[2].Property("name"))
	assert.Equal(t, "bob", rows[3].Property("name"))
}

func TestUnwind(t *testing.T) {
	ctx := NewContext(newTestDB(t))
	ctx.SetVariable("$rows", rowsVar(
		map[string]any{"n": "a", "tags": []any{"x", "y"}, "nums": []any{1, 2}},
		map[string]any{"n": "b", "tags": []any{}, "nums": 3},
	))

	rows := drain(t, ctx, planOf(NewFetchFromVariableStep("$rows"), NewUnwindStep([]string{"tags", "nums"})))
	require.Len(t, rows, 5)
	assert.Equal(t, []any{"a", "a", "a", "a", "b"}, column(rows, "n"))
	assert.Equal(t, []any{"x", "x", "y", "y", nil}, column(rows, "tags"))
	assert.Equal(t, []any{int64(1), int64(2), int64(1), int64(2), int64(3)}, column(rows, "nums"))
}

func TestOrderBy(t *testing.T) {
	ctx := NewContext(newTestDB(t))
	ctx.SetVariable("$rows", rowsVar(
		map[string]any{"k": "b", "v": 2},
		map[string]any{"k": "a", "v": 2},
		map[string]any{"k": "c", "v": 1},
		map[string]any{"k": "d"},
	))

	rows := drain(t, ctx, planOf(
		NewFetchFromVariableStep("$rows"),
		NewOrderByStep([]ast.OrderItem{{Expr: ast.Prop("v"), Desc: true}, {Expr: ast.Prop("k")}}),
	))
	assert.Equal(t, []any{"a", "b", "c", "d"}, column(rows, "k"))
}

func TestExpand(t *testing.T) {
	db := newTestDB(t)
	people := seedPeople(t, db)
	ctx := NewContext(db)
	ctx.SetVariable("$rows", rowsVar(
		map[string]any{"friends": []any{people["alice"].Identity(), people["bob"].Identity()}},
	))

	rows := drain(t, ctx, planOf(NewFetchFromVariableStep("$rows"), NewExpandStep()))
	assert.Equal(t, []any{"alice", "bob"}, column(rows, "name"))

	ctx.SetVariable("$rows", rowsVar(map[string]any{"a": 1, "b": 2}))
	_, err := DrainPlan(ctx, planOf(NewFetchFromVariableStep("$rows"), NewExpandStep()))
	assert.ErrorIs(t, err, qerr.ErrInvalidExpand)
}

func TestCartesianProduct(t *testing.T) {
	ctx := NewContext(newTestDB(t))
	ctx.SetVariable("$left", rowsVar(map[string]any{"l": 1}, map[string]any{"l": 2}))
	ctx.SetVariable("$right", rowsVar(map[string]any{"r": "x"}, map[string]any{"r": "y"}, map[string]any{"r": "z"}))

	step := NewCartesianProductStep([]*Plan{
		planOf(NewFetchFromVariableStep("$left")),
		planOf(NewFetchFromVariableStep("$right")),
	})
	rows := drain(t, ctx, planOf(step))
	require.Len(t, rows, 6)
	assert.Equal(t, []any{int64(1), int64(1), int64(1), int64(2), int64(2), int64(2)}, column(rows, "l"))
	assert.Equal(t, []any{"x", "y", "z", "x", "y", "z"}, column(rows, "r"))

	ctx.SetVariable("$right", []any{})
	p := planOf(NewCartesianProductStep([]*Plan{
		planOf(NewFetchFromVariableStep("$left")),
		planOf(NewFetchFromVariableStep("$right")),
	}))
	assert.Empty(t, drain(t, ctx, p))
}

func TestParallelExecUnion(t *testing.T) {
	ctx := NewContext(newTestDB(t))
	p := planOf(NewParallelExecStep([]*Plan{
		planOf(NewEmptyDataGeneratorStep(2)),
		planOf(NewEmptyDataGeneratorStep(0)),
		planOf(NewEmptyDataGeneratorStep(3)),
	}))
	assert.Len(t, drain(t, ctx, p), 5)
}

func TestTimeoutStrategies(t *testing.T) {
	tests := []struct {
		name     string
		step     func() Step
		strategy string
		wantErr  bool
	}{
		{"wall clock return", func() Step { return NewTimeoutStep(20*time.Millisecond, config.TimeoutReturn) }, "", false},
		{"wall clock exception", func() Step { return NewTimeoutStep(20*time.Millisecond, config.TimeoutException) }, "", true},
		{"configured strategy", func() Step { return NewTimeoutStep(20*time.Millisecond, "") }, config.TimeoutReturn, false},
		{"accumulating exception", func() Step { return NewAccumulatingTimeoutStep(20*time.Millisecond, "") }, config.TimeoutException, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if tt.strategy != "" {
				cfg.TimeoutStrategy = tt.strategy
			}
			ctx := NewContext(newTestDB(t), WithConfig(cfg))
			upstream := &slowStep{delay: 8 * time.Millisecond}
			p := planOf(upstream, tt.step())

			rows, err := DrainPlan(ctx, p)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, qerr.IsTimeout(err))
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, rows)
			}
			assert.Less(t, len(rows), 50)
			assert.True(t, upstream.TimedOut())
		})
	}
}

func TestRetry(t *testing.T) {
	body := func(failures, calls *int) *Plan {
		return planOf(NewBeginStep(), &flakyStep{failures: failures, calls: calls}, NewCommitStep())
	}
	elsePlan := func() *Plan {
		return planOf(NewEmptyDataGeneratorStep(1), NewProjectionStep(&ast.Projection{
			Items: []ast.ProjectionItem{{Expr: ast.Lit("fallback"), Alias: "outcome"}},
		}))
	}

	t.Run("succeeds after conflicts", func(t *testing.T) {
		db := newTestDB(t)
		failures, calls := 2, 0
		_, err := DrainPlan(NewContext(db), planOf(NewRetryStep(body(&failures, &calls), 2, nil, false)))
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.False(t, db.InTx())
	})

	t.Run("exhausted without else returns the conflict", func(t *testing.T) {
		db := newTestDB(t)
		failures, calls := 5, 0
		_, err := DrainPlan(NewContext(db), planOf(NewRetryStep(body(&failures, &calls), 2, nil, false)))
		require.Error(t, err)
		assert.True(t, qerr.IsRetryable(err))
		assert.Equal(t, 3, calls)
		assert.False(t, db.InTx())
	})

	t.Run("else and continue", func(t *testing.T) {
		failures, calls := 5, 0
		rows, err := DrainPlan(NewContext(newTestDB(t)), planOf(NewRetryStep(body(&failures, &calls), 1, elsePlan(), false)))
		require.NoError(t, err)
		assert.Equal(t, []any{"fallback"}, column(rows, "outcome"))
		assert.Equal(t, 2, calls)
	})

	t.Run("else and fail", func(t *testing.T) {
		failures, calls := 5, 0
		_, err := DrainPlan(NewContext(newTestDB(t)), planOf(NewRetryStep(body(&failures, &calls), 1, elsePlan(), true)))
		require.Error(t, err)
		assert.ErrorIs(t, err, qerr.ErrRetry)
	})

	t.Run("non retryable errors are not retried", func(t *testing.T) {
		calls := 0
		failing := planOf(NewFetchFromClassStep("Missing", true), &flakyStep{failures: new(int), calls: &calls})
		_, err := DrainPlan(NewContext(newTestDB(t)), planOf(NewRetryStep(failing, 3, nil, false)))
		assert.ErrorIs(t, err, qerr.ErrUnknownClass)
		assert.Equal(t, 0, calls)
	})
}

func TestCloseAndTimeoutPropagate(t *testing.T) {
	first := NewEmptyDataGeneratorStep(1)
	second := NewFilterStep(nil)
	third := NewLimitStep(ast.Lit(1))
	p := planOf(first, second, third)

	p.SendTimeout()
	p.SendTimeout()
	p.Close()
	p.Close()
	for _, s := range []Step{first, second, third} {
		assert.True(t, s.base().TimedOut(), s.Name())
		assert.True(t, s.base().Closed(), s.Name())
	}

	p.Reset()
	assert.False(t, first.Closed())
	assert.False(t, third.TimedOut())
}

func TestChainTwicePanics(t *testing.T) {
	s := NewFilterStep(nil)
	planOf(s)
	assert.Panics(t, func() { planOf(s) })
}
