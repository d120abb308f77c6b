package match

import (
	"sort"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/stats"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

func newSchema() *schema.Schema {
	sch := schema.New()
	sch.MustCreateClass("Person", schema.VertexClass)
	sch.MustCreateClass("Employee", "Person")
	sch.MustCreateClass("City", schema.VertexClass)
	sch.MustCreateClass("Friend", schema.EdgeClass)
	sch.MustCreateClass("LivesIn", schema.EdgeClass)
	return sch
}

func newGraph(t *testing.T) *storage.Session {
	t.Helper()
	store := storage.NewStore(newSchema())
	t.Cleanup(func() { store.Close() })
	return store.Session()
}

func vertex(t *testing.T, db storage.Database, class, name string) *storage.Record {
	t.Helper()
	rec := storage.NewRecord(class, storage.KindVertex)
	rec.Set("name", name)
	saved, err := db.Save(rec)
	require.NoError(t, err)
	return saved
}

func link(t *testing.T, db storage.Database, class string, from, to *storage.Record) {
	t.Helper()
	_, err := db.CreateEdge(class, from.Identity(), to.Identity(), nil)
	require.NoError(t, err)
}

// seedFriends stores alice, bob and carol with alice→bob, alice→carol and
// bob→carol friendships, the employee dave, and alice living in rome.
func seedFriends(t *testing.T, db storage.Database) map[string]*storage.Record {
	t.Helper()
	g := map[string]*storage.Record{
		"alice": vertex(t, db, "Person", "alice"),
		"bob":   vertex(t, db, "Person", "bob"),
		"carol": vertex(t, db, "Person", "carol"),
		"dave":  vertex(t, db, "Employee", "dave"),
		"rome":  vertex(t, db, "City", "rome"),
	}
	link(t, db, "Friend", g["alice"], g["bob"])
	link(t, db, "Friend", g["alice"], g["carol"])
	link(t, db, "Friend", g["bob"], g["carol"])
	link(t, db, "LivesIn", g["alice"], g["rome"])
	return g
}

func node(class, alias string) *ast.NodeFilter { return &ast.NodeFilter{Class: class, Alias: alias} }

func where(f *ast.NodeFilter, cond ast.Expr) *ast.NodeFilter {
	f.Where = cond
	return f
}

func named(name string) ast.Expr { return ast.Eq(ast.Prop("name"), ast.Lit(name)) }

func hopTo(method, edge string, f *ast.NodeFilter) *ast.PathItem {
	return &ast.PathItem{Method: ast.Method(method, edge), Filter: f}
}

func path(origin *ast.NodeFilter, items ...*ast.PathItem) *ast.PathExpr {
	return &ast.PathExpr{Origin: origin, Items: items}
}

func returning(aliases ...string) []ast.ProjectionItem {
	exprs := make([]ast.Expr, len(aliases))
	for i, a := range aliases {
		exprs[i] = ast.Prop(a)
	}
	return ast.Items(exprs...)
}

func planMatch(t *testing.T, db storage.Database, cfg *config.Config, m *ast.Match) *exec.Plan {
	t.Helper()
	p, err := exec.NewPlanner(db, cfg, nil).Plan(m)
	require.NoError(t, err)
	return p
}

func runMatch(t *testing.T, db storage.Database, m *ast.Match, opts ...exec.Option) []*result.Row {
	t.Helper()
	rows, err := exec.DrainPlan(exec.NewContext(db, opts...), planMatch(t, db, nil, m))
	require.NoError(t, err)
	return rows
}

func stepNames(p *exec.Plan) []string {
	var out []string
	for _, s := range p.Steps() {
		out = append(out, s.Name())
	}
	return out
}

// nameOf is the name of the record bound to alias, or nil.
func nameOf(row *result.Row, alias string) any {
	rec := recordOf(row.Property(alias))
	if rec == nil {
		return nil
	}
	v, _ := rec.Get("name")
	return v
}

func namesOf(rows []*result.Row, alias string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = nameOf(r, alias)
	}
	return out
}

func sortedNames(rows []*result.Row, alias string) []string {
	var out []string
	for _, r := range rows {
		if n, ok := nameOf(r, alias).(string); ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func TestMatchFriendScenario(t *testing.T) {
	tests := []struct {
		name      string
		threshold int64
		steps     []string
	}{
		{
			name:      "prefetched",
			threshold: config.DefaultPrefetchThreshold,
			steps:     []string{"MatchPrefetchStep", "MatchPrefetchStep", "MatchFirstStep", "MatchStep", "ProjectionStep"},
		},
		{
			name:      "scanned",
			threshold: 1,
			steps:     []string{"MatchFirstStep", "MatchStep", "ProjectionStep"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newGraph(t)
			p1 := vertex(t, db, "Person", "p1")
			p2 := vertex(t, db, "Person", "p2")
			vertex(t, db, "Person", "p3")
			link(t, db, "Friend", p1, p2)

			cfg := config.Default()
			cfg.PrefetchThreshold = tt.threshold
			m := &ast.Match{
				Patterns: []*ast.PathExpr{path(node("Person", "p"), hopTo("out", "Friend", node("Person", "f")))},
				Return:   returning("p", "f"),
			}
			plan := planMatch(t, db, cfg, m)
			assert.Equal(t, tt.steps, stepNames(plan))

			rows, err := exec.DrainPlan(exec.NewContext(db, exec.WithConfig(cfg)), plan)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, p1.Identity(), recordOf(rows[0].Property("p")).Identity())
			assert.Equal(t, p2.Identity(), recordOf(rows[0].Property("f")).Identity())

			m.Patterns = append(m.Patterns, path(node("", "f"),
				hopTo("out", "Friend", &ast.NodeFilter{Alias: "f2", Optional: true})))
			m.Return = returning("p", "f", "f2")
			plan = planMatch(t, db, cfg, m)
			assert.Contains(t, stepNames(plan), "OptionalMatchStep")
			assert.Contains(t, stepNames(plan), "RemoveEmptyOptionalsStep")

			rows, err = exec.DrainPlan(exec.NewContext(db, exec.WithConfig(cfg)), plan)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "p1", nameOf(rows[0], "p"))
			assert.Equal(t, "p2", nameOf(rows[0], "f"))
			assert.True(t, rows[0].Has("f2"))
			assert.Nil(t, rows[0].Property("f2"))
		})
	}
}

func TestMatchOptionalMissingEdgeKeepsEveryRow(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	rows := runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{path(node("Person", "a"),
			hopTo("out", "Enemy", &ast.NodeFilter{Alias: "b", Optional: true}))},
		Return: returning("a", "b"),
	})
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, sortedNames(rows, "a"))
	for _, r := range rows {
		assert.Nil(t, r.Property("b"))
	}
}

func TestMatchOptionalMustEndItsPath(t *testing.T) {
	_, err := exec.NewPlanner(newGraph(t), nil, nil).Plan(&ast.Match{
		Patterns: []*ast.PathExpr{path(node("Person", "a"),
			hopTo("out", "Friend", &ast.NodeFilter{Alias: "b", Optional: true}),
			hopTo("out", "Friend", node("", "c")))},
		Return: returning("a", "b", "c"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, qerr.ErrOptionalNotLast)
	assert.Equal(t, qerr.KindExecution, qerr.KindOf(err))
}

// A shared optional target is never walked backwards: each source reaches
// it forward, and a source that cannot reach the bound record nulls it
// instead of dropping the row.
func TestMatchSharedOptionalTarget(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	rows := runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{
			path(where(node("Person", "p"), named("alice")),
				hopTo("out", "LivesIn", &ast.NodeFilter{Alias: "c", Optional: true})),
			path(where(node("Person", "q"), named("bob")), hopTo("out", "LivesIn", node("", "c"))),
		},
		Return: returning("p", "q", "c"),
	})
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", nameOf(rows[0], "p"))
	assert.Equal(t, "bob", nameOf(rows[0], "q"))
	assert.Nil(t, rows[0].Property("c"))
}

func TestMatchCartesianProduct(t *testing.T) {
	db := newGraph(t)
	for _, n := range []string{"ann", "ben"} {
		vertex(t, db, "Person", n)
	}
	for _, n := range []string{"oslo", "rome", "kyiv"} {
		vertex(t, db, "City", n)
	}
	reg := metrics.NewRegistry()
	m := &ast.Match{
		Patterns: []*ast.PathExpr{path(node("Person", "p")), path(node("City", "c"))},
		Return:   returning("p", "c"),
	}
	planner := exec.NewPlanner(db, nil, nil)
	planner.Metrics = reg
	plan, err := planner.Plan(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"MatchPrefetchStep", "MatchPrefetchStep", "CartesianProductStep", "ProjectionStep"},
		stepNames(plan))

	rows, err := exec.DrainPlan(exec.NewContext(db, exec.WithMetrics(reg)), plan)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	seen := make(map[string]bool)
	for _, r := range rows {
		p, c := nameOf(r, "p"), nameOf(r, "c")
		require.NotNil(t, p)
		require.NotNil(t, c)
		seen[p.(string)+"/"+c.(string)] = true
	}
	assert.Len(t, seen, 6)

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.PrefetchedAliases))
	var h dto.Metric
	require.NoError(t, reg.PatternComponents.Write(&h))
	assert.Equal(t, uint64(1), h.GetHistogram().GetSampleCount())
	assert.Equal(t, 2.0, h.GetHistogram().GetSampleSum())
}

func TestMatchIncompatibleClasses(t *testing.T) {
	db := newGraph(t)
	_, err := exec.NewPlanner(db, nil, nil).Plan(&ast.Match{
		Patterns: []*ast.PathExpr{
			path(node("Person", "a"), hopTo("out", "LivesIn", node("City", "b"))),
			path(node("Employee", "b")),
		},
		Return: returning("a"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, qerr.ErrIncompatibleClasses)
	assert.ErrorIs(t, err, qerr.ErrExecution)
}

func TestMatchReturnModes(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	origin := func() *ast.NodeFilter { return where(node("Person", "p"), named("alice")) }

	tests := []struct {
		mode  string
		check func(t *testing.T, rows []*result.Row)
	}{
		{ast.ReturnPatterns, func(t *testing.T, rows []*result.Row) {
			require.Len(t, rows, 2)
			for _, r := range rows {
				assert.Equal(t, []string{"p"}, r.PropertyNames())
			}
		}},
		{ast.ReturnPaths, func(t *testing.T, rows []*result.Row) {
			require.Len(t, rows, 2)
			assert.Equal(t, []string{"p", anonPrefix + "0"}, rows[0].PropertyNames())
			assert.Equal(t, []string{"bob", "carol"}, sortedNames(rows, anonPrefix+"0"))
		}},
		{ast.ReturnElements, func(t *testing.T, rows []*result.Row) {
			require.Len(t, rows, 1)
			assert.Equal(t, "alice", rows[0].Property("name"))
		}},
		{ast.ReturnPathElements, func(t *testing.T, rows []*result.Row) {
			var names []string
			for _, r := range rows {
				names = append(names, r.Property("name").(string))
			}
			sort.Strings(names)
			assert.Equal(t, []string{"alice", "bob", "carol"}, names)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			rows := runMatch(t, db, &ast.Match{
				Patterns:   []*ast.PathExpr{path(origin(), hopTo("out", "Friend", nil))},
				ReturnMode: tt.mode,
			})
			tt.check(t, rows)
		})
	}
}

func TestMatchNotPattern(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	rows := runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{path(node("Person", "p"))},
		NotPatterns: []*ast.PathExpr{
			path(node("", "p"), hopTo("out", "Friend", where(node("", "x"), named("carol")))),
		},
		Return:  ast.Items(&ast.FieldAccess{Base: ast.Prop("p"), Field: "name"}),
		OrderBy: []ast.OrderItem{{Expr: ast.Prop("p.name")}},
	})
	var names []any
	for _, r := range rows {
		names = append(names, r.Property("p.name"))
	}
	assert.Equal(t, []any{"carol", "dave"}, names)
}

func TestMatchRecursiveHop(t *testing.T) {
	db := newGraph(t)
	n := make([]*storage.Record, 4)
	for i := range n {
		n[i] = vertex(t, db, "Person", string(rune('a'+i)))
	}
	for i := range n {
		link(t, db, "Friend", n[i], n[(i+1)%len(n)])
	}
	depth := func(d int) *int { return &d }

	tests := []struct {
		name     string
		filter   *ast.NodeFilter
		expected []any
		depths   []any
	}{
		{
			name:     "max depth includes the start",
			filter:   &ast.NodeFilter{Alias: "r", While: ast.Lit(true), MaxDepth: depth(2), DepthAlias: "depth"},
			expected: []any{"a", "b", "c"},
			depths:   []any{int64(0), int64(1), int64(2)},
		},
		{
			name:     "while stops on the cycle",
			filter:   &ast.NodeFilter{Alias: "r", While: ast.Lit(true), DepthAlias: "depth"},
			expected: []any{"a", "b", "c", "d"},
			depths:   []any{int64(0), int64(1), int64(2), int64(3)},
		},
		{
			name: "while condition sees the depth",
			filter: &ast.NodeFilter{
				Alias: "r", While: ast.Cmp(ast.Var("$depth"), ast.OpLt, ast.Lit(1)), DepthAlias: "depth",
			},
			expected: []any{"a", "b"},
			depths:   []any{int64(0), int64(1)},
		},
		{
			name:     "without while one hop never re-emits the start",
			filter:   &ast.NodeFilter{Alias: "r", DepthAlias: "depth"},
			expected: []any{"b"},
			depths:   []any{int64(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := runMatch(t, db, &ast.Match{
				Patterns: []*ast.PathExpr{path(where(node("Person", "s"), named("a")), hopTo("out", "Friend", tt.filter))},
				Return:   ast.Items(ast.Prop("r"), ast.Prop("depth")),
				OrderBy:  []ast.OrderItem{{Expr: ast.Prop("depth")}},
			})
			assert.Equal(t, tt.expected, namesOf(rows, "r"))
			var depths []any
			for _, r := range rows {
				depths = append(depths, r.Property("depth"))
			}
			assert.Equal(t, tt.depths, depths)
		})
	}
}

func TestMatchPathAlias(t *testing.T) {
	db := newGraph(t)
	g := seedFriends(t, db)
	maxDepth := 2
	rows := runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{path(where(node("Person", "s"), named("alice")),
			hopTo("out", "Friend", &ast.NodeFilter{
				Alias: "r", MaxDepth: &maxDepth, PathAlias: "trail",
				Where: named("carol"),
			}))},
		ReturnMode: ast.ReturnPaths,
	})
	// alice→carol directly, and through bob; only the shorter way is kept.
	require.Len(t, rows, 1)
	trail, ok := rows[0].Property("trail").([]any)
	require.True(t, ok)
	require.Len(t, trail, 1)
	assert.Equal(t, g["carol"].Identity(), recordOf(trail[0]).Identity())
}

func TestMatchMatchedDependencyJoinsRoot(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	sameName := ast.Eq(ast.Prop("name"),
		&ast.FieldAccess{Base: &ast.FieldAccess{Base: ast.Var("$matched"), Field: "a"}, Field: "name"})
	m := &ast.Match{
		Patterns: []*ast.PathExpr{
			path(node("Person", "a"), hopTo("out", "Friend", node("", "b"))),
			path(where(node("Person", "c"), sameName)),
		},
		Return: returning("a", "b", "c"),
	}
	plan := planMatch(t, db, nil, m)
	assert.NotContains(t, stepNames(plan), "CartesianProductStep")

	rows, err := exec.DrainPlan(exec.NewContext(db), plan)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, nameOf(r, "a"), nameOf(r, "c"))
	}
}

func TestMatchBoundAliasMustAgree(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	rows := runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{
			path(node("Person", "a"), hopTo("out", "Friend", node("", "b")), hopTo("out", "Friend", node("", "c"))),
			path(node("", "a"), hopTo("out", "Friend", node("", "c"))),
		},
		Return: returning("a", "b", "c"),
	})
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", nameOf(rows[0], "a"))
	assert.Equal(t, "bob", nameOf(rows[0], "b"))
	assert.Equal(t, "carol", nameOf(rows[0], "c"))
}

func TestMatchReverseTraversal(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	m := &ast.Match{
		Patterns: []*ast.PathExpr{path(node("", "x"), hopTo("out", "LivesIn", where(node("City", "c"), named("rome"))))},
		Return:   returning("x"),
	}
	plan := planMatch(t, db, nil, m)
	var detail string
	for _, s := range plan.Steps() {
		if s.Name() == "MatchStep" {
			detail = s.Detail()
		}
	}
	assert.Contains(t, detail, "{c}.in(")

	rows, err := exec.DrainPlan(exec.NewContext(db), plan)
	require.NoError(t, err)
	assert.Equal(t, []any{"alice"}, namesOf(rows, "x"))
}

func TestMatchFieldAndChainHops(t *testing.T) {
	db := newGraph(t)
	g := seedFriends(t, db)
	zoe := storage.NewRecord("Person", storage.KindVertex)
	zoe.Set("name", "zoe")
	zoe.Set("best", g["bob"].Identity())
	_, err := db.Save(zoe)
	require.NoError(t, err)

	t.Run("field", func(t *testing.T) {
		rows := runMatch(t, db, &ast.Match{
			Patterns: []*ast.PathExpr{path(where(node("Person", "a"), named("zoe")),
				&ast.PathItem{Field: ast.Prop("best"), Filter: node("", "b")})},
			Return: returning("b"),
		})
		assert.Equal(t, []any{"bob"}, namesOf(rows, "b"))
	})
	t.Run("chain", func(t *testing.T) {
		rows := runMatch(t, db, &ast.Match{
			Patterns: []*ast.PathExpr{path(where(node("Person", "a"), named("alice")),
				&ast.PathItem{
					Chain:  []*ast.PathItem{hopTo("out", "Friend", nil), hopTo("out", "Friend", nil)},
					Filter: node("", "x"),
				})},
			Return: returning("x"),
		})
		assert.Equal(t, []any{"carol"}, namesOf(rows, "x"))
	})
}

func TestMatchOrderSkipLimit(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	rows := runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{path(node("Person", "p"))},
		Return:   []ast.ProjectionItem{{Expr: &ast.FieldAccess{Base: ast.Prop("p"), Field: "name"}, Alias: "name"}},
		OrderBy:  []ast.OrderItem{{Expr: ast.Prop("name"), Desc: true}},
		Skip:     ast.Lit(1),
		Limit:    ast.Lit(2),
	})
	var names []any
	for _, r := range rows {
		names = append(names, r.Property("name"))
	}
	assert.Equal(t, []any{"carol", "bob"}, names)
}

func TestMatchDistinct(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	rows := runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{path(node("Person", "p"), hopTo("out", "Friend", nil))},
		Return:   returning("p"),
		Distinct: true,
	})
	assert.Equal(t, []string{"alice", "bob"}, sortedNames(rows, "p"))
}

func TestMatchUpdatesFanoutStats(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	qs := stats.New(1)
	runMatch(t, db, &ast.Match{
		Patterns: []*ast.PathExpr{path(where(node("Person", "p"), named("alice")), hopTo("out", "Friend", nil))},
		Return:   returning("p"),
	}, exec.WithStats(qs))
	f, ok := qs.Fanout(stats.Key{VertexClass: "Person", EdgeClass: "Friend", Direction: "out"})
	require.True(t, ok)
	assert.Equal(t, 2.0, f)
}

func TestMatchPlanRoundTrip(t *testing.T) {
	db := newGraph(t)
	seedFriends(t, db)
	m := &ast.Match{
		Patterns: []*ast.PathExpr{
			path(node("Person", "a"), hopTo("out", "Friend", &ast.NodeFilter{Alias: "b", Optional: true})),
			path(node("City", "c")),
		},
		NotPatterns: []*ast.PathExpr{path(node("", "a"), hopTo("out", "LivesIn", nil))},
		ReturnMode:  ast.ReturnPatterns,
	}
	plan := planMatch(t, db, nil, m)
	wire, err := exec.EncodePlan(plan)
	require.NoError(t, err)
	decoded, err := exec.DecodePlan(wire)
	require.NoError(t, err)
	assert.Equal(t, stepNames(plan), stepNames(decoded))

	want, err := exec.DrainPlan(exec.NewContext(db), plan)
	require.NoError(t, err)
	got, err := exec.DrainPlan(exec.NewContext(db), decoded)
	require.NoError(t, err)
	assert.Equal(t, sortedNames(want, "a"), sortedNames(got, "a"))
	assert.Equal(t, sortedNames(want, "b"), sortedNames(got, "b"))
	// alice lives in rome, so only her rows are filtered out
	assert.Equal(t, []string{"bob", "carol", "dave"}, sortedNames(got, "a"))
	assert.Equal(t, []string{"carol"}, sortedNames(got, "b"))
}

func TestMatchPlanErrors(t *testing.T) {
	tests := []struct {
		name string
		m    *ast.Match
	}{
		{"no pattern", &ast.Match{Return: returning("a")}},
		{"no return", &ast.Match{Patterns: []*ast.PathExpr{path(node("Person", "a"))}}},
		{"unknown return mode", &ast.Match{
			Patterns:   []*ast.PathExpr{path(node("Person", "a"))},
			ReturnMode: "$everything",
		}},
		{"not from unknown alias", &ast.Match{
			Patterns:    []*ast.PathExpr{path(node("Person", "a"))},
			NotPatterns: []*ast.PathExpr{path(node("", "z"), hopTo("out", "Friend", nil))},
			Return:      returning("a"),
		}},
		{"only optional aliases", &ast.Match{
			Patterns: []*ast.PathExpr{path(&ast.NodeFilter{Class: "Person", Alias: "a", Optional: true})},
			Return:   returning("a"),
		}},
		{"no class to start from", &ast.Match{
			Patterns: []*ast.PathExpr{path(node("", "a"), &ast.PathItem{Field: ast.Prop("best"), Filter: node("", "b")})},
			Return:   returning("a"),
		}},
		{"unknown class", &ast.Match{
			Patterns: []*ast.PathExpr{path(node("Planet", "a"))},
			Return:   returning("a"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.NewPlanner(newGraph(t), nil, nil).Plan(tt.m)
			require.Error(t, err)
			assert.Equal(t, qerr.KindExecution, qerr.KindOf(err))
		})
	}
}
