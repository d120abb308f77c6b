package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/stats"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

func newPeople(t *testing.T, cfg *config.Config) *storage.Session {
	t.Helper()
	sch := schema.New()
	sch.MustCreateClass("Person", schema.VertexClass)
	sch.MustCreateClass("Knows", schema.EdgeClass)
	store, closeFn, err := OpenStore(cfg, sch, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, closeFn()) })

	db := store.Session()
	recs := make(map[string]*storage.Record)
	for _, n := range []string{"ann", "bob", "cid"} {
		rec := storage.NewRecord("Person", storage.KindVertex)
		rec.Set("name", n)
		saved, err := db.Save(rec)
		require.NoError(t, err)
		recs[n] = saved
	}
	_, err = db.CreateEdge("Knows", recs["ann"].Identity(), recs["bob"].Identity(), nil)
	require.NoError(t, err)
	return db
}

func selectPerson(name string) *ast.Select {
	return &ast.Select{
		Target: ast.Target{Kind: ast.TargetClass, Name: "Person"},
		Where:  ast.Eq(ast.Prop("name"), ast.Lit(name)),
	}
}

func TestEngineCachesPlans(t *testing.T) {
	db := newPeople(t, config.Default())
	reg := metrics.NewRegistry()
	e, err := New(db, WithMetrics(reg))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		rows, err := e.Execute(context.Background(), selectPerson("bob"), nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "bob", rows[0].Property("name"))
	}
	assert.Equal(t, 1, e.Cache().Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.PlanCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.PlanCacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.PlanCacheEntries))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.QueriesTotal.WithLabelValues("SELECT", "success")))

	top := e.Cache().TopStatements(5)
	require.Len(t, top, 1)
	assert.Equal(t, 3, top[0].Executions)
	assert.True(t, top[0].LastCached)

	noCache := selectPerson("ann")
	noCache.NoCache = true
	_, err = e.Execute(context.Background(), noCache, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Cache().Len())

	e.Cache().Invalidate()
	assert.Equal(t, 0, e.Cache().Len())
}

func TestEngineWithoutCache(t *testing.T) {
	cfg := config.Default()
	cfg.PlanCacheSize = 0
	db := newPeople(t, cfg)
	e, err := New(db, WithConfig(cfg))
	require.NoError(t, err)
	assert.Nil(t, e.Cache())

	rows, err := e.Execute(context.Background(), selectPerson("cid"), nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestEngineRunsMatch(t *testing.T) {
	db := newPeople(t, config.Default())
	e, err := New(db)
	require.NoError(t, err)

	m := &ast.Match{
		Patterns: []*ast.PathExpr{{
			Origin: &ast.NodeFilter{Class: "Person", Alias: "a"},
			Items:  []*ast.PathItem{{Method: ast.Method("out", "Knows"), Filter: &ast.NodeFilter{Alias: "b"}}},
		}},
		Return: ast.Items(ast.Prop("a"), ast.Prop("b")),
	}
	rows, err := e.Execute(context.Background(), m, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	out, err := e.Explain(m)
	require.NoError(t, err)
	assert.Contains(t, out, "MatchFirstStep")
	assert.Contains(t, out, "MatchStep")

	f, ok := e.Stats().Fanout(stats.Key{VertexClass: "Person", EdgeClass: "Knows", Direction: "out"})
	require.True(t, ok)
	assert.Greater(t, f, 0.0)
}

func TestEngineProfile(t *testing.T) {
	db := newPeople(t, config.Default())
	e, err := New(db)
	require.NoError(t, err)

	rows, out, err := e.Profile(context.Background(), selectPerson("ann"), nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Contains(t, out, "FetchFromClassStep")
	assert.Contains(t, out, "rows)")
	assert.False(t, e.Config().Profiling)
}

func TestEngineExecuteAll(t *testing.T) {
	db := newPeople(t, config.Default())
	e, err := New(db)
	require.NoError(t, err)

	rows, err := e.ExecuteAll(context.Background(), []ast.Statement{selectPerson("ann"), selectPerson("bob")}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].Property("name"))

	_, err = e.ExecuteAll(context.Background(), []ast.Statement{selectPerson("ann"), &ast.Match{}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2")
	assert.Equal(t, qerr.KindExecution, qerr.KindOf(err))
}

func TestEngineLogsStatements(t *testing.T) {
	db := newPeople(t, config.Default())
	var buf bytes.Buffer
	reg := metrics.NewRegistry()
	e, err := New(db, WithLogger(logging.NewJSONLogger(&buf, logging.InfoLevel)), WithMetrics(reg))
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), selectPerson("ann"), nil)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), &ast.Match{}, nil)
	require.Error(t, err)

	assert.Contains(t, buf.String(), `"statement executed"`)
	assert.Contains(t, buf.String(), `"status":"error"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.QueriesTotal.WithLabelValues("MATCH", "error")))
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	db := newPeople(t, config.Default())
	cfg := config.Default()
	cfg.TimeoutStrategy = "IGNORE"
	_, err := New(db, WithConfig(cfg))
	assert.Error(t, err)
}

func TestOpenStoreBadger(t *testing.T) {
	cfg := config.Default()
	cfg.IndexBackend = config.BackendBadger
	cfg.BadgerDir = t.TempDir()
	db := newPeople(t, cfg)

	_, err := db.Store().CreateIndex("Person.name", "Person", false, "name")
	require.NoError(t, err)

	e, err := New(db, WithConfig(cfg))
	require.NoError(t, err)
	out, err := e.Explain(selectPerson("bob"))
	require.NoError(t, err)
	assert.Contains(t, out, "Person.name")

	rows, err := e.Execute(context.Background(), selectPerson("bob"), nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].Property("name"))
}
