package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	sch := schema.New()
	sch.MustCreateClass("Person", schema.VertexClass)
	sch.MustCreateClass("Employee", "Person")
	sch.MustCreateClass("Friend", schema.EdgeClass)
	sch.MustCreateClass("Note", "")
	s := NewStore(sch, opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

func person(name string, age int) *Record {
	r := NewRecord("Person", KindVertex)
	r.Set("name", name)
	r.Set("age", age)
	return r
}

func TestSaveAndLoad(t *testing.T) {
	db := newTestStore(t).Session()

	saved, err := db.Save(person("alice", 30))
	require.NoError(t, err)
	assert.True(t, saved.Identity().IsPersistent())
	assert.Equal(t, int64(1), saved.Version())

	loaded, err := db.Load(saved.Identity())
	require.NoError(t, err)
	name, _ := loaded.Get("name")
	assert.Equal(t, "alice", name)
	assert.Equal(t, []string{"name", "age"}, loaded.PropertyNames())

	// Loaded records are private copies.
	loaded.Set("name", "mallory")
	again, _ := db.Load(saved.Identity())
	name, _ = again.Get("name")
	assert.Equal(t, "alice", name)

	_, err = db.Load(rid.New(99, 0))
	assert.True(t, IsNotFound(err))
}

func TestVersionConflictIsRetryable(t *testing.T) {
	store := newTestStore(t, WithMetrics(metrics.NewRegistry()))
	a, b := store.Session(), store.Session()

	rec, err := a.Save(person("bob", 40))
	require.NoError(t, err)

	require.NoError(t, a.Begin())
	ra, _ := a.Load(rec.Identity())
	ra.Set("age", 41)
	_, err = a.Save(ra)
	require.NoError(t, err)

	rb, _ := b.Load(rec.Identity())
	rb.Set("age", 42)
	_, err = b.Save(rb)
	require.NoError(t, err)

	err = a.Commit()
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.True(t, qerr.IsRetryable(err))
	assert.ErrorIs(t, err, qerr.ErrRetry)
	assert.False(t, a.InTx())

	final, _ := a.Load(rec.Identity())
	age, _ := final.Get("age")
	assert.Equal(t, 42, age)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	db := newTestStore(t).Session()

	require.NoError(t, db.Begin())
	saved, err := db.Save(person("carol", 22))
	require.NoError(t, err)
	assert.True(t, db.Exists(saved.Identity()), "visible inside the transaction")
	assert.Equal(t, int64(1), db.CountClass("Person", true))

	require.NoError(t, db.Rollback())
	assert.False(t, db.Exists(saved.Identity()))
	assert.Equal(t, int64(0), db.CountClass("Person", true))

	assert.Error(t, db.Rollback())
	require.NoError(t, db.Begin())
	assert.True(t, errors.Is(db.Begin(), ErrNestedTx))
}

func TestScanOrderAndPolymorphicCount(t *testing.T) {
	db := newTestStore(t).Session()
	for _, n := range []string{"a", "b", "c"} {
		_, err := db.Save(person(n, 1))
		require.NoError(t, err)
	}
	emp := NewRecord("Employee", KindVertex)
	emp.Set("name", "e")
	_, err := db.Save(emp)
	require.NoError(t, err)

	cls, _ := db.Schema().Class("Person")
	it, err := db.Scan(cls.DefaultCluster(), false)
	require.NoError(t, err)
	defer it.Close()

	var names []any
	for {
		rec, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		n, _ := rec.Get("name")
		names = append(names, n)
	}
	assert.Equal(t, []any{"c", "b", "a"}, names)
	assert.Equal(t, int64(4), db.CountClass("Person", true))
	assert.Equal(t, int64(3), db.CountClass("Person", false))

	_, err = db.Scan(1234, true)
	assert.Error(t, err)
}

func TestEdgesAndCascadingDelete(t *testing.T) {
	db := newTestStore(t).Session()
	p1, _ := db.Save(person("p1", 1))
	p2, _ := db.Save(person("p2", 2))
	note, _ := db.Save(NewRecord("Note", KindDocument))

	e, err := db.CreateEdge("Friend", p1.Identity(), p2.Identity(), map[string]any{"since": 2020})
	require.NoError(t, err)
	assert.Equal(t, p1.Identity(), e.Out())
	assert.Equal(t, p2.Identity(), e.In())

	_, err = db.CreateEdge("Friend", p1.Identity(), note.Identity(), nil)
	assert.ErrorIs(t, err, ErrNotVertex)

	out, err := db.Edges(p1.Identity(), DirOut, "Friend")
	require.NoError(t, err)
	require.Len(t, out, 1)
	in, _ := db.Edges(p1.Identity(), DirIn)
	assert.Empty(t, in)
	both, _ := db.Edges(p2.Identity(), DirBoth, "E")
	assert.Len(t, both, 1)

	require.NoError(t, db.Delete(p1.Identity()))
	assert.False(t, db.Exists(e.Identity()), "edges of a deleted vertex are removed")
	both, _ = db.Edges(p2.Identity(), DirBoth)
	assert.Empty(t, both)
}

func TestEdgesInsideTransaction(t *testing.T) {
	db := newTestStore(t).Session()
	p1, _ := db.Save(person("p1", 1))
	p2, _ := db.Save(person("p2", 2))

	require.NoError(t, db.Begin())
	_, err := db.CreateEdge("Friend", p1.Identity(), p2.Identity(), nil)
	require.NoError(t, err)
	out, _ := db.Edges(p1.Identity(), DirOut)
	assert.Len(t, out, 1)
	require.NoError(t, db.Commit())

	out, _ = db.Edges(p1.Identity(), DirOut)
	assert.Len(t, out, 1)
}

func TestIndexMaintenance(t *testing.T) {
	store := newTestStore(t)
	db := store.Session()
	_, err := db.Save(person("zed", 50))
	require.NoError(t, err)

	idx, err := store.CreateIndex("Person.name", "Person", true, "name")
	require.NoError(t, err)
	assert.Equal(t, int64(1), idx.Size(), "existing records are indexed")

	amy, err := db.Save(person("amy", 20))
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx.Size())

	_, err = db.Save(person("amy", 21))
	assert.ErrorIs(t, err, ErrDuplicateKey)

	amy.Set("name", "amelia")
	_, err = db.Save(amy)
	require.NoError(t, err)

	cur, err := idx.Iterate(Point("amelia", true))
	require.NoError(t, err)
	e, ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, amy.Identity(), e.RID)
	cur.Close()

	require.NoError(t, db.Delete(amy.Identity()))
	assert.Equal(t, int64(1), idx.Size())
}

func TestMoveToCluster(t *testing.T) {
	store := newTestStore(t)
	db := store.Session()
	extra, err := store.Schema().AddCluster("Person", "person_archive")
	require.NoError(t, err)

	p, _ := db.Save(person("old", 90))
	moved, err := db.SaveToCluster(p, extra)
	require.NoError(t, err)
	assert.Equal(t, extra, moved.Identity().Cluster)
	assert.NotEqual(t, p.Identity(), moved.Identity())
}
