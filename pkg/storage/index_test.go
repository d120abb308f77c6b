package storage

import (
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/value"
)

type backend struct {
	name string
	open func(t *testing.T, def *schema.IndexDef) Index
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T, def *schema.IndexDef) Index {
			idx, _ := NewMemoryIndex(def)
			return idx
		}},
		{"badger", func(t *testing.T, def *schema.IndexDef) Index {
			b, err := OpenBadgerBackend("")
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			idx, err := b.OpenIndex(def)
			require.NoError(t, err)
			return idx
		}},
	}
}

func drain(t *testing.T, c Cursor) []Entry {
	t.Helper()
	defer c.Close()
	var out []Entry
	for {
		e, ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func keys(entries []Entry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func TestIndexRanges(t *testing.T) {
	def := &schema.IndexDef{Name: "Item.key", Class: "Item", Fields: []string{"key"}}

	tests := []struct {
		name string
		rng  Range
		want []any
	}{
		{"point", Point(int64(5), true), []any{int64(5)}},
		{"ge 5 lt 8", Range{From: 5, HasFrom: true, FromInclusive: true, To: 8, HasTo: true, Ascending: true}, []any{int64(5), int64(6), int64(7)}},
		{"gt 5 le 8", Range{From: 5, HasFrom: true, To: 8, HasTo: true, ToInclusive: true, Ascending: true}, []any{int64(6), int64(7), int64(8)}},
		{"gt 7 open", Range{From: 7, HasFrom: true, Ascending: true}, []any{int64(8), int64(9)}},
		{"lt 2 desc", Range{To: 2, HasTo: true, Ascending: false}, []any{int64(1), int64(0)}},
		{"all desc", Range{Ascending: false}, []any{int64(9), int64(8), int64(7), int64(6), int64(5), int64(4), int64(3), int64(2), int64(1), int64(0)}},
		{"float bound", Range{From: 2.5, HasFrom: true, To: 4.0, HasTo: true, ToInclusive: true, Ascending: true}, []any{int64(3), int64(4)}},
		{"empty", Range{From: 20, HasFrom: true, Ascending: true}, []any{}},
	}

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			idx := b.open(t, def)
			for i := 9; i >= 0; i-- {
				require.NoError(t, idx.Put(i, rid.New(1, int64(i))))
			}
			assert.Equal(t, int64(10), idx.Size())

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					c, err := idx.Iterate(tt.rng)
					require.NoError(t, err)
					assert.Equal(t, tt.want, keys(drain(t, c)))
				})
			}
		})
	}
}

func TestCompositeIndexPrefix(t *testing.T) {
	def := &schema.IndexDef{Name: "P.name_age", Class: "P", Fields: []string{"name", "age"}}
	rows := []struct {
		name string
		age  int64
	}{{"ann", 30}, {"ann", 20}, {"bob", 25}, {"bo", 99}}

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			idx := b.open(t, def)
			for i, r := range rows {
				require.NoError(t, idx.Put([]any{r.name, r.age}, rid.New(2, int64(i))))
			}

			c, err := idx.Iterate(Point([]any{"ann"}, true))
			require.NoError(t, err)
			assert.Equal(t, []any{[]any{"ann", int64(20)}, []any{"ann", int64(30)}}, keys(drain(t, c)))

			c, err = idx.Iterate(Point([]any{"ann", 30}, true))
			require.NoError(t, err)
			got := drain(t, c)
			require.Len(t, got, 1)
			assert.Equal(t, rid.New(2, 0), got[0].RID)

			c, err = idx.Iterate(Range{From: []any{"ann"}, HasFrom: true, Ascending: true})
			require.NoError(t, err)
			assert.Equal(t, []any{[]any{"bo", int64(99)}, []any{"bob", int64(25)}}, keys(drain(t, c)))
		})
	}
}

func TestUniqueIndex(t *testing.T) {
	def := &schema.IndexDef{Name: "U.code", Class: "U", Fields: []string{"code"}, Unique: true}
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			idx := b.open(t, def)
			require.NoError(t, idx.Put("x", rid.New(1, 1)))
			require.NoError(t, idx.Put("x", rid.New(1, 1)), "re-putting the same entry is a no-op")
			assert.ErrorIs(t, idx.Put("x", rid.New(1, 2)), ErrDuplicateKey)
			require.NoError(t, idx.Remove("x", rid.New(1, 1)))
			require.NoError(t, idx.Put("x", rid.New(1, 2)))
			assert.Equal(t, int64(1), idx.Size())
		})
	}
}

func TestKeyCodecRoundTrip(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	values := []any{nil, false, true, int64(-3), int64(0), 2.5, "", "a\x00b", when, []byte{0, 1}, rid.New(3, 4), []any{"x", int64(1)}}

	for _, v := range values {
		enc := encodeIndexKey(false, v)
		got, err := decodeIndexKey(false, enc)
		require.NoError(t, err)
		assert.True(t, value.Equals(v, got) || (v == nil && got == nil), "round trip %v -> %v", v, got)
	}
}

func TestKeyCodecPreservesOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("int64 order", prop.ForAll(
		func(a, b int64) bool {
			a, b = a>>11, b>>11 // stay within float64 precision
			return sign(value.SortCompare(a, b)) == sign(compareBytes(encodeIndexKey(false, a), encodeIndexKey(false, b)))
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.Property("string order", prop.ForAll(
		func(a, b string) bool {
			return sign(value.SortCompare(a, b)) == sign(compareBytes(encodeIndexKey(false, a), encodeIndexKey(false, b)))
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("float order", prop.ForAll(
		func(a, b float64) bool {
			return sign(value.SortCompare(a, b)) == sign(compareBytes(encodeIndexKey(false, a), encodeIndexKey(false, b)))
		},
		gen.Float64Range(-1e12, 1e12),
		gen.Float64Range(-1e12, 1e12),
	))

	properties.TestingRun(t)
}

func TestMemoryAndBadgerAgree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	def := &schema.IndexDef{Name: "A.v", Class: "A", Fields: []string{"v"}}
	properties.Property("same ascending scan", prop.ForAll(
		func(vals []int, lo int) bool {
			b, err := OpenBadgerBackend("")
			if err != nil {
				return false
			}
			defer b.Close()
			bi, _ := b.OpenIndex(def)
			mi, _ := NewMemoryIndex(def)
			for i, v := range vals {
				_ = bi.Put(v, rid.New(0, int64(i)))
				_ = mi.Put(v, rid.New(0, int64(i)))
			}
			rng := Range{From: lo, HasFrom: true, FromInclusive: true, Ascending: true}
			bc, _ := bi.Iterate(rng)
			mc, _ := mi.Iterate(rng)
			be, me := drain(t, bc), drain(t, mc)
			if len(be) != len(me) {
				return false
			}
			for i := range be {
				if be[i].RID != me[i].RID {
					return false
				}
			}
			return sort.SliceIsSorted(be, func(i, j int) bool { return value.SortCompare(be[i].Key, be[j].Key) < 0 })
		},
		gen.SliceOf(gen.IntRange(-50, 50)),
		gen.IntRange(-60, 60),
	))

	properties.TestingRun(t)
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
