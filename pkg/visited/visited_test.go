package visited

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-query/pkg/rid"
)

func TestAddContainsRemove(t *testing.T) {
	tests := []struct {
		name string
		r    rid.RID
	}{
		{"origin", rid.New(0, 0)},
		{"word boundary", rid.New(1, 63)},
		{"next word", rid.New(1, 64)},
		{"second block", rid.New(2, blockSize+5)},
		{"far cluster", rid.New(300, 1<<20)},
		{"huge position", rid.New(1, 1<<40)},
		{"huge cluster", rid.New(1<<30, 5)},
		{"transient cluster", rid.New(-1, 7)},
		{"transient position", rid.New(4, -2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			if s.Contains(tt.r) {
				t.Fatal("empty set contains element")
			}
			if !s.Add(tt.r) {
				t.Fatal("first Add should report newly added")
			}
			if s.Add(tt.r) {
				t.Fatal("second Add should report already present")
			}
			if !s.Contains(tt.r) || s.Len() != 1 {
				t.Fatalf("Contains=%v Len=%d after Add", s.Contains(tt.r), s.Len())
			}
			if !s.Remove(tt.r) {
				t.Fatal("Remove should report previously present")
			}
			if s.Contains(tt.r) || s.Len() != 0 {
				t.Fatal("element still present after Remove")
			}
			if s.Remove(tt.r) {
				t.Fatal("Remove of absent element should be a no-op")
			}
		})
	}
}

func TestFarIdentitiesStaySparse(t *testing.T) {
	s := New()
	in := []rid.RID{rid.New(1<<30, 1<<40), rid.New(1, 1<<40), rid.New(1, 7), rid.New(1, 1<<41), rid.New(3, 2)}
	for _, r := range in {
		if !s.Add(r) {
			t.Fatalf("Add(%v) reported present", r)
		}
	}
	if len(s.clusters) > maxDense {
		t.Fatalf("cluster table grew to %d", len(s.clusters))
	}
	for _, tb := range s.clusters {
		if tb != nil && len(tb.dense) > maxDense {
			t.Fatalf("block table grew to %d", len(tb.dense))
		}
	}

	var got []rid.RID
	s.Each(func(r rid.RID) bool {
		got = append(got, r)
		return true
	})
	want := []rid.RID{rid.New(1, 7), rid.New(1, 1<<40), rid.New(1, 1<<41), rid.New(3, 2), rid.New(1<<30, 1<<40)}
	if len(got) != len(want) {
		t.Fatalf("Each visited %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Each[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if !s.Remove(rid.New(1, 1<<40)) || s.Contains(rid.New(1, 1<<40)) || s.Len() != len(in)-1 {
		t.Error("Remove of a sparse identity failed")
	}
}

func TestNeighboursDoNotCollide(t *testing.T) {
	var s Set
	s.Add(rid.New(1, 10))
	for _, r := range []rid.RID{rid.New(1, 9), rid.New(1, 11), rid.New(0, 10), rid.New(2, 10), rid.New(1, 10+blockSize)} {
		if s.Contains(r) {
			t.Errorf("unexpected member %v", r)
		}
	}
}

func TestEachAndClear(t *testing.T) {
	s := New()
	in := []rid.RID{rid.New(2, 1), rid.New(0, 5000), rid.New(0, 3), rid.New(-1, -1)}
	for _, r := range in {
		s.Add(r)
	}

	var got []rid.RID
	s.Each(func(r rid.RID) bool {
		got = append(got, r)
		return true
	})
	want := []rid.RID{rid.New(0, 3), rid.New(0, 5000), rid.New(2, 1), rid.New(-1, -1)}
	if len(got) != len(want) {
		t.Fatalf("Each visited %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Each[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	s.Clear()
	if s.Len() != 0 || s.Contains(rid.New(0, 3)) || s.Contains(rid.New(-1, -1)) {
		t.Error("Clear left elements behind")
	}
}

func TestSetMatchesMapModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genRID := gopter.CombineGens(gen.Int32Range(-2, 40), gen.Int64Range(-3, 3*blockSize)).Map(
		func(v []any) rid.RID { return rid.New(v[0].(int32), v[1].(int64)) },
	)

	properties.Property("add/contains/remove agree with a map", prop.ForAll(
		func(adds, removes []rid.RID) bool {
			s := New()
			model := map[rid.RID]bool{}
			for _, r := range adds {
				if s.Add(r) == model[r] {
					return false
				}
				model[r] = true
			}
			for _, r := range removes {
				if s.Remove(r) != model[r] {
					return false
				}
				delete(model, r)
			}
			if s.Len() != len(model) {
				return false
			}
			for _, r := range adds {
				if s.Contains(r) != model[r] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genRID),
		gen.SliceOf(genRID),
	))

	properties.TestingRun(t)
}
