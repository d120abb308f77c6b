package value

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-query/pkg/rid"
)

type ident rid.RID

func (i ident) Identity() rid.RID { return rid.RID(i) }

func TestCompare(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		a, b   any
		want   int
		wantOK bool
	}{
		{"int vs int", 1, 2, -1, true},
		{"int vs float", int32(3), 2.5, 1, true},
		{"float equal int", 4.0, int64(4), 0, true},
		{"strings", "b", "a", 1, true},
		{"bools", false, true, -1, true},
		{"times", now, now.Add(time.Second), -1, true},
		{"rid vs identifiable", rid.New(1, 2), ident(rid.New(1, 2)), 0, true},
		{"tuple prefix", []any{1, "a"}, []any{1, "b"}, -1, true},
		{"shorter tuple first", []any{1}, []any{1, 2}, -1, true},
		{"nil vs nil", nil, nil, 0, true},
		{"string vs int", "1", 1, 0, false},
		{"nil vs int", nil, 1, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compare(tt.a, tt.b)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("Compare(%v, %v) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEqualsAndKey(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{1, int64(1), true},
		{1, 1.0, true},
		{"x", "x", true},
		{map[string]any{"a": 1}, map[string]any{"a": int64(1)}, true},
		{map[string]any{"a": 1}, map[string]any{"a": 2}, false},
		{[]string{"a"}, []any{"a"}, true},
		{rid.New(1, 1), ident(rid.New(1, 1)), true},
	}
	for _, tt := range tests {
		if got := Equals(tt.a, tt.b); got != tt.want {
			t.Errorf("Equals(%v, %v) = %v", tt.a, tt.b, got)
		}
		if tt.want && Key(tt.a) != Key(tt.b) {
			t.Errorf("Key(%v) = %q, Key(%v) = %q", tt.a, Key(tt.a), tt.b, Key(tt.b))
		}
	}
	if Key("1") == Key(1) {
		t.Error("string and number must not share a key")
	}
}

func TestCollections(t *testing.T) {
	if l := ToList(nil); len(l) != 0 {
		t.Errorf("ToList(nil) = %v", l)
	}
	if l := ToList(5); len(l) != 1 || l[0] != int64(5) {
		t.Errorf("ToList(5) = %v", l)
	}
	if Unwrap([]any{"only"}) != "only" {
		t.Error("singleton should unwrap")
	}
	if v := Unwrap([]any{1, 2}); !IsCollection(v) {
		t.Error("two-element list must not unwrap")
	}
	if r, ok := AsRID("#4:5"); !ok || r != rid.New(4, 5) {
		t.Errorf("AsRID string = %v, %v", r, ok)
	}
	if _, ok := AsRID("hello"); ok {
		t.Error("plain string is not a RID")
	}
	if !Truthy(true) || Truthy("true") || Truthy(nil) {
		t.Error("only boolean true is truthy")
	}
}

// sample is one generated value of a kind picked by tag.
type sample struct {
	tag int
	i   int64
	s   string
	b   bool
	f   float64
}

func (v sample) value() any {
	switch v.tag {
	case 0:
		return v.i
	case 1:
		return v.s
	case 2:
		return v.b
	}
	return v.f
}

func TestSortCompareIsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	genSample := gopter.CombineGens(
		gen.IntRange(0, 3),
		gen.Int64Range(-1000, 1000),
		gen.AlphaString(),
		gen.Bool(),
		gen.Float64Range(-1000, 1000),
	).Map(func(v []any) sample {
		return sample{tag: v[0].(int), i: v[1].(int64), s: v[2].(string), b: v[3].(bool), f: v[4].(float64)}
	})

	properties.Property("antisymmetric", prop.ForAll(
		func(a, b sample) bool {
			return SortCompare(a.value(), b.value()) == -SortCompare(b.value(), a.value())
		},
		genSample, genSample,
	))

	properties.Property("equal values share keys", prop.ForAll(
		func(a sample) bool {
			return SortCompare(a.value(), a.value()) == 0 && Key(a.value()) == Key(a.value())
		},
		genSample,
	))

	properties.TestingRun(t)
}
