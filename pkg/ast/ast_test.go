package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

type testContext struct {
	vars   map[string]any
	params map[string]any
	db     storage.Database
}

func (c *testContext) Variable(name string) (any, bool) { v, ok := c.vars[name]; return v, ok }
func (c *testContext) Param(name string) (any, bool)    { v, ok := c.params[name]; return v, ok }
func (c *testContext) Database() storage.Database       { return c.db }

type mapRow map[string]any

func (m mapRow) Get(name string) (any, bool) { v, ok := m[name]; return v, ok }

func TestEval(t *testing.T) {
	row := mapRow{"name": "alice", "age": int64(30), "tags": []any{"a", "b"}, "score": 2.5, "nick": nil}
	ctx := &testContext{
		vars:   map[string]any{"$limit": int64(18), "$doc": map[string]any{"x": int64(7)}},
		params: map[string]any{"min": 21, "0": "alice"},
	}

	tests := []struct {
		name string
		expr Expr
		want any
	}{
		{"property", Prop("name"), "alice"},
		{"missing property", Prop("nope"), nil},
		{"int arithmetic", &Binary{Left: Prop("age"), Operator: "+", Right: Lit(1)}, int64(31)},
		{"mixed arithmetic", &Binary{Left: Prop("age"), Operator: "*", Right: Prop("score")}, 75.0},
		{"null propagates", &Binary{Left: Prop("nick"), Operator: "+", Right: Lit(1)}, nil},
		{"string concat", &Binary{Left: Prop("name"), Operator: "+", Right: Lit("!")}, "alice!"},
		{"named param", Cmp(Prop("age"), OpGe, &Param{Name: "min"}), true},
		{"positional param", Eq(Prop("name"), &Param{Name: "0"}), true},
		{"variable", Cmp(Prop("age"), OpGt, Var("$limit")), true},
		{"field of variable", &FieldAccess{Base: Var("$doc"), Field: "x"}, int64(7)},
		{"index access", &IndexAccess{Base: Prop("tags"), Index: Lit(-1)}, "b"},
		{"index out of range", &IndexAccess{Base: Prop("tags"), Index: Lit(5)}, nil},
		{"and", AndOf(Eq(Prop("name"), Lit("alice")), Cmp(Prop("age"), OpLt, Lit(40))), true},
		{"empty and", AndOf(), true},
		{"or", OrOf(Eq(Prop("name"), Lit("bob")), Eq(Prop("age"), Lit(30))), true},
		{"not", &Not{Expr: Eq(Prop("name"), Lit("bob"))}, true},
		{"between inclusive", &Between{Expr: Prop("age"), Low: Lit(30), High: Lit(30)}, true},
		{"null comparison is false", Eq(Prop("nick"), Lit(nil)), false},
		{"is null", &IsNull{Expr: Prop("nick")}, true},
		{"is not null", &IsNull{Expr: Prop("name"), Negate: true}, true},
		{"in", &In{Left: Lit("b"), Right: Prop("tags")}, true},
		{"contains", &Contains{Left: Prop("tags"), Right: Lit("c")}, false},
		{"like", Cmp(Prop("name"), OpLike, Lit("al%e")), true},
		{"like single char", Cmp(Prop("name"), OpLike, Lit("_lice")), true},
		{"like no match", Cmp(Prop("name"), OpLike, Lit("bob%")), false},
		{"function", &Call{Name: "toUpperCase", Args: []Expr{Prop("name")}}, "ALICE"},
		{"method on receiver", &Call{Receiver: Prop("tags"), Name: "size"}, int64(2)},
		{"list literal", &ListLit{Items: []Expr{Lit(1), Prop("name")}}, []any{int64(1), "alice"}},
		{"map literal", &MapLit{Entries: map[string]Expr{"n": Prop("name")}}, map[string]any{"n": "alice"}},
		{"count star detection", Lit(IsCountStar(&Call{Name: "COUNT", Args: []Expr{Star{}}})), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.expr.Eval(row, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	ctx := &testContext{}
	tests := []struct {
		name string
		expr Expr
	}{
		{"division by zero", &Binary{Left: Lit(1), Operator: "/", Right: Lit(0)}},
		{"unbound parameter", &Param{Name: "x"}},
		{"unknown function", &Call{Name: "nope"}},
		{"bad operands", &Binary{Left: Lit(true), Operator: "-", Right: Lit(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.expr.Eval(mapRow{}, ctx)
			assert.Error(t, err)
		})
	}
}

func TestMatchesNilCondition(t *testing.T) {
	ok, err := Matches(nil, mapRow{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(Lit("true"), mapRow{}, nil)
	require.NoError(t, err)
	assert.False(t, ok, "only boolean true matches")
}

func graphFixture(t *testing.T) (*storage.Session, map[string]*storage.Record) {
	t.Helper()
	sch := schema.New()
	sch.MustCreateClass("Person", schema.VertexClass)
	sch.MustCreateClass("Friend", schema.EdgeClass)
	sch.MustCreateClass("Knows", schema.EdgeClass)
	db := storage.NewStore(sch).Session()

	people := map[string]*storage.Record{}
	for _, name := range []string{"a", "b", "c"} {
		rec := storage.NewRecord("Person", storage.KindVertex)
		rec.Set("name", name)
		saved, err := db.Save(rec)
		require.NoError(t, err)
		people[name] = saved
	}
	_, err := db.CreateEdge("Friend", people["a"].Identity(), people["b"].Identity(), nil)
	require.NoError(t, err)
	_, err = db.CreateEdge("Knows", people["a"].Identity(), people["c"].Identity(), map[string]any{"since": 2020})
	require.NoError(t, err)
	return db, people
}

func names(t *testing.T, v any) []string {
	t.Helper()
	var out []string
	for _, item := range v.([]any) {
		rec := item.(*storage.Record)
		n, ok := rec.Get("name")
		if !ok {
			n, _ = rec.Get("@class")
		}
		out = append(out, n.(string))
	}
	return out
}

func TestGraphMethods(t *testing.T) {
	db, people := graphFixture(t)
	ctx := &testContext{db: db}

	tests := []struct {
		name string
		from string
		expr *Call
		want []string
	}{
		{"out any class", "a", Method("out"), []string{"b", "c"}},
		{"out by class", "a", Method("out", "Friend"), []string{"b"}},
		{"in", "b", Method("in", "Friend"), []string{"a"}},
		{"both", "c", Method("both"), []string{"a"}},
		{"no edges", "b", Method("out"), nil},
		{"outE", "a", Method("outE", "Knows"), []string{"Knows"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.expr.Eval(people[tt.from], ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, names(t, got))
		})
	}

	t.Run("chained through receiver", func(t *testing.T) {
		expr := &Call{Receiver: Method("outE", "Knows"), Name: "inV"}
		got, err := expr.Eval(people["a"], ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, names(t, got))
	})

	t.Run("field of identity loads the record", func(t *testing.T) {
		expr := &FieldAccess{Base: Lit(people["b"].Identity()), Field: "name"}
		got, err := expr.Eval(mapRow{}, ctx)
		require.NoError(t, err)
		assert.Equal(t, "b", got)
	})

	t.Run("instanceof", func(t *testing.T) {
		ok, err := Matches(&InstanceOf{Expr: Prop("@this"), Class: schema.VertexClass}, people["a"], ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestGraphMethodReverse(t *testing.T) {
	tests := []struct{ method, reverse string }{
		{"out", "in"},
		{"in", "out"},
		{"both", "both"},
		{"outE", "outV"},
		{"inE", "inV"},
		{"inV", "inE"},
	}
	for _, tt := range tests {
		g, ok := LookupGraphMethod(tt.method)
		require.True(t, ok)
		assert.Equal(t, tt.reverse, g.Reverse().Name, tt.method)
	}
	_, ok := LookupGraphMethod("size")
	assert.False(t, ok)
}

func TestCodecRoundTrip(t *testing.T) {
	depth := 3
	exprs := []Expr{
		AndOf(
			Cmp(Key(), OpGe, Lit(int64(5))),
			Cmp(Key(), OpLt, &Param{Name: "hi"}),
			&Between{Expr: Prop("age"), Low: Lit(1.5), High: Lit(int64(0))},
		),
		OrOf(&Not{Expr: &IsNull{Expr: Prop("x"), Negate: true}}, &InstanceOf{Expr: Prop("@this"), Class: "Person"}),
		&In{Left: Lit(rid.New(3, 4)), Right: &ListLit{Items: []Expr{Lit(false), Lit(nil), Lit([]any{"a", int64(2)})}}},
		&Call{Receiver: &FieldAccess{Base: Var("$matched"), Field: "p"}, Name: "out", Args: []Expr{Lit("Friend")}},
		&MapLit{Entries: map[string]Expr{"k": &IndexAccess{Base: Prop("l"), Index: Lit(int64(0))}}},
	}
	for _, e := range exprs {
		t.Run(e.String(), func(t *testing.T) {
			node, err := Encode(e)
			require.NoError(t, err)
			data, err := yaml.Marshal(node)
			require.NoError(t, err)

			var back Node
			require.NoError(t, yaml.Unmarshal(data, &back))
			decoded, err := Decode(&back)
			require.NoError(t, err)
			assert.Equal(t, e.String(), decoded.String())
			assert.Equal(t, e, decoded)
		})
	}

	t.Run("path item", func(t *testing.T) {
		item := &PathItem{
			Chain: []*PathItem{{Method: Method("out", "Friend")}, {Method: Method("in")}},
			Filter: &NodeFilter{Alias: "x", Class: "Person", While: Cmp(Var("$depth"), OpLt, Lit(int64(2))),
				MaxDepth: &depth, Optional: true, DepthAlias: "d", PathAlias: "p"},
		}
		enc, err := EncodePathItem(item)
		require.NoError(t, err)
		data, err := yaml.Marshal(enc)
		require.NoError(t, err)
		var back ItemNode
		require.NoError(t, yaml.Unmarshal(data, &back))
		dec, err := DecodePathItem(&back)
		require.NoError(t, err)
		assert.Equal(t, item.String(), dec.String())
		assert.Equal(t, item, dec)
	})
}

func TestStatementStrings(t *testing.T) {
	limit := Lit(10)
	sel := &Select{
		Projection: &Projection{Items: []ProjectionItem{{Expr: Prop("name"), Alias: "n"}}, Distinct: true},
		Target:     Target{Kind: TargetClass, Name: "Person"},
		Where:      Cmp(Prop("age"), OpGt, Lit(18)),
		OrderBy:    []OrderItem{{Expr: Prop("name"), Desc: true}},
		Limit:      limit,
	}
	assert.Equal(t, "SELECT DISTINCT name AS n FROM Person WHERE age > 18 ORDER BY name DESC LIMIT 10", sel.String())

	m := &Match{
		Patterns: []*PathExpr{{
			Origin: &NodeFilter{Class: "Person", Alias: "p"},
			Items:  []*PathItem{{Method: Method("out", "Friend"), Filter: &NodeFilter{Alias: "f"}}},
		}},
		ReturnMode: ReturnElements,
	}
	assert.Equal(t, `MATCH {class: Person, as: p}.out("Friend"){as: f} RETURN $elements`, m.String())

	assert.Equal(t, "COMMIT RETRY 3 ELSE { BEGIN } AND FAIL",
		(&Commit{Retry: 3, Else: []Statement{&Begin{}}, ElseFail: true}).String())
	assert.Equal(t, "name", ProjectionItem{Expr: Prop("name")}.Name())
	assert.True(t, (*Projection)(nil).IsStar())
}
