package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/config"
	"github.com/dd0wney/cluso-query/pkg/engine"
	"github.com/dd0wney/cluso-query/pkg/logging"
	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

type sample struct {
	name string
	stmt ast.Statement
}

type person struct {
	name string
	age  int64
	city string
}

var people = []person{
	{"ann", 34, "rome"},
	{"bob", 28, "oslo"},
	{"cid", 41, "rome"},
	{"dee", 25, ""},
	{"eve", 37, "kyiv"},
}

var friendships = [][2]string{
	{"ann", "bob"}, {"ann", "cid"}, {"bob", "dee"}, {"cid", "eve"}, {"eve", "ann"},
}

// demoGraph holds the sample store and an engine over it.
type demoGraph struct {
	engine *engine.Engine
	close  func() error
}

func loadDemo(cfg *config.Config, logger logging.Logger, reg *metrics.Registry) (*demoGraph, error) {
	sch := schema.New()
	sch.MustCreateClass("Person", schema.VertexClass)
	sch.MustCreateClass("City", schema.VertexClass)
	sch.MustCreateClass("Friend", schema.EdgeClass)
	sch.MustCreateClass("LivesIn", schema.EdgeClass)

	store, closeFn, err := engine.OpenStore(cfg, sch, reg)
	if err != nil {
		return nil, err
	}
	if err := seedDemo(store); err != nil {
		_ = closeFn()
		return nil, err
	}
	e, err := engine.New(store.Session(),
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithMetrics(reg),
	)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	return &demoGraph{engine: e, close: closeFn}, nil
}

func seedDemo(store *storage.Store) error {
	if _, err := store.CreateIndex("Person.name", "Person", true, "name"); err != nil {
		return err
	}
	db := store.Session()
	save := func(class string, props map[string]any) (*storage.Record, error) {
		rec := storage.NewRecord(class, storage.KindVertex)
		for k, v := range props {
			rec.Set(k, v)
		}
		return db.Save(rec)
	}

	cities := make(map[string]*storage.Record)
	for _, name := range []string{"rome", "oslo", "kyiv"} {
		rec, err := save("City", map[string]any{"name": name})
		if err != nil {
			return err
		}
		cities[name] = rec
	}
	byName := make(map[string]*storage.Record)
	for _, p := range people {
		rec, err := save("Person", map[string]any{"name": p.name, "age": p.age})
		if err != nil {
			return err
		}
		byName[p.name] = rec
		if p.city == "" {
			continue
		}
		if _, err := db.CreateEdge("LivesIn", rec.Identity(), cities[p.city].Identity(), nil); err != nil {
			return err
		}
	}
	for _, f := range friendships {
		if _, err := db.CreateEdge("Friend", byName[f[0]].Identity(), byName[f[1]].Identity(), nil); err != nil {
			return err
		}
	}
	return nil
}

func field(alias, name string) ast.Expr {
	return &ast.FieldAccess{Base: ast.Prop(alias), Field: name}
}

func as(e ast.Expr, alias string) ast.ProjectionItem {
	return ast.ProjectionItem{Expr: e, Alias: alias}
}

func samples() []sample {
	depth := 3
	return []sample{
		{"adults", &ast.Select{
			Target:  ast.Target{Kind: ast.TargetClass, Name: "Person"},
			Where:   ast.Cmp(ast.Prop("age"), ast.OpGe, ast.Lit(30)),
			OrderBy: []ast.OrderItem{{Expr: ast.Prop("name")}},
		}},
		{"lookup", &ast.Select{
			Target: ast.Target{Kind: ast.TargetClass, Name: "Person"},
			Where:  ast.Eq(ast.Prop("name"), ast.Lit("bob")),
		}},
		{"friends", &ast.Match{
			Patterns: []*ast.PathExpr{{
				Origin: &ast.NodeFilter{Class: "Person", Alias: "p"},
				Items:  []*ast.PathItem{{Method: ast.Method("out", "Friend"), Filter: &ast.NodeFilter{Alias: "f"}}},
			}},
			Return:  []ast.ProjectionItem{as(field("p", "name"), "person"), as(field("f", "name"), "friend")},
			OrderBy: []ast.OrderItem{{Expr: ast.Prop("person")}, {Expr: ast.Prop("friend")}},
		}},
		{"neighbours", &ast.Match{
			Patterns: []*ast.PathExpr{{
				Origin: &ast.NodeFilter{Class: "City", Alias: "c", Where: ast.Eq(ast.Prop("name"), ast.Lit("rome"))},
				Items: []*ast.PathItem{
					{Method: ast.Method("in", "LivesIn"), Filter: &ast.NodeFilter{Alias: "p"}},
					{Method: ast.Method("both", "Friend"), Filter: &ast.NodeFilter{Alias: "q", Optional: true}},
				},
			}},
			Return:  []ast.ProjectionItem{as(field("p", "name"), "resident"), as(field("q", "name"), "friend")},
			OrderBy: []ast.OrderItem{{Expr: ast.Prop("resident")}, {Expr: ast.Prop("friend")}},
		}},
		{"reach", &ast.Match{
			Patterns: []*ast.PathExpr{{
				Origin: &ast.NodeFilter{Class: "Person", Alias: "p", Where: ast.Eq(ast.Prop("name"), ast.Lit("ann"))},
				Items: []*ast.PathItem{{Method: ast.Method("out", "Friend"), Filter: &ast.NodeFilter{
					Alias: "r", While: ast.Lit(true), MaxDepth: &depth, DepthAlias: "d",
				}}},
			}},
			Return:  []ast.ProjectionItem{as(field("r", "name"), "name"), as(ast.Prop("d"), "depth")},
			OrderBy: []ast.OrderItem{{Expr: ast.Prop("depth")}, {Expr: ast.Prop("name")}},
		}},
		{"homeless", &ast.Match{
			Patterns: []*ast.PathExpr{{Origin: &ast.NodeFilter{Class: "Person", Alias: "p"}}},
			NotPatterns: []*ast.PathExpr{{
				Origin: &ast.NodeFilter{Alias: "p"},
				Items:  []*ast.PathItem{{Method: ast.Method("out", "LivesIn")}},
			}},
			Return: []ast.ProjectionItem{as(field("p", "name"), "name")},
		}},
	}
}

// pick returns the samples named in names, or all of them.
func pick(names []string) ([]sample, error) {
	all := samples()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]sample, len(all))
	known := make([]string, len(all))
	for i, s := range all {
		byName[s.name] = s
		known[i] = s.name
	}
	out := make([]sample, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown statement %q (known: %s)", n, strings.Join(known, ", "))
		}
		out = append(out, s)
	}
	return out, nil
}

func runDemo(ctx context.Context, w io.Writer, g *demoGraph, selected []sample, profile bool) error {
	fmt.Fprintln(w, titleStyle.Render("cluso-query demo"))
	for _, s := range selected {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(s.name))
		fmt.Fprintln(w, statementStyle.Render(s.stmt.String()))

		var (
			rows []*result.Row
			plan string
			err  error
		)
		if profile {
			rows, plan, err = g.engine.Profile(ctx, s.stmt, nil)
		} else {
			rows, err = g.engine.Execute(ctx, s.stmt, nil)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if err := result.FormatTable(w, rows); err != nil {
			return err
		}
		if plan != "" {
			fmt.Fprint(w, plan)
		}
	}
	return nil
}

func runExplain(w io.Writer, g *demoGraph, selected []sample) error {
	for _, s := range selected {
		plan, err := g.engine.Explain(s.stmt)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		fmt.Fprintln(w, headerStyle.Render(s.name))
		fmt.Fprintln(w, statementStyle.Render(s.stmt.String()))
		fmt.Fprint(w, plan)
		fmt.Fprintln(w)
	}
	return nil
}

func openDemo(cmd *cobra.Command) (*demoGraph, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return loadDemo(cfg, newLogger(cfg), metrics.NewRegistry())
}

func runDemoCommand(cmd *cobra.Command, args []string) error {
	selected, err := pick(args)
	if err != nil {
		return err
	}
	g, err := openDemo(cmd)
	if err != nil {
		return err
	}
	defer g.close()
	profile, _ := cmd.Flags().GetBool("profile")
	return runDemo(cmd.Context(), cmd.OutOrStdout(), g, selected, profile)
}

func runExplainCommand(cmd *cobra.Command, args []string) error {
	selected, err := pick(args)
	if err != nil {
		return err
	}
	g, err := openDemo(cmd)
	if err != nil {
		return err
	}
	defer g.close()
	return runExplain(cmd.OutOrStdout(), g, selected)
}
