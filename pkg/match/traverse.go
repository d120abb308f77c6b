package match

import (
	"fmt"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/exec"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/stats"
	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/value"
	"github.com/dd0wney/cluso-query/pkg/visited"
)

type emptyOptional struct{}

func (*emptyOptional) String() string { return "<empty optional>" }

// EmptyOptional is bound to an optional alias that matched nothing, until
// RemoveEmptyOptionalsStep turns it into null.
var EmptyOptional = &emptyOptional{}

func isEmptyOptional(v any) bool {
	_, ok := v.(*emptyOptional)
	return ok
}

// candidates is the materialized candidate set of a prefetched alias.
type candidates struct {
	records []*storage.Record
	ids     *visited.Set
}

func prefetchVar(alias string) string { return "$prefetch." + alias }

func prefetchedOf(ctx *exec.Context, alias string) (*candidates, bool) {
	if alias == "" {
		return nil, false
	}
	v, ok := ctx.Variable(prefetchVar(alias))
	if !ok {
		return nil, false
	}
	c, ok := v.(*candidates)
	return c, ok
}

// recordOf returns the record bound in a match row property.
func recordOf(v any) *storage.Record {
	switch x := v.(type) {
	case *storage.Record:
		return x
	case *result.Row:
		return x.Element()
	}
	return nil
}

// target is one record reached by a traversal, with the number of hops
// taken and the records walked to reach it.
type target struct {
	rec   *storage.Record
	depth int
	path  []*storage.Record
}

// env evaluates node conditions and hops for one match row. Conditions see
// the row as $matched.
type env struct {
	ctx    *exec.Context
	db     storage.Database
	schema schema.Lookup
}

func newEnv(ctx *exec.Context, row *result.Row) *env {
	c := ctx.Child()
	c.SetVariable(exec.VarMatched, row)
	db := ctx.Database()
	return &env{ctx: c, db: db, schema: db.Schema()}
}

// accepts checks rec against a node filter. With prefetch set, membership
// in the alias's prefetched candidates stands in for its condition.
func (e *env) accepts(f *ast.NodeFilter, rec *storage.Record, prefetch bool) (bool, error) {
	if rec == nil {
		return false, nil
	}
	if f == nil {
		return true, nil
	}
	if f.Class != "" && !e.schema.IsSubclassOf(rec.Class(), f.Class) {
		return false, nil
	}
	if f.RID != nil {
		v, err := f.RID.Eval(rec, e.ctx)
		if err != nil {
			return false, err
		}
		r, ok := value.AsRID(v)
		if !ok || r != rec.Identity() {
			return false, nil
		}
	}
	if prefetch {
		if c, ok := prefetchedOf(e.ctx, f.Alias); ok {
			return c.ids.Contains(rec.Identity()), nil
		}
	}
	e.ctx.SetVariable(exec.VarCurrent, rec)
	return ast.Matches(f.Where, rec, e.ctx)
}

// traverse applies item to src and keeps the targets accepted by the item's
// filter. A WHILE or maxDepth filter expands breadth-first from src itself
// at depth 0, so each record is visited once per run at its shortest depth;
// otherwise one hop is taken.
func (e *env) traverse(item *ast.PathItem, src *storage.Record, prefetch bool) ([]target, error) {
	f := item.Filter
	if !f.Recursive() {
		recs, err := e.hop(item, src)
		if err != nil {
			return nil, err
		}
		out := make([]target, 0, len(recs))
		for _, r := range recs {
			ok, err := e.accepts(f, r, prefetch)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, target{rec: r, depth: 1, path: []*storage.Record{r}})
			}
		}
		return out, nil
	}

	type visit struct {
		rec  *storage.Record
		path []*storage.Record
	}
	seen := visited.New()
	seen.Add(src.Identity())
	var out []target
	level := []visit{{rec: src}}
	for depth := 0; len(level) > 0; depth++ {
		var next []visit
		for _, v := range level {
			e.ctx.SetVariable(exec.VarDepth, int64(depth))
			ok, err := e.accepts(f, v.rec, prefetch)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, target{rec: v.rec, depth: depth, path: v.path})
			}
			if f.MaxDepth != nil && depth >= *f.MaxDepth {
				continue
			}
			if f.While != nil {
				e.ctx.SetVariable(exec.VarCurrent, v.rec)
				ok, err := ast.Matches(f.While, v.rec, e.ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			recs, err := e.hop(item, v.rec)
			if err != nil {
				return nil, err
			}
			for _, r := range recs {
				if !seen.Add(r.Identity()) {
					continue
				}
				p := make([]*storage.Record, len(v.path), len(v.path)+1)
				copy(p, v.path)
				next = append(next, visit{rec: r, path: append(p, r)})
			}
		}
		level = next
	}
	return out, nil
}

// hop resolves the records one application of item reaches from src: a
// graph method, a field expression or a chain of sub-hops.
func (e *env) hop(item *ast.PathItem, src *storage.Record) ([]*storage.Record, error) {
	switch {
	case item.Method != nil:
		return e.method(item.Method, src)
	case item.Field != nil:
		e.ctx.SetVariable(exec.VarCurrent, src)
		v, err := item.Field.Eval(src, e.ctx)
		if err != nil {
			return nil, err
		}
		return e.records(v)
	}
	frontier := []*storage.Record{src}
	for _, sub := range item.Chain {
		var next []*storage.Record
		for _, r := range frontier {
			ts, err := e.traverse(sub, r, false)
			if err != nil {
				return nil, err
			}
			for _, t := range ts {
				next = append(next, t.rec)
			}
		}
		frontier = next
	}
	return frontier, nil
}

func (e *env) method(call *ast.Call, src *storage.Record) ([]*storage.Record, error) {
	g, ok := ast.LookupGraphMethod(call.Name)
	if !ok {
		e.ctx.SetVariable(exec.VarCurrent, src)
		v, err := call.Eval(src, e.ctx)
		if err != nil {
			return nil, err
		}
		return e.records(v)
	}
	classes, err := classArgs(call, src, e.ctx)
	if err != nil {
		return nil, err
	}
	targets, err := g.Targets(e.db, src, classes...)
	if err != nil {
		return nil, err
	}
	edge := edgeClass(classes)
	if qs := e.ctx.Stats(); qs != nil {
		qs.Observe(stats.Key{VertexClass: src.Class(), EdgeClass: edge, Direction: g.Direction.String()},
			float64(len(targets)))
	}
	if m := e.ctx.Metrics(); m != nil {
		m.RecordFanout(edge, g.Direction.String(), len(targets))
	}
	return targets, nil
}

// records resolves the value of a field hop to records; identities are
// loaded and anything else is ignored.
func (e *env) records(v any) ([]*storage.Record, error) {
	var out []*storage.Record
	for _, item := range value.ToList(v) {
		if rec := recordOf(item); rec != nil {
			out = append(out, rec)
			continue
		}
		r, ok := value.AsRID(item)
		if !ok || !r.IsValid() {
			continue
		}
		rec, err := e.db.Load(r)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// classArgs evaluates the edge class arguments of a graph method.
func classArgs(call *ast.Call, src *storage.Record, ctx ast.Context) ([]string, error) {
	vals, err := ast.EvalAll(call.Args, src, ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range vals {
		for _, c := range value.ToList(v) {
			out = append(out, fmt.Sprint(c))
		}
	}
	return out, nil
}

// literalClasses returns the edge classes of a method whose arguments are
// all literals, for planning.
func literalClasses(call *ast.Call) ([]string, bool) {
	var out []string
	for _, a := range call.Args {
		lit, ok := a.(*ast.Literal)
		if !ok {
			return nil, false
		}
		for _, c := range value.ToList(lit.Value) {
			out = append(out, fmt.Sprint(c))
		}
	}
	return out, true
}

func edgeClass(classes []string) string {
	if len(classes) == 0 {
		return schema.EdgeClass
	}
	return strings.Join(classes, ",")
}

// fixedCandidates returns the candidates of a root that need no scan: the
// prefetched records of its alias, or the record its rid names. It reports
// false when the root must be scanned.
func fixedCandidates(ctx *exec.Context, f *ast.NodeFilter, row *result.Row) ([]*storage.Record, bool, error) {
	if c, ok := prefetchedOf(ctx, f.Alias); ok {
		return c.records, true, nil
	}
	if f.RID == nil {
		return nil, false, nil
	}
	e := newEnv(ctx, row)
	v, err := f.RID.Eval(row, e.ctx)
	if err != nil {
		return nil, true, err
	}
	r, ok := value.AsRID(v)
	if !ok || !r.IsValid() {
		return nil, true, nil
	}
	rec, err := e.db.Load(r)
	if storage.IsNotFound(err) {
		return nil, true, nil
	}
	if err != nil {
		return nil, true, err
	}
	ok, err = e.accepts(f, rec, false)
	if err != nil || !ok {
		return nil, true, err
	}
	return []*storage.Record{rec}, true, nil
}
