package exec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/value"
	"github.com/dd0wney/cluso-query/pkg/visited"
)

// skipBlock bounds the rows SkipStep discards per upstream pull.
const skipBlock = 100

// FilterStep keeps the rows matching Where. The row is bound to $current
// while the condition runs.
type FilterStep struct {
	Base
	Where ast.Expr
	t     Transform
}

func NewFilterStep(where ast.Expr) *FilterStep { return &FilterStep{Where: where} }

func (s *FilterStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		ctx.SetVariable(VarCurrent, row)
		ok, err := ast.Matches(s.Where, row, ctx)
		if err != nil || !ok {
			return nil, err
		}
		return one(row), nil
	})
}

func (s *FilterStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *FilterStep) Name() string         { return "FilterStep" }
func (s *FilterStep) Detail() string       { return "FILTER " + s.Where.String() }
func (s *FilterStep) Copy() Step           { return NewFilterStep(s.Where) }
func (s *FilterStep) Serialize(e *Encoder) { e.Expr("where", s.Where) }

// FilterByClassStep keeps element rows of Class or a subclass.
type FilterByClassStep struct {
	Base
	Class string
	t     Transform
}

func NewFilterByClassStep(class string) *FilterByClassStep { return &FilterByClassStep{Class: class} }

func (s *FilterByClassStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	l := ctx.Database().Schema()
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		rec := row.Element()
		if rec == nil || !l.IsSubclassOf(rec.Class(), s.Class) {
			return nil, nil
		}
		return one(row), nil
	})
}

func (s *FilterByClassStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *FilterByClassStep) Name() string         { return "FilterByClassStep" }
func (s *FilterByClassStep) Detail() string       { return "FILTER ITEMS BY CLASS " + s.Class }
func (s *FilterByClassStep) Copy() Step           { return NewFilterByClassStep(s.Class) }
func (s *FilterByClassStep) Serialize(e *Encoder) { e.Str("class", s.Class) }

// FilterByClustersStep keeps element rows stored in one of Clusters.
type FilterByClustersStep struct {
	Base
	Clusters []string
	ids      map[int32]bool
	t        Transform
}

func NewFilterByClustersStep(clusters []string) *FilterByClustersStep {
	return &FilterByClustersStep{Clusters: clusters}
}

func (s *FilterByClustersStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.ids == nil {
		s.ids = make(map[int32]bool, len(s.Clusters))
		for _, name := range s.Clusters {
			id, err := resolveCluster(ctx.Database().Schema(), name)
			if err != nil {
				return nil, err
			}
			s.ids[id] = true
		}
	}
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		id, ok := row.RID()
		if !ok || !s.ids[id.Cluster] {
			return nil, nil
		}
		return one(row), nil
	})
}

func (s *FilterByClustersStep) Reset() {
	s.Base.Reset()
	s.t.Reset()
	s.ids = nil
}

func (s *FilterByClustersStep) Name() string { return "FilterByClustersStep" }
func (s *FilterByClustersStep) Detail() string {
	return "FILTER ITEMS BY CLUSTERS [" + strings.Join(s.Clusters, ", ") + "]"
}
func (s *FilterByClustersStep) Copy() Step {
	return NewFilterByClustersStep(slices.Clone(s.Clusters))
}
func (s *FilterByClustersStep) Serialize(e *Encoder) { e.Strs("clusters", s.Clusters) }

// evalCount evaluates a SKIP or LIMIT expression once per execution.
func evalCount(ctx *Context, op string, e ast.Expr) (int64, error) {
	v, err := e.Eval(nil, ctx)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return -1, nil
	}
	n, ok := value.ToInt(v)
	if !ok {
		return 0, qerr.Execution(op, nil, "%s is not an integer: %v", e, v)
	}
	return n, nil
}

// SkipStep discards the first Skip rows, reading at most skipBlock rows per
// upstream pull while it does.
type SkipStep struct {
	Base
	Skip    ast.Expr
	left    int64
	started bool
}

func NewSkipStep(skip ast.Expr) *SkipStep { return &SkipStep{Skip: skip} }

func (s *SkipStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if n <= 0 {
		return result.Empty(), nil
	}
	if !s.started {
		s.started = true
		k, err := evalCount(ctx, "skip", s.Skip)
		if err != nil {
			return nil, err
		}
		s.left = max(k, 0)
	}
	for s.left > 0 {
		rs, err := s.PullPrev(ctx, int(min(s.left, skipBlock)))
		if err != nil {
			return nil, err
		}
		rows, err := result.Drain(rs)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			s.left = 0
			return result.Empty(), nil
		}
		s.left -= int64(len(rows))
	}
	return s.PullPrev(ctx, n)
}

func (s *SkipStep) Reset() {
	s.Base.Reset()
	s.left = 0
	s.started = false
}

func (s *SkipStep) Name() string         { return "SkipStep" }
func (s *SkipStep) Detail() string       { return "SKIP " + s.Skip.String() }
func (s *SkipStep) Copy() Step           { return NewSkipStep(s.Skip) }
func (s *SkipStep) Serialize(e *Encoder) { e.Expr("skip", s.Skip) }

// LimitStep emits at most Limit rows; once the limit is reached it stops
// pulling upstream. A negative limit is unbounded.
type LimitStep struct {
	Base
	Limit   ast.Expr
	left    int64
	started bool
}

func NewLimitStep(limit ast.Expr) *LimitStep { return &LimitStep{Limit: limit} }

func (s *LimitStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if n <= 0 {
		return result.Empty(), nil
	}
	if !s.started {
		s.started = true
		k, err := evalCount(ctx, "limit", s.Limit)
		if err != nil {
			return nil, err
		}
		s.left = k
	}
	if s.left < 0 {
		return s.PullPrev(ctx, n)
	}
	if s.left == 0 {
		return result.Empty(), nil
	}
	rs, err := s.PullPrev(ctx, int(min(int64(n), s.left)))
	if err != nil {
		return nil, err
	}
	rows, err := result.Drain(rs)
	if err != nil {
		return nil, err
	}
	s.left -= int64(len(rows))
	if len(rows) == 0 {
		s.left = 0
	}
	return result.Of(rows...), nil
}

func (s *LimitStep) Reset() {
	s.Base.Reset()
	s.left = 0
	s.started = false
}

func (s *LimitStep) Name() string         { return "LimitStep" }
func (s *LimitStep) Detail() string       { return "LIMIT " + s.Limit.String() }
func (s *LimitStep) Copy() Step           { return NewLimitStep(s.Limit) }
func (s *LimitStep) Serialize(e *Encoder) { e.Expr("limit", s.Limit) }

// DistinctStep drops rows seen before: element rows by identity, plain rows
// by content.
type DistinctStep struct {
	Base
	rids *visited.Set
	keys map[string]struct{}
	t    Transform
}

func NewDistinctStep() *DistinctStep { return &DistinctStep{} }

func (s *DistinctStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.rids == nil {
		s.rids = visited.New()
		s.keys = make(map[string]struct{})
	}
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		if id, ok := row.RID(); ok && id.IsValid() {
			if !s.rids.Add(id) {
				return nil, nil
			}
			return one(row), nil
		}
		k := row.Key()
		if _, seen := s.keys[k]; seen {
			return nil, nil
		}
		s.keys[k] = struct{}{}
		return one(row), nil
	})
}

func (s *DistinctStep) Reset() {
	s.Base.Reset()
	s.t.Reset()
	s.rids = nil
	s.keys = nil
}

func (s *DistinctStep) Name() string { return "DistinctStep" }
func (s *DistinctStep) Detail() string {
	return "DISTINCT"
}
func (s *DistinctStep) Copy() Step { return NewDistinctStep() }

// UnwindStep emits one row per element of each collection field. An empty
// collection yields a single row with the field set to null; non-collection
// values pass through.
type UnwindStep struct {
	Base
	Fields []string
	t      Transform
}

func NewUnwindStep(fields []string) *UnwindStep { return &UnwindStep{Fields: fields} }

func (s *UnwindStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		return unwind(row, s.Fields), nil
	})
}

func unwind(row *result.Row, fields []string) []*result.Row {
	if len(fields) == 0 {
		return one(row)
	}
	f, rest := fields[0], fields[1:]
	v, _ := row.Get(f)
	if !value.IsCollection(v) {
		return unwind(row, rest)
	}
	items := value.ToList(v)
	if len(items) == 0 {
		c := row.Copy()
		c.Set(f, nil)
		return unwind(c, rest)
	}
	var out []*result.Row
	for _, item := range items {
		c := row.Copy()
		c.Set(f, item)
		out = append(out, unwind(c, rest)...)
	}
	return out
}

func (s *UnwindStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *UnwindStep) Name() string         { return "UnwindStep" }
func (s *UnwindStep) Detail() string       { return "UNWIND " + strings.Join(s.Fields, ", ") }
func (s *UnwindStep) Copy() Step           { return NewUnwindStep(slices.Clone(s.Fields)) }
func (s *UnwindStep) Serialize(e *Encoder) { e.Strs("fields", s.Fields) }

// ExpandStep replaces each single-property row by the rows its value
// denotes.
type ExpandStep struct {
	Base
	t Transform
}

func NewExpandStep() *ExpandStep { return &ExpandStep{} }

func (s *ExpandStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		names := row.PropertyNames()
		if row.IsElement() || len(names) != 1 {
			return nil, qerr.New("expand").Cause(qerr.ErrInvalidExpand).
				Detail("row has %d properties", len(names)).Err()
		}
		v, _ := row.Get(names[0])
		return toRows(ctx, v)
	})
}

func (s *ExpandStep) Reset()         { s.Base.Reset(); s.t.Reset() }
func (s *ExpandStep) Name() string   { return "ExpandStep" }
func (s *ExpandStep) Detail() string { return "EXPAND" }
func (s *ExpandStep) Copy() Step     { return NewExpandStep() }

// OrderByStep buffers its whole input and emits it stably sorted.
type OrderByStep struct {
	Base
	Items []ast.OrderItem
	buf   Buffer
}

func NewOrderByStep(items []ast.OrderItem) *OrderByStep { return &OrderByStep{Items: items} }

func (s *OrderByStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		if err := s.sort(ctx); err != nil {
			return nil, err
		}
	}
	return s.buf.Take(n), nil
}

func (s *OrderByStep) sort(ctx *Context) error {
	type keyed struct {
		row  *result.Row
		keys []any
	}
	var all []keyed
	for {
		rs, err := s.PullPrev(ctx, batchSize(ctx))
		if err != nil {
			return err
		}
		rows, err := result.Drain(rs)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			ctx.SetVariable(VarCurrent, row)
			keys := make([]any, len(s.Items))
			for i, it := range s.Items {
				v, err := it.Expr.Eval(row, ctx)
				if err != nil {
					return err
				}
				keys[i] = v
			}
			all = append(all, keyed{row, keys})
		}
	}
	slices.SortStableFunc(all, func(a, b keyed) int {
		for i, it := range s.Items {
			c := value.SortCompare(a.keys[i], b.keys[i])
			if it.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	rows := make([]*result.Row, len(all))
	for i, k := range all {
		rows[i] = k.row
	}
	s.buf.Fill(rows)
	return nil
}

func (s *OrderByStep) Reset()       { s.Base.Reset(); s.buf.Reset() }
func (s *OrderByStep) Name() string { return "OrderByStep" }

func (s *OrderByStep) Detail() string {
	parts := make([]string, len(s.Items))
	for i, it := range s.Items {
		parts[i] = it.Expr.String()
		if it.Desc {
			parts[i] += " DESC"
		} else {
			parts[i] += " ASC"
		}
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

func (s *OrderByStep) Copy() Step { return NewOrderByStep(slices.Clone(s.Items)) }

func (s *OrderByStep) Serialize(e *Encoder) {
	exprs := make([]ast.Expr, len(s.Items))
	dirs := make([]string, len(s.Items))
	for i, it := range s.Items {
		exprs[i] = it.Expr
		dirs[i] = direction(!it.Desc)
	}
	e.Exprs("items", exprs)
	e.Strs("items.dir", dirs)
}

// CountStep drains its input and emits a single {Alias: n} row, also when
// the input is empty.
type CountStep struct {
	Base
	Alias string
	buf   Buffer
}

func NewCountStep(alias string) *CountStep { return &CountStep{Alias: alias} }

func (s *CountStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		var count int64
		for {
			rs, err := s.PullPrev(ctx, batchSize(ctx))
			if err != nil {
				return nil, err
			}
			rows, err := result.Drain(rs)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				break
			}
			count += int64(len(rows))
		}
		row := result.New()
		row.Set(s.Alias, count)
		s.buf.Fill(one(row))
	}
	return s.buf.Take(n), nil
}

func (s *CountStep) Reset()               { s.Base.Reset(); s.buf.Reset() }
func (s *CountStep) Name() string         { return "CountStep" }
func (s *CountStep) Detail() string       { return "COUNT AS " + s.Alias }
func (s *CountStep) Copy() Step           { return NewCountStep(s.Alias) }
func (s *CountStep) Serialize(e *Encoder) { e.Str("alias", s.Alias) }

// CountFromClassStep answers count(*) on a class from the storage counters
// without scanning.
type CountFromClassStep struct {
	Base
	Class string
	Alias string
	buf   Buffer
}

func NewCountFromClassStep(class, alias string) *CountFromClassStep {
	return &CountFromClassStep{Class: class, Alias: alias}
}

func (s *CountFromClassStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		db := ctx.Database()
		if _, ok := db.Schema().Class(s.Class); !ok {
			return nil, qerr.New("count from class").Subject(s.Class).Cause(qerr.ErrUnknownClass).Err()
		}
		row := result.New()
		row.Set(s.Alias, db.CountClass(s.Class, true))
		s.buf.Fill(one(row))
	}
	return s.buf.Take(n), nil
}

func (s *CountFromClassStep) Reset()       { s.Base.Reset(); s.buf.Reset() }
func (s *CountFromClassStep) Name() string { return "CountFromClassStep" }
func (s *CountFromClassStep) Detail() string {
	return fmt.Sprintf("COUNT FROM CLASS %s AS %s", s.Class, s.Alias)
}
func (s *CountFromClassStep) Copy() Step { return NewCountFromClassStep(s.Class, s.Alias) }
func (s *CountFromClassStep) Serialize(e *Encoder) {
	e.Str("class", s.Class)
	e.Str("alias", s.Alias)
}

func init() {
	RegisterStep("FilterStep", func(d *Decoder) Step { return NewFilterStep(d.Expr("where")) })
	RegisterStep("FilterByClassStep", func(d *Decoder) Step { return NewFilterByClassStep(d.Str("class")) })
	RegisterStep("FilterByClustersStep", func(d *Decoder) Step { return NewFilterByClustersStep(d.Strs("clusters")) })
	RegisterStep("SkipStep", func(d *Decoder) Step { return NewSkipStep(d.Expr("skip")) })
	RegisterStep("LimitStep", func(d *Decoder) Step { return NewLimitStep(d.Expr("limit")) })
	RegisterStep("DistinctStep", func(*Decoder) Step { return NewDistinctStep() })
	RegisterStep("UnwindStep", func(d *Decoder) Step { return NewUnwindStep(d.Strs("fields")) })
	RegisterStep("ExpandStep", func(*Decoder) Step { return NewExpandStep() })
	RegisterStep("OrderByStep", func(d *Decoder) Step {
		exprs := d.Exprs("items")
		dirs := d.Strs("items.dir")
		if len(dirs) != len(exprs) {
			d.fail("items", "mismatched order lists")
			return nil
		}
		items := make([]ast.OrderItem, len(exprs))
		for i, x := range exprs {
			items[i] = ast.OrderItem{Expr: x, Desc: dirs[i] == "DESC"}
		}
		return NewOrderByStep(items)
	})
	RegisterStep("CountStep", func(d *Decoder) Step { return NewCountStep(d.Str("alias")) })
	RegisterStep("CountFromClassStep", func(d *Decoder) Step {
		return NewCountFromClassStep(d.Str("class"), d.Str("alias"))
	})
}
