package exec

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

// clusterScan reads a list of clusters in RID order.
type clusterScan struct {
	ids []int32
	pos int
	it  storage.RecordIterator
	asc bool
}

func newClusterScan(ids []int32, asc bool) *clusterScan {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	if !asc {
		slices.Reverse(ids)
	}
	return &clusterScan{ids: ids, asc: asc}
}

func (c *clusterScan) next(db storage.Database) (*storage.Record, error) {
	for {
		if c.it == nil {
			if c.pos >= len(c.ids) {
				return nil, nil
			}
			it, err := db.Scan(c.ids[c.pos], c.asc)
			if err != nil {
				return nil, err
			}
			c.it = it
			c.pos++
		}
		rec, ok, err := c.it.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return rec, nil
		}
		c.it.Close()
		c.it = nil
	}
}

func (c *clusterScan) close() {
	if c != nil && c.it != nil {
		c.it.Close()
		c.it = nil
	}
}

// pullRecords reads up to n records from scan as element rows.
func pullRecords(ctx *Context, scan *clusterScan, n int) (result.RowSet, error) {
	rows := make([]*result.Row, 0, min(n, 64))
	for len(rows) < n {
		rec, err := scan.next(ctx.Database())
		if err != nil {
			return nil, err
		}
		if rec == nil {
			break
		}
		rows = append(rows, result.FromRecord(rec))
	}
	return result.Of(rows...), nil
}

func direction(asc bool) string {
	if asc {
		return "ASC"
	}
	return "DESC"
}

// FetchFromClassStep scans every cluster of a class and its subclasses.
type FetchFromClassStep struct {
	Base
	Class     string
	Ascending bool
	scan      *clusterScan
}

func NewFetchFromClassStep(class string, ascending bool) *FetchFromClassStep {
	return &FetchFromClassStep{Class: class, Ascending: ascending}
}

func (s *FetchFromClassStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.scan == nil {
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		l := ctx.Database().Schema()
		if _, ok := l.Class(s.Class); !ok {
			return nil, qerr.New("fetch from class").Subject(s.Class).Cause(qerr.ErrUnknownClass).Err()
		}
		s.scan = newClusterScan(l.PolymorphicClusterIDs(s.Class), s.Ascending)
	}
	if s.TimedOut() || n <= 0 {
		return result.Empty(), nil
	}
	return pullRecords(ctx, s.scan, n)
}

func (s *FetchFromClassStep) Reset() {
	s.Base.Reset()
	s.scan.close()
	s.scan = nil
}

func (s *FetchFromClassStep) Close() {
	s.scan.close()
	s.Base.Close()
}

func (s *FetchFromClassStep) Name() string { return "FetchFromClassStep" }
func (s *FetchFromClassStep) Detail() string {
	return fmt.Sprintf("FETCH FROM CLASS %s %s", s.Class, direction(s.Ascending))
}
func (s *FetchFromClassStep) Copy() Step { return NewFetchFromClassStep(s.Class, s.Ascending) }
func (s *FetchFromClassStep) Serialize(e *Encoder) {
	e.Str("class", s.Class)
	e.Bool("asc", s.Ascending)
}

// resolveCluster accepts a cluster name or a numeric id.
func resolveCluster(l schema.Lookup, name string) (int32, error) {
	if id, ok := l.ClusterID(name); ok {
		return id, nil
	}
	if n, err := strconv.ParseInt(name, 10, 32); err == nil {
		if _, ok := l.ClusterName(int32(n)); ok {
			return int32(n), nil
		}
	}
	return 0, qerr.New("fetch from cluster").Subject(name).Cause(qerr.ErrUnknownCluster).Err()
}

// FetchFromClustersStep scans an explicit list of clusters in RID order.
type FetchFromClustersStep struct {
	Base
	Clusters  []string
	Ascending bool
	scan      *clusterScan
}

func NewFetchFromClustersStep(clusters []string, ascending bool) *FetchFromClustersStep {
	return &FetchFromClustersStep{Clusters: clusters, Ascending: ascending}
}

func (s *FetchFromClustersStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.scan == nil {
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		ids := make([]int32, 0, len(s.Clusters))
		for _, name := range s.Clusters {
			id, err := resolveCluster(ctx.Database().Schema(), name)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		s.scan = newClusterScan(ids, s.Ascending)
	}
	if s.TimedOut() || n <= 0 {
		return result.Empty(), nil
	}
	return pullRecords(ctx, s.scan, n)
}

func (s *FetchFromClustersStep) Reset() {
	s.Base.Reset()
	s.scan.close()
	s.scan = nil
}

func (s *FetchFromClustersStep) Close() {
	s.scan.close()
	s.Base.Close()
}

func (s *FetchFromClustersStep) Name() string { return "FetchFromClustersStep" }
func (s *FetchFromClustersStep) Detail() string {
	return fmt.Sprintf("FETCH FROM CLUSTERS [%s] %s", strings.Join(s.Clusters, ", "), direction(s.Ascending))
}
func (s *FetchFromClustersStep) Copy() Step {
	return NewFetchFromClustersStep(slices.Clone(s.Clusters), s.Ascending)
}
func (s *FetchFromClustersStep) Serialize(e *Encoder) {
	e.Strs("clusters", s.Clusters)
	e.Bool("asc", s.Ascending)
}

// FetchFromClusterStep scans one cluster.
type FetchFromClusterStep struct {
	FetchFromClustersStep
}

func NewFetchFromClusterStep(cluster string, ascending bool) *FetchFromClusterStep {
	return &FetchFromClusterStep{FetchFromClustersStep{Clusters: []string{cluster}, Ascending: ascending}}
}

func (s *FetchFromClusterStep) Name() string { return "FetchFromClusterStep" }
func (s *FetchFromClusterStep) Detail() string {
	return fmt.Sprintf("FETCH FROM CLUSTER %s %s", s.Clusters[0], direction(s.Ascending))
}
func (s *FetchFromClusterStep) Copy() Step {
	return NewFetchFromClusterStep(s.Clusters[0], s.Ascending)
}

// FetchFromRidsStep loads a fixed list of records; missing ones are skipped.
type FetchFromRidsStep struct {
	Base
	RIDs    []rid.RID
	pos     int
	started bool
}

func NewFetchFromRidsStep(rids []rid.RID) *FetchFromRidsStep {
	return &FetchFromRidsStep{RIDs: rids}
}

func (s *FetchFromRidsStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.started {
		s.started = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
	}
	var rows []*result.Row
	for len(rows) < n && s.pos < len(s.RIDs) && !s.TimedOut() {
		rec, err := load(ctx, s.RIDs[s.pos])
		s.pos++
		if err != nil {
			return nil, err
		}
		if rec != nil {
			rows = append(rows, result.FromRecord(rec))
		}
	}
	return result.Of(rows...), nil
}

func (s *FetchFromRidsStep) Reset() {
	s.Base.Reset()
	s.pos = 0
	s.started = false
}

func (s *FetchFromRidsStep) Name() string { return "FetchFromRidsStep" }
func (s *FetchFromRidsStep) Detail() string {
	parts := make([]string, len(s.RIDs))
	for i, r := range s.RIDs {
		parts[i] = r.String()
	}
	return "FETCH FROM RIDS [" + strings.Join(parts, ", ") + "]"
}
func (s *FetchFromRidsStep) Copy() Step           { return NewFetchFromRidsStep(slices.Clone(s.RIDs)) }
func (s *FetchFromRidsStep) Serialize(e *Encoder) { e.RIDs("rids", s.RIDs) }

// FetchFromVariableStep emits the rows held by a context variable.
type FetchFromVariableStep struct {
	Base
	Variable string
	buf      Buffer
}

func NewFetchFromVariableStep(name string) *FetchFromVariableStep {
	return &FetchFromVariableStep{Variable: name}
}

func (s *FetchFromVariableStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		v, _ := ctx.Variable(s.Variable)
		rows, err := toRows(ctx, v)
		if err != nil {
			return nil, err
		}
		s.buf.Fill(rows)
	}
	return s.buf.Take(n), nil
}

func (s *FetchFromVariableStep) Reset() {
	s.Base.Reset()
	s.buf.Reset()
}

func (s *FetchFromVariableStep) Name() string         { return "FetchFromVariableStep" }
func (s *FetchFromVariableStep) Detail() string       { return "FETCH FROM VARIABLE " + s.Variable }
func (s *FetchFromVariableStep) Copy() Step           { return NewFetchFromVariableStep(s.Variable) }
func (s *FetchFromVariableStep) Serialize(e *Encoder) { e.Str("var", s.Variable) }

// FetchFromMetadataStep emits schema, index or database metadata as rows.
type FetchFromMetadataStep struct {
	Base
	Kind string
	buf  Buffer
}

func NewFetchFromMetadataStep(kind string) *FetchFromMetadataStep {
	return &FetchFromMetadataStep{Kind: kind}
}

func (s *FetchFromMetadataStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		rows, err := s.metadata(ctx)
		if err != nil {
			return nil, err
		}
		s.buf.Fill(rows)
	}
	return s.buf.Take(n), nil
}

func (s *FetchFromMetadataStep) metadata(ctx *Context) ([]*result.Row, error) {
	db := ctx.Database()
	l := db.Schema()
	switch s.Kind {
	case ast.MetadataSchema:
		var rows []*result.Row
		for _, c := range l.Classes() {
			clusters := make([]any, len(c.ClusterIDs))
			for i, id := range c.ClusterIDs {
				name, _ := l.ClusterName(id)
				clusters[i] = name
			}
			rows = append(rows, result.FromMap(map[string]any{
				"name":       c.Name,
				"superClass": c.Superclass,
				"clusters":   clusters,
				"abstract":   c.Abstract,
				"records":    db.CountClass(c.Name, false),
			}))
		}
		return rows, nil
	case ast.MetadataIndexes:
		var rows []*result.Row
		for _, def := range l.AllIndexes() {
			fields := make([]any, len(def.Fields))
			for i, f := range def.Fields {
				fields[i] = f
			}
			m := map[string]any{
				"name":   def.Name,
				"class":  def.Class,
				"fields": fields,
				"unique": def.Unique,
			}
			if idx, ok := db.Index(def.Name); ok {
				m["size"] = idx.Size()
			}
			rows = append(rows, result.FromMap(m))
		}
		return rows, nil
	case ast.MetadataDatabase:
		var records int64
		clusters := 0
		for _, c := range l.Classes() {
			clusters += len(c.ClusterIDs)
			records += db.CountClass(c.Name, false)
		}
		return one(result.FromMap(map[string]any{
			"classes":  len(l.Classes()),
			"clusters": clusters,
			"indexes":  len(l.AllIndexes()),
			"records":  records,
		})), nil
	}
	return nil, qerr.Execution("fetch from metadata", nil, "unknown metadata target %q", s.Kind)
}

func (s *FetchFromMetadataStep) Reset() {
	s.Base.Reset()
	s.buf.Reset()
}

func (s *FetchFromMetadataStep) Name() string         { return "FetchFromMetadataStep" }
func (s *FetchFromMetadataStep) Detail() string       { return "FETCH METADATA " + s.Kind }
func (s *FetchFromMetadataStep) Copy() Step           { return NewFetchFromMetadataStep(s.Kind) }
func (s *FetchFromMetadataStep) Serialize(e *Encoder) { e.Str("kind", s.Kind) }

// EmptyDataGeneratorStep emits Count empty rows for statements without a
// target.
type EmptyDataGeneratorStep struct {
	Base
	Count   int
	emitted int
	started bool
}

func NewEmptyDataGeneratorStep(count int) *EmptyDataGeneratorStep {
	return &EmptyDataGeneratorStep{Count: count}
}

func (s *EmptyDataGeneratorStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.started {
		s.started = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
	}
	var rows []*result.Row
	for len(rows) < n && s.emitted < s.Count {
		rows = append(rows, result.New())
		s.emitted++
	}
	return result.Of(rows...), nil
}

func (s *EmptyDataGeneratorStep) Reset() {
	s.Base.Reset()
	s.emitted = 0
	s.started = false
}

func (s *EmptyDataGeneratorStep) Name() string         { return "EmptyDataGeneratorStep" }
func (s *EmptyDataGeneratorStep) Detail() string       { return fmt.Sprintf("GENERATE %d EMPTY ROWS", s.Count) }
func (s *EmptyDataGeneratorStep) Copy() Step           { return NewEmptyDataGeneratorStep(s.Count) }
func (s *EmptyDataGeneratorStep) Serialize(e *Encoder) { e.Int("count", int64(s.Count)) }

// SubQueryStep emits the rows of a sub-plan run in a child context.
type SubQueryStep struct {
	Base
	Sub   *Plan
	child *Context
}

func NewSubQueryStep(sub *Plan) *SubQueryStep {
	return &SubQueryStep{Sub: sub}
}

func (s *SubQueryStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.child == nil {
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		s.child = ctx.Child()
	}
	if s.TimedOut() {
		return result.Empty(), nil
	}
	return s.Sub.Pull(s.child, n)
}

func (s *SubQueryStep) Reset() {
	s.Base.Reset()
	s.Sub.Reset()
	s.child = nil
}

func (s *SubQueryStep) Close() {
	s.Sub.Close()
	s.Base.Close()
}

func (s *SubQueryStep) SendTimeout() {
	s.Sub.SendTimeout()
	s.Base.SendTimeout()
}

func (s *SubQueryStep) Name() string         { return "SubQueryStep" }
func (s *SubQueryStep) Detail() string       { return "FETCH FROM SUBQUERY" }
func (s *SubQueryStep) SubPlans() []*Plan    { return []*Plan{s.Sub} }
func (s *SubQueryStep) Copy() Step           { return NewSubQueryStep(s.Sub.Copy()) }
func (s *SubQueryStep) Serialize(e *Encoder) { e.Plan("sub", s.Sub) }

// FetchEdgesStep emits the edges of a class leaving the From vertices and,
// when To is set, entering one of the To vertices.
type FetchEdgesStep struct {
	Base
	Class string
	From  ast.Expr
	To    ast.Expr
	buf   Buffer
}

func NewFetchEdgesStep(class string, from, to ast.Expr) *FetchEdgesStep {
	return &FetchEdgesStep{Class: class, From: from, To: to}
}

func (s *FetchEdgesStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		rows, err := s.edges(ctx)
		if err != nil {
			return nil, err
		}
		s.buf.Fill(rows)
	}
	return s.buf.Take(n), nil
}

func (s *FetchEdgesStep) edges(ctx *Context) ([]*result.Row, error) {
	eval := func(e ast.Expr) (map[rid.RID]bool, []rid.RID, error) {
		if e == nil {
			return nil, nil, nil
		}
		v, err := e.Eval(nil, ctx)
		if err != nil {
			return nil, nil, err
		}
		ids := ridsOf(v)
		set := make(map[rid.RID]bool, len(ids))
		for _, r := range ids {
			set[r] = true
		}
		return set, ids, nil
	}
	_, from, err := eval(s.From)
	if err != nil {
		return nil, err
	}
	toSet, to, err := eval(s.To)
	if err != nil {
		return nil, err
	}

	var classes []string
	if s.Class != "" {
		classes = []string{s.Class}
	}
	db := ctx.Database()
	var rows []*result.Row
	switch {
	case s.From != nil:
		for _, v := range from {
			edges, err := db.Edges(v, storage.DirOut, classes...)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if s.To == nil || toSet[e.In()] {
					rows = append(rows, result.FromRecord(e))
				}
			}
		}
	case s.To != nil:
		for _, v := range to {
			edges, err := db.Edges(v, storage.DirIn, classes...)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				rows = append(rows, result.FromRecord(e))
			}
		}
	}
	return rows, nil
}

func (s *FetchEdgesStep) Reset() {
	s.Base.Reset()
	s.buf.Reset()
}

func (s *FetchEdgesStep) Name() string { return "FetchEdgesStep" }
func (s *FetchEdgesStep) Detail() string {
	d := "FETCH EDGES " + s.Class
	if s.From != nil {
		d += " FROM " + s.From.String()
	}
	if s.To != nil {
		d += " TO " + s.To.String()
	}
	return d
}
func (s *FetchEdgesStep) Copy() Step { return NewFetchEdgesStep(s.Class, s.From, s.To) }
func (s *FetchEdgesStep) Serialize(e *Encoder) {
	e.Str("class", s.Class)
	e.Expr("from", s.From)
	e.Expr("to", s.To)
}

func init() {
	RegisterStep("FetchFromClassStep", func(d *Decoder) Step {
		return NewFetchFromClassStep(d.Str("class"), d.Bool("asc"))
	})
	RegisterStep("FetchFromClustersStep", func(d *Decoder) Step {
		return NewFetchFromClustersStep(d.Strs("clusters"), d.Bool("asc"))
	})
	RegisterStep("FetchFromClusterStep", func(d *Decoder) Step {
		clusters := d.Strs("clusters")
		if len(clusters) != 1 {
			d.fail("clusters", "want one cluster, got %d", len(clusters))
			return nil
		}
		return NewFetchFromClusterStep(clusters[0], d.Bool("asc"))
	})
	RegisterStep("FetchFromRidsStep", func(d *Decoder) Step { return NewFetchFromRidsStep(d.RIDs("rids")) })
	RegisterStep("FetchFromVariableStep", func(d *Decoder) Step { return NewFetchFromVariableStep(d.Str("var")) })
	RegisterStep("FetchFromMetadataStep", func(d *Decoder) Step { return NewFetchFromMetadataStep(d.Str("kind")) })
	RegisterStep("EmptyDataGeneratorStep", func(d *Decoder) Step {
		return NewEmptyDataGeneratorStep(int(d.Int("count")))
	})
	RegisterStep("SubQueryStep", func(d *Decoder) Step { return NewSubQueryStep(d.SubPlan("sub")) })
	RegisterStep("FetchEdgesStep", func(d *Decoder) Step {
		return NewFetchEdgesStep(d.Str("class"), d.Expr("from"), d.Expr("to"))
	})
}
