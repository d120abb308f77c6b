package exec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Move result properties
const (
	MovedOld = "old"
	MovedNew = "new"
)

// CreateRecordStep emits Count updatable rows over new, unsaved records.
type CreateRecordStep struct {
	Base
	Count   int
	created int
	started bool
}

func NewCreateRecordStep(count int) *CreateRecordStep { return &CreateRecordStep{Count: count} }

func (s *CreateRecordStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.started {
		s.started = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
	}
	var rows []*result.Row
	for len(rows) < n && s.created < s.Count {
		rows = append(rows, result.Updatable(storage.NewRecord("", storage.KindDocument)))
		s.created++
	}
	return result.Of(rows...), nil
}

func (s *CreateRecordStep) Reset() {
	s.Base.Reset()
	s.created = 0
	s.started = false
}

func (s *CreateRecordStep) Name() string         { return "CreateRecordStep" }
func (s *CreateRecordStep) Detail() string       { return fmt.Sprintf("CREATE EMPTY RECORDS x%d", s.Count) }
func (s *CreateRecordStep) Copy() Step           { return NewCreateRecordStep(s.Count) }
func (s *CreateRecordStep) Serialize(e *Encoder) { e.Int("count", int64(s.Count)) }

// SetDocumentClassStep assigns the class (and record kind) of new records.
type SetDocumentClassStep struct {
	Base
	Class string
	t     Transform
}

func NewSetDocumentClassStep(class string) *SetDocumentClassStep {
	return &SetDocumentClassStep{Class: class}
}

func (s *SetDocumentClassStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	l := ctx.Database().Schema()
	if _, ok := l.Class(s.Class); !ok {
		return nil, qerr.New("set class").Subject(s.Class).Cause(qerr.ErrUnknownClass).Err()
	}
	kind := recordKind(l, s.Class)
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		if rec := row.Element(); rec != nil {
			rec.SetClass(s.Class)
			rec.SetKind(kind)
		}
		return one(row), nil
	})
}

func recordKind(l schema.Lookup, class string) storage.Kind {
	switch {
	case schema.IsVertexClass(l, class):
		return storage.KindVertex
	case schema.IsEdgeClass(l, class):
		return storage.KindEdge
	}
	return storage.KindDocument
}

func (s *SetDocumentClassStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *SetDocumentClassStep) Name() string         { return "SetDocumentClassStep" }
func (s *SetDocumentClassStep) Detail() string       { return "SET CLASS " + s.Class }
func (s *SetDocumentClassStep) Copy() Step           { return NewSetDocumentClassStep(s.Class) }
func (s *SetDocumentClassStep) Serialize(e *Encoder) { e.Str("class", s.Class) }

// InsertValuesStep assigns the i-th VALUES tuple to the i-th row.
type InsertValuesStep struct {
	Base
	Fields []string
	Values [][]ast.Expr
	next   int
	t      Transform
}

func NewInsertValuesStep(fields []string, values [][]ast.Expr) *InsertValuesStep {
	return &InsertValuesStep{Fields: fields, Values: values}
}

func (s *InsertValuesStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		if len(s.Values) == 0 {
			return one(row), nil
		}
		tuple := s.Values[s.next%len(s.Values)]
		s.next++
		if len(tuple) != len(s.Fields) {
			return nil, qerr.Execution("insert values", nil, "%d fields but %d values", len(s.Fields), len(tuple))
		}
		ctx.SetVariable(VarCurrent, row)
		for i, f := range s.Fields {
			v, err := tuple[i].Eval(row, ctx)
			if err != nil {
				return nil, err
			}
			row.Set(f, value.Normalize(v))
		}
		return one(row), nil
	})
}

func (s *InsertValuesStep) Reset() {
	s.Base.Reset()
	s.t.Reset()
	s.next = 0
}

func (s *InsertValuesStep) Name() string { return "InsertValuesStep" }
func (s *InsertValuesStep) Detail() string {
	return fmt.Sprintf("INSERT VALUES (%s) x%d", strings.Join(s.Fields, ", "), len(s.Values))
}
func (s *InsertValuesStep) Copy() Step {
	return NewInsertValuesStep(slices.Clone(s.Fields), slices.Clone(s.Values))
}

func (s *InsertValuesStep) Serialize(e *Encoder) {
	e.Strs("fields", s.Fields)
	e.Int("tuples", int64(len(s.Values)))
	for i, tuple := range s.Values {
		e.Exprs(fmt.Sprintf("values.%d", i), tuple)
	}
}

// applyAssignment performs one SET item on a row: = replaces the value, +=
// appends to lists or adds, -= removes from lists or subtracts.
func applyAssignment(ctx *Context, row *result.Row, a ast.Assignment) error {
	v, err := a.Value.Eval(row, ctx)
	if err != nil {
		return err
	}
	v = value.Normalize(v)
	switch a.Op {
	case "", "=":
		row.Set(a.Field, v)
		return nil
	case "+=", "-=":
	default:
		return qerr.Execution("update", nil, "unknown assignment operator %q", a.Op)
	}

	old, _ := row.Get(a.Field)
	old = value.Normalize(old)
	if old == nil {
		if a.Op == "+=" {
			row.Set(a.Field, v)
		}
		return nil
	}
	if list, ok := old.([]any); ok {
		if a.Op == "+=" {
			row.Set(a.Field, append(slices.Clone(list), value.ToList(v)...))
			return nil
		}
		drop := value.ToList(v)
		kept := slices.DeleteFunc(slices.Clone(list), func(item any) bool {
			return slices.ContainsFunc(drop, func(d any) bool { return value.Equals(item, d) })
		})
		row.Set(a.Field, kept)
		return nil
	}
	op := strings.TrimSuffix(a.Op, "=")
	nv, err := (&ast.Binary{Left: ast.Lit(old), Operator: op, Right: ast.Lit(v)}).Eval(row, ctx)
	if err != nil {
		return qerr.Execution("update", err, "%s", a)
	}
	row.Set(a.Field, nv)
	return nil
}

// UpdateSetStep applies SET assignments to each updatable row.
type UpdateSetStep struct {
	Base
	Assignments []ast.Assignment
	t           Transform
}

func NewUpdateSetStep(as []ast.Assignment) *UpdateSetStep { return &UpdateSetStep{Assignments: as} }

func (s *UpdateSetStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		ctx.SetVariable(VarCurrent, row)
		for _, a := range s.Assignments {
			if err := applyAssignment(ctx, row, a); err != nil {
				return nil, err
			}
		}
		return one(row), nil
	})
}

func (s *UpdateSetStep) Reset()       { s.Base.Reset(); s.t.Reset() }
func (s *UpdateSetStep) Name() string { return "UpdateSetStep" }
func (s *UpdateSetStep) Detail() string {
	return (ast.UpdateOp{Kind: ast.UpdateSet, Assignments: s.Assignments}).String()
}
func (s *UpdateSetStep) Copy() Step           { return NewUpdateSetStep(slices.Clone(s.Assignments)) }
func (s *UpdateSetStep) Serialize(e *Encoder) { e.Assignments("set", s.Assignments) }

// UpdateRemoveStep removes fields from each updatable row.
type UpdateRemoveStep struct {
	Base
	Fields []string
	t      Transform
}

func NewUpdateRemoveStep(fields []string) *UpdateRemoveStep { return &UpdateRemoveStep{Fields: fields} }

func (s *UpdateRemoveStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		for _, f := range s.Fields {
			row.Remove(f)
		}
		return one(row), nil
	})
}

func (s *UpdateRemoveStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *UpdateRemoveStep) Name() string         { return "UpdateRemoveStep" }
func (s *UpdateRemoveStep) Detail() string       { return "REMOVE " + strings.Join(s.Fields, ", ") }
func (s *UpdateRemoveStep) Copy() Step           { return NewUpdateRemoveStep(slices.Clone(s.Fields)) }
func (s *UpdateRemoveStep) Serialize(e *Encoder) { e.Strs("fields", s.Fields) }

// UpdateMergeStep merges a map into each updatable row; with Replace set
// the row's content is cleared first (UPDATE ... CONTENT).
type UpdateMergeStep struct {
	Base
	Expr    ast.Expr
	Replace bool
	t       Transform
}

func NewUpdateMergeStep(expr ast.Expr) *UpdateMergeStep { return &UpdateMergeStep{Expr: expr} }

func NewUpdateContentStep(expr ast.Expr) *UpdateMergeStep {
	return &UpdateMergeStep{Expr: expr, Replace: true}
}

func (s *UpdateMergeStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		ctx.SetVariable(VarCurrent, row)
		v, err := s.Expr.Eval(row, ctx)
		if err != nil {
			return nil, err
		}
		m, err := contentMap(v)
		if err != nil {
			return nil, qerr.Execution(strings.ToLower(s.Name()), err, "%s", s.Expr)
		}
		if s.Replace {
			if rec := row.Element(); rec != nil {
				rec.Clear()
			} else {
				for _, name := range row.PropertyNames() {
					row.Remove(name)
				}
			}
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			row.Set(k, value.Normalize(m[k]))
		}
		return one(row), nil
	})
}

// contentMap reads a MERGE or CONTENT value.
func contentMap(v any) (map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case *result.Row:
		m := make(map[string]any)
		for _, n := range x.PropertyNames() {
			m[n] = x.Property(n)
		}
		return m, nil
	case *storage.Record:
		return x.Properties(), nil
	}
	return nil, fmt.Errorf("want a map, got %T", v)
}

func (s *UpdateMergeStep) Reset() { s.Base.Reset(); s.t.Reset() }

func (s *UpdateMergeStep) Name() string {
	if s.Replace {
		return "UpdateContentStep"
	}
	return "UpdateMergeStep"
}

func (s *UpdateMergeStep) Detail() string {
	if s.Replace {
		return "CONTENT " + s.Expr.String()
	}
	return "MERGE " + s.Expr.String()
}

func (s *UpdateMergeStep) Copy() Step           { return &UpdateMergeStep{Expr: s.Expr, Replace: s.Replace} }
func (s *UpdateMergeStep) Serialize(e *Encoder) { e.Expr("expr", s.Expr) }

// UpsertStep passes its input through; when the input is empty it emits one
// new record of Class, seeded with the equality conditions of Where.
type UpsertStep struct {
	Base
	Class   string
	Where   ast.Expr
	seen    bool
	created bool
}

func NewUpsertStep(class string, where ast.Expr) *UpsertStep {
	return &UpsertStep{Class: class, Where: where}
}

func (s *UpsertStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.created || n <= 0 {
		return result.Empty(), nil
	}
	rs, err := s.PullPrev(ctx, n)
	if err != nil {
		return nil, err
	}
	rows, err := result.Drain(rs)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		s.seen = true
		return result.Of(rows...), nil
	}
	if s.seen {
		return result.Empty(), nil
	}
	s.created = true
	l := ctx.Database().Schema()
	if _, ok := l.Class(s.Class); !ok {
		return nil, qerr.New("upsert").Subject(s.Class).Cause(qerr.ErrUnknownClass).Err()
	}
	row := result.Updatable(storage.NewRecord(s.Class, recordKind(l, s.Class)))
	for _, term := range equalities(s.Where) {
		v, err := term.Right.Eval(nil, ctx)
		if err != nil {
			return nil, err
		}
		row.Set(term.Left.(*ast.Ident).Name, value.Normalize(v))
	}
	return result.Of(row), nil
}

// equalities lists the top-level field = value terms of a condition.
func equalities(where ast.Expr) []*ast.Comparison {
	var terms []ast.Expr
	switch w := where.(type) {
	case nil:
		return nil
	case *ast.And:
		terms = w.Terms
	default:
		terms = []ast.Expr{w}
	}
	var out []*ast.Comparison
	for _, t := range terms {
		c, ok := t.(*ast.Comparison)
		if !ok || c.Operator != ast.OpEq {
			continue
		}
		if id, ok := c.Left.(*ast.Ident); ok && !strings.HasPrefix(id.Name, "@") {
			out = append(out, c)
		}
	}
	return out
}

func (s *UpsertStep) Reset() {
	s.Base.Reset()
	s.seen = false
	s.created = false
}

func (s *UpsertStep) Name() string { return "UpsertStep" }
func (s *UpsertStep) Detail() string {
	d := "INSERT (upsert, if needed) " + s.Class
	if s.Where != nil {
		d += " WHERE " + s.Where.String()
	}
	return d
}
func (s *UpsertStep) Copy() Step { return NewUpsertStep(s.Class, s.Where) }
func (s *UpsertStep) Serialize(e *Encoder) {
	e.Str("class", s.Class)
	e.Expr("where", s.Where)
}

// SaveElementStep persists each updatable row's record, optionally into a
// specific cluster for new records.
type SaveElementStep struct {
	Base
	Cluster string
	t       Transform
}

func NewSaveElementStep(cluster string) *SaveElementStep { return &SaveElementStep{Cluster: cluster} }

func (s *SaveElementStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	db := ctx.Database()
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		rec := row.Element()
		if rec == nil {
			return one(row), nil
		}
		var saved *storage.Record
		var err error
		if s.Cluster != "" && !rec.Identity().IsPersistent() {
			var cid int32
			if cid, err = resolveCluster(db.Schema(), s.Cluster); err != nil {
				return nil, err
			}
			saved, err = db.SaveToCluster(rec, cid)
		} else {
			saved, err = db.Save(rec)
		}
		if err != nil {
			return nil, err
		}
		row.SetElement(saved.Copy())
		return one(row), nil
	})
}

func (s *SaveElementStep) Reset()       { s.Base.Reset(); s.t.Reset() }
func (s *SaveElementStep) Name() string { return "SaveElementStep" }
func (s *SaveElementStep) Detail() string {
	if s.Cluster != "" {
		return "SAVE RECORD TO CLUSTER " + s.Cluster
	}
	return "SAVE RECORD"
}
func (s *SaveElementStep) Copy() Step           { return NewSaveElementStep(s.Cluster) }
func (s *SaveElementStep) Serialize(e *Encoder) { e.Str("cluster", s.Cluster) }

// DeleteStep deletes the record behind each row and emits the row.
type DeleteStep struct {
	Base
	t Transform
}

func NewDeleteStep() *DeleteStep { return &DeleteStep{} }

func (s *DeleteStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	db := ctx.Database()
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		rec, err := element(ctx, row)
		if err != nil || rec == nil {
			return nil, err
		}
		// a vertex deleted earlier in the statement takes its edges with it
		if err := db.Delete(rec.Identity()); err != nil {
			if storage.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return one(row), nil
	})
}

func (s *DeleteStep) Reset()         { s.Base.Reset(); s.t.Reset() }
func (s *DeleteStep) Name() string   { return "DeleteStep" }
func (s *DeleteStep) Detail() string { return "DELETE" }
func (s *DeleteStep) Copy() Step     { return NewDeleteStep() }

// CheckSafeDeleteStep refuses to delete vertices and edges through a plain
// DELETE unless UNSAFE was given.
type CheckSafeDeleteStep struct {
	Base
	Unsafe bool
	t      Transform
}

func NewCheckSafeDeleteStep(unsafe bool) *CheckSafeDeleteStep {
	return &CheckSafeDeleteStep{Unsafe: unsafe}
}

func (s *CheckSafeDeleteStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	l := ctx.Database().Schema()
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		if s.Unsafe {
			return one(row), nil
		}
		rec, err := element(ctx, row)
		if err != nil || rec == nil {
			return nil, err
		}
		if rec.IsVertex() || rec.IsEdge() || schema.IsVertexClass(l, rec.Class()) || schema.IsEdgeClass(l, rec.Class()) {
			return nil, qerr.New("delete").Subject(rec.Identity().String()).Cause(qerr.ErrUnsafeDelete).
				Detail("use DELETE VERTEX or DELETE EDGE for class %s", rec.Class()).Err()
		}
		return one(row), nil
	})
}

func (s *CheckSafeDeleteStep) Reset()       { s.Base.Reset(); s.t.Reset() }
func (s *CheckSafeDeleteStep) Name() string { return "CheckSafeDeleteStep" }
func (s *CheckSafeDeleteStep) Detail() string {
	if s.Unsafe {
		return "CHECK SAFE DELETE (unsafe)"
	}
	return "CHECK SAFE DELETE"
}
func (s *CheckSafeDeleteStep) Copy() Step           { return NewCheckSafeDeleteStep(s.Unsafe) }
func (s *CheckSafeDeleteStep) Serialize(e *Encoder) { e.Bool("unsafe", s.Unsafe) }

// CreateEdgesStep creates one edge of Class for every (from, to) pair and
// emits each as an updatable row. With Upsert set an existing edge of the
// class between the pair is reused.
type CreateEdgesStep struct {
	Base
	Class  string
	From   ast.Expr
	To     ast.Expr
	Upsert bool
	from   []rid.RID
	to     []rid.RID
	i, j   int
	ready  bool
}

func NewCreateEdgesStep(class string, from, to ast.Expr, upsert bool) *CreateEdgesStep {
	return &CreateEdgesStep{Class: class, From: from, To: to, Upsert: upsert}
}

func (s *CreateEdgesStep) init(ctx *Context) error {
	s.ready = true
	if err := s.DrainPrev(ctx); err != nil {
		return err
	}
	l := ctx.Database().Schema()
	if _, ok := l.Class(s.Class); !ok {
		return qerr.New("create edge").Subject(s.Class).Cause(qerr.ErrUnknownClass).Err()
	}
	if !schema.IsEdgeClass(l, s.Class) {
		return qerr.New("create edge").Subject(s.Class).Cause(qerr.ErrInvalidCast).Detail("not an edge class").Err()
	}
	var err error
	if s.from, err = s.endpoints(ctx, s.From); err != nil {
		return err
	}
	s.to, err = s.endpoints(ctx, s.To)
	return err
}

func (s *CreateEdgesStep) endpoints(ctx *Context, e ast.Expr) ([]rid.RID, error) {
	v, err := e.Eval(nil, ctx)
	if err != nil {
		return nil, err
	}
	ids := ridsOf(v)
	for _, id := range ids {
		rec, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, qerr.Execution("create edge", storage.RecordNotFoundError(id), "endpoint %s", id)
		}
		if !rec.IsVertex() {
			return nil, qerr.New("create edge").Subject(id.String()).Cause(qerr.ErrInvalidCast).
				Detail("endpoint of class %s is not a vertex", rec.Class()).Err()
		}
	}
	return ids, nil
}

func (s *CreateEdgesStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.ready {
		if err := s.init(ctx); err != nil {
			return nil, err
		}
	}
	db := ctx.Database()
	var rows []*result.Row
	for len(rows) < n && s.i < len(s.from) && len(s.to) > 0 {
		from, to := s.from[s.i], s.to[s.j]
		s.j++
		if s.j == len(s.to) {
			s.i, s.j = s.i+1, 0
		}
		if s.Upsert {
			existing, err := s.existing(db, from, to)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				rows = append(rows, result.Updatable(existing))
				continue
			}
		}
		edge, err := db.CreateEdge(s.Class, from, to, nil)
		if err != nil {
			return nil, err
		}
		rows = append(rows, result.Updatable(edge))
	}
	return result.Of(rows...), nil
}

func (s *CreateEdgesStep) existing(db storage.Database, from, to rid.RID) (*storage.Record, error) {
	edges, err := db.Edges(from, storage.DirOut, s.Class)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if e.In() == to {
			return e, nil
		}
	}
	return nil, nil
}

func (s *CreateEdgesStep) Reset() {
	s.Base.Reset()
	s.from, s.to = nil, nil
	s.i, s.j = 0, 0
	s.ready = false
}

func (s *CreateEdgesStep) Name() string { return "CreateEdgesStep" }
func (s *CreateEdgesStep) Detail() string {
	d := "FOR EACH x IN " + s.From.String() + " FOR EACH y IN " + s.To.String() + " CREATE EDGE " + s.Class
	if s.Upsert {
		d += " (upsert)"
	}
	return d
}
func (s *CreateEdgesStep) Copy() Step { return NewCreateEdgesStep(s.Class, s.From, s.To, s.Upsert) }
func (s *CreateEdgesStep) Serialize(e *Encoder) {
	e.Str("class", s.Class)
	e.Expr("from", s.From)
	e.Expr("to", s.To)
	e.Bool("upsert", s.Upsert)
}

// MoveVertexStep re-creates each vertex in another class or cluster,
// reconnects its edges to the copy and deletes the original. It emits
// {old, new} rows. The whole input is read before the first move so that a
// scan never meets the copies.
type MoveVertexStep struct {
	Base
	ToClass   string
	ToCluster string
	Set       []ast.Assignment
	buf       Buffer
}

func NewMoveVertexStep(toClass, toCluster string, set []ast.Assignment) *MoveVertexStep {
	return &MoveVertexStep{ToClass: toClass, ToCluster: toCluster, Set: set}
}

func (s *MoveVertexStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.buf.Filled() {
		var input []*result.Row
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
			input = append(input, rows...)
		}
		var out []*result.Row
		for _, row := range input {
			rec, err := element(ctx, row)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				continue
			}
			moved, err := s.move(ctx, rec)
			if err != nil {
				return nil, err
			}
			out = append(out, result.FromMap(map[string]any{MovedOld: rec.Identity(), MovedNew: moved}))
		}
		s.buf.Fill(out)
	}
	return s.buf.Take(n), nil
}

func (s *MoveVertexStep) move(ctx *Context, rec *storage.Record) (rid.RID, error) {
	db := ctx.Database()
	l := db.Schema()
	if !rec.IsVertex() {
		return rid.Invalid, qerr.New("move vertex").Subject(rec.Identity().String()).Cause(qerr.ErrInvalidCast).Err()
	}
	class := rec.Class()
	if s.ToClass != "" {
		if _, ok := l.Class(s.ToClass); !ok {
			return rid.Invalid, qerr.New("move vertex").Subject(s.ToClass).Cause(qerr.ErrUnknownClass).Err()
		}
		if !schema.IsVertexClass(l, s.ToClass) {
			return rid.Invalid, qerr.New("move vertex").Subject(s.ToClass).Cause(qerr.ErrInvalidCast).
				Detail("not a vertex class").Err()
		}
		class = s.ToClass
	}

	copyRow := result.Updatable(storage.NewRecord(class, storage.KindVertex))
	for k, v := range rec.Properties() {
		copyRow.Set(k, v)
	}
	ctx.SetVariable(VarCurrent, copyRow)
	for _, a := range s.Set {
		if err := applyAssignment(ctx, copyRow, a); err != nil {
			return rid.Invalid, err
		}
	}

	old := rec.Identity()
	out, err := db.Edges(old, storage.DirOut)
	if err != nil {
		return rid.Invalid, err
	}
	in, err := db.Edges(old, storage.DirIn)
	if err != nil {
		return rid.Invalid, err
	}
	// The original goes first so that unique keys carried over by the copy
	// are free again.
	if err := db.Delete(old); err != nil {
		return rid.Invalid, err
	}

	var saved *storage.Record
	if s.ToCluster != "" {
		cid, cerr := resolveCluster(l, s.ToCluster)
		if cerr != nil {
			return rid.Invalid, cerr
		}
		saved, err = db.SaveToCluster(copyRow.Element(), cid)
	} else {
		saved, err = db.Save(copyRow.Element())
	}
	if err != nil {
		return rid.Invalid, err
	}
	moved := saved.Identity()

	for _, e := range out {
		to := e.In()
		if to == old {
			to = moved
		}
		if _, err := db.CreateEdge(e.Class(), moved, to, e.Properties()); err != nil {
			return rid.Invalid, err
		}
	}
	for _, e := range in {
		if e.Out() == old {
			continue
		}
		if _, err := db.CreateEdge(e.Class(), e.Out(), moved, e.Properties()); err != nil {
			return rid.Invalid, err
		}
	}
	return moved, nil
}

func (s *MoveVertexStep) Reset()       { s.Base.Reset(); s.buf.Reset() }
func (s *MoveVertexStep) Name() string { return "MoveVertexStep" }
func (s *MoveVertexStep) Detail() string {
	if s.ToCluster != "" {
		return "MOVE VERTEX TO CLUSTER " + s.ToCluster
	}
	return "MOVE VERTEX TO CLASS " + s.ToClass
}
func (s *MoveVertexStep) Copy() Step {
	return NewMoveVertexStep(s.ToClass, s.ToCluster, slices.Clone(s.Set))
}
func (s *MoveVertexStep) Serialize(e *Encoder) {
	e.Str("class", s.ToClass)
	e.Str("cluster", s.ToCluster)
	e.Assignments("set", s.Set)
}

// RowToRecordStep turns each row into a new record of Class carrying the
// row's properties, for INSERT ... FROM (SELECT ...).
type RowToRecordStep struct {
	Base
	Class string
	t     Transform
}

func NewRowToRecordStep(class string) *RowToRecordStep { return &RowToRecordStep{Class: class} }

func (s *RowToRecordStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	kind := recordKind(ctx.Database().Schema(), s.Class)
	return s.t.Pull(ctx, &s.Base, n, func(row *result.Row) ([]*result.Row, error) {
		out := result.Updatable(storage.NewRecord(s.Class, kind))
		for _, name := range row.PropertyNames() {
			if strings.HasPrefix(name, "@") {
				continue
			}
			out.Set(name, value.Normalize(row.Property(name)))
		}
		return one(out), nil
	})
}

func (s *RowToRecordStep) Reset()               { s.Base.Reset(); s.t.Reset() }
func (s *RowToRecordStep) Name() string         { return "RowToRecordStep" }
func (s *RowToRecordStep) Detail() string       { return "CONVERT ROWS TO RECORDS OF " + s.Class }
func (s *RowToRecordStep) Copy() Step           { return NewRowToRecordStep(s.Class) }
func (s *RowToRecordStep) Serialize(e *Encoder) { e.Str("class", s.Class) }

// BatchCommitStep commits every Size rows. When no transaction is open on
// its first row it opens one and commits the remainder once the input is
// exhausted.
type BatchCommitStep struct {
	Base
	Size  int
	count int
	owned bool
	done  bool
}

func NewBatchCommitStep(size int) *BatchCommitStep { return &BatchCommitStep{Size: size} }

func (s *BatchCommitStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if s.done || n <= 0 {
		return result.Empty(), nil
	}
	db := ctx.Database()
	if s.count == 0 && !s.owned && !db.InTx() {
		if err := db.Begin(); err != nil {
			return nil, err
		}
		s.owned = true
	}
	rs, err := s.PullPrev(ctx, n)
	if err != nil {
		return nil, err
	}
	rows, err := result.Drain(rs)
	if err != nil {
		return nil, err
	}
	for range rows {
		s.count++
		if s.Size > 0 && s.count%s.Size == 0 {
			if err := db.Commit(); err != nil {
				return nil, err
			}
			if err := db.Begin(); err != nil {
				return nil, err
			}
		}
	}
	if len(rows) == 0 {
		s.done = true
		if s.owned {
			s.owned = false
			if err := db.Commit(); err != nil {
				return nil, err
			}
		}
	}
	return result.Of(rows...), nil
}

func (s *BatchCommitStep) Reset() {
	s.Base.Reset()
	s.count = 0
	s.owned = false
	s.done = false
}

func (s *BatchCommitStep) Name() string         { return "BatchCommitStep" }
func (s *BatchCommitStep) Detail() string       { return fmt.Sprintf("BATCH COMMIT EVERY %d", s.Size) }
func (s *BatchCommitStep) Copy() Step           { return NewBatchCommitStep(s.Size) }
func (s *BatchCommitStep) Serialize(e *Encoder) { e.Int("size", int64(s.Size)) }

func init() {
	RegisterStep("CreateRecordStep", func(d *Decoder) Step { return NewCreateRecordStep(int(d.Int("count"))) })
	RegisterStep("SetDocumentClassStep", func(d *Decoder) Step { return NewSetDocumentClassStep(d.Str("class")) })
	RegisterStep("InsertValuesStep", func(d *Decoder) Step {
		n := int(d.Int("tuples"))
		values := make([][]ast.Expr, n)
		for i := range values {
			values[i] = d.Exprs(fmt.Sprintf("values.%d", i))
		}
		return NewInsertValuesStep(d.Strs("fields"), values)
	})
	RegisterStep("UpdateSetStep", func(d *Decoder) Step { return NewUpdateSetStep(d.Assignments("set")) })
	RegisterStep("UpdateRemoveStep", func(d *Decoder) Step { return NewUpdateRemoveStep(d.Strs("fields")) })
	RegisterStep("UpdateMergeStep", func(d *Decoder) Step { return NewUpdateMergeStep(d.Expr("expr")) })
	RegisterStep("UpdateContentStep", func(d *Decoder) Step { return NewUpdateContentStep(d.Expr("expr")) })
	RegisterStep("UpsertStep", func(d *Decoder) Step { return NewUpsertStep(d.Str("class"), d.Expr("where")) })
	RegisterStep("SaveElementStep", func(d *Decoder) Step { return NewSaveElementStep(d.Str("cluster")) })
	RegisterStep("DeleteStep", func(*Decoder) Step { return NewDeleteStep() })
	RegisterStep("CheckSafeDeleteStep", func(d *Decoder) Step { return NewCheckSafeDeleteStep(d.Bool("unsafe")) })
	RegisterStep("CreateEdgesStep", func(d *Decoder) Step {
		return NewCreateEdgesStep(d.Str("class"), d.Expr("from"), d.Expr("to"), d.Bool("upsert"))
	})
	RegisterStep("MoveVertexStep", func(d *Decoder) Step {
		return NewMoveVertexStep(d.Str("class"), d.Str("cluster"), d.Assignments("set"))
	})
	RegisterStep("RowToRecordStep", func(d *Decoder) Step { return NewRowToRecordStep(d.Str("class")) })
	RegisterStep("BatchCommitStep", func(d *Decoder) Step { return NewBatchCommitStep(int(d.Int("size"))) })
}
