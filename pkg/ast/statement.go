package ast

import (
	"fmt"
	"strings"
	"time"

	"github.com/dd0wney/cluso-query/pkg/rid"
)

// Statement is one parsed statement.
type Statement interface {
	StatementKind() string
	String() string
}

// Timeout strategies
const (
	TimeoutReturn    = "RETURN"
	TimeoutException = "EXCEPTION"
)

// Timeout is a TIMEOUT clause.
type Timeout struct {
	Duration time.Duration
	// Strategy is RETURN or EXCEPTION; empty means the configured default.
	Strategy string
}

// ProjectionItem is one projected expression.
type ProjectionItem struct {
	Expr  Expr
	Alias string
}

// Name is the output property name of the item.
func (p ProjectionItem) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	if id, ok := p.Expr.(*Ident); ok {
		return id.Name
	}
	return p.Expr.String()
}

// Projection is the list of projected items of a SELECT.
type Projection struct {
	Items    []ProjectionItem
	Distinct bool
	// Expand unrolls the single projected value into rows.
	Expand bool
}

// IsStar reports a projection that is exactly *.
func (p *Projection) IsStar() bool {
	if p == nil {
		return true
	}
	if len(p.Items) != 1 {
		return false
	}
	_, ok := p.Items[0].Expr.(Star)
	return ok
}

func (p *Projection) String() string {
	if p == nil {
		return "*"
	}
	parts := make([]string, len(p.Items))
	for i, it := range p.Items {
		parts[i] = it.Expr.String()
		if it.Alias != "" {
			parts[i] += " AS " + it.Alias
		}
	}
	s := strings.Join(parts, ", ")
	if p.Expand {
		s = "expand(" + s + ")"
	}
	if p.Distinct {
		s = "DISTINCT " + s
	}
	return s
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr Expr
	Desc bool
}

// TargetKind selects the access path of a statement target.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetClass
	TargetCluster
	TargetRIDs
	TargetIndex
	TargetVariable
	TargetMetadata
	TargetSubQuery
)

// Metadata targets
const (
	MetadataSchema   = "schema"
	MetadataIndexes  = "indexes"
	MetadataDatabase = "database"
)

// Target is a FROM (or UPDATE/DELETE) target.
type Target struct {
	Kind TargetKind
	// Name is the class, index, variable or metadata name.
	Name     string
	Clusters []string
	RIDs     []rid.RID
	Query    *Select
}

func (t Target) String() string {
	switch t.Kind {
	case TargetClass:
		return t.Name
	case TargetCluster:
		return "cluster:[" + strings.Join(t.Clusters, ",") + "]"
	case TargetRIDs:
		parts := make([]string, len(t.RIDs))
		for i, r := range t.RIDs {
			parts[i] = r.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case TargetIndex:
		return "index:" + t.Name
	case TargetVariable:
		return t.Name
	case TargetMetadata:
		return "metadata:" + t.Name
	case TargetSubQuery:
		return "(" + t.Query.String() + ")"
	}
	return ""
}

// Let binds a variable to an expression or a sub-query.
type Let struct {
	Name  string
	Expr  Expr
	Query Statement
}

// Select is a SELECT statement.
type Select struct {
	Projection *Projection
	Target     Target
	Lets       []Let
	Where      Expr
	Unwind     []string
	OrderBy    []OrderItem
	Skip       Expr
	Limit      Expr
	Timeout    *Timeout
	NoCache    bool
}

func (*Select) StatementKind() string { return "SELECT" }

func (s *Select) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(s.Projection.String())
	if s.Target.Kind != TargetNone {
		sb.WriteString(" FROM " + s.Target.String())
	}
	for _, l := range s.Lets {
		sb.WriteString(" LET " + l.Name + " = ")
		if l.Query != nil {
			sb.WriteString("(" + l.Query.String() + ")")
		} else {
			sb.WriteString(l.Expr.String())
		}
	}
	if s.Where != nil {
		sb.WriteString(" WHERE " + s.Where.String())
	}
	if len(s.Unwind) > 0 {
		sb.WriteString(" UNWIND " + strings.Join(s.Unwind, ", "))
	}
	writeOrderBy(&sb, s.OrderBy)
	writeSkipLimit(&sb, s.Skip, s.Limit)
	if s.Timeout != nil {
		fmt.Fprintf(&sb, " TIMEOUT %d", s.Timeout.Duration.Milliseconds())
		if s.Timeout.Strategy != "" {
			sb.WriteString(" " + s.Timeout.Strategy)
		}
	}
	if s.NoCache {
		sb.WriteString(" NOCACHE")
	}
	return sb.String()
}

func writeOrderBy(sb *strings.Builder, items []OrderItem) {
	if len(items) == 0 {
		return
	}
	parts := make([]string, len(items))
	for i, o := range items {
		parts[i] = o.Expr.String()
		if o.Desc {
			parts[i] += " DESC"
		}
	}
	sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
}

func writeSkipLimit(sb *strings.Builder, skip, limit Expr) {
	if skip != nil {
		sb.WriteString(" SKIP " + skip.String())
	}
	if limit != nil {
		sb.WriteString(" LIMIT " + limit.String())
	}
}

// Assignment is one SET item: Field Op Value, with Op one of =, +=, -=.
type Assignment struct {
	Field string
	Op    string
	Value Expr
}

func (a Assignment) String() string {
	op := a.Op
	if op == "" {
		op = "="
	}
	return a.Field + " " + op + " " + a.Value.String()
}

func assignments(items []Assignment) string {
	parts := make([]string, len(items))
	for i, a := range items {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// UpdateOpKind selects the form of an update operation.
type UpdateOpKind int

const (
	UpdateSet UpdateOpKind = iota
	UpdateRemove
	UpdateMerge
	UpdateContent
)

// UpdateOp is one SET / REMOVE / MERGE / CONTENT operation.
type UpdateOp struct {
	Kind        UpdateOpKind
	Assignments []Assignment
	Fields      []string
	Value       Expr
}

func (o UpdateOp) String() string {
	switch o.Kind {
	case UpdateRemove:
		return "REMOVE " + strings.Join(o.Fields, ", ")
	case UpdateMerge:
		return "MERGE " + o.Value.String()
	case UpdateContent:
		return "CONTENT " + o.Value.String()
	}
	return "SET " + assignments(o.Assignments)
}

// Insert is INSERT INTO (or CREATE VERTEX when Vertex is set).
type Insert struct {
	Class   string
	Cluster string
	Vertex  bool
	Fields  []string
	Values  [][]Expr
	Set     []Assignment
	Content Expr
	From    *Select
	Return  *Projection
}

func (i *Insert) StatementKind() string {
	if i.Vertex {
		return "CREATE VERTEX"
	}
	return "INSERT"
}

func (i *Insert) String() string {
	var sb strings.Builder
	if i.Vertex {
		sb.WriteString("CREATE VERTEX " + i.Class)
	} else {
		sb.WriteString("INSERT INTO " + i.Class)
	}
	if i.Cluster != "" {
		sb.WriteString(" CLUSTER " + i.Cluster)
	}
	if len(i.Fields) > 0 {
		sb.WriteString(" (" + strings.Join(i.Fields, ", ") + ") VALUES ")
		rows := make([]string, len(i.Values))
		for r, vals := range i.Values {
			parts := make([]string, len(vals))
			for j, v := range vals {
				parts[j] = v.String()
			}
			rows[r] = "(" + strings.Join(parts, ", ") + ")"
		}
		sb.WriteString(strings.Join(rows, ", "))
	}
	if len(i.Set) > 0 {
		sb.WriteString(" SET " + assignments(i.Set))
	}
	if i.Content != nil {
		sb.WriteString(" CONTENT " + i.Content.String())
	}
	if i.From != nil {
		sb.WriteString(" FROM (" + i.From.String() + ")")
	}
	if i.Return != nil {
		sb.WriteString(" RETURN " + i.Return.String())
	}
	return sb.String()
}

// Update return modes
const (
	ReturnCount  = "COUNT"
	ReturnBefore = "BEFORE"
	ReturnAfter  = "AFTER"
)

// Update is UPDATE target SET ... [UPSERT] [RETURN ...] [WHERE ...].
type Update struct {
	Target  Target
	Ops     []UpdateOp
	Upsert  bool
	Return  string
	Where   Expr
	Limit   Expr
	Timeout *Timeout
}

func (*Update) StatementKind() string { return "UPDATE" }

func (u *Update) String() string {
	var sb strings.Builder
	sb.WriteString("UPDATE " + u.Target.String())
	for _, op := range u.Ops {
		sb.WriteString(" " + op.String())
	}
	if u.Upsert {
		sb.WriteString(" UPSERT")
	}
	if u.Return != "" {
		sb.WriteString(" RETURN " + u.Return)
	}
	if u.Where != nil {
		sb.WriteString(" WHERE " + u.Where.String())
	}
	writeSkipLimit(&sb, nil, u.Limit)
	return sb.String()
}

// DeleteKind selects plain, vertex or edge deletion.
type DeleteKind int

const (
	DeleteRecords DeleteKind = iota
	DeleteVertex
	DeleteEdge
)

// Delete is DELETE FROM, DELETE VERTEX or DELETE EDGE.
type Delete struct {
	Kind   DeleteKind
	Target Target
	// From and To restrict DELETE EDGE to edges between two vertices.
	From   Expr
	To     Expr
	Where  Expr
	Limit  Expr
	Unsafe bool
	Return string
}

func (d *Delete) StatementKind() string {
	switch d.Kind {
	case DeleteVertex:
		return "DELETE VERTEX"
	case DeleteEdge:
		return "DELETE EDGE"
	}
	return "DELETE"
}

func (d *Delete) String() string {
	var sb strings.Builder
	sb.WriteString(d.StatementKind())
	if d.Kind == DeleteRecords {
		sb.WriteString(" FROM")
	}
	if d.Target.Kind != TargetNone {
		sb.WriteString(" " + d.Target.String())
	}
	if d.From != nil {
		sb.WriteString(" FROM " + d.From.String())
	}
	if d.To != nil {
		sb.WriteString(" TO " + d.To.String())
	}
	if d.Return != "" {
		sb.WriteString(" RETURN " + d.Return)
	}
	if d.Where != nil {
		sb.WriteString(" WHERE " + d.Where.String())
	}
	writeSkipLimit(&sb, nil, d.Limit)
	if d.Unsafe {
		sb.WriteString(" UNSAFE")
	}
	return sb.String()
}

// CreateEdge is CREATE EDGE class FROM x TO y.
type CreateEdge struct {
	Class   string
	From    Expr
	To      Expr
	Set     []Assignment
	Content Expr
	// Upsert reuses an existing edge of the class between the two vertices.
	Upsert bool
}

func (*CreateEdge) StatementKind() string { return "CREATE EDGE" }

func (c *CreateEdge) String() string {
	var sb strings.Builder
	sb.WriteString("CREATE EDGE " + c.Class)
	if c.Upsert {
		sb.WriteString(" UPSERT")
	}
	sb.WriteString(" FROM " + c.From.String() + " TO " + c.To.String())
	if len(c.Set) > 0 {
		sb.WriteString(" SET " + assignments(c.Set))
	}
	if c.Content != nil {
		sb.WriteString(" CONTENT " + c.Content.String())
	}
	return sb.String()
}

// MoveVertex is MOVE VERTEX source TO CLASS:x or CLUSTER:y.
type MoveVertex struct {
	Source    Target
	ToClass   string
	ToCluster string
	Set       []Assignment
}

func (*MoveVertex) StatementKind() string { return "MOVE VERTEX" }

func (m *MoveVertex) String() string {
	to := "CLASS:" + m.ToClass
	if m.ToCluster != "" {
		to = "CLUSTER:" + m.ToCluster
	}
	s := "MOVE VERTEX " + m.Source.String() + " TO " + to
	if len(m.Set) > 0 {
		s += " SET " + assignments(m.Set)
	}
	return s
}
