package exec

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-query/pkg/ast"
	"github.com/dd0wney/cluso-query/pkg/rid"
)

// PlanState is the serializable form of a plan.
type PlanState struct {
	ID        string       `yaml:"id"`
	Statement string       `yaml:"statement,omitempty"`
	NoCache   bool         `yaml:"noCache,omitempty"`
	Steps     []*StepState `yaml:"steps"`
}

// StepState is the serializable configuration of one step.
type StepState struct {
	Type    string                     `yaml:"type"`
	Attrs   map[string]any             `yaml:"attrs,omitempty"`
	Exprs   map[string]*ast.Node       `yaml:"exprs,omitempty"`
	Lists   map[string][]*ast.Node     `yaml:"lists,omitempty"`
	Filters map[string]*ast.FilterNode `yaml:"filters,omitempty"`
	Items   map[string]*ast.ItemNode   `yaml:"items,omitempty"`
	Plans   map[string][]*PlanState    `yaml:"plans,omitempty"`
}

// StepDecoder rebuilds a step from its state.
type StepDecoder func(d *Decoder) Step

var (
	decodersMu sync.RWMutex
	decoders   = make(map[string]StepDecoder)
)

// RegisterStep makes a step type deserializable under name.
func RegisterStep(name string, fn StepDecoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[name] = fn
}

// Encoder collects a step's configuration into a StepState.
type Encoder struct {
	st  *StepState
	err error
}

func newEncoder(name string) *Encoder {
	return &Encoder{st: &StepState{Type: name}}
}

func (e *Encoder) attr(k string, v any) {
	if e.st.Attrs == nil {
		e.st.Attrs = make(map[string]any)
	}
	e.st.Attrs[k] = v
}

func (e *Encoder) Str(k, v string) {
	if v != "" {
		e.attr(k, v)
	}
}

func (e *Encoder) Int(k string, v int64) {
	if v != 0 {
		e.attr(k, v)
	}
}

func (e *Encoder) Bool(k string, v bool) {
	if v {
		e.attr(k, v)
	}
}

func (e *Encoder) Duration(k string, d time.Duration) { e.Int(k, int64(d)) }

func (e *Encoder) Strs(k string, v []string) {
	if len(v) > 0 {
		e.attr(k, v)
	}
}

func (e *Encoder) RIDs(k string, v []rid.RID) {
	strs := make([]string, len(v))
	for i, r := range v {
		strs[i] = r.String()
	}
	e.Strs(k, strs)
}

func (e *Encoder) Expr(k string, x ast.Expr) {
	if x == nil || e.err != nil {
		return
	}
	n, err := ast.Encode(x)
	if err != nil {
		e.err = fmt.Errorf("%s.%s: %w", e.st.Type, k, err)
		return
	}
	if e.st.Exprs == nil {
		e.st.Exprs = make(map[string]*ast.Node)
	}
	e.st.Exprs[k] = n
}

func (e *Encoder) Exprs(k string, xs []ast.Expr) {
	if len(xs) == 0 || e.err != nil {
		return
	}
	nodes := make([]*ast.Node, len(xs))
	for i, x := range xs {
		n, err := ast.Encode(x)
		if err != nil {
			e.err = fmt.Errorf("%s.%s[%d]: %w", e.st.Type, k, i, err)
			return
		}
		nodes[i] = n
	}
	if e.st.Lists == nil {
		e.st.Lists = make(map[string][]*ast.Node)
	}
	e.st.Lists[k] = nodes
}

func (e *Encoder) Filter(k string, f *ast.NodeFilter) {
	if f == nil || e.err != nil {
		return
	}
	n, err := ast.EncodeFilter(f)
	if err != nil {
		e.err = fmt.Errorf("%s.%s: %w", e.st.Type, k, err)
		return
	}
	if e.st.Filters == nil {
		e.st.Filters = make(map[string]*ast.FilterNode)
	}
	e.st.Filters[k] = n
}

func (e *Encoder) PathItem(k string, p *ast.PathItem) {
	if p == nil || e.err != nil {
		return
	}
	n, err := ast.EncodePathItem(p)
	if err != nil {
		e.err = fmt.Errorf("%s.%s: %w", e.st.Type, k, err)
		return
	}
	if e.st.Items == nil {
		e.st.Items = make(map[string]*ast.ItemNode)
	}
	e.st.Items[k] = n
}

func (e *Encoder) Plan(k string, p *Plan) {
	if p != nil {
		e.Plans(k, []*Plan{p})
	}
}

func (e *Encoder) Plans(k string, ps []*Plan) {
	if len(ps) == 0 || e.err != nil {
		return
	}
	states := make([]*PlanState, len(ps))
	for i, p := range ps {
		st, err := p.Serialize()
		if err != nil {
			e.err = err
			return
		}
		states[i] = st
	}
	if e.st.Plans == nil {
		e.st.Plans = make(map[string][]*PlanState)
	}
	e.st.Plans[k] = states
}

// Projection writes projection items as parallel expression and alias lists.
func (e *Encoder) Projection(k string, p *ast.Projection) {
	if p == nil {
		return
	}
	exprs := make([]ast.Expr, len(p.Items))
	aliases := make([]string, len(p.Items))
	for i, it := range p.Items {
		exprs[i] = it.Expr
		aliases[i] = it.Alias
	}
	e.Exprs(k, exprs)
	e.Strs(k+".alias", aliases)
	e.Bool(k+".distinct", p.Distinct)
	e.Bool(k+".expand", p.Expand)
	e.Bool(k+".set", true)
}

func (e *Encoder) Assignments(k string, as []ast.Assignment) {
	fields := make([]string, len(as))
	ops := make([]string, len(as))
	values := make([]ast.Expr, len(as))
	for i, a := range as {
		fields[i], ops[i], values[i] = a.Field, a.Op, a.Value
	}
	e.Strs(k+".field", fields)
	e.Strs(k+".op", ops)
	e.Exprs(k, values)
}

// Decoder reads a StepState. The first error sticks and is reported by
// DeserializePlan.
type Decoder struct {
	st  *StepState
	err error
}

func (d *Decoder) fail(k string, format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%s.%s: %s", d.st.Type, k, fmt.Sprintf(format, args...))
	}
}

func (d *Decoder) Str(k string) string {
	v, ok := d.st.Attrs[k]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(k, "want string, got %T", v)
	}
	return s
}

func (d *Decoder) Int(k string) int64 {
	switch v := d.st.Attrs[k].(type) {
	case nil:
		return 0
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		d.fail(k, "want integer, got %T", v)
		return 0
	}
}

func (d *Decoder) Bool(k string) bool {
	v, _ := d.st.Attrs[k].(bool)
	return v
}

func (d *Decoder) Duration(k string) time.Duration { return time.Duration(d.Int(k)) }

func (d *Decoder) Strs(k string) []string {
	switch v := d.st.Attrs[k].(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok && item != nil {
				d.fail(k, "want string item, got %T", item)
			}
			out[i] = s
		}
		return out
	default:
		d.fail(k, "want string list, got %T", v)
		return nil
	}
}

func (d *Decoder) RIDs(k string) []rid.RID {
	strs := d.Strs(k)
	out := make([]rid.RID, 0, len(strs))
	for _, s := range strs {
		r, err := rid.Parse(s)
		if err != nil {
			d.fail(k, "%v", err)
			return nil
		}
		out = append(out, r)
	}
	return out
}

func (d *Decoder) Expr(k string) ast.Expr {
	n := d.st.Exprs[k]
	if n == nil {
		return nil
	}
	x, err := ast.Decode(n)
	if err != nil {
		d.fail(k, "%v", err)
	}
	return x
}

func (d *Decoder) Exprs(k string) []ast.Expr {
	nodes := d.st.Lists[k]
	if len(nodes) == 0 {
		return nil
	}
	out := make([]ast.Expr, len(nodes))
	for i, n := range nodes {
		x, err := ast.Decode(n)
		if err != nil {
			d.fail(k, "%v", err)
			return nil
		}
		out[i] = x
	}
	return out
}

func (d *Decoder) Filter(k string) *ast.NodeFilter {
	f, err := ast.DecodeFilter(d.st.Filters[k])
	if err != nil {
		d.fail(k, "%v", err)
	}
	return f
}

func (d *Decoder) PathItem(k string) *ast.PathItem {
	p, err := ast.DecodePathItem(d.st.Items[k])
	if err != nil {
		d.fail(k, "%v", err)
	}
	return p
}

func (d *Decoder) Plan(k string) *Plan {
	ps := d.Plans(k)
	if len(ps) == 0 {
		return nil
	}
	return ps[0]
}

// SubPlan is Plan for steps that cannot run without their sub-plan.
func (d *Decoder) SubPlan(k string) *Plan {
	p := d.Plan(k)
	if p == nil {
		d.fail(k, "missing sub-plan")
	}
	return p
}

func (d *Decoder) Plans(k string) []*Plan {
	states := d.st.Plans[k]
	if len(states) == 0 {
		return nil
	}
	out := make([]*Plan, len(states))
	for i, st := range states {
		p, err := DeserializePlan(st)
		if err != nil {
			d.fail(k, "%v", err)
			return nil
		}
		out[i] = p
	}
	return out
}

func (d *Decoder) Projection(k string) *ast.Projection {
	if !d.Bool(k + ".set") {
		return nil
	}
	exprs := d.Exprs(k)
	aliases := d.Strs(k + ".alias")
	p := &ast.Projection{Distinct: d.Bool(k + ".distinct"), Expand: d.Bool(k + ".expand")}
	for i, x := range exprs {
		item := ast.ProjectionItem{Expr: x}
		if i < len(aliases) {
			item.Alias = aliases[i]
		}
		p.Items = append(p.Items, item)
	}
	return p
}

func (d *Decoder) Assignments(k string) []ast.Assignment {
	fields := d.Strs(k + ".field")
	ops := d.Strs(k + ".op")
	values := d.Exprs(k)
	if len(fields) != len(values) || len(ops) != len(values) {
		d.fail(k, "mismatched assignment lists")
		return nil
	}
	out := make([]ast.Assignment, len(fields))
	for i := range fields {
		out[i] = ast.Assignment{Field: fields[i], Op: ops[i], Value: values[i]}
	}
	return out
}

// Serialize captures the plan and, recursively, the plans its steps own.
func (p *Plan) Serialize() (*PlanState, error) {
	ps := &PlanState{ID: p.ID.String(), Statement: p.Statement, NoCache: p.noCache}
	for _, s := range p.steps {
		e := newEncoder(s.Name())
		s.Serialize(e)
		if e.err != nil {
			return nil, e.err
		}
		ps.Steps = append(ps.Steps, e.st)
	}
	return ps, nil
}

// DeserializePlan rebuilds a plan from its state.
func DeserializePlan(ps *PlanState) (*Plan, error) {
	p := NewPlan(ps.Statement)
	if ps.ID != "" {
		id, err := uuid.Parse(ps.ID)
		if err != nil {
			return nil, fmt.Errorf("plan id: %w", err)
		}
		p.ID = id
	}
	p.noCache = ps.NoCache

	for _, st := range ps.Steps {
		decodersMu.RLock()
		fn, ok := decoders[st.Type]
		decodersMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown step type %q", st.Type)
		}
		d := &Decoder{st: st}
		s := fn(d)
		if d.err != nil {
			return nil, d.err
		}
		p.Chain(s)
	}
	return p, nil
}

// EncodePlan produces the wire form of a plan: YAML in a snappy block.
func EncodePlan(p *Plan) ([]byte, error) {
	ps, err := p.Serialize()
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return snappy.Encode(nil, data), nil
}

// DecodePlan is the inverse of EncodePlan.
func DecodePlan(b []byte) (*Plan, error) {
	data, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	var ps PlanState
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return DeserializePlan(&ps)
}
