// Package result holds the rows steps produce and the single-use row sets
// they return from each pull.
package result

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Row is one unit of query output. A plain row carries only computed
// values. An element row is backed by a record: properties not set locally
// fall through to it. An updatable row writes through to its own copy of
// the record, which SAVE persists.
type Row struct {
	names     []string
	props     map[string]any
	element   *storage.Record
	updatable bool
	meta      map[string]any
}

// New creates an empty plain row.
func New() *Row {
	return &Row{props: make(map[string]any)}
}

// FromMap creates a plain row; properties are ordered by name.
func FromMap(m map[string]any) *Row {
	r := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// FromRecord creates an element row backed by rec.
func FromRecord(rec *storage.Record) *Row {
	r := New()
	r.element = rec
	return r
}

// Updatable creates an updatable row over a private copy of rec.
func Updatable(rec *storage.Record) *Row {
	r := New()
	r.element = rec.Copy()
	r.updatable = true
	return r
}

// Get returns a property, falling through to the element.
func (r *Row) Get(name string) (any, bool) {
	if !r.updatable {
		if v, ok := r.props[name]; ok {
			return v, true
		}
	}
	if r.element != nil {
		return r.element.Get(name)
	}
	return nil, false
}

// Property returns a property or nil.
func (r *Row) Property(name string) any {
	v, _ := r.Get(name)
	return v
}

// Has reports whether the property resolves.
func (r *Row) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Set stores a property locally, or on the record for updatable rows.
func (r *Row) Set(name string, v any) {
	if r.updatable {
		r.element.Set(name, v)
		return
	}
	if _, ok := r.props[name]; !ok {
		r.names = append(r.names, name)
	}
	r.props[name] = value.Normalize(v)
}

// Remove deletes a property.
func (r *Row) Remove(name string) {
	if r.updatable {
		r.element.Remove(name)
		return
	}
	if _, ok := r.props[name]; !ok {
		return
	}
	delete(r.props, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// PropertyNames lists element properties followed by local ones.
func (r *Row) PropertyNames() []string {
	if r.element == nil {
		return append([]string(nil), r.names...)
	}
	names := r.element.PropertyNames()
	if r.updatable {
		return names
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range r.names {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// Element returns the backing record, or nil for plain rows.
func (r *Row) Element() *storage.Record { return r.element }

// SetElement changes the backing record.
func (r *Row) SetElement(rec *storage.Record) { r.element = rec }

func (r *Row) IsElement() bool   { return r.element != nil }
func (r *Row) IsUpdatable() bool { return r.updatable }

// RID returns the identity of the backing record.
func (r *Row) RID() (rid.RID, bool) {
	if r.element == nil {
		return rid.Invalid, false
	}
	return r.element.Identity(), true
}

// Meta returns row metadata (not part of the row's content).
func (r *Row) Meta(key string) (any, bool) {
	v, ok := r.meta[key]
	return v, ok
}

// SetMeta stores row metadata.
func (r *Row) SetMeta(key string, v any) {
	if r.meta == nil {
		r.meta = make(map[string]any)
	}
	r.meta[key] = v
}

// Copy returns an independent row; updatable rows copy their record too.
func (r *Row) Copy() *Row {
	c := &Row{
		names:     append([]string(nil), r.names...),
		props:     make(map[string]any, len(r.props)),
		element:   r.element,
		updatable: r.updatable,
	}
	for k, v := range r.props {
		c.props[k] = v
	}
	if r.updatable {
		c.element = r.element.Copy()
	}
	for k, v := range r.meta {
		c.SetMeta(k, v)
	}
	return c
}

// ToMap flattens the row, including @rid and @class of elements.
func (r *Row) ToMap() map[string]any {
	out := make(map[string]any)
	for _, n := range r.PropertyNames() {
		out[n] = r.Property(n)
	}
	if r.element != nil {
		out["@rid"] = r.element.Identity()
		out["@class"] = r.element.Class()
	}
	return out
}

// Key identifies the row for DISTINCT: the element identity when there is
// one, the content otherwise.
func (r *Row) Key() string {
	if id, ok := r.RID(); ok && id.IsValid() {
		return "r" + id.String()
	}
	props := make(map[string]any, len(r.names))
	for _, n := range r.PropertyNames() {
		props[n] = r.Property(n)
	}
	return value.Key(props)
}

func (r *Row) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	if id, ok := r.RID(); ok {
		sb.WriteString("@rid: " + id.String())
		if len(r.PropertyNames()) > 0 {
			sb.WriteString(", ")
		}
	}
	for i, n := range r.PropertyNames() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", n, Format(r.Property(n)))
	}
	sb.WriteString("}")
	return sb.String()
}

// Format renders a property value for display.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case *storage.Record:
		return x.Identity().String()
	case *Row:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = Format(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		return FromMap(x).String()
	}
	if id, ok := value.AsRID(v); ok {
		return id.String()
	}
	return fmt.Sprintf("%v", v)
}
