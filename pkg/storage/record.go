package storage

import (
	"github.com/dd0wney/cluso-query/pkg/rid"
)

// Kind distinguishes plain documents from graph elements.
type Kind uint8

const (
	KindDocument Kind = iota
	KindVertex
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindVertex:
		return "vertex"
	case KindEdge:
		return "edge"
	}
	return "document"
}

// Direction of an edge relative to a vertex.
type Direction uint8

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirBoth:
		return "both"
	}
	return "out"
}

// Reverse swaps out and in.
func (d Direction) Reverse() Direction {
	switch d {
	case DirOut:
		return DirIn
	case DirIn:
		return DirOut
	}
	return DirBoth
}

// Record is a stored document, vertex or edge. Property order is insertion
// order. Records handed out by the store are private copies.
type Record struct {
	id      rid.RID
	class   string
	version int64
	kind    Kind
	names   []string
	props   map[string]any
	out, in rid.RID
}

// NewRecord creates a transient record of class.
func NewRecord(class string, kind Kind) *Record {
	return &Record{
		id:    rid.Invalid,
		class: class,
		kind:  kind,
		props: make(map[string]any),
		out:   rid.Invalid,
		in:    rid.Invalid,
	}
}

// Identity implements value.Identifiable.
func (r *Record) Identity() rid.RID { return r.id }
func (r *Record) Class() string     { return r.class }
func (r *Record) Version() int64    { return r.version }
func (r *Record) Kind() Kind        { return r.kind }
func (r *Record) IsVertex() bool    { return r.kind == KindVertex }
func (r *Record) IsEdge() bool      { return r.kind == KindEdge }

// SetClass changes the record class; SetKind its graph role.
func (r *Record) SetClass(class string) { r.class = class }
func (r *Record) SetKind(k Kind)        { r.kind = k }

// Out returns the source vertex of an edge.
func (r *Record) Out() rid.RID { return r.out }

// In returns the target vertex of an edge.
func (r *Record) In() rid.RID { return r.in }

// SetEndpoints sets the vertices an edge connects.
func (r *Record) SetEndpoints(out, in rid.RID) {
	r.out, r.in = out, in
}

// Endpoint returns the vertex on the given side of an edge.
func (r *Record) Endpoint(d Direction) rid.RID {
	if d == DirIn {
		return r.in
	}
	return r.out
}

// Get returns a property. The edge endpoints are readable as "out" and "in";
// @rid, @class and @version resolve from the header.
func (r *Record) Get(name string) (any, bool) {
	if v, ok := r.props[name]; ok {
		return v, true
	}
	switch name {
	case "@rid":
		return r.id, true
	case "@class":
		return r.class, r.class != ""
	case "@version":
		return r.version, true
	}
	if r.kind == KindEdge {
		switch name {
		case "out":
			return r.out, r.out.IsValid()
		case "in":
			return r.in, r.in.IsValid()
		}
	}
	return nil, false
}

// Has reports whether a property is set.
func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Set stores a property, keeping first-insertion order.
func (r *Record) Set(name string, v any) {
	if _, ok := r.props[name]; !ok {
		r.names = append(r.names, name)
	}
	r.props[name] = v
}

// Remove deletes a property and reports whether it was present.
func (r *Record) Remove(name string) bool {
	if _, ok := r.props[name]; !ok {
		return false
	}
	delete(r.props, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every property.
func (r *Record) Clear() {
	r.names = nil
	r.props = make(map[string]any)
}

// PropertyNames returns the property names in insertion order.
func (r *Record) PropertyNames() []string {
	return append([]string(nil), r.names...)
}

// Properties returns a copy of the property map.
func (r *Record) Properties() map[string]any {
	out := make(map[string]any, len(r.props))
	for k, v := range r.props {
		out[k] = v
	}
	return out
}

// Copy returns a deep copy of the record header and a shallow copy of its
// property values.
func (r *Record) Copy() *Record {
	c := *r
	c.names = append([]string(nil), r.names...)
	c.props = make(map[string]any, len(r.props))
	for k, v := range r.props {
		c.props[k] = v
	}
	return &c
}
