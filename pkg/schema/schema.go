// Package schema holds class-hierarchy metadata: classes, their clusters and
// index definitions. The engine consumes it through the Lookup interface.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Base classes of the graph model.
const (
	VertexClass = "V"
	EdgeClass   = "E"
)

var (
	ErrClassExists   = errors.New("class already exists")
	ErrClassNotFound = errors.New("class not found")
	ErrIndexExists   = errors.New("index already exists")
	ErrClusterExists = errors.New("cluster already exists")
)

// Class describes one record class.
type Class struct {
	Name       string
	Superclass string
	ClusterIDs []int32
	Abstract   bool
}

// DefaultCluster is the cluster new records of the class are written to.
func (c *Class) DefaultCluster() int32 {
	if len(c.ClusterIDs) == 0 {
		return -1
	}
	return c.ClusterIDs[0]
}

// IndexDef describes an index over one or more fields of a class.
type IndexDef struct {
	Name   string
	Class  string
	Fields []string
	Unique bool
}

// Composite reports whether the index key is a tuple.
func (d *IndexDef) Composite() bool {
	return len(d.Fields) > 1
}

// Lookup is the read-only schema service used during planning and execution.
type Lookup interface {
	Class(name string) (*Class, bool)
	Classes() []*Class
	// IsSubclassOf is reflexive: every class is a subclass of itself.
	IsSubclassOf(name, super string) bool
	// PolymorphicClusterIDs returns the clusters of name and all its subclasses.
	PolymorphicClusterIDs(name string) []int32
	ClassOfCluster(id int32) (string, bool)
	ClusterID(name string) (int32, bool)
	ClusterName(id int32) (string, bool)
	// Indexes returns the indexes defined on name or its superclasses.
	Indexes(class string) []*IndexDef
	Index(name string) (*IndexDef, bool)
	AllIndexes() []*IndexDef
}

// Schema is the in-memory Lookup implementation.
type Schema struct {
	mu           sync.RWMutex
	classes      map[string]*Class
	clusterNames map[int32]string
	clusterIDs   map[string]int32
	clusterClass map[int32]string
	indexes      map[string]*IndexDef
	nextCluster  int32
}

// New creates a schema holding the V and E base classes.
func New() *Schema {
	s := &Schema{
		classes:      make(map[string]*Class),
		clusterNames: make(map[int32]string),
		clusterIDs:   make(map[string]int32),
		clusterClass: make(map[int32]string),
		indexes:      make(map[string]*IndexDef),
	}
	_, _ = s.CreateClass(VertexClass, "")
	_, _ = s.CreateClass(EdgeClass, "")
	return s
}

// CreateClass registers a class with one cluster named after it.
func (s *Schema) CreateClass(name, superclass string) (*Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.classes[name]; ok {
		return nil, fmt.Errorf("create class %s: %w", name, ErrClassExists)
	}
	if superclass != "" {
		if _, ok := s.classes[superclass]; !ok {
			return nil, fmt.Errorf("create class %s: superclass %s: %w", name, superclass, ErrClassNotFound)
		}
	}
	id, err := s.addClusterLocked(strings.ToLower(name))
	if err != nil {
		return nil, fmt.Errorf("create class %s: %w", name, err)
	}
	c := &Class{Name: name, Superclass: superclass, ClusterIDs: []int32{id}}
	s.classes[name] = c
	s.clusterClass[id] = name
	return c, nil
}

// MustCreateClass is CreateClass for fixtures.
func (s *Schema) MustCreateClass(name, superclass string) *Class {
	c, err := s.CreateClass(name, superclass)
	if err != nil {
		panic(err)
	}
	return c
}

// AddCluster adds an extra cluster to an existing class.
func (s *Schema) AddCluster(class, cluster string) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.classes[class]
	if !ok {
		return -1, fmt.Errorf("add cluster %s: class %s: %w", cluster, class, ErrClassNotFound)
	}
	id, err := s.addClusterLocked(cluster)
	if err != nil {
		return -1, err
	}
	c.ClusterIDs = append(c.ClusterIDs, id)
	s.clusterClass[id] = class
	return id, nil
}

func (s *Schema) addClusterLocked(name string) (int32, error) {
	if _, ok := s.clusterIDs[name]; ok {
		return -1, fmt.Errorf("cluster %s: %w", name, ErrClusterExists)
	}
	id := s.nextCluster
	s.nextCluster++
	s.clusterIDs[name] = id
	s.clusterNames[id] = name
	return id, nil
}

// CreateIndex registers an index definition on class over fields.
func (s *Schema) CreateIndex(name, class string, unique bool, fields ...string) (*IndexDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indexes[name]; ok {
		return nil, fmt.Errorf("create index %s: %w", name, ErrIndexExists)
	}
	if _, ok := s.classes[class]; !ok {
		return nil, fmt.Errorf("create index %s: class %s: %w", name, class, ErrClassNotFound)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("create index %s: no fields", name)
	}
	def := &IndexDef{Name: name, Class: class, Fields: append([]string(nil), fields...), Unique: unique}
	s.indexes[name] = def
	return def, nil
}

func (s *Schema) Class(name string) (*Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[name]
	return c, ok
}

func (s *Schema) Classes() []*Class {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Schema) IsSubclassOf(name, super string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isSubclassLocked(name, super)
}

func (s *Schema) isSubclassLocked(name, super string) bool {
	for seen := 0; name != "" && seen <= len(s.classes); seen++ {
		if name == super {
			return true
		}
		c, ok := s.classes[name]
		if !ok {
			return false
		}
		name = c.Superclass
	}
	return false
}

func (s *Schema) PolymorphicClusterIDs(name string) []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int32
	for _, c := range s.classes {
		if s.isSubclassLocked(c.Name, name) {
			ids = append(ids, c.ClusterIDs...)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Schema) ClassOfCluster(id int32) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.clusterClass[id]
	return name, ok
}

func (s *Schema) ClusterID(name string) (int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.clusterIDs[name]
	return id, ok
}

func (s *Schema) ClusterName(id int32) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.clusterNames[id]
	return name, ok
}

func (s *Schema) Indexes(class string) []*IndexDef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*IndexDef
	for _, def := range s.indexes {
		if s.isSubclassLocked(class, def.Class) {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Schema) Index(name string) (*IndexDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.indexes[name]
	return def, ok
}

func (s *Schema) AllIndexes() []*IndexDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*IndexDef, 0, len(s.indexes))
	for _, def := range s.indexes {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MostSpecific unifies two declared classes of the same alias: it returns the
// lower class of the pair when one is a subclass of the other. An empty name
// means "unconstrained".
func MostSpecific(l Lookup, a, b string) (string, bool) {
	switch {
	case a == "":
		return b, true
	case b == "" || a == b:
		return a, true
	case l.IsSubclassOf(a, b):
		return a, true
	case l.IsSubclassOf(b, a):
		return b, true
	}
	return "", false
}

// IsVertexClass reports whether name descends from V.
func IsVertexClass(l Lookup, name string) bool {
	return l.IsSubclassOf(name, VertexClass)
}

// IsEdgeClass reports whether name descends from E.
func IsEdgeClass(l Lookup, name string) bool {
	return l.IsSubclassOf(name, EdgeClass)
}
