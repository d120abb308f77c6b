// Package storage is the reference record store the query engine runs
// against: clusters of versioned records, vertex/edge adjacency, ordered
// indexes (in memory or in badger) and optimistic transactions.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-query/pkg/metrics"
	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
)

// Database is the record-lookup, scan, index and transaction service the
// engine consumes. A Database is used by one statement at a time.
type Database interface {
	Schema() schema.Lookup
	Load(r rid.RID) (*Record, error)
	Exists(r rid.RID) bool
	// Scan iterates the records of one cluster in position order.
	Scan(cluster int32, ascending bool) (RecordIterator, error)
	CountCluster(cluster int32) int64
	CountClass(class string, polymorphic bool) int64
	// Save inserts a transient record or updates a persistent one, failing
	// with a retryable conflict when the stored version moved on.
	Save(rec *Record) (*Record, error)
	// SaveToCluster inserts a transient record into a specific cluster.
	SaveToCluster(rec *Record, cluster int32) (*Record, error)
	// Delete removes a record; deleting a vertex also deletes its edges.
	Delete(r rid.RID) error
	CreateEdge(class string, from, to rid.RID, props map[string]any) (*Record, error)
	// Edges returns the edges of a vertex in the given direction whose class
	// is one of classes (polymorphically), or all edges when classes is empty.
	Edges(vertex rid.RID, dir Direction, classes ...string) ([]*Record, error)
	Index(name string) (Index, bool)
	Begin() error
	Commit() error
	Rollback() error
	InTx() bool
}

// RecordIterator yields records one by one.
type RecordIterator interface {
	Next() (*Record, bool, error)
	Close()
}

type cluster struct {
	records map[int64]*Record
	next    int64
}

// Store holds committed data shared by every Session.
type Store struct {
	mu       sync.RWMutex
	schema   *schema.Schema
	clusters map[int32]*cluster
	outEdges map[rid.RID][]rid.RID
	inEdges  map[rid.RID][]rid.RID
	indexes  map[string]Index
	factory  IndexFactory
	metrics  *metrics.Registry
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithIndexFactory selects the index backend; the default is MemoryIndex.
func WithIndexFactory(f IndexFactory) Option {
	return func(s *Store) { s.factory = f }
}

// WithMetrics records storage operations on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Store) { s.metrics = reg }
}

// NewStore creates an empty store over sch.
func NewStore(sch *schema.Schema, opts ...Option) *Store {
	s := &Store{
		schema:   sch,
		clusters: make(map[int32]*cluster),
		outEdges: make(map[rid.RID][]rid.RID),
		inEdges:  make(map[rid.RID][]rid.RID),
		indexes:  make(map[string]Index),
		factory:  NewMemoryIndex,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema returns the mutable schema.
func (s *Store) Schema() *schema.Schema { return s.schema }

// CreateIndex defines an index in the schema, opens it and indexes the
// records already stored.
func (s *Store) CreateIndex(name, class string, unique bool, fields ...string) (Index, error) {
	def, err := s.schema.CreateIndex(name, class, unique, fields...)
	if err != nil {
		return nil, err
	}
	idx, err := s.factory(def)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cid := range s.schema.PolymorphicClusterIDs(class) {
		c := s.clusters[cid]
		if c == nil {
			continue
		}
		for _, rec := range c.records {
			if key, ok := KeyOf(def, rec); ok {
				if err := idx.Put(key, rec.id); err != nil {
					return nil, err
				}
			}
		}
	}
	s.indexes[name] = idx
	return idx, nil
}

// Session opens a new session on the store.
func (s *Store) Session() *Session {
	return &Session{store: s}
}

// Close closes every index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, idx := range s.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) clusterLocked(id int32) *cluster {
	c := s.clusters[id]
	if c == nil {
		c = &cluster{records: make(map[int64]*Record)}
		s.clusters[id] = c
	}
	return c
}

// reserve allocates the next position of a cluster.
func (s *Store) reserve(cid int32) rid.RID {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.clusterLocked(cid)
	pos := c.next
	c.next++
	return rid.New(cid, pos)
}

func (s *Store) get(r rid.RID) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.clusters[r.Cluster]
	if c == nil {
		return nil, false
	}
	rec, ok := c.records[r.Position]
	return rec, ok
}

func (s *Store) positions(cid int32) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.clusters[cid]
	if c == nil {
		return nil
	}
	out := make([]int64, 0, len(c.records))
	for p := range c.records {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Store) count(cid int32) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c := s.clusters[cid]; c != nil {
		return int64(len(c.records))
	}
	return 0
}

func (s *Store) edgeIDs(v rid.RID, dir Direction) []rid.RID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rid.RID
	if dir == DirOut || dir == DirBoth {
		out = append(out, s.outEdges[v]...)
	}
	if dir == DirIn || dir == DirBoth {
		out = append(out, s.inEdges[v]...)
	}
	return out
}

// write is one pending change: rec nil means delete.
type write struct {
	r       rid.RID
	rec     *Record
	base    int64 // version observed before the change; 0 for inserts
	created bool
}

// apply validates versions and applies writes atomically.
func (s *Store) apply(op string, writes []write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewError(op).Tx().Cause(ErrStorageClosed).Err()
	}
	for _, w := range writes {
		if w.created {
			continue
		}
		stored, ok := s.clusterLocked(w.r.Cluster).records[w.r.Position]
		if !ok {
			if w.rec == nil {
				continue
			}
			return RecordNotFoundError(w.r)
		}
		if stored.version != w.base {
			if s.metrics != nil {
				s.metrics.StorageConflictsTotal.Inc()
			}
			return ConflictError(op, w.r, stored.version, w.base)
		}
	}
	if err := s.checkUniqueLocked(writes); err != nil {
		return err
	}

	for _, w := range writes {
		c := s.clusterLocked(w.r.Cluster)
		old := c.records[w.r.Position]
		if old != nil {
			s.unindexLocked(old)
			if old.IsEdge() {
				s.unlinkLocked(old)
			}
		}
		if w.rec == nil {
			delete(c.records, w.r.Position)
			continue
		}
		stored := w.rec.Copy()
		stored.id = w.r
		stored.version = w.base + 1
		c.records[w.r.Position] = stored
		if err := s.indexLocked(stored); err != nil {
			return err
		}
		if stored.IsEdge() {
			s.outEdges[stored.out] = append(s.outEdges[stored.out], stored.id)
			s.inEdges[stored.in] = append(s.inEdges[stored.in], stored.id)
		}
	}
	return nil
}

func (s *Store) checkUniqueLocked(writes []write) error {
	for _, w := range writes {
		if w.rec == nil {
			continue
		}
		for _, def := range s.schema.Indexes(w.rec.class) {
			if !def.Unique {
				continue
			}
			key, ok := KeyOf(def, w.rec)
			idx := s.indexes[def.Name]
			if !ok || idx == nil {
				continue
			}
			cur, err := idx.Iterate(Point(key, true))
			if err != nil {
				return err
			}
			for {
				e, ok, err := cur.Next()
				if err != nil || !ok {
					cur.Close()
					if err != nil {
						return err
					}
					break
				}
				if e.RID != w.r && !deletedIn(writes, e.RID) {
					cur.Close()
					return NewError("save").Index(def.Name).Cause(ErrDuplicateKey).Err()
				}
			}
		}
	}
	return nil
}

func deletedIn(writes []write, r rid.RID) bool {
	for _, w := range writes {
		if w.r == r && w.rec == nil {
			return true
		}
	}
	return false
}

func (s *Store) indexLocked(rec *Record) error {
	for _, def := range s.schema.Indexes(rec.class) {
		idx := s.indexes[def.Name]
		if idx == nil {
			continue
		}
		if key, ok := KeyOf(def, rec); ok {
			if err := idx.Put(key, rec.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) unindexLocked(rec *Record) {
	for _, def := range s.schema.Indexes(rec.class) {
		idx := s.indexes[def.Name]
		if idx == nil {
			continue
		}
		if key, ok := KeyOf(def, rec); ok {
			_ = idx.Remove(key, rec.id)
		}
	}
}

func (s *Store) unlinkLocked(edge *Record) {
	s.outEdges[edge.out] = removeRID(s.outEdges[edge.out], edge.id)
	s.inEdges[edge.in] = removeRID(s.inEdges[edge.in], edge.id)
}

func removeRID(list []rid.RID, r rid.RID) []rid.RID {
	for i, x := range list {
		if x == r {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// String summarizes the store contents.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.clusters {
		n += len(c.records)
	}
	return fmt.Sprintf("Store{clusters: %d, records: %d, indexes: %d}", len(s.clusters), n, len(s.indexes))
}
