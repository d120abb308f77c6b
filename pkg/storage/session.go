package storage

import (
	"sort"
	"strconv"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
)

// Session is a Database view of a Store with at most one open transaction.
// Outside a transaction every write commits immediately.
type Session struct {
	store *Store
	tx    *txState
}

type txState struct {
	writes map[rid.RID]*write
	order  []rid.RID
}

var _ Database = (*Session)(nil)

func (s *Session) Schema() schema.Lookup { return s.store.schema }

// Store returns the shared store behind the session.
func (s *Session) Store() *Store { return s.store }

func (s *Session) Load(r rid.RID) (*Record, error) {
	if s.tx != nil {
		if w, ok := s.tx.writes[r]; ok {
			if w.rec == nil {
				return nil, RecordNotFoundError(r)
			}
			return w.rec.Copy(), nil
		}
	}
	rec, ok := s.store.get(r)
	if !ok {
		return nil, RecordNotFoundError(r)
	}
	return rec.Copy(), nil
}

func (s *Session) Exists(r rid.RID) bool {
	_, err := s.Load(r)
	return err == nil
}

func (s *Session) Scan(cid int32, ascending bool) (RecordIterator, error) {
	if _, ok := s.store.schema.ClusterName(cid); !ok {
		return nil, NewError("scan").Cluster(itoa32(cid)).Cause(ErrClusterNotFound).Err()
	}
	positions := s.store.positions(cid)
	if s.tx != nil {
		seen := make(map[int64]bool, len(positions))
		for _, p := range positions {
			seen[p] = true
		}
		for r := range s.tx.writes {
			if r.Cluster == cid && !seen[r.Position] {
				positions = append(positions, r.Position)
			}
		}
		sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	}
	if !ascending {
		for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
			positions[i], positions[j] = positions[j], positions[i]
		}
	}
	return &scanIterator{session: s, cluster: cid, positions: positions}, nil
}

type scanIterator struct {
	session   *Session
	cluster   int32
	positions []int64
	pos       int
}

func (it *scanIterator) Next() (*Record, bool, error) {
	for it.pos < len(it.positions) {
		r := rid.New(it.cluster, it.positions[it.pos])
		it.pos++
		rec, err := it.session.Load(r)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, false, err
		}
		return rec, true, nil
	}
	return nil, false, nil
}

func (it *scanIterator) Close() {
	it.positions = nil
}

func (s *Session) CountCluster(cid int32) int64 {
	n := s.store.count(cid)
	if s.tx == nil {
		return n
	}
	for r, w := range s.tx.writes {
		if r.Cluster != cid {
			continue
		}
		switch {
		case w.created && w.rec != nil:
			n++
		case !w.created && w.rec == nil:
			n--
		}
	}
	return n
}

func (s *Session) CountClass(class string, polymorphic bool) int64 {
	var ids []int32
	if polymorphic {
		ids = s.store.schema.PolymorphicClusterIDs(class)
	} else if c, ok := s.store.schema.Class(class); ok {
		ids = c.ClusterIDs
	}
	var n int64
	for _, id := range ids {
		n += s.CountCluster(id)
	}
	return n
}

func (s *Session) Save(rec *Record) (*Record, error) {
	if rec.id.IsPersistent() {
		return s.saveTo(rec, rec.id.Cluster)
	}
	c, ok := s.store.schema.Class(rec.class)
	if !ok || c.DefaultCluster() < 0 {
		return nil, NewError("save").Cluster(rec.class).Cause(ErrClusterNotFound).Err()
	}
	return s.saveTo(rec, c.DefaultCluster())
}

func (s *Session) SaveToCluster(rec *Record, cid int32) (*Record, error) {
	if _, ok := s.store.schema.ClusterName(cid); !ok {
		return nil, NewError("save").Cluster(itoa32(cid)).Cause(ErrClusterNotFound).Err()
	}
	if rec.id.IsPersistent() && rec.id.Cluster != cid {
		// moving clusters creates a new identity
		moved := rec.Copy()
		moved.id = rid.Invalid
		moved.version = 0
		return s.saveTo(moved, cid)
	}
	return s.saveTo(rec, cid)
}

func (s *Session) saveTo(rec *Record, cid int32) (*Record, error) {
	w := write{rec: rec.Copy()}
	if rec.id.IsPersistent() {
		w.r = rec.id
		w.base = rec.version
	} else {
		w.r = s.store.reserve(cid)
		w.created = true
	}
	w.rec.id = w.r
	w.rec.version = w.base + 1

	err := s.stage(w)
	if s.store.metrics != nil {
		s.store.metrics.RecordStorageOperation("save", err)
	}
	if err != nil {
		return nil, err
	}
	return w.rec.Copy(), nil
}

// stage queues w in the open transaction or applies it immediately.
func (s *Session) stage(w write) error {
	if s.tx == nil {
		return s.store.apply("save", []write{w})
	}
	if prev, ok := s.tx.writes[w.r]; ok {
		w.base = prev.base
		w.created = prev.created
		if w.rec != nil {
			w.rec.version = prev.base + 1
		}
	} else {
		s.tx.order = append(s.tx.order, w.r)
	}
	s.tx.writes[w.r] = &w
	return nil
}

func (s *Session) Delete(r rid.RID) error {
	rec, err := s.Load(r)
	if err != nil {
		return err
	}
	if rec.IsVertex() {
		edges, err := s.Edges(r, DirBoth)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if err := s.stage(write{r: e.id, base: e.version}); err != nil {
				return err
			}
		}
	}
	err = s.stage(write{r: r, base: rec.version})
	if s.store.metrics != nil {
		s.store.metrics.RecordStorageOperation("delete", err)
	}
	return err
}

func (s *Session) CreateEdge(class string, from, to rid.RID, props map[string]any) (*Record, error) {
	for _, v := range []rid.RID{from, to} {
		rec, err := s.Load(v)
		if err != nil {
			return nil, err
		}
		if !rec.IsVertex() {
			return nil, NewError("create edge").Record(v).Cause(ErrNotVertex).Err()
		}
	}
	edge := NewRecord(class, KindEdge)
	edge.SetEndpoints(from, to)
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		edge.Set(k, props[k])
	}
	return s.Save(edge)
}

func (s *Session) Edges(v rid.RID, dir Direction, classes ...string) ([]*Record, error) {
	ids := s.store.edgeIDs(v, dir)
	if s.tx != nil {
		for _, r := range s.tx.order {
			if w := s.tx.writes[r]; w.rec != nil && w.rec.IsEdge() {
				ids = append(ids, r)
			}
		}
	}

	seen := make(map[rid.RID]bool, len(ids))
	var out []*Record
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, err := s.Load(id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if !touches(e, v, dir) || !classMatches(s.store.schema, e.class, classes) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func touches(e *Record, v rid.RID, dir Direction) bool {
	switch dir {
	case DirOut:
		return e.out == v
	case DirIn:
		return e.in == v
	}
	return e.out == v || e.in == v
}

func classMatches(l schema.Lookup, class string, classes []string) bool {
	if len(classes) == 0 {
		return true
	}
	for _, c := range classes {
		if l.IsSubclassOf(class, c) {
			return true
		}
	}
	return false
}

func (s *Session) Index(name string) (Index, bool) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	idx, ok := s.store.indexes[name]
	return idx, ok
}

func (s *Session) Begin() error {
	if s.tx != nil {
		return NewError("begin").Tx().Cause(ErrNestedTx).Err()
	}
	s.tx = &txState{writes: make(map[rid.RID]*write)}
	return nil
}

// Commit applies the transaction. A version conflict discards it and is
// returned as a retryable error.
func (s *Session) Commit() error {
	if s.tx == nil {
		return NewError("commit").Tx().Cause(ErrNoTransaction).Err()
	}
	writes := make([]write, 0, len(s.tx.order))
	for _, r := range s.tx.order {
		writes = append(writes, *s.tx.writes[r])
	}
	s.tx = nil
	err := s.store.apply("commit", writes)
	if s.store.metrics != nil {
		s.store.metrics.RecordStorageOperation("commit", err)
	}
	return err
}

func (s *Session) Rollback() error {
	if s.tx == nil {
		return NewError("rollback").Tx().Cause(ErrNoTransaction).Err()
	}
	s.tx = nil
	return nil
}

func (s *Session) InTx() bool {
	return s.tx != nil
}

func itoa32(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}
