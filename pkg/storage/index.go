package storage

import (
	"sort"
	"sync"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Entry is one (key, record) pair read through a cursor.
type Entry struct {
	Key any
	RID rid.RID
}

// Range bounds an index scan. A missing bound extends to the extreme of the
// key space. For composite indexes a shorter tuple bound matches by prefix.
type Range struct {
	From          any
	HasFrom       bool
	FromInclusive bool
	To            any
	HasTo         bool
	ToInclusive   bool
	Ascending     bool
}

// Point returns the range holding exactly key.
func Point(key any, ascending bool) Range {
	return Range{From: key, HasFrom: true, FromInclusive: true, To: key, HasTo: true, ToInclusive: true, Ascending: ascending}
}

// Cursor iterates index entries in key order.
type Cursor interface {
	// Next returns the next entry; ok is false once the cursor is exhausted.
	Next() (e Entry, ok bool, err error)
	Close() error
}

// Index is an ordered index over the key fields of a class.
type Index interface {
	Definition() *schema.IndexDef
	Put(key any, r rid.RID) error
	Remove(key any, r rid.RID) error
	Iterate(rng Range) (Cursor, error)
	Size() int64
	Close() error
}

// IndexFactory opens the backing structure for an index definition.
type IndexFactory func(def *schema.IndexDef) (Index, error)

// KeyOf extracts the index key of rec. Single-field indexes use the field
// value; composite indexes use the ordered tuple of field values. Records
// with a null key component are not indexed.
func KeyOf(def *schema.IndexDef, rec *Record) (any, bool) {
	if !def.Composite() {
		v, ok := rec.Get(def.Fields[0])
		if !ok || v == nil {
			return nil, false
		}
		return value.Normalize(v), true
	}
	tuple := make([]any, len(def.Fields))
	for i, f := range def.Fields {
		v, ok := rec.Get(f)
		if !ok || v == nil {
			return nil, false
		}
		tuple[i] = value.Normalize(v)
	}
	return tuple, true
}

// compareBound orders key against a range bound, matching tuple bounds by prefix.
func compareBound(key, bound any) int {
	k, kok := key.([]any)
	b, bok := value.Normalize(bound).([]any)
	if kok && bok && len(b) < len(k) {
		return value.SortCompare(k[:len(b)], b)
	}
	return value.SortCompare(key, bound)
}

// MemoryIndex keeps entries in a sorted slice.
type MemoryIndex struct {
	def     *schema.IndexDef
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryIndex is an IndexFactory for in-memory indexes.
func NewMemoryIndex(def *schema.IndexDef) (Index, error) {
	return &MemoryIndex{def: def}, nil
}

func (m *MemoryIndex) Definition() *schema.IndexDef { return m.def }

func entryLess(a Entry, key any, r rid.RID) bool {
	if c := value.SortCompare(a.Key, key); c != 0 {
		return c < 0
	}
	return a.RID.Compare(r) < 0
}

func (m *MemoryIndex) Put(key any, r rid.RID) error {
	key = value.Normalize(key)
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.entries), func(i int) bool { return !entryLess(m.entries[i], key, r) })
	if m.def.Unique {
		for _, j := range []int{i - 1, i} {
			if j >= 0 && j < len(m.entries) && value.Equals(m.entries[j].Key, key) && m.entries[j].RID != r {
				return NewError("put").Index(m.def.Name).Cause(ErrDuplicateKey).Err()
			}
		}
	}
	if i < len(m.entries) && m.entries[i].RID == r && value.Equals(m.entries[i].Key, key) {
		return nil
	}
	m.entries = append(m.entries, Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = Entry{Key: key, RID: r}
	return nil
}

func (m *MemoryIndex) Remove(key any, r rid.RID) error {
	key = value.Normalize(key)
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.entries), func(i int) bool { return !entryLess(m.entries[i], key, r) })
	if i < len(m.entries) && m.entries[i].RID == r && value.Equals(m.entries[i].Key, key) {
		m.entries = append(m.entries[:i], m.entries[i+1:]...)
	}
	return nil
}

func (m *MemoryIndex) Iterate(rng Range) (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo, hi := 0, len(m.entries)
	if rng.HasFrom {
		lo = sort.Search(len(m.entries), func(i int) bool {
			c := compareBound(m.entries[i].Key, rng.From)
			if rng.FromInclusive {
				return c >= 0
			}
			return c > 0
		})
	}
	if rng.HasTo {
		hi = sort.Search(len(m.entries), func(i int) bool {
			c := compareBound(m.entries[i].Key, rng.To)
			if rng.ToInclusive {
				return c > 0
			}
			return c >= 0
		})
	}
	if hi < lo {
		hi = lo
	}
	snapshot := make([]Entry, hi-lo)
	copy(snapshot, m.entries[lo:hi])
	if !rng.Ascending {
		for i, j := 0, len(snapshot)-1; i < j; i, j = i+1, j-1 {
			snapshot[i], snapshot[j] = snapshot[j], snapshot[i]
		}
	}
	return &sliceCursor{entries: snapshot}, nil
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries))
}

func (m *MemoryIndex) Close() error { return nil }

type sliceCursor struct {
	entries []Entry
	pos     int
}

func (c *sliceCursor) Next() (Entry, bool, error) {
	if c.pos >= len(c.entries) {
		return Entry{}, false, nil
	}
	e := c.entries[c.pos]
	c.pos++
	return e, true, nil
}

func (c *sliceCursor) Close() error {
	c.entries = nil
	return nil
}
