// Package visited implements the set of record identities used for traversal
// cycle detection and DISTINCT.
//
// Persistent identities map to one bit in a sparse structure indexed by
// cluster, then by block of positions; blocks and cluster tables are grown on
// demand and never shrink. Low cluster and block indexes live in slices;
// beyond maxDense they move to maps, so one far identity costs one block.
// Transient identities (negative cluster or position) fall back to an exact
// map.
package visited

import (
	"maps"
	"math/bits"
	"slices"

	"github.com/dd0wney/cluso-query/pkg/rid"
)

const (
	blockBits  = 12 // positions per block = 4096
	blockSize  = 1 << blockBits
	wordsPerBk = blockSize / 64

	// maxDense bounds the slice part of cluster and block tables.
	maxDense = 1 << 12
)

type block [wordsPerBk]uint64

// table holds the blocks of one cluster.
type table struct {
	dense  []*block
	sparse map[int]*block
}

func (t *table) block(i int, create bool) *block {
	if i >= maxDense {
		b := t.sparse[i]
		if b == nil && create {
			if t.sparse == nil {
				t.sparse = make(map[int]*block)
			}
			b = new(block)
			t.sparse[i] = b
		}
		return b
	}
	if i >= len(t.dense) {
		if !create {
			return nil
		}
		grown := make([]*block, i+1)
		copy(grown, t.dense)
		t.dense = grown
	}
	if t.dense[i] == nil && create {
		t.dense[i] = new(block)
	}
	return t.dense[i]
}

// each calls fn for the non-nil blocks in index order.
func (t *table) each(fn func(i int, b *block) bool) bool {
	for i, b := range t.dense {
		if b != nil && !fn(i, b) {
			return false
		}
	}
	for _, i := range slices.Sorted(maps.Keys(t.sparse)) {
		if !fn(i, t.sparse[i]) {
			return false
		}
	}
	return true
}

// Set is a set of RIDs. The zero value is ready to use. Set is not safe for
// concurrent use; each traversal run owns its own.
type Set struct {
	clusters  []*table
	far       map[int]*table
	transient map[rid.RID]struct{}
	size      int
}

// New returns an empty set.
func New() *Set {
	return &Set{}
}

func split(r rid.RID) (cluster, blk int, word int, mask uint64) {
	pos := uint64(r.Position)
	return int(r.Cluster), int(pos >> blockBits), int(pos&(blockSize-1)) / 64, 1 << (pos & 63)
}

func (s *Set) table(c int, create bool) *table {
	if c >= maxDense {
		t := s.far[c]
		if t == nil && create {
			if s.far == nil {
				s.far = make(map[int]*table)
			}
			t = &table{}
			s.far[c] = t
		}
		return t
	}
	if c >= len(s.clusters) {
		if !create {
			return nil
		}
		grown := make([]*table, c+1)
		copy(grown, s.clusters)
		s.clusters = grown
	}
	if s.clusters[c] == nil && create {
		s.clusters[c] = &table{}
	}
	return s.clusters[c]
}

func (s *Set) lookup(r rid.RID, create bool) (*block, int, uint64) {
	c, b, w, m := split(r)
	t := s.table(c, create)
	if t == nil {
		return nil, w, m
	}
	return t.block(b, create), w, m
}

// Add inserts r and reports whether it was not already present.
func (s *Set) Add(r rid.RID) bool {
	if !r.IsPersistent() {
		if s.transient == nil {
			s.transient = make(map[rid.RID]struct{})
		}
		if _, ok := s.transient[r]; ok {
			return false
		}
		s.transient[r] = struct{}{}
		s.size++
		return true
	}

	b, w, m := s.lookup(r, true)
	if b[w]&m != 0 {
		return false
	}
	b[w] |= m
	s.size++
	return true
}

// Contains reports whether r is in the set.
func (s *Set) Contains(r rid.RID) bool {
	if !r.IsPersistent() {
		_, ok := s.transient[r]
		return ok
	}
	b, w, m := s.lookup(r, false)
	return b != nil && b[w]&m != 0
}

// Remove deletes r and reports whether it was present.
func (s *Set) Remove(r rid.RID) bool {
	if !r.IsPersistent() {
		if _, ok := s.transient[r]; !ok {
			return false
		}
		delete(s.transient, r)
		s.size--
		return true
	}
	b, w, m := s.lookup(r, false)
	if b == nil || b[w]&m == 0 {
		return false
	}
	b[w] &^= m
	s.size--
	return true
}

// Len returns the number of identities in the set.
func (s *Set) Len() int {
	return s.size
}

// eachTable calls fn for every cluster table in cluster order.
func (s *Set) eachTable(fn func(c int, t *table) bool) {
	for c, t := range s.clusters {
		if t != nil && !fn(c, t) {
			return
		}
	}
	for _, c := range slices.Sorted(maps.Keys(s.far)) {
		if !fn(c, s.far[c]) {
			return
		}
	}
}

// Clear empties the set, keeping allocated blocks for reuse.
func (s *Set) Clear() {
	s.eachTable(func(_ int, t *table) bool {
		return t.each(func(_ int, b *block) bool {
			*b = block{}
			return true
		})
	})
	s.transient = nil
	s.size = 0
}

// Each calls fn for every persistent identity in (cluster, position) order,
// then for transient identities in unspecified order. Iteration stops when fn
// returns false.
func (s *Set) Each(fn func(rid.RID) bool) {
	stopped := false
	s.eachTable(func(c int, t *table) bool {
		stopped = !t.each(func(bi int, b *block) bool {
			for wi, word := range b {
				for word != 0 {
					bit := bits.TrailingZeros64(word)
					word &^= 1 << bit
					pos := int64(bi)<<blockBits | int64(wi*64+bit)
					if !fn(rid.New(int32(c), pos)) {
						return false
					}
				}
			}
			return true
		})
		return !stopped
	})
	if stopped {
		return
	}
	for r := range s.transient {
		if !fn(r) {
			return
		}
	}
}
