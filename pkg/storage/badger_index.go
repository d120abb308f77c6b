package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/schema"
)

// BadgerBackend stores every index in one badger database, each under its
// own key prefix.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadgerBackend opens (or creates) a badger database in dir. An empty dir
// runs badger in memory.
func OpenBadgerBackend(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

// Factory returns an IndexFactory creating indexes in this backend.
func (b *BadgerBackend) Factory() IndexFactory {
	return func(def *schema.IndexDef) (Index, error) {
		return b.OpenIndex(def)
	}
}

// OpenIndex opens the index for def, counting existing entries.
func (b *BadgerBackend) OpenIndex(def *schema.IndexDef) (*BadgerIndex, error) {
	idx := &BadgerIndex{
		db:     b.db,
		def:    def,
		prefix: append([]byte("idx/"+def.Name), 0x00),
	}

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = idx.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		var n int64
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		idx.size.Store(n)
		return nil
	})
	if err != nil {
		return nil, NewError("open").Index(def.Name).Cause(err).Err()
	}
	return idx, nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// BadgerIndex is an ordered index persisted in badger. Entry keys are
// prefix | encoded key | RID, with empty values.
type BadgerIndex struct {
	db     *badger.DB
	def    *schema.IndexDef
	prefix []byte
	size   atomic.Int64
}

func (x *BadgerIndex) Definition() *schema.IndexDef { return x.def }

func (x *BadgerIndex) entryKey(key any, r rid.RID) []byte {
	k := bytes.Clone(x.prefix)
	k = append(k, encodeIndexKey(x.def.Composite(), key)...)
	return appendRID(k, r)
}

func (x *BadgerIndex) Put(key any, r rid.RID) error {
	full := x.entryKey(key, r)
	keyPrefix := full[:len(full)-ridSuffixLen]

	var added bool
	err := x.db.Update(func(txn *badger.Txn) error {
		if x.def.Unique {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = keyPrefix
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				k := it.Item().Key()
				if len(k) == len(full) && decodeRID(k[len(k)-ridSuffixLen:]) != r {
					it.Close()
					return ErrDuplicateKey
				}
			}
			it.Close()
		}
		_, err := txn.Get(full)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		added = true
		return txn.Set(full, []byte{})
	})
	if err != nil {
		return NewError("put").Index(x.def.Name).Cause(err).Err()
	}
	if added {
		x.size.Add(1)
	}
	return nil
}

func (x *BadgerIndex) Remove(key any, r rid.RID) error {
	full := x.entryKey(key, r)
	var removed bool
	err := x.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(full); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		removed = true
		return txn.Delete(full)
	})
	if err != nil {
		return NewError("remove").Index(x.def.Name).Cause(err).Err()
	}
	if removed {
		x.size.Add(-1)
	}
	return nil
}

// bounds converts a Range to the half-open byte interval [lo, hi).
func (x *BadgerIndex) bounds(rng Range) (lo, hi []byte) {
	lo = bytes.Clone(x.prefix)
	hi = prefixEnd(x.prefix)
	composite := x.def.Composite()

	if rng.HasFrom {
		enc := encodeIndexKey(composite, rng.From)
		if !rng.FromInclusive {
			enc = prefixEnd(enc)
		}
		lo = append(bytes.Clone(x.prefix), enc...)
	}
	if rng.HasTo {
		enc := encodeIndexKey(composite, rng.To)
		if rng.ToInclusive {
			enc = prefixEnd(enc)
		}
		hi = append(bytes.Clone(x.prefix), enc...)
	}
	return lo, hi
}

func (x *BadgerIndex) Iterate(rng Range) (Cursor, error) {
	lo, hi := x.bounds(rng)

	txn := x.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = !rng.Ascending
	opts.Prefix = x.prefix
	it := txn.NewIterator(opts)

	c := &badgerCursor{index: x, txn: txn, it: it, lo: lo, hi: hi, reverse: opts.Reverse}
	if c.reverse {
		it.Seek(hi)
		for it.Valid() && bytes.Compare(it.Item().Key(), hi) >= 0 {
			it.Next()
		}
	} else {
		it.Seek(lo)
	}
	return c, nil
}

func (x *BadgerIndex) Size() int64 { return x.size.Load() }

// Close is a no-op; the backend owns the database.
func (x *BadgerIndex) Close() error { return nil }

type badgerCursor struct {
	index   *BadgerIndex
	txn     *badger.Txn
	it      *badger.Iterator
	lo, hi  []byte
	reverse bool
	closed  bool
}

func (c *badgerCursor) Next() (Entry, bool, error) {
	if c.closed || !c.it.Valid() {
		return Entry{}, false, nil
	}
	k := c.it.Item().KeyCopy(nil)
	if c.reverse {
		if bytes.Compare(k, c.lo) < 0 {
			return Entry{}, false, nil
		}
	} else if bytes.Compare(k, c.hi) >= 0 {
		return Entry{}, false, nil
	}
	c.it.Next()

	body := k[len(c.index.prefix) : len(k)-ridSuffixLen]
	key, err := decodeIndexKey(c.index.def.Composite(), body)
	if err != nil {
		return Entry{}, false, NewError("iterate").Index(c.index.def.Name).Cause(err).Err()
	}
	return Entry{Key: key, RID: decodeRID(k[len(k)-ridSuffixLen:])}, true, nil
}

func (c *badgerCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.it.Close()
	c.txn.Discard()
	return nil
}
