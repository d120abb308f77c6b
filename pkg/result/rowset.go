package result

import (
	"github.com/dd0wney/cluso-query/pkg/qerr"
)

// RowSet is the single-use, forward-only sequence returned by one pull.
// Calling Next after HasNext reported false is protocol misuse and panics.
type RowSet interface {
	HasNext() (bool, error)
	Next() (*Row, error)
	Close()
}

type sliceSet struct {
	rows []*Row
	pos  int
}

// Of returns a row set over rows.
func Of(rows ...*Row) RowSet {
	return &sliceSet{rows: rows}
}

// Empty returns a row set with no rows.
func Empty() RowSet {
	return &sliceSet{}
}

func (s *sliceSet) HasNext() (bool, error) {
	return s.pos < len(s.rows), nil
}

func (s *sliceSet) Next() (*Row, error) {
	if s.pos >= len(s.rows) {
		qerr.Misuse("rowset.next", "no more rows")
	}
	r := s.rows[s.pos]
	s.rows[s.pos] = nil
	s.pos++
	return r, nil
}

func (s *sliceSet) remaining() int { return len(s.rows) - s.pos }

func (s *sliceSet) Close() {
	s.rows = nil
	s.pos = 0
}

// funcSet produces rows on demand; a nil row from next ends the set.
type funcSet struct {
	next    func() (*Row, error)
	onClose func()
	peeked  *Row
	done    bool
	closed  bool
}

// Func returns a lazy row set driven by next. onClose, if set, runs once.
func Func(next func() (*Row, error), onClose func()) RowSet {
	return &funcSet{next: next, onClose: onClose}
}

func (f *funcSet) HasNext() (bool, error) {
	if f.peeked != nil {
		return true, nil
	}
	if f.done {
		return false, nil
	}
	r, err := f.next()
	if err != nil {
		f.done = true
		return false, err
	}
	if r == nil {
		f.done = true
		return false, nil
	}
	f.peeked = r
	return true, nil
}

func (f *funcSet) Next() (*Row, error) {
	ok, err := f.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		qerr.Misuse("rowset.next", "no more rows")
	}
	r := f.peeked
	f.peeked = nil
	return r, nil
}

func (f *funcSet) Close() {
	if f.closed {
		return
	}
	f.closed = true
	f.done = true
	f.peeked = nil
	if f.onClose != nil {
		f.onClose()
	}
}

// Len returns the number of rows left in a set built by Of or Empty, or -1
// for lazy sets.
func Len(rs RowSet) int {
	if s, ok := rs.(*sliceSet); ok {
		return s.remaining()
	}
	return -1
}

// Drain reads every remaining row and closes the set.
func Drain(rs RowSet) ([]*Row, error) {
	defer rs.Close()
	var out []*Row
	for {
		ok, err := rs.HasNext()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		r, err := rs.Next()
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
}
