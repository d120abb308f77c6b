package exec

import (
	"github.com/dd0wney/cluso-query/pkg/indexplan"
	"github.com/dd0wney/cluso-query/pkg/qerr"
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/schema"
	"github.com/dd0wney/cluso-query/pkg/storage"
)

// Index entry row properties
const (
	EntryKey = "key"
	EntryRID = "rid"
)

// FetchFromIndexStep scans an index range. By default it emits the indexed
// records; with Entries set it emits {key, rid} rows.
type FetchFromIndexStep struct {
	Base
	Desc      *indexplan.Descriptor
	Ascending bool
	Entries   bool
	cursor    storage.Cursor
	started   bool
	done      bool
}

func NewFetchFromIndexStep(desc *indexplan.Descriptor, ascending, entries bool) *FetchFromIndexStep {
	return &FetchFromIndexStep{Desc: desc, Ascending: ascending, Entries: entries}
}

func (s *FetchFromIndexStep) open(ctx *Context) error {
	name := s.Desc.Index.Name
	idx, ok := ctx.Database().Index(name)
	if !ok {
		return qerr.New("fetch from index").Subject(name).Cause(qerr.ErrUnknownIndex).Err()
	}
	rng, err := indexplan.BuildRange(s.Desc, ctx, s.Ascending)
	if err != nil {
		return err
	}
	cur, err := idx.Iterate(rng)
	if err != nil {
		return qerr.Execution("fetch from index", err, "iterate %s", name)
	}
	s.cursor = cur
	if m := ctx.Metrics(); m != nil {
		m.RecordIndexScan(name, s.Desc.Kind())
	}
	return nil
}

func (s *FetchFromIndexStep) Pull(ctx *Context, n int) (result.RowSet, error) {
	if !s.started {
		s.started = true
		if err := s.DrainPrev(ctx); err != nil {
			return nil, err
		}
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}
	if s.done || s.TimedOut() || n <= 0 {
		return result.Empty(), nil
	}

	var rows []*result.Row
	for len(rows) < n {
		e, ok, err := s.cursor.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			s.done = true
			break
		}
		if s.Desc.RIDFilter != nil {
			keep, err := indexplan.MatchesRID(s.Desc, e.RID, ctx)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}
		if s.Entries {
			rows = append(rows, result.FromMap(map[string]any{EntryKey: e.Key, EntryRID: e.RID}))
			continue
		}
		rec, err := load(ctx, e.RID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			rows = append(rows, result.FromRecord(rec))
		}
	}
	if m := ctx.Metrics(); m != nil && len(rows) > 0 {
		m.RecordIndexEntries(s.Desc.Index.Name, len(rows))
	}
	return result.Of(rows...), nil
}

func (s *FetchFromIndexStep) closeCursor() {
	if s.cursor != nil {
		s.cursor.Close()
		s.cursor = nil
	}
}

func (s *FetchFromIndexStep) Reset() {
	s.Base.Reset()
	s.closeCursor()
	s.started = false
	s.done = false
}

func (s *FetchFromIndexStep) Close() {
	s.closeCursor()
	s.Base.Close()
}

func (s *FetchFromIndexStep) Name() string { return "FetchFromIndexStep" }

func (s *FetchFromIndexStep) Detail() string {
	d := "FETCH FROM " + s.Desc.String() + " " + direction(s.Ascending)
	if s.Desc.RIDFilter != nil {
		d += " FILTER RID " + s.Desc.RIDFilter.String()
	}
	if s.Entries {
		d += " ENTRIES"
	}
	return d
}

func (s *FetchFromIndexStep) Copy() Step {
	desc := *s.Desc
	return NewFetchFromIndexStep(&desc, s.Ascending, s.Entries)
}

func (s *FetchFromIndexStep) Serialize(e *Encoder) {
	def := s.Desc.Index
	e.Str("index", def.Name)
	e.Str("class", def.Class)
	e.Strs("fields", def.Fields)
	e.Bool("unique", def.Unique)
	e.Expr("key", s.Desc.Key)
	e.Expr("additional", s.Desc.Additional)
	e.Expr("ridFilter", s.Desc.RIDFilter)
	e.Expr("remaining", s.Desc.Remaining)
	e.Bool("asc", s.Ascending)
	e.Bool("entries", s.Entries)
}

func init() {
	RegisterStep("FetchFromIndexStep", func(d *Decoder) Step {
		desc := &indexplan.Descriptor{
			Index: &schema.IndexDef{
				Name:   d.Str("index"),
				Class:  d.Str("class"),
				Fields: d.Strs("fields"),
				Unique: d.Bool("unique"),
			},
			Key:        d.Expr("key"),
			Additional: d.Expr("additional"),
			RIDFilter:  d.Expr("ridFilter"),
			Remaining:  d.Expr("remaining"),
		}
		return NewFetchFromIndexStep(desc, d.Bool("asc"), d.Bool("entries"))
	})
}
