package exec

import (
	"github.com/dd0wney/cluso-query/pkg/result"
	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/storage"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// ValueProperty names the single property of rows wrapping a scalar.
const ValueProperty = "value"

// toRows converts an evaluated value into rows: rows pass through, records
// and identities become element rows, maps become plain rows, collections
// are flattened and any other value is wrapped as {value: v}. Identities of
// missing records are skipped.
func toRows(ctx *Context, v any) ([]*result.Row, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *result.Row:
		return one(x), nil
	case []*result.Row:
		return x, nil
	case *storage.Record:
		return one(result.FromRecord(x)), nil
	case map[string]any:
		return one(result.FromMap(x)), nil
	case []any:
		var out []*result.Row
		for _, item := range x {
			rows, err := toRows(ctx, item)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		return out, nil
	}
	if r, ok := value.AsRID(v); ok {
		rec, err := load(ctx, r)
		if err != nil || rec == nil {
			return nil, err
		}
		return one(result.FromRecord(rec)), nil
	}
	if value.IsCollection(v) {
		return toRows(ctx, value.ToList(v))
	}
	row := result.New()
	row.Set(ValueProperty, v)
	return one(row), nil
}

// load reads a record, treating a missing one as nil.
func load(ctx *Context, r rid.RID) (*storage.Record, error) {
	if !r.IsValid() {
		return nil, nil
	}
	rec, err := ctx.Database().Load(r)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	return rec, err
}

// ridsOf collects the identities referenced by an evaluated value.
func ridsOf(v any) []rid.RID {
	switch x := v.(type) {
	case nil:
		return nil
	case *result.Row:
		if r, ok := x.RID(); ok {
			return []rid.RID{r}
		}
		if inner, ok := x.Get(ValueProperty); ok && len(x.PropertyNames()) == 1 {
			return ridsOf(inner)
		}
		return nil
	case []*result.Row:
		var out []rid.RID
		for _, row := range x {
			out = append(out, ridsOf(row)...)
		}
		return out
	case []any:
		var out []rid.RID
		for _, item := range x {
			out = append(out, ridsOf(item)...)
		}
		return out
	}
	if r, ok := value.AsRID(v); ok {
		return []rid.RID{r}
	}
	return nil
}

// element returns the record behind a row, loading it when the row only
// carries an identity in @rid.
func element(ctx *Context, row *result.Row) (*storage.Record, error) {
	if rec := row.Element(); rec != nil {
		return rec, nil
	}
	if v, ok := row.Get("@rid"); ok {
		if r, ok := value.AsRID(v); ok {
			return load(ctx, r)
		}
	}
	return nil, nil
}
