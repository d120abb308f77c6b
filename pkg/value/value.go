// Package value holds the comparison and coercion rules shared by expression
// evaluation, sorting, index keys and DISTINCT.
//
// Property values are plain Go values: nil, bool, int64, float64, string,
// time.Time, []byte, rid.RID, []any, map[string]any, or anything that
// implements Identifiable (rows and records backed by a stored element).
package value

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/dd0wney/cluso-query/pkg/rid"
)

// Identifiable is implemented by anything that carries a record identity.
type Identifiable interface {
	Identity() rid.RID
}

// Normalize widens Go numeric types to int64/float64 so that comparisons and
// keys do not depend on the literal's static type.
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return float64(n)
		}
		return int64(n)
	case float32:
		return float64(n)
	case []string:
		out := make([]any, len(n))
		for i, s := range n {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]any, len(n))
		for i, x := range n {
			out[i] = x
		}
		return out
	case []rid.RID:
		out := make([]any, len(n))
		for i, x := range n {
			out[i] = x
		}
		return out
	}
	return v
}

func cmpOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// rank orders values of different kinds so that sorting mixed data is total.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	case []byte:
		return 5
	case rid.RID, Identifiable:
		return 6
	case []any:
		return 7
	case map[string]any:
		return 8
	}
	return 9
}

// Compare returns the ordering of a and b and whether the two values are
// comparable at all. Numbers compare across int64/float64. Identities compare
// by RID. Lists compare element-wise, which makes composite index keys
// ([]any tuples) order lexicographically.
func Compare(a, b any) (int, bool) {
	a, b = Normalize(a), Normalize(b)
	if ra, ok := asRID(a); ok {
		if rb, ok := asRID(b); ok {
			return ra.Compare(rb), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
		return -1, false
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, float64(y)), true
		case float64:
			return cmpOrdered(x, y), true
		}
	case string:
		if y, ok := b.(string); ok {
			return cmpOrdered(x, y), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), true
		}
	case []any:
		y, ok := b.([]any)
		if !ok {
			return 0, false
		}
		for i := 0; i < len(x) && i < len(y); i++ {
			c, ok := Compare(x[i], y[i])
			if !ok {
				return 0, false
			}
			if c != 0 {
				return c, true
			}
		}
		return cmpOrdered(len(x), len(y)), true
	}
	return 0, false
}

// SortCompare is a total order usable by ORDER BY: comparable values use
// Compare, incomparable ones fall back to a fixed kind rank. nil sorts first.
func SortCompare(a, b any) int {
	if c, ok := Compare(a, b); ok {
		return c
	}
	ra, rb := rank(Normalize(a)), rank(Normalize(b))
	if ra != rb {
		return cmpOrdered(ra, rb)
	}
	return cmpOrdered(Key(a), Key(b))
}

// Equals reports deep equality under the comparison rules above; maps are
// compared key by key.
func Equals(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if ma, ok := a.(map[string]any); ok {
		mb, ok := b.(map[string]any)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !Equals(va, vb) {
				return false
			}
		}
		return true
	}
	c, ok := Compare(a, b)
	return ok && c == 0
}

// Truthy interprets a value as a condition result. Only true is true.
func Truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// IsCollection reports whether v is a list value.
func IsCollection(v any) bool {
	_, ok := Normalize(v).([]any)
	return ok
}

// ToList returns v as a list; scalars become singletons and nil an empty list.
func ToList(v any) []any {
	switch x := Normalize(v).(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

// Unwrap returns the only element of a singleton list and v otherwise.
func Unwrap(v any) any {
	if l, ok := Normalize(v).([]any); ok && len(l) == 1 {
		return l[0]
	}
	return v
}

// AsRID extracts a record identity from a RID, an Identifiable or a string
// in #c:p form.
func AsRID(v any) (rid.RID, bool) {
	if r, ok := asRID(v); ok {
		return r, true
	}
	if s, ok := v.(string); ok && strings.HasPrefix(s, "#") {
		r, err := rid.Parse(s)
		return r, err == nil
	}
	return rid.Invalid, false
}

func asRID(v any) (rid.RID, bool) {
	switch x := v.(type) {
	case rid.RID:
		return x, true
	case *rid.RID:
		if x != nil {
			return *x, true
		}
	case Identifiable:
		if x != nil {
			return x.Identity(), true
		}
	}
	return rid.Invalid, false
}

// Key returns a canonical string for v, used for hashing rows by content.
// Equal values produce equal keys; int64 and float64 of the same magnitude
// share a key.
func Key(v any) string {
	var sb strings.Builder
	writeKey(&sb, Normalize(v))
	return sb.String()
}

func writeKey(sb *strings.Builder, v any) {
	if r, ok := asRID(v); ok {
		sb.WriteString("r")
		sb.WriteString(r.String())
		return
	}
	switch x := v.(type) {
	case nil:
		sb.WriteString("n")
	case bool:
		sb.WriteString("b")
		sb.WriteString(strconv.FormatBool(x))
	case int64:
		sb.WriteString("d")
		sb.WriteString(strconv.FormatInt(x, 10))
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<62 {
			sb.WriteString("d")
			sb.WriteString(strconv.FormatInt(int64(x), 10))
			return
		}
		sb.WriteString("f")
		sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case string:
		sb.WriteString("s")
		sb.WriteString(strconv.Quote(x))
	case time.Time:
		sb.WriteString("t")
		sb.WriteString(x.UTC().Format(time.RFC3339Nano))
	case []byte:
		sb.WriteString("x")
		sb.WriteString(fmt.Sprintf("%x", x))
	case []any:
		sb.WriteString("[")
		for i, item := range x {
			if i > 0 {
				sb.WriteString(",")
			}
			writeKey(sb, Normalize(item))
		}
		sb.WriteString("]")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(":")
			writeKey(sb, Normalize(x[k]))
		}
		sb.WriteString("}")
	case fmt.Stringer:
		sb.WriteString("?")
		sb.WriteString(x.String())
	default:
		sb.WriteString("?")
		sb.WriteString(fmt.Sprintf("%v", x))
	}
}

// ToFloat converts numeric values to float64.
func ToFloat(v any) (float64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// ToInt converts numeric values to int64, truncating floats.
func ToInt(v any) (int64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}
