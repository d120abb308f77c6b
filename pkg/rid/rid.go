// Package rid defines record identities: a (cluster, position) pair that
// addresses one stored record. Negative components denote a transient record
// that has not been persisted yet.
package rid

import (
	"fmt"
	"strconv"
	"strings"
)

// RID identifies a record.
type RID struct {
	Cluster  int32
	Position int64
}

// Invalid is the zero-knowledge identity used for records with no identity.
var Invalid = RID{Cluster: -1, Position: -1}

// New creates a RID.
func New(cluster int32, position int64) RID {
	return RID{Cluster: cluster, Position: position}
}

// IsPersistent reports whether both components are non-negative.
func (r RID) IsPersistent() bool {
	return r.Cluster >= 0 && r.Position >= 0
}

// IsValid reports whether the identity is not Invalid.
func (r RID) IsValid() bool {
	return r != Invalid
}

// Compare orders identities by cluster, then by position.
func (r RID) Compare(other RID) int {
	switch {
	case r.Cluster < other.Cluster:
		return -1
	case r.Cluster > other.Cluster:
		return 1
	case r.Position < other.Position:
		return -1
	case r.Position > other.Position:
		return 1
	}
	return 0
}

// String returns the textual form #cluster:position.
func (r RID) String() string {
	return fmt.Sprintf("#%d:%d", r.Cluster, r.Position)
}

// Parse reads the textual form produced by String. The leading '#' is optional.
func Parse(s string) (RID, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Invalid, fmt.Errorf("invalid record identity %q", s)
	}
	cluster, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return Invalid, fmt.Errorf("invalid cluster in record identity %q: %w", s, err)
	}
	position, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Invalid, fmt.Errorf("invalid position in record identity %q: %w", s, err)
	}
	return RID{Cluster: int32(cluster), Position: position}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and literals.
func MustParse(s string) RID {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}
