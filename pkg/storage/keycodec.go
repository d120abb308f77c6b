package storage

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/dd0wney/cluso-query/pkg/rid"
	"github.com/dd0wney/cluso-query/pkg/value"
)

// Order-preserving key encoding: bytes.Compare on encoded keys agrees with
// value.SortCompare on the decoded values. Numbers are encoded as float64, so
// integers beyond 2^53 lose precision in key order.
const (
	tagNil    byte = 0x10
	tagFalse  byte = 0x20
	tagTrue   byte = 0x21
	tagNumber byte = 0x30
	tagString byte = 0x40
	tagTime   byte = 0x50
	tagBytes  byte = 0x60
	tagRID    byte = 0x70
	tagList   byte = 0x80
	tagOther  byte = 0x90

	ridSuffixLen = 12
)

// encodeIndexKey encodes a full key for an index. Composite keys are the
// concatenation of their components so that tuple prefixes are byte prefixes.
func encodeIndexKey(composite bool, key any) []byte {
	key = value.Normalize(key)
	if composite {
		var buf []byte
		for _, k := range value.ToList(key) {
			buf = appendValue(buf, value.Normalize(k))
		}
		return buf
	}
	return appendValue(nil, key)
}

func appendValue(buf []byte, v any) []byte {
	if r, ok := value.AsRID(v); ok {
		if _, isString := v.(string); !isString {
			buf = append(buf, tagRID)
			return appendRID(buf, r)
		}
	}
	switch x := v.(type) {
	case nil:
		return append(buf, tagNil)
	case bool:
		if x {
			return append(buf, tagTrue)
		}
		return append(buf, tagFalse)
	case int64:
		return appendFloat(append(buf, tagNumber), float64(x))
	case float64:
		return appendFloat(append(buf, tagNumber), x)
	case string:
		return appendEscaped(append(buf, tagString), []byte(x))
	case time.Time:
		buf = append(buf, tagTime)
		return binary.BigEndian.AppendUint64(buf, uint64(x.UnixNano())^(1<<63))
	case []byte:
		return appendEscaped(append(buf, tagBytes), x)
	case []any:
		buf = append(buf, tagList)
		for _, item := range x {
			buf = appendValue(buf, value.Normalize(item))
		}
		return append(buf, 0x00)
	default:
		return appendEscaped(append(buf, tagOther), []byte(value.Key(x)))
	}
}

func appendFloat(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // fold -0
	}
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return binary.BigEndian.AppendUint64(buf, bits)
}

// appendEscaped writes b with 0x00 escaped as 0x00 0xFF and terminates it
// with 0x00 0x01.
func appendEscaped(buf, b []byte) []byte {
	for _, c := range b {
		buf = append(buf, c)
		if c == 0x00 {
			buf = append(buf, 0xFF)
		}
	}
	return append(buf, 0x00, 0x01)
}

func appendRID(buf []byte, r rid.RID) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Cluster)^(1<<31))
	return binary.BigEndian.AppendUint64(buf, uint64(r.Position)^(1<<63))
}

func decodeRID(b []byte) rid.RID {
	return rid.RID{
		Cluster:  int32(binary.BigEndian.Uint32(b[:4]) ^ (1 << 31)),
		Position: int64(binary.BigEndian.Uint64(b[4:12]) ^ (1 << 63)),
	}
}

// decodeIndexKey reverses encodeIndexKey.
func decodeIndexKey(composite bool, b []byte) (any, error) {
	var out []any
	for len(b) > 0 {
		v, rest, err := decodeValue(b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		b = rest
	}
	if composite {
		return out, nil
	}
	if len(out) != 1 {
		return nil, ErrInvalidKeyFormat
	}
	return out[0], nil
}

func decodeValue(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, ErrInvalidKeyFormat
	}
	tag, b := b[0], b[1:]
	switch tag {
	case tagNil:
		return nil, b, nil
	case tagFalse:
		return false, b, nil
	case tagTrue:
		return true, b, nil
	case tagNumber:
		if len(b) < 8 {
			return nil, nil, ErrInvalidKeyFormat
		}
		bits := binary.BigEndian.Uint64(b[:8])
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		f := math.Float64frombits(bits)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), b[8:], nil
		}
		return f, b[8:], nil
	case tagString, tagOther:
		s, rest, err := readEscaped(b)
		if err != nil {
			return nil, nil, err
		}
		return string(s), rest, nil
	case tagBytes:
		return readEscaped(b)
	case tagTime:
		if len(b) < 8 {
			return nil, nil, ErrInvalidKeyFormat
		}
		ns := int64(binary.BigEndian.Uint64(b[:8]) ^ (1 << 63))
		return time.Unix(0, ns).UTC(), b[8:], nil
	case tagRID:
		if len(b) < ridSuffixLen {
			return nil, nil, ErrInvalidKeyFormat
		}
		return decodeRID(b), b[ridSuffixLen:], nil
	case tagList:
		var list []any
		for {
			if len(b) == 0 {
				return nil, nil, ErrInvalidKeyFormat
			}
			if b[0] == 0x00 {
				return list, b[1:], nil
			}
			var v any
			var err error
			v, b, err = decodeValue(b)
			if err != nil {
				return nil, nil, err
			}
			list = append(list, v)
		}
	}
	return nil, nil, ErrInvalidKeyFormat
}

func readEscaped(b []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			break
		}
		switch b[i+1] {
		case 0xFF:
			out = append(out, 0x00)
			i++
		case 0x01:
			return out, b[i+2:], nil
		default:
			return nil, nil, ErrInvalidKeyFormat
		}
	}
	return nil, nil, ErrInvalidKeyFormat
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
