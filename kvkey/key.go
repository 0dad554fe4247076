// Package kvkey implements the composite key codec shared by every layer of
// kvdoc: building, extending, comparing, and extracting identity fragments
// from the ordered keys the underlying store indexes by.
package kvkey

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PartKind distinguishes the concrete type carried by a Part.
type PartKind uint8

const (
	KindString PartKind = iota
	KindInt
	KindUint
	KindBytes
)

// Part is a single ordered fragment of a Key. It is a tagged union rather
// than an interface{} so key construction and comparison never need runtime
// type assertions.
type Part struct {
	Kind  PartKind
	Str   string
	Int   int64
	Uint  uint64
	Bytes []byte
}

// S builds a string Part.
func S(s string) Part { return Part{Kind: KindString, Str: s} }

// I builds a signed-integer Part.
func I(i int64) Part { return Part{Kind: KindInt, Int: i} }

// U builds an unsigned-integer Part, used for segment indices and the
// 64-bit counter value family.
func U(u uint64) Part { return Part{Kind: KindUint, Uint: u} }

// B builds a binary-blob Part.
func B(b []byte) Part { return Part{Kind: KindBytes, Bytes: append([]byte(nil), b...)} }

func (p Part) String() string {
	switch p.Kind {
	case KindString:
		return p.Str
	case KindInt:
		return fmt.Sprintf("%d", p.Int)
	case KindUint:
		return fmt.Sprintf("%d", p.Uint)
	case KindBytes:
		return fmt.Sprintf("%x", p.Bytes)
	default:
		return ""
	}
}

func (p Part) equal(o Part) bool {
	if p.Kind != o.Kind {
		return false
	}
	switch p.Kind {
	case KindString:
		return p.Str == o.Str
	case KindInt:
		return p.Int == o.Int
	case KindUint:
		return p.Uint == o.Uint
	case KindBytes:
		return bytes.Equal(p.Bytes, o.Bytes)
	default:
		return true
	}
}

// Key is an ordered, immutable sequence of Parts. Callers never mutate a
// Key's parts in place; Extend always returns a new slice.
type Key []Part

// Root is the single process-wide reserved root segment every kvdoc key is
// namespaced under. It must stay stable across versions: changing it is a
// data migration, not a code change.
var Root = Key{S("kvdoc")}

// Extend returns a new Key consisting of key followed by parts. The
// receiver is never modified.
func Extend(key Key, parts ...Part) Key {
	out := make(Key, 0, len(key)+len(parts))
	out = append(out, key...)
	out = append(out, parts...)
	return out
}

// Equal reports whether a and b contain the same parts in the same order.
func Equal(a, b Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].equal(b[i]) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether key begins with every part of prefix, in order.
func HasPrefix(key, prefix Key) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i := range prefix {
		if !key[i].equal(prefix[i]) {
			return false
		}
	}
	return true
}

// TrailingID returns the last part of key when the penultimate part is the
// "id" marker, i.e. key looks like [..., "id", <docId>]. It reports false
// otherwise.
func TrailingID(key Key) (Part, bool) {
	if len(key) < 2 {
		return Part{}, false
	}
	marker := key[len(key)-2]
	if marker.Kind != KindString || marker.Str != "id" {
		return Part{}, false
	}
	return key[len(key)-1], true
}

// Encode produces a canonical, order-preserving byte encoding of key,
// suitable for use as a sort key or a map key. Two keys compare equal under
// Equal if and only if their encodings are byte-equal.
func (k Key) Encode() []byte {
	var buf bytes.Buffer
	for _, p := range k {
		switch p.Kind {
		case KindString:
			buf.WriteByte(0x01)
			writeTerminated(&buf, []byte(p.Str))
		case KindInt:
			buf.WriteByte(0x02)
			var tmp [8]byte
			// flip the sign bit so big-endian byte order matches numeric order
			binary.BigEndian.PutUint64(tmp[:], uint64(p.Int)^(1<<63))
			buf.Write(tmp[:])
		case KindUint:
			buf.WriteByte(0x03)
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], p.Uint)
			buf.Write(tmp[:])
		case KindBytes:
			buf.WriteByte(0x04)
			writeTerminated(&buf, p.Bytes)
		}
	}
	return buf.Bytes()
}

// writeTerminated writes b with every 0x00 escaped as 0x00 0xFF, followed by
// a 0x00 terminator, so a shorter string sorts before any longer string it
// is a prefix of and byte order matches lexicographic order.
func writeTerminated(buf *bytes.Buffer, b []byte) {
	for _, c := range b {
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(0xFF)
		}
	}
	buf.WriteByte(0x00)
}

// Compare returns -1, 0, or 1 as a sorts before, equal to, or after b, using
// the canonical encoding's byte order.
func Compare(a, b Key) int {
	return bytes.Compare(a.Encode(), b.Encode())
}

// String renders key for diagnostics and log lines.
func (k Key) String() string {
	var buf bytes.Buffer
	buf.WriteByte('/')
	for i, p := range k {
		if i > 0 {
			buf.WriteByte('/')
		}
		buf.WriteString(p.String())
	}
	return buf.String()
}
