// Package model holds the external collaborator contract kvdoc collections
// depend on: validating/normalizing a candidate document value and
// generating identifiers for it. The schema-construction DSL and the
// pluggable validation layer that would normally sit behind this contract
// are out of scope; only the pure parse(value) -> value | error shape
// survives here.
package model

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Parser validates and normalizes a candidate document value. A non-nil
// error aborts the enclosing commit before any store I/O.
type Parser interface {
	Parse(value any) (any, error)
}

// ParserFunc adapts a function to a Parser.
type ParserFunc func(value any) (any, error)

func (f ParserFunc) Parse(value any) (any, error) { return f(value) }

// PassthroughParser performs no validation; it is the default when a
// collection is not given a Parser.
var PassthroughParser Parser = ParserFunc(func(value any) (any, error) { return value, nil })

// IDGenerator produces a new identifier for a document about to be
// inserted.
type IDGenerator interface {
	Generate(value any) (string, error)
}

// IDGeneratorFunc adapts a function to an IDGenerator.
type IDGeneratorFunc func(value any) (string, error)

func (f IDGeneratorFunc) Generate(value any) (string, error) { return f(value) }

// ULIDGenerator is the default IDGenerator: a time-ordered, monotonic,
// 26-character Crockford-base32 identifier in the shape of a ULID. It is
// implemented directly on crypto/rand, since random identifiers (such as a
// plain UUID) would not give id order any relationship to insertion order,
// which the default generator needs. UUIDGenerator below is available for
// callers that want plain random identifiers instead.
type ULIDGenerator struct {
	mu        sync.Mutex
	lastMilli int64
	lastRand  [10]byte
}

// NewULIDGenerator returns a ready-to-use monotonic ULID generator.
func NewULIDGenerator() *ULIDGenerator { return &ULIDGenerator{} }

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Generate implements IDGenerator. value is unused; the identifier depends
// only on the current time and an internal monotonic counter.
func (g *ULIDGenerator) Generate(value any) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := time.Now().UnixMilli()
	if ms == g.lastMilli {
		if err := incrementEntropy(&g.lastRand); err != nil {
			return "", fmt.Errorf("model: ulid entropy overflow: %w", err)
		}
	} else {
		g.lastMilli = ms
		if _, err := rand.Read(g.lastRand[:]); err != nil {
			return "", fmt.Errorf("model: ulid random source: %w", err)
		}
	}

	var ts [6]byte
	for i := 5; i >= 0; i-- {
		ts[i] = byte(ms & 0xFF)
		ms >>= 8
	}

	var raw [16]byte
	copy(raw[:6], ts[:])
	copy(raw[6:], g.lastRand[:])

	return encodeCrockford(raw), nil
}

func incrementEntropy(rnd *[10]byte) error {
	for i := len(rnd) - 1; i >= 0; i-- {
		rnd[i]++
		if rnd[i] != 0 {
			return nil
		}
	}
	return fmt.Errorf("entropy exhausted within the same millisecond")
}

// encodeCrockford renders the 128-bit raw ULID payload as 26 Crockford
// base32 characters (no padding, no ambiguous letters).
func encodeCrockford(raw [16]byte) string {
	out := make([]byte, 26)
	// ULID packs 130 bits of base32 symbols from 128 bits of payload by
	// treating the payload as a big bit buffer read 5 bits at a time.
	var buf uint64
	var bits uint
	pos := 0
	push := func(b byte) {
		buf = (buf << 8) | uint64(b)
		bits += 8
		for bits >= 5 && pos < len(out) {
			shift := bits - 5
			idx := (buf >> shift) & 0x1F
			out[pos] = crockford[idx]
			pos++
			bits -= 5
		}
	}
	for _, b := range raw {
		push(b)
	}
	if bits > 0 && pos < len(out) {
		idx := (buf << (5 - bits)) & 0x1F
		out[pos] = crockford[idx]
		pos++
	}
	for ; pos < len(out); pos++ {
		out[pos] = crockford[0]
	}
	return string(out)
}

// UUIDGenerator wraps github.com/google/uuid for collections that don't
// need time-ordered ids, just uniqueness.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate(value any) (string, error) {
	return uuid.New().String(), nil
}
