// Package kvstore defines the abstract contract kvdoc requires of an
// underlying ordered key-value store: per-key versionstamp CAS, a 64-bit
// counter mutation, and ordered prefix enumeration. Concrete backends live
// in subpackages (memstore, sqlitestore); this package only declares the
// interfaces and the batching helper every backend must satisfy.
package kvstore

import (
	"context"
	"fmt"

	"github.com/arthur-debert/kvdoc/kvkey"
)

// Entry is a single key/value/versionstamp triple as observed by a read.
// Versionstamp is nil when the key is absent.
type Entry struct {
	Key          kvkey.Key
	Value        []byte
	Versionstamp []byte
}

// Store is the minimum capability kvdoc requires of the underlying KV
// engine.
type Store interface {
	Get(ctx context.Context, key kvkey.Key) (Entry, error)
	GetMany(ctx context.Context, keys []kvkey.Key) ([]Entry, error)
	List(ctx context.Context, sel Selector, opts ListOpts) ([]Entry, error)
	Delete(ctx context.Context, key kvkey.Key) error
	Atomic() AtomicBatch
}

// Selector describes a prefix range scan: every key with the given Prefix,
// optionally bounded below (inclusive) by Start and above (exclusive) by
// End.
type Selector struct {
	Prefix kvkey.Key
	Start  kvkey.Key
	End    kvkey.Key
}

// ListOpts shapes a prefix scan.
type ListOpts struct {
	Limit     int
	Reverse   bool
	BatchSize int
}

// MutationType tags the kind of a raw Mutation appended to an atomic batch.
type MutationType uint8

const (
	MutSet MutationType = iota
	MutDelete
	MutSum
)

// Mutation is a single low-level operation inside an atomic batch, used by
// AtomicBatch.Mutate for callers that want to describe operations
// data-first instead of calling Set/Delete/Sum directly.
type Mutation struct {
	Key   kvkey.Key
	Type  MutationType
	Value []byte
	Delta int64
}

// CommitResult is the outcome of an atomic batch commit. Failure carries no
// distinguishing code: the store reports only pass/fail for the whole
// batch.
type CommitResult struct {
	OK           bool
	Versionstamp []byte
}

// AtomicBatch accumulates checks and mutations that either all apply at a
// single store-visible version, or none do. Each method returns the
// receiver so calls can be chained.
type AtomicBatch interface {
	Check(key kvkey.Key, versionstamp []byte) AtomicBatch
	Set(key kvkey.Key, value []byte) AtomicBatch
	Delete(key kvkey.Key) AtomicBatch
	Sum(key kvkey.Key, delta int64) AtomicBatch
	Mutate(muts ...Mutation) AtomicBatch
	Commit(ctx context.Context) (CommitResult, error)
}

// Op applies one fragment of work onto a batch being assembled. It is the
// unit UseAtomics splits across as many underlying batches as needed.
type Op func(AtomicBatch)

// UseAtomics splits ops across batches of at most batchSize operations each
// (a non-positive batchSize means "one batch"), committing each batch in
// turn and returning every batch's result in order. It stops and returns
// early on the first error returned by the store itself; a batch that
// merely fails its CAS checks (CommitResult.OK == false) is not an error
// and the remaining batches still run.
func UseAtomics(ctx context.Context, store Store, ops []Op, batchSize int) ([]CommitResult, error) {
	if batchSize <= 0 {
		batchSize = len(ops)
		if batchSize == 0 {
			batchSize = 1
		}
	}

	var results []CommitResult
	for start := 0; start < len(ops); start += batchSize {
		end := start + batchSize
		if end > len(ops) {
			end = len(ops)
		}

		batch := store.Atomic()
		for _, op := range ops[start:end] {
			op(batch)
		}
		res, err := batch.Commit(ctx)
		if err != nil {
			return results, fmt.Errorf("kvstore: commit batch [%d:%d): %w", start, end, err)
		}
		results = append(results, res)
	}
	return results, nil
}
