// Package memstore is an in-memory reference implementation of
// kvstore.Store, guarded by a single sync.RWMutex. It exists for tests and
// examples; it keeps every record in a sorted slice rather than a
// production-grade index, trading scalability for an implementation short
// enough to audit.
//
// Read operations (Get, GetMany, List) take the read lock and may run
// concurrently with each other; a batch commit takes the write lock for
// its whole check-then-apply sequence, giving every committed batch a
// single store-visible version the way kvstore.Store promises.
package memstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvstore"
)

type record struct {
	key     kvkey.Key
	encoded string
	value   []byte
	version uint64
}

// Store is a sync.RWMutex-guarded, sorted-slice implementation of
// kvstore.Store.
type Store struct {
	mu      sync.RWMutex
	records []*record
	seq     uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func versionBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// find returns the index in s.records where key either is present or would
// be inserted, and whether it is present.
func (s *Store) find(key kvkey.Key) (int, bool) {
	enc := string(key.Encode())
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].encoded >= enc
	})
	if i < len(s.records) && s.records[i].encoded == enc {
		return i, true
	}
	return i, false
}

func (s *Store) getLocked(key kvkey.Key) kvstore.Entry {
	i, ok := s.find(key)
	if !ok {
		return kvstore.Entry{Key: key}
	}
	r := s.records[i]
	return kvstore.Entry{Key: r.key, Value: append([]byte(nil), r.value...), Versionstamp: versionBytes(r.version)}
}

func (s *Store) Get(ctx context.Context, key kvkey.Key) (kvstore.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(key), nil
}

func (s *Store) GetMany(ctx context.Context, keys []kvkey.Key) ([]kvstore.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kvstore.Entry, len(keys))
	for i, k := range keys {
		out[i] = s.getLocked(k)
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, sel kvstore.Selector, opts kvstore.ListOpts) ([]kvstore.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*record
	for _, r := range s.records {
		if !kvkey.HasPrefix(r.key, sel.Prefix) {
			continue
		}
		if sel.Start != nil && kvkey.Compare(r.key, sel.Start) < 0 {
			continue
		}
		if sel.End != nil && kvkey.Compare(r.key, sel.End) >= 0 {
			continue
		}
		matched = append(matched, r)
	}

	if opts.Reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]kvstore.Entry, len(matched))
	for i, r := range matched {
		out[i] = kvstore.Entry{Key: r.key, Value: append([]byte(nil), r.value...), Versionstamp: versionBytes(r.version)}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key kvkey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.find(key); ok {
		s.records = append(s.records[:i], s.records[i+1:]...)
	}
	return nil
}

func (s *Store) Atomic() kvstore.AtomicBatch {
	return &batch{store: s}
}

type check struct {
	key          kvkey.Key
	versionstamp []byte
}

type batch struct {
	store  *Store
	checks []check
	muts   []kvstore.Mutation
}

func (b *batch) Check(key kvkey.Key, versionstamp []byte) kvstore.AtomicBatch {
	b.checks = append(b.checks, check{key: key, versionstamp: versionstamp})
	return b
}

func (b *batch) Set(key kvkey.Key, value []byte) kvstore.AtomicBatch {
	b.muts = append(b.muts, kvstore.Mutation{Key: key, Type: kvstore.MutSet, Value: value})
	return b
}

func (b *batch) Delete(key kvkey.Key) kvstore.AtomicBatch {
	b.muts = append(b.muts, kvstore.Mutation{Key: key, Type: kvstore.MutDelete})
	return b
}

func (b *batch) Sum(key kvkey.Key, delta int64) kvstore.AtomicBatch {
	b.muts = append(b.muts, kvstore.Mutation{Key: key, Type: kvstore.MutSum, Delta: delta})
	return b
}

func (b *batch) Mutate(muts ...kvstore.Mutation) kvstore.AtomicBatch {
	b.muts = append(b.muts, muts...)
	return b
}

func (b *batch) Commit(ctx context.Context) (kvstore.CommitResult, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range b.checks {
		i, ok := s.find(c.key)
		if c.versionstamp == nil {
			if ok {
				return kvstore.CommitResult{OK: false}, nil
			}
			continue
		}
		if !ok {
			return kvstore.CommitResult{OK: false}, nil
		}
		if string(versionBytes(s.records[i].version)) != string(c.versionstamp) {
			return kvstore.CommitResult{OK: false}, nil
		}
	}

	s.seq++
	newVersion := s.seq

	// Keep copies of the records so a mutation that fails partway (a sum
	// on a non-counter value) restores the store to its pre-batch state.
	prev := make([]*record, len(s.records))
	for i, r := range s.records {
		cp := *r
		prev[i] = &cp
	}

	for _, m := range b.muts {
		i, ok := s.find(m.Key)
		switch m.Type {
		case kvstore.MutDelete:
			if ok {
				s.records = append(s.records[:i], s.records[i+1:]...)
			}
		case kvstore.MutSet:
			if ok {
				s.records[i].value = append([]byte(nil), m.Value...)
				s.records[i].version = newVersion
			} else {
				rec := &record{key: m.Key, encoded: string(m.Key.Encode()), value: append([]byte(nil), m.Value...), version: newVersion}
				s.insertLocked(rec)
			}
		case kvstore.MutSum:
			var cur int64
			if ok {
				if len(s.records[i].value) != 8 {
					s.records = prev
					return kvstore.CommitResult{}, fmt.Errorf("memstore: sum on non-counter value at %s", m.Key)
				}
				cur = int64(binary.BigEndian.Uint64(s.records[i].value))
			}
			cur += m.Delta
			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, uint64(cur))
			if ok {
				s.records[i].value = val
				s.records[i].version = newVersion
			} else {
				rec := &record{key: m.Key, encoded: string(m.Key.Encode()), value: val, version: newVersion}
				s.insertLocked(rec)
			}
		}
	}

	return kvstore.CommitResult{OK: true, Versionstamp: versionBytes(newVersion)}, nil
}

// insertLocked inserts rec keeping s.records sorted by encoded key. Caller
// must hold the write lock.
func (s *Store) insertLocked(rec *record) {
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].encoded >= rec.encoded
	})
	s.records = append(s.records, nil)
	copy(s.records[i+1:], s.records[i:])
	s.records[i] = rec
}
