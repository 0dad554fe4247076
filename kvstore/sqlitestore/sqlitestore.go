// Package sqlitestore is a kvstore.Store implementation backed by
// modernc.org/sqlite, the pure-Go SQLite driver. It stores every key as a
// BLOB primary key whose byte order matches kvkey's canonical encoding, so
// ORDER BY key gives the same ordering kvstore.Selector prefix scans
// require.
//
// sqlitestore serializes every atomic commit behind a single in-process
// mutex: SQLite itself only allows one writer at a time, so queuing
// writers in Go avoids surfacing SQLITE_BUSY to callers.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvstore"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed kvstore.Store.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	seq uint64
}

// Open creates or opens a SQLite database at dsn (e.g. "file:kvdoc.db" or
// ":memory:") and ensures the backing table exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", dsn, err)
	}
	// SQLite only supports a single writer; force the Go pool down to one
	// connection so database/sql's own pooling never races the driver.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key BLOB PRIMARY KEY,
		key_repr BLOB NOT NULL,
		value BLOB NOT NULL,
		version INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create table: %w", err)
	}

	s := &Store{db: db}
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM kv`)
	if err := row.Scan(&s.seq); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: read max version: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func versionBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (s *Store) getRow(ctx context.Context, q queryer, key kvkey.Key) (kvstore.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT value, version FROM kv WHERE key = ?`, key.Encode())
	var value []byte
	var version uint64
	switch err := row.Scan(&value, &version); err {
	case nil:
		return kvstore.Entry{Key: key, Value: value, Versionstamp: versionBytes(version)}, nil
	case sql.ErrNoRows:
		return kvstore.Entry{Key: key}, nil
	default:
		return kvstore.Entry{}, fmt.Errorf("sqlitestore: get %s: %w", key, err)
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, key kvkey.Key) (kvstore.Entry, error) {
	return s.getRow(ctx, s.db, key)
}

func (s *Store) GetMany(ctx context.Context, keys []kvkey.Key) ([]kvstore.Entry, error) {
	out := make([]kvstore.Entry, len(keys))
	for i, k := range keys {
		e, err := s.getRow(ctx, s.db, k)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, sel kvstore.Selector, opts kvstore.ListOpts) ([]kvstore.Entry, error) {
	prefix := sel.Prefix.Encode()
	upperBound := prefixUpperBound(prefix)

	query := `SELECT key_repr, value, version FROM kv WHERE key >= ?`
	args := []any{prefix}
	if upperBound != nil {
		query += ` AND key < ?`
		args = append(args, upperBound)
	}

	if sel.Start != nil {
		query += ` AND key >= ?`
		args = append(args, sel.Start.Encode())
	}
	if sel.End != nil {
		query += ` AND key < ?`
		args = append(args, sel.End.Encode())
	}

	if opts.Reverse {
		query += ` ORDER BY key DESC`
	} else {
		query += ` ORDER BY key ASC`
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	var out []kvstore.Entry
	for rows.Next() {
		var repr, value []byte
		var version uint64
		if err := rows.Scan(&repr, &value, &version); err != nil {
			return nil, fmt.Errorf("sqlitestore: list scan: %w", err)
		}
		var key kvkey.Key
		if err := json.Unmarshal(repr, &key); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode key repr: %w", err)
		}
		out = append(out, kvstore.Entry{Key: key, Value: value, Versionstamp: versionBytes(version)})
	}
	return out, rows.Err()
}

// prefixUpperBound returns the smallest byte string that is strictly
// greater than every string having prefix as a prefix.
func prefixUpperBound(prefix []byte) []byte {
	up := append([]byte(nil), prefix...)
	for i := len(up) - 1; i >= 0; i-- {
		if up[i] != 0xFF {
			up[i]++
			return up[:i+1]
		}
	}
	// prefix is all 0xFF bytes (or empty): no finite upper bound, fall
	// back to "everything".
	return nil
}

func (s *Store) Delete(ctx context.Context, key kvkey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key.Encode()); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", key, err)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range b.checks {
		e, err := s.getRow(ctx, tx, c.key)
		if err != nil {
			return kvstore.CommitResult{}, err
		}
		if c.versionstamp == nil {
			if e.Versionstamp != nil {
				return kvstore.CommitResult{OK: false}, nil
			}
			continue
		}
		if e.Versionstamp == nil || string(e.Versionstamp) != string(c.versionstamp) {
			return kvstore.CommitResult{OK: false}, nil
		}
	}

	s.seq++
	newVersion := s.seq

	for _, m := range b.muts {
		switch m.Type {
		case kvstore.MutDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, m.Key.Encode()); err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: delete %s: %w", m.Key, err)
			}
		case kvstore.MutSet:
			repr, err := json.Marshal(m.Key)
			if err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: encode key repr for %s: %w", m.Key, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO kv (key, key_repr, value, version) VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version`,
				m.Key.Encode(), repr, m.Value, newVersion); err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: set %s: %w", m.Key, err)
			}
		case kvstore.MutSum:
			e, err := s.getRow(ctx, tx, m.Key)
			if err != nil {
				return kvstore.CommitResult{}, err
			}
			var cur int64
			if e.Versionstamp != nil {
				if len(e.Value) != 8 {
					return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: sum on non-counter value at %s", m.Key)
				}
				cur = int64(binary.BigEndian.Uint64(e.Value))
			}
			cur += m.Delta
			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, uint64(cur))
			repr, err := json.Marshal(m.Key)
			if err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: encode key repr for %s: %w", m.Key, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO kv (key, key_repr, value, version) VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version`,
				m.Key.Encode(), repr, val, newVersion); err != nil {
				return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: sum %s: %w", m.Key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return kvstore.CommitResult{}, fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return kvstore.CommitResult{OK: true, Versionstamp: versionBytes(newVersion)}, nil
}
