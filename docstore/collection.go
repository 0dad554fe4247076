package docstore

import (
	"context"
	"fmt"

	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvdocerrors"
	"github.com/arthur-debert/kvdoc/kvstore"
)

// Collection is the ordinary, non-indexed, single-key document collection:
// CRUD plus prefix listing over values stored verbatim at their id-key.
type Collection struct {
	base
}

// NewCollection roots a Collection at name under kvkey.Root.
func NewCollection(store kvstore.Store, name string, opts Options) *Collection {
	return &Collection{base: base{store: store, root: kvkey.Extend(kvkey.Root, kvkey.S(name)), opts: opts}}
}

// Document is a materialized document read back from the store.
type Document struct {
	ID           string
	Value        Doc
	Versionstamp []byte
}

// FindOpts shapes a single-document read.
type FindOpts struct {
	// Consistency is not forwarded to the store: kvstore.Store has no
	// consistency parameter and the implementations in this module always
	// read strongly consistent data, so it has no effect.
	Consistency string
}

// Find reads a single document by id. A missing document yields a nil
// Document and a nil error, never an error.
func (c *Collection) Find(ctx context.Context, id string, _ FindOpts) (*Document, error) {
	e, err := c.store.Get(ctx, c.IDKey(id))
	if err != nil {
		return nil, fmt.Errorf("docstore: find %s: %w", id, err)
	}
	if e.Versionstamp == nil {
		return nil, nil
	}
	val, err := c.opts.deserialize(e.Value)
	if err != nil {
		return nil, fmt.Errorf("docstore: find %s: %w", id, err)
	}
	return &Document{ID: id, Value: val, Versionstamp: e.Versionstamp}, nil
}

// FindMany reads several documents by id, preserving order. Missing
// documents produce a nil *Document at their position.
func (c *Collection) FindMany(ctx context.Context, ids []string, _ FindOpts) ([]*Document, error) {
	keys := make([]kvkey.Key, len(ids))
	for i, id := range ids {
		keys[i] = c.IDKey(id)
	}
	entries, err := c.store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("docstore: find many: %w", err)
	}
	out := make([]*Document, len(entries))
	for i, e := range entries {
		if e.Versionstamp == nil {
			continue
		}
		val, err := c.opts.deserialize(e.Value)
		if err != nil {
			return nil, fmt.Errorf("docstore: find many %s: %w", ids[i], err)
		}
		out[i] = &Document{ID: ids[i], Value: val, Versionstamp: e.Versionstamp}
	}
	return out, nil
}

// ListOpts shapes a prefix listing: startId/endId bound the id range
// (inclusive start, exclusive end), limit and reverse mirror the store's
// own, and filter is applied client-side after each document is
// materialized.
type ListOpts struct {
	StartID string
	EndID   string
	Limit   int
	Reverse bool
	Filter  func(Document) bool
}

func (c *Collection) idSelector(opts ListOpts) kvstore.Selector {
	prefix := kvkey.Extend(c.root, kvkey.S(markerID))
	sel := kvstore.Selector{Prefix: prefix}
	if opts.StartID != "" {
		sel.Start = kvkey.Extend(prefix, kvkey.S(opts.StartID))
	}
	if opts.EndID != "" {
		sel.End = kvkey.Extend(prefix, kvkey.S(opts.EndID))
	}
	return sel
}

// List returns every document matching opts, applying Filter client-side.
func (c *Collection) List(ctx context.Context, opts ListOpts) ([]Document, error) {
	entries, err := c.store.List(ctx, c.idSelector(opts), kvstore.ListOpts{Limit: 0, Reverse: opts.Reverse})
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}

	var out []Document
	for _, e := range entries {
		idPart, ok := kvkey.TrailingID(e.Key)
		if !ok {
			continue
		}
		val, err := c.opts.deserialize(e.Value)
		if err != nil {
			return nil, fmt.Errorf("docstore: list decode %s: %w", idPart.String(), err)
		}
		doc := Document{ID: idPart.String(), Value: val, Versionstamp: e.Versionstamp}
		if opts.Filter != nil && !opts.Filter(doc) {
			continue
		}
		out = append(out, doc)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Count returns len(List(ctx, opts)): the number of documents List would
// return for opts.
func (c *Collection) Count(ctx context.Context, opts ListOpts) (int, error) {
	docs, err := c.List(ctx, opts)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ForEach streams List results to fn, stopping early (without error) if fn
// returns false.
func (c *Collection) ForEach(ctx context.Context, opts ListOpts, fn func(Document) bool) error {
	docs, err := c.List(ctx, opts)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if !fn(d) {
			break
		}
	}
	return nil
}

// Add allocates a new id via the collection's IDGenerator, validates value
// through Parser, and inserts it guarded by a versionstamp:null check — a
// prior entry at the generated id aborts the commit (a collision, not a
// logic error, since ids may be generated or caller-supplied elsewhere).
func (c *Collection) Add(ctx context.Context, value Doc) (kvdocerrors.CommitResult, string, error) {
	parsed, err := c.opts.parser().Parse(value)
	if err != nil {
		return kvdocerrors.CommitResult{}, "", fmt.Errorf("docstore: validate: %w", err)
	}
	doc := parsed.(Doc)

	id, err := c.opts.idGenerator().Generate(doc)
	if err != nil {
		return kvdocerrors.CommitResult{}, "", fmt.Errorf("docstore: generate id: %w", err)
	}

	res, err := c.set(ctx, id, doc, false)
	return res, id, err
}

// SetOpts controls Set's overwrite behavior.
type SetOpts struct {
	// Overwrite, when true, deletes any prior entry (and, for
	// IndexableCollection, its index entries) before inserting. When
	// false, Set behaves exactly like Add with a caller-supplied id.
	Overwrite bool
}

// Set writes value at id, following SetOpts.Overwrite semantics.
func (c *Collection) Set(ctx context.Context, id string, value Doc, opts SetOpts) (kvdocerrors.CommitResult, error) {
	parsed, err := c.opts.parser().Parse(value)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: validate: %w", err)
	}
	return c.set(ctx, id, parsed.(Doc), opts.Overwrite)
}

func (c *Collection) set(ctx context.Context, id string, value Doc, overwrite bool) (kvdocerrors.CommitResult, error) {
	if overwrite {
		if _, err := c.Delete(ctx, id); err != nil {
			return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: overwrite delete %s: %w", id, err)
		}
	}

	raw, err := c.opts.serialize(value)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: set %s: %w", id, err)
	}

	res, err := c.store.Atomic().Check(c.IDKey(id), nil).Set(c.IDKey(id), raw).Commit(ctx)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: set %s: %w", id, err)
	}
	return kvdocerrors.CommitResult{OK: res.OK, Versionstamp: res.Versionstamp}, nil
}

// Update reads the current document, applies patch, and writes the result
// back with Overwrite semantics. patch receives nil if the document does
// not currently exist.
func (c *Collection) Update(ctx context.Context, id string, patch func(current Doc) (Doc, error)) (kvdocerrors.CommitResult, error) {
	cur, err := c.Find(ctx, id, FindOpts{})
	if err != nil {
		return kvdocerrors.CommitResult{}, err
	}
	var currentVal Doc
	if cur != nil {
		currentVal = cur.Value
	}
	next, err := patch(currentVal)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: update %s: %w", id, err)
	}
	return c.Set(ctx, id, next, SetOpts{Overwrite: true})
}

// Delete removes one or more documents by id. Missing ids are a silent
// no-op for that id.
func (c *Collection) Delete(ctx context.Context, ids ...string) (kvdocerrors.CommitResult, error) {
	batch := c.store.Atomic()
	for _, id := range ids {
		batch.Delete(c.IDKey(id))
	}
	res, err := batch.Commit(ctx)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: delete: %w", err)
	}
	return kvdocerrors.CommitResult{OK: res.OK, Versionstamp: res.Versionstamp}, nil
}

// DeleteMany deletes every document matching opts and returns how many
// were removed.
func (c *Collection) DeleteMany(ctx context.Context, opts ListOpts) (int, error) {
	docs, err := c.List(ctx, opts)
	if err != nil {
		return 0, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := c.Delete(ctx, ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}
