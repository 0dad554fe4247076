package docstore

import (
	"context"
	"fmt"

	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvdocerrors"
	"github.com/arthur-debert/kvdoc/kvstore"
)

// idFieldMarker is the embedded field primary-index entries carry so the
// owning document id is reachable without a second fetch — the index
// entry is a "fat pointer" that never needs a follow-up read.
const idFieldMarker = "__id__"

// IndexableCollection extends Collection with unique (primary) and
// non-unique (secondary) secondary indexes, maintained synchronously with
// every document write.
type IndexableCollection struct {
	base
	primaryFields   []string
	secondaryFields []string
}

// NewIndexableCollection roots an IndexableCollection at name, deriving
// PrimaryFields/SecondaryFields from opts.Indices.
func NewIndexableCollection(store kvstore.Store, name string, opts Options) *IndexableCollection {
	ic := &IndexableCollection{base: base{store: store, root: kvkey.Extend(kvkey.Root, kvkey.S(name)), opts: opts}}
	for field, kind := range opts.Indices {
		switch kind {
		case IndexPrimary:
			ic.primaryFields = append(ic.primaryFields, field)
		case IndexSecondary:
			ic.secondaryFields = append(ic.secondaryFields, field)
		}
	}
	return ic
}

// PrimaryFields returns the fields with a unique index.
func (ic *IndexableCollection) PrimaryFields() []string { return append([]string(nil), ic.primaryFields...) }

// SecondaryFields returns the fields with a non-unique index.
func (ic *IndexableCollection) SecondaryFields() []string {
	return append([]string(nil), ic.secondaryFields...)
}

// PrimaryIndexKey and SecondaryIndexKey expose the base key builders so
// callers outside this package can address index entries without
// duplicating the namespace layout.
func (ic *IndexableCollection) PrimaryIndexKey(field, value string) kvkey.Key {
	return ic.primaryIndexKey(field, value)
}
func (ic *IndexableCollection) SecondaryIndexKey(field, value, id string) kvkey.Key {
	return ic.secondaryIndexKey(field, value, id)
}

// WriteFragment is one (check, set) pair an index-aware write needs beyond
// the id-key write itself.
type WriteFragment struct {
	Key         kvkey.Key
	Value       []byte
	CheckAbsent bool
}

// PlanWrite computes the index fragments — in addition to the id-key write
// itself — required to add or overwrite id with value: for every primary
// field present on value, a unique index entry carrying value plus
// idFieldMarker, guarded by a versionstamp:null check; for every secondary
// field present, a non-unique index entry under (field, value, id),
// likewise guarded defensively.
func (ic *IndexableCollection) PlanWrite(id string, value Doc) ([]WriteFragment, error) {
	var frags []WriteFragment

	for _, field := range ic.primaryFields {
		v, ok := value[field]
		if !ok || v == nil {
			continue
		}
		fieldVal := stringify(v)
		entry := make(Doc, len(value)+1)
		for k, val := range value {
			entry[k] = val
		}
		entry[idFieldMarker] = id
		raw, err := ic.opts.serialize(entry)
		if err != nil {
			return nil, fmt.Errorf("docstore: encode primary index %s=%s: %w", field, fieldVal, err)
		}
		frags = append(frags, WriteFragment{Key: ic.primaryIndexKey(field, fieldVal), Value: raw, CheckAbsent: true})
	}

	for _, field := range ic.secondaryFields {
		v, ok := value[field]
		if !ok || v == nil {
			continue
		}
		fieldVal := stringify(v)
		raw, err := ic.opts.serialize(value)
		if err != nil {
			return nil, fmt.Errorf("docstore: encode secondary index %s=%s: %w", field, fieldVal, err)
		}
		frags = append(frags, WriteFragment{Key: ic.secondaryIndexKey(field, fieldVal, id), Value: raw, CheckAbsent: true})
	}

	return frags, nil
}

// PlanDeleteKeys returns every index key that currently exists for a
// document known to hold value, so a caller that has already read the
// document (or is about to delete it) can remove its index entries.
func (ic *IndexableCollection) PlanDeleteKeys(id string, value Doc) []kvkey.Key {
	var keys []kvkey.Key
	for _, field := range ic.primaryFields {
		if v, ok := value[field]; ok && v != nil {
			keys = append(keys, ic.primaryIndexKey(field, stringify(v)))
		}
	}
	for _, field := range ic.secondaryFields {
		if v, ok := value[field]; ok && v != nil {
			keys = append(keys, ic.secondaryIndexKey(field, stringify(v), id))
		}
	}
	return keys
}

// Add validates value, generates an id, and writes the id-key plus every
// index fragment in one atomic batch. A duplicate primary-index value
// aborts the whole commit.
func (ic *IndexableCollection) Add(ctx context.Context, value Doc) (kvdocerrors.CommitResult, string, error) {
	parsed, err := ic.opts.parser().Parse(value)
	if err != nil {
		return kvdocerrors.CommitResult{}, "", fmt.Errorf("docstore: validate: %w", err)
	}
	doc := parsed.(Doc)

	id, err := ic.opts.idGenerator().Generate(doc)
	if err != nil {
		return kvdocerrors.CommitResult{}, "", fmt.Errorf("docstore: generate id: %w", err)
	}

	res, err := ic.writeWithIndexes(ctx, id, doc, false)
	return res, id, err
}

// Set writes value at id with the requested overwrite semantics, keeping
// its index entries consistent.
func (ic *IndexableCollection) Set(ctx context.Context, id string, value Doc, opts SetOpts) (kvdocerrors.CommitResult, error) {
	parsed, err := ic.opts.parser().Parse(value)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: validate: %w", err)
	}
	return ic.writeWithIndexes(ctx, id, parsed.(Doc), opts.Overwrite)
}

func (ic *IndexableCollection) writeWithIndexes(ctx context.Context, id string, value Doc, overwrite bool) (kvdocerrors.CommitResult, error) {
	if overwrite {
		if _, err := ic.Delete(ctx, id); err != nil {
			return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: overwrite delete %s: %w", id, err)
		}
	}

	raw, err := ic.opts.serialize(value)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: set %s: %w", id, err)
	}

	frags, err := ic.PlanWrite(id, value)
	if err != nil {
		return kvdocerrors.CommitResult{}, err
	}

	batch := ic.store.Atomic().Check(ic.IDKey(id), nil).Set(ic.IDKey(id), raw)
	for _, f := range frags {
		if f.CheckAbsent {
			batch.Check(f.Key, nil)
		}
		batch.Set(f.Key, f.Value)
	}

	res, err := batch.Commit(ctx)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: set %s: %w", id, err)
	}
	return kvdocerrors.CommitResult{OK: res.OK, Versionstamp: res.Versionstamp}, nil
}

// Deserialize decodes raw bytes using this collection's configured codec.
// atomicbuilder uses it during its prepare phase to read a document's
// current field values before planning index deletes, without hard-coding
// a JSON codec of its own.
func (ic *IndexableCollection) Deserialize(b []byte) (Doc, error) {
	return ic.opts.deserialize(b)
}

// Find reads a document by id, exactly like Collection.Find.
func (ic *IndexableCollection) Find(ctx context.Context, id string, opts FindOpts) (*Document, error) {
	c := Collection{base: ic.base}
	return c.Find(ctx, id, opts)
}

// List returns every document matching opts, exactly like Collection.List.
func (ic *IndexableCollection) List(ctx context.Context, opts ListOpts) ([]Document, error) {
	c := Collection{base: ic.base}
	return c.List(ctx, opts)
}

// Delete removes one or more documents together with their index entries.
// Because index entries are keyed by the current field value, each
// document must be read first to discover which index keys to remove; the
// id-key delete and the index-key deletes are NOT all in the same atomic
// batch: the id-key delete commits first, and index cleanup follows as a
// separate, best-effort atomic batch.
func (ic *IndexableCollection) Delete(ctx context.Context, ids ...string) (kvdocerrors.CommitResult, error) {
	plans := make(map[string][]kvkey.Key, len(ids))
	for _, id := range ids {
		doc, err := ic.Find(ctx, id, FindOpts{})
		if err != nil {
			return kvdocerrors.CommitResult{}, err
		}
		if doc == nil {
			continue
		}
		plans[id] = ic.PlanDeleteKeys(id, doc.Value)
	}

	batch := ic.store.Atomic()
	for _, id := range ids {
		batch.Delete(ic.IDKey(id))
	}
	res, err := batch.Commit(ctx)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: delete: %w", err)
	}
	if !res.OK {
		return kvdocerrors.CommitResult{OK: false}, nil
	}

	cleanup := ic.store.Atomic()
	var hasCleanup bool
	for _, keys := range plans {
		for _, k := range keys {
			cleanup.Delete(k)
			hasCleanup = true
		}
	}
	if hasCleanup {
		// Best-effort: a failed cleanup leaves stale index pointers that
		// every index-lookup path already tolerates and that a future
		// write to the same field will replace. The caller's delete still
		// succeeded, so this is logged rather than returned as an error.
		cleanupRes, cleanupErr := cleanup.Commit(ctx)
		if cleanupErr != nil || !cleanupRes.OK {
			ic.opts.indexLogger().Warn("index cleanup failed after delete",
				"collection", ic.root.String(), "ids", ids, "error", cleanupErr)
		}
	}

	return kvdocerrors.CommitResult{OK: true, Versionstamp: res.Versionstamp}, nil
}

// FindByPrimaryIndex fetches the primary-index entry directly: because the
// entry carries the full document value plus idFieldMarker, no second
// fetch of the id-key is needed.
func (ic *IndexableCollection) FindByPrimaryIndex(ctx context.Context, field, value string) (*Document, error) {
	key := ic.primaryIndexKey(field, value)
	e, err := ic.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("docstore: find by primary index %s=%s: %w", field, value, err)
	}
	if e.Versionstamp == nil {
		return nil, nil
	}
	doc, err := ic.opts.deserialize(e.Value)
	if err != nil {
		return nil, fmt.Errorf("docstore: decode primary index %s=%s: %w", field, value, err)
	}
	id, _ := doc[idFieldMarker].(string)
	delete(doc, idFieldMarker)
	return &Document{ID: id, Value: doc, Versionstamp: e.Versionstamp}, nil
}

// FindBySecondaryIndex lists every document whose field equals value, in
// ascending id order, applying opts.Filter client-side like any other list.
func (ic *IndexableCollection) FindBySecondaryIndex(ctx context.Context, field, value string, opts ListOpts) ([]Document, error) {
	prefix := ic.secondaryIndexPrefix(field, value)
	entries, err := ic.store.List(ctx, kvstore.Selector{Prefix: prefix}, kvstore.ListOpts{Reverse: opts.Reverse})
	if err != nil {
		return nil, fmt.Errorf("docstore: find by secondary index %s=%s: %w", field, value, err)
	}

	var out []Document
	for _, e := range entries {
		// Secondary index keys end in the bare docId (no "id" marker
		// segment precedes it, unlike primary document keys), so the
		// trailing part is always the id directly.
		if len(e.Key) == 0 {
			continue
		}
		idPart := e.Key[len(e.Key)-1]
		doc, err := ic.opts.deserialize(e.Value)
		if err != nil {
			return nil, fmt.Errorf("docstore: decode secondary index entry: %w", err)
		}
		d := Document{ID: idPart.String(), Value: doc, Versionstamp: e.Versionstamp}
		if opts.Filter != nil && !opts.Filter(d) {
			continue
		}
		out = append(out, d)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}
