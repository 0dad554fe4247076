package docstore

import (
	"context"
	"fmt"

	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvdocerrors"
	"github.com/arthur-debert/kvdoc/kvstore"
)

// LargeCollectionStringLimit is the default per-segment byte limit, chosen
// to stay comfortably under the per-value size ceiling typical ordered KV
// stores impose.
const LargeCollectionStringLimit = 64 * 1024

// LargeCollection transparently shards an over-sized serialized document
// across many segment keys, while keeping the identity key's insert
// semantics atomic from the caller's point of view: the manifest at the
// id-key is written last, so a reader never observes a partially-written
// document as anything other than "prior value" or "absent".
type LargeCollection struct {
	base
	segmentLimit int
}

// NewLargeCollection roots a LargeCollection at name.
func NewLargeCollection(store kvstore.Store, name string, opts Options) *LargeCollection {
	limit := opts.SegmentLimit
	if limit <= 0 {
		limit = LargeCollectionStringLimit
	}
	return &LargeCollection{
		base:         base{store: store, root: kvkey.Extend(kvkey.Root, kvkey.S(name)), opts: opts},
		segmentLimit: limit,
	}
}

// manifest is the id-key's value for a large document: the ordered list of
// segment indices making up the payload.
type manifest struct {
	IDs []int `json:"ids"`
}

// LargeSetOpts mirrors SetOpts for large documents, plus Retry: how many
// additional attempts to make if segment writes fail partway through.
type LargeSetOpts struct {
	Overwrite bool
	Retry     int
}

// SetDocument validates value, resolves its id (generated unless supplied
// via withID), chunks its serialized form into segments of at most the
// collection's segment limit, writes the segments, and finally writes the
// manifest — the single write that makes the new document visible.
func (lc *LargeCollection) SetDocument(ctx context.Context, withID string, value Doc, opts LargeSetOpts) (kvdocerrors.CommitResult, string, error) {
	parsed, err := lc.opts.parser().Parse(value)
	if err != nil {
		return kvdocerrors.CommitResult{}, "", fmt.Errorf("docstore: validate: %w", err)
	}
	doc := parsed.(Doc)

	id := withID
	if id == "" {
		id, err = lc.opts.idGenerator().Generate(doc)
		if err != nil {
			return kvdocerrors.CommitResult{}, "", fmt.Errorf("docstore: generate id: %w", err)
		}
	}

	res, err := lc.setDocument(ctx, id, doc, opts)
	return res, id, err
}

func (lc *LargeCollection) setDocument(ctx context.Context, id string, doc Doc, opts LargeSetOpts) (kvdocerrors.CommitResult, error) {
	probe, err := lc.store.Atomic().Check(lc.IDKey(id), nil).Commit(ctx)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: probe %s: %w", id, err)
	}
	if !probe.OK {
		if !opts.Overwrite {
			return kvdocerrors.CommitResult{OK: false}, nil
		}
		if _, err := lc.Delete(ctx, id); err != nil {
			return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: overwrite delete %s: %w", id, err)
		}
	}

	raw, err := lc.opts.serialize(doc)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: encode %s: %w", id, err)
	}

	segments := chunk(raw, lc.segmentLimit)
	ops := make([]kvstore.Op, len(segments))
	for i, seg := range segments {
		i, seg := i, seg
		ops[i] = func(b kvstore.AtomicBatch) {
			b.Set(lc.segmentKey(id, i), seg)
		}
	}

	batchSize := len(ops)
	if batchSize == 0 {
		batchSize = 1
	}
	results, err := kvstore.UseAtomics(ctx, lc.store, ops, batchSize)
	if err != nil || anyFailed(results) {
		lc.cleanupSegments(ctx, id, len(segments))
		if opts.Retry > 0 {
			return lc.setDocument(ctx, id, doc, LargeSetOpts{Overwrite: opts.Overwrite, Retry: opts.Retry - 1})
		}
		if err != nil {
			return kvdocerrors.CommitResult{}, err
		}
		return kvdocerrors.CommitResult{OK: false}, nil
	}

	man := manifest{IDs: make([]int, len(segments))}
	for i := range segments {
		man.IDs[i] = i
	}
	manBytes, err := jsonMarshal(man)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: encode manifest %s: %w", id, err)
	}

	res, err := lc.store.Atomic().Set(lc.IDKey(id), manBytes).Commit(ctx)
	if err != nil || !res.OK {
		lc.cleanupSegments(ctx, id, len(segments))
		if opts.Retry > 0 {
			return lc.setDocument(ctx, id, doc, LargeSetOpts{Overwrite: opts.Overwrite, Retry: opts.Retry - 1})
		}
		if err != nil {
			return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: write manifest %s: %w", id, err)
		}
		return kvdocerrors.CommitResult{OK: false}, nil
	}

	return kvdocerrors.CommitResult{OK: true, Versionstamp: res.Versionstamp}, nil
}

func anyFailed(results []kvstore.CommitResult) bool {
	for _, r := range results {
		if !r.OK {
			return true
		}
	}
	return false
}

func (lc *LargeCollection) cleanupSegments(ctx context.Context, id string, count int) {
	for i := 0; i < count; i++ {
		_ = lc.store.Delete(ctx, lc.segmentKey(id, i))
	}
}

// Find reconstructs a large document by reading its manifest, batch
// fetching every segment, concatenating them in manifest order, and
// decoding the result. A missing manifest returns (nil, nil); a manifest
// whose segments don't all exist, or whose concatenation doesn't decode,
// returns a *kvdocerrors.CorruptedDocumentDataError.
func (lc *LargeCollection) Find(ctx context.Context, id string) (*Document, error) {
	e, err := lc.store.Get(ctx, lc.IDKey(id))
	if err != nil {
		return nil, fmt.Errorf("docstore: find large %s: %w", id, err)
	}
	if e.Versionstamp == nil {
		return nil, nil
	}

	var man manifest
	if err := jsonUnmarshal(e.Value, &man); err != nil {
		return nil, &kvdocerrors.CorruptedDocumentDataError{DocID: id, DecodeErr: fmt.Errorf("decode manifest: %w", err)}
	}

	keys := make([]kvkey.Key, len(man.IDs))
	for i, segIdx := range man.IDs {
		keys[i] = lc.segmentKey(id, segIdx)
	}
	entries, err := lc.store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("docstore: find large %s: %w", id, err)
	}

	var missing []int
	var payload []byte
	for i, entry := range entries {
		if entry.Versionstamp == nil {
			missing = append(missing, man.IDs[i])
			continue
		}
		payload = append(payload, entry.Value...)
	}
	if len(missing) > 0 {
		return nil, &kvdocerrors.CorruptedDocumentDataError{DocID: id, MissingSegments: missing}
	}

	doc, err := lc.opts.deserialize(payload)
	if err != nil {
		return nil, &kvdocerrors.CorruptedDocumentDataError{DocID: id, DecodeErr: err}
	}

	return &Document{ID: id, Value: doc, Versionstamp: e.Versionstamp}, nil
}

// Delete removes a large document. The manifest is deleted first so a
// reader racing the delete never observes a present manifest with missing
// segments; once the manifest is gone, a concurrent Find simply returns
// nil rather than a corruption error. If no manifest exists, Delete is a
// no-op.
func (lc *LargeCollection) Delete(ctx context.Context, id string) (kvdocerrors.CommitResult, error) {
	e, err := lc.store.Get(ctx, lc.IDKey(id))
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: delete large %s: %w", id, err)
	}
	if e.Versionstamp == nil {
		return kvdocerrors.CommitResult{OK: true}, nil
	}

	var man manifest
	segCount := 0
	if err := jsonUnmarshal(e.Value, &man); err == nil {
		segCount = len(man.IDs)
	}

	if err := lc.store.Delete(ctx, lc.IDKey(id)); err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: delete manifest %s: %w", id, err)
	}

	ops := make([]kvstore.Op, segCount)
	for i := 0; i < segCount; i++ {
		segIdx := man.IDs[i]
		ops[i] = func(b kvstore.AtomicBatch) { b.Delete(lc.segmentKey(id, segIdx)) }
	}
	if len(ops) > 0 {
		if _, err := kvstore.UseAtomics(ctx, lc.store, ops, len(ops)); err != nil {
			return kvdocerrors.CommitResult{}, fmt.Errorf("docstore: delete segments %s: %w", id, err)
		}
	}

	return kvdocerrors.CommitResult{OK: true}, nil
}

// chunk splits raw into consecutive slices of at most limit bytes each. An
// empty input produces zero segments (and therefore an empty manifest).
func chunk(raw []byte, limit int) [][]byte {
	if len(raw) == 0 {
		return nil
	}
	var out [][]byte
	for start := 0; start < len(raw); start += limit {
		end := start + limit
		if end > len(raw) {
			end = len(raw)
		}
		out = append(out, raw[start:end])
	}
	return out
}
