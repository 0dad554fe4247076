package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/arthur-debert/kvdoc/docstore"
	"github.com/arthur-debert/kvdoc/kvdocerrors"
	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvstore"
	"github.com/arthur-debert/kvdoc/kvstore/memstore"
)

// segmentKeyForTest rebuilds a large collection's segment key layout:
// <root>/segment/<id>/<index>. It exists only to let this external test
// corrupt a segment directly, bypassing the collection's own write path.
func segmentKeyForTest(name, id string, idx int) kvkey.Key {
	return kvkey.Extend(kvkey.Root, kvkey.S(name), kvkey.S("segment"), kvkey.S(id), kvkey.U(uint64(idx)))
}

func TestLargeCollectionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	large := docstore.NewLargeCollection(store, "blobs", docstore.Options{SegmentLimit: 64})

	payload := strings.Repeat("x", 64*2+32) // forces 3 segments at limit 64
	_, id, err := large.SetDocument(ctx, "", docstore.Doc{"body": payload}, docstore.LargeSetOpts{})
	if err != nil {
		t.Fatalf("set document: %v", err)
	}

	doc, err := large.Find(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc == nil {
		t.Fatalf("expected document to be found")
	}
	if doc.Value["body"] != payload {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(doc.Value["body"].(string)), len(payload))
	}
}

func TestLargeCollectionOverwriteReplacesSegments(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	large := docstore.NewLargeCollection(store, "blobs", docstore.Options{SegmentLimit: 32})

	_, id, err := large.SetDocument(ctx, "doc1", docstore.Doc{"body": strings.Repeat("a", 100)}, docstore.LargeSetOpts{})
	if err != nil {
		t.Fatalf("initial set: %v", err)
	}

	res, _, err := large.SetDocument(ctx, id, docstore.Doc{"body": strings.Repeat("a", 100)}, docstore.LargeSetOpts{Overwrite: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK {
		t.Fatalf("expected overwrite=false to fail against an existing id")
	}

	res, _, err = large.SetDocument(ctx, id, docstore.Doc{"body": strings.Repeat("b", 10)}, docstore.LargeSetOpts{Overwrite: true})
	if err != nil || !res.OK {
		t.Fatalf("overwrite failed: %v %v", res, err)
	}

	doc, err := large.Find(ctx, id)
	if err != nil || doc == nil {
		t.Fatalf("find after overwrite: %v %v", doc, err)
	}
	if doc.Value["body"] != strings.Repeat("b", 10) {
		t.Fatalf("expected overwritten body, got %v", doc.Value["body"])
	}
}

func TestLargeCollectionMissingIsNilNotError(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	large := docstore.NewLargeCollection(store, "blobs", docstore.Options{})

	doc, err := large.Find(ctx, "nope")
	if err != nil {
		t.Fatalf("expected no error for missing document, got %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %+v", doc)
	}
}

func TestLargeCollectionCorruptedMissingSegmentIsTypedError(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	large := docstore.NewLargeCollection(store, "blobs", docstore.Options{SegmentLimit: 16})

	_, id, err := large.SetDocument(ctx, "", docstore.Doc{"body": strings.Repeat("z", 50)}, docstore.LargeSetOpts{})
	if err != nil {
		t.Fatalf("set document: %v", err)
	}

	// Corrupt the store by deleting one segment directly, bypassing the
	// collection's own delete path.
	if err := store.Delete(ctx, segmentKeyForTest("blobs", id, 0)); err != nil {
		t.Fatalf("delete segment: %v", err)
	}

	_, err = large.Find(ctx, id)
	if err == nil {
		t.Fatalf("expected corruption error")
	}
	var corrupt *kvdocerrors.CorruptedDocumentDataError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptedDocumentDataError, got %T: %v", err, err)
	}
}

// failOnNthAtomic wraps a Store so its nth Atomic-batch commit (1-indexed,
// counting every Atomic() call made against it) fails with an error, then
// behaves normally afterward. It exists to simulate a mid-commit segment
// failure for the Retry test below.
type failOnNthAtomic struct {
	kvstore.Store
	failCall int
	calls    int
}

func (s *failOnNthAtomic) Atomic() kvstore.AtomicBatch {
	s.calls++
	real := s.Store.Atomic()
	if s.calls == s.failCall {
		return failingBatch{real}
	}
	return real
}

type failingBatch struct {
	kvstore.AtomicBatch
}

func (failingBatch) Commit(ctx context.Context) (kvstore.CommitResult, error) {
	return kvstore.CommitResult{}, fmt.Errorf("injected commit failure")
}

func TestLargeCollectionRetrySucceedsAfterMidCommitSegmentFailure(t *testing.T) {
	ctx := context.Background()
	// SegmentLimit large enough that the payload below is exactly one
	// segment, so the segment batch is a single Atomic() call: the probe
	// check is call 1, the segment write is call 2, the manifest write is
	// call 3.
	failing := &failOnNthAtomic{Store: memstore.New(), failCall: 2}
	large := docstore.NewLargeCollection(failing, "blobs", docstore.Options{SegmentLimit: 1024})

	payload := strings.Repeat("r", 100)
	res, id, err := large.SetDocument(ctx, "", docstore.Doc{"body": payload}, docstore.LargeSetOpts{Retry: 2})
	if err != nil {
		t.Fatalf("set document: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected retried attempt to succeed, got %+v", res)
	}

	doc, err := large.Find(ctx, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc == nil || doc.Value["body"] != payload {
		t.Fatalf("unexpected document after retry: %+v", doc)
	}

	if entry, err := failing.Store.Get(ctx, segmentKeyForTest("blobs", id, 0)); err != nil {
		t.Fatalf("get segment: %v", err)
	} else if entry.Versionstamp == nil {
		t.Fatalf("expected the retried attempt's segment to be present")
	}
}

func TestLargeCollectionDeleteThenFindIsNil(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	large := docstore.NewLargeCollection(store, "blobs", docstore.Options{SegmentLimit: 16})

	_, id, err := large.SetDocument(ctx, "", docstore.Doc{"body": strings.Repeat("q", 50)}, docstore.LargeSetOpts{})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := large.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doc, err := large.Find(ctx, id)
	if err != nil {
		t.Fatalf("find after delete: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil after delete, got %+v", doc)
	}
}
