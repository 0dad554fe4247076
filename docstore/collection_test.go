package docstore_test

import (
	"context"
	"testing"

	"github.com/arthur-debert/kvdoc/docstore"
	"github.com/arthur-debert/kvdoc/kvstore/memstore"
)

func TestCollectionAddAndFind(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{})

	res, id, err := coll.Add(ctx, docstore.Doc{"title": "hello"})
	if err != nil || !res.OK {
		t.Fatalf("add failed: res=%v err=%v", res, err)
	}

	doc, err := coll.Find(ctx, id, docstore.FindOpts{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc == nil || doc.Value["title"] != "hello" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestCollectionSetOverwriteFalseRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{})

	if res, err := coll.Set(ctx, "n1", docstore.Doc{"v": 1}, docstore.SetOpts{}); err != nil || !res.OK {
		t.Fatalf("first set failed: %v %v", res, err)
	}
	res, err := coll.Set(ctx, "n1", docstore.Doc{"v": 2}, docstore.SetOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK {
		t.Fatalf("expected overwrite=false set to fail on collision")
	}

	doc, _ := coll.Find(ctx, "n1", docstore.FindOpts{})
	if doc.Value["v"].(float64) != 1 {
		t.Fatalf("expected original value preserved, got %v", doc.Value["v"])
	}
}

func TestCollectionSetOverwriteTrueReplaces(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{})

	coll.Set(ctx, "n1", docstore.Doc{"v": 1}, docstore.SetOpts{})
	res, err := coll.Set(ctx, "n1", docstore.Doc{"v": 2}, docstore.SetOpts{Overwrite: true})
	if err != nil || !res.OK {
		t.Fatalf("overwrite set failed: %v %v", res, err)
	}

	doc, _ := coll.Find(ctx, "n1", docstore.FindOpts{})
	if doc.Value["v"].(float64) != 2 {
		t.Fatalf("expected overwritten value, got %v", doc.Value["v"])
	}
}

func TestCollectionDeleteThenFindIsNil(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{})

	_, id, _ := coll.Add(ctx, docstore.Doc{"v": 1})
	if _, err := coll.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	doc, err := coll.Find(ctx, id, docstore.FindOpts{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document after delete, got %+v", doc)
	}
}

func TestCollectionListWithFilter(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{})

	coll.Set(ctx, "a", docstore.Doc{"kind": "x"}, docstore.SetOpts{})
	coll.Set(ctx, "b", docstore.Doc{"kind": "y"}, docstore.SetOpts{})
	coll.Set(ctx, "c", docstore.Doc{"kind": "x"}, docstore.SetOpts{})

	docs, err := coll.List(ctx, docstore.ListOpts{Filter: func(d docstore.Document) bool {
		return d.Value["kind"] == "x"
	}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 filtered documents, got %d", len(docs))
	}
}

func TestCollectionUpdate(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{})

	_, id, _ := coll.Add(ctx, docstore.Doc{"count": float64(1)})
	_, err := coll.Update(ctx, id, func(cur docstore.Doc) (docstore.Doc, error) {
		cur["count"] = cur["count"].(float64) + 1
		return cur, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	doc, _ := coll.Find(ctx, id, docstore.FindOpts{})
	if doc.Value["count"].(float64) != 2 {
		t.Fatalf("expected count=2, got %v", doc.Value["count"])
	}
}

func TestCollectionDeleteMany(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{})

	coll.Set(ctx, "a", docstore.Doc{"archived": true}, docstore.SetOpts{})
	coll.Set(ctx, "b", docstore.Doc{"archived": false}, docstore.SetOpts{})
	coll.Set(ctx, "c", docstore.Doc{"archived": true}, docstore.SetOpts{})

	n, err := coll.DeleteMany(ctx, docstore.ListOpts{Filter: func(d docstore.Document) bool {
		return d.Value["archived"] == true
	}})
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}

	remaining, _ := coll.List(ctx, docstore.ListOpts{})
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining document, got %d", len(remaining))
	}
}
