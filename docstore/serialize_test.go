package docstore_test

import (
	"context"
	"testing"

	"github.com/arthur-debert/kvdoc/docstore"
	"github.com/arthur-debert/kvdoc/kvstore/memstore"
)

func TestCollectionWithYAMLCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	coll := docstore.NewCollection(store, "notes", docstore.Options{
		Serialize:   docstore.YAMLSerialize,
		Deserialize: docstore.YAMLDeserialize,
	})

	_, id, err := coll.Add(ctx, docstore.Doc{"title": "hand-editable note", "tags": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	doc, err := coll.Find(ctx, id, docstore.FindOpts{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc == nil || doc.Value["title"] != "hand-editable note" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}
