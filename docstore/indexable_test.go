package docstore_test

import (
	"context"
	"testing"

	"github.com/arthur-debert/kvdoc/docstore"
	"github.com/arthur-debert/kvdoc/kvstore/memstore"
)

func usersCollection(store *memstore.Store) *docstore.IndexableCollection {
	return docstore.NewIndexableCollection(store, "users", docstore.Options{
		Indices: map[string]docstore.IndexKind{
			"email": docstore.IndexPrimary,
			"role":  docstore.IndexSecondary,
		},
	})
}

// Scenario 1: duplicate primary index value fails the whole commit.
func TestIndexableCollectionUniquePrimaryIndex(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	users := usersCollection(store)

	res, _, err := users.Add(ctx, docstore.Doc{"name": "a", "email": "x"})
	if err != nil || !res.OK {
		t.Fatalf("first add failed: %v %v", res, err)
	}

	res, _, err = users.Add(ctx, docstore.Doc{"name": "b", "email": "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK {
		t.Fatalf("expected duplicate email to fail commit")
	}

	docs, err := users.List(ctx, docstore.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected exactly one persisted document, got %d", len(docs))
	}

	found, err := users.FindByPrimaryIndex(ctx, "email", "x")
	if err != nil || found == nil {
		t.Fatalf("expected primary index lookup to succeed: %v %v", found, err)
	}
	if found.Value["name"] != "a" {
		t.Fatalf("expected the first document to own the index entry, got %v", found.Value["name"])
	}
}

// Scenario 2: secondary index lists every document sharing a field value.
func TestIndexableCollectionSecondaryIndexCount(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	users := usersCollection(store)

	emails := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"}
	roles := []string{"admin", "admin", "admin", "user", "user"}
	for i := range emails {
		if res, _, err := users.Add(ctx, docstore.Doc{"email": emails[i], "role": roles[i]}); err != nil || !res.OK {
			t.Fatalf("add %d failed: %v %v", i, res, err)
		}
	}

	admins, err := users.FindBySecondaryIndex(ctx, "role", "admin", docstore.ListOpts{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	if len(admins) != 3 {
		t.Fatalf("expected 3 admins, got %d", len(admins))
	}

	regular, err := users.FindBySecondaryIndex(ctx, "role", "user", docstore.ListOpts{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	if len(regular) != 2 {
		t.Fatalf("expected 2 regular users, got %d", len(regular))
	}
}

// Scenario 4: deleting an indexed document removes its index entries too.
func TestIndexableCollectionDeleteCleansIndexes(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	users := usersCollection(store)

	_, id, err := users.Add(ctx, docstore.Doc{"email": "x@y.com", "role": "admin"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := users.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	doc, err := users.Find(ctx, id, docstore.FindOpts{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected document gone, got %+v", doc)
	}

	if found, err := users.FindByPrimaryIndex(ctx, "email", "x@y.com"); err != nil || found != nil {
		t.Fatalf("expected primary index entry gone, got %+v err=%v", found, err)
	}

	admins, err := users.FindBySecondaryIndex(ctx, "role", "admin", docstore.ListOpts{})
	if err != nil {
		t.Fatalf("find by secondary index: %v", err)
	}
	if len(admins) != 0 {
		t.Fatalf("expected no admins left, got %d", len(admins))
	}
}

// P7: sparse indexes — documents missing the indexed field never collide.
func TestIndexableCollectionSparseIndexNoCollision(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	users := usersCollection(store)

	res1, _, err := users.Add(ctx, docstore.Doc{"name": "no-email-1"})
	if err != nil || !res1.OK {
		t.Fatalf("add 1 failed: %v %v", res1, err)
	}
	res2, _, err := users.Add(ctx, docstore.Doc{"name": "no-email-2"})
	if err != nil || !res2.OK {
		t.Fatalf("add 2 failed: %v %v", res2, err)
	}

	docs, err := users.List(ctx, docstore.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected both sparse documents to persist, got %d", len(docs))
	}
}

func TestIndexableCollectionSetOverwriteMovesIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	users := usersCollection(store)

	if res, err := users.Set(ctx, "u1", docstore.Doc{"email": "old@x.com"}, docstore.SetOpts{}); err != nil || !res.OK {
		t.Fatalf("set failed: %v %v", res, err)
	}
	if res, err := users.Set(ctx, "u1", docstore.Doc{"email": "new@x.com"}, docstore.SetOpts{Overwrite: true}); err != nil || !res.OK {
		t.Fatalf("overwrite set failed: %v %v", res, err)
	}

	if found, err := users.FindByPrimaryIndex(ctx, "email", "old@x.com"); err != nil || found != nil {
		t.Fatalf("expected stale primary index entry gone, got %+v err=%v", found, err)
	}
	found, err := users.FindByPrimaryIndex(ctx, "email", "new@x.com")
	if err != nil || found == nil {
		t.Fatalf("expected new primary index entry present: %v %v", found, err)
	}
}
