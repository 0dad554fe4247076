// Package atomicbuilder implements the fluent, cross-collection atomic
// command accumulator: Select/Add/Set/Delete/Check/Sum/Mutate enqueue
// commands against a shared accumulator, and Commit runs the prepare,
// commit, and cleanup sequence a multi-collection write needs.
//
// Commands are represented as an explicit tagged union rather than
// closures over the pending atomic batch: this makes the add/delete
// overlap invariant exact, a walk over the command list rather than an
// incidental side effect of closure execution order, and makes Commit
// testable without a real store.
package atomicbuilder

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/arthur-debert/kvdoc/docstore"
	"github.com/arthur-debert/kvdoc/kvdocerrors"
	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvstore"
)

var discardLogger = slog.New(slog.DiscardHandler)

// indexable is the subset of docstore.IndexableCollection's API the
// builder needs to plan index fragments and deletes, without importing a
// concrete type switch everywhere.
type indexable interface {
	docstore.Target
	PlanWrite(id string, value docstore.Doc) ([]docstore.WriteFragment, error)
	PlanDeleteKeys(id string, value docstore.Doc) []kvkey.Key
	Deserialize(b []byte) (docstore.Doc, error)
}

// command is one tagged step folded into the pending atomic batch at
// Commit time.
type command struct {
	kind commandKind

	// addIDCheckSet / addIndex
	key   kvkey.Key
	value []byte

	// deleteKey
	deleteKeys []kvkey.Key

	// check
	checkKey          kvkey.Key
	checkVersionstamp []byte

	// sum
	sumDelta int64
}

type commandKind int

const (
	cmdAddIDCheckSet commandKind = iota
	cmdAddIndex
	cmdDeleteKey
	cmdCheck
	cmdSum
)

func (c command) apply(batch kvstore.AtomicBatch) {
	switch c.kind {
	case cmdAddIDCheckSet:
		batch.Check(c.key, nil)
		batch.Set(c.key, c.value)
	case cmdAddIndex:
		batch.Check(c.key, nil)
		batch.Set(c.key, c.value)
	case cmdDeleteKey:
		for _, k := range c.deleteKeys {
			batch.Delete(k)
		}
	case cmdCheck:
		batch.Check(c.checkKey, c.checkVersionstamp)
	case cmdSum:
		batch.Sum(c.key, c.sumDelta)
	}
}

// prepareStep is a read that must happen before the main batch is
// assembled, so the cleanup phase knows which index keys a delete must
// remove.
type prepareStep struct {
	coll indexable
	id   string
}

func (p prepareStep) run(ctx context.Context) ([]kvkey.Key, error) {
	e, err := p.coll.Store().Get(ctx, p.coll.IDKey(p.id))
	if err != nil {
		return nil, fmt.Errorf("atomicbuilder: prepare delete %s: %w", p.id, err)
	}
	if e.Versionstamp == nil {
		return nil, nil
	}
	doc, err := p.coll.Deserialize(e.Value)
	if err != nil {
		return nil, fmt.Errorf("atomicbuilder: prepare delete %s: %w", p.id, err)
	}
	return p.coll.PlanDeleteKeys(p.id, doc), nil
}

// accumulator is the shared, pointer-identity state every Builder produced
// by Select shares.
type accumulator struct {
	store       kvstore.Store
	logger      *slog.Logger
	commands    []command
	prepares    []prepareStep
	addColls    map[string]bool
	deleteColls map[string]bool
}

func rootKeyOf(t docstore.Target) string { return string(t.CollRoot().Encode()) }

// Builder is an immutable-ish fluent accumulator: each mutating call
// returns the same logical builder (sharing the accumulator) so call
// chains read naturally, while Select swaps only the active collection.
type Builder struct {
	acc     *accumulator
	current docstore.Target
}

// New starts a builder against store with no active collection selected.
// Select must be called before Add/Set/Delete/Check/Sum/Mutate.
func New(store kvstore.Store) *Builder {
	return &Builder{acc: &accumulator{
		store:       store,
		logger:      discardLogger,
		addColls:    map[string]bool{},
		deleteColls: map[string]bool{},
	}}
}

// WithLogger returns a Builder sharing this one's accumulator, logging
// every Commit attempt, overlap rejection and failed index cleanup to
// logger instead of
// discarding them. Pass kvdoclog.Loggers.Commits to make commits
// observable.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.acc.logger = logger
	return b
}

// Select returns a Builder sharing this one's accumulator, with target as
// the active collection for subsequent fluent calls. This is how a single
// commit spans multiple collections.
func (b *Builder) Select(target docstore.Target) *Builder {
	return &Builder{acc: b.acc, current: target}
}

func (b *Builder) requireCurrent() (docstore.Target, error) {
	if b.current == nil {
		return nil, fmt.Errorf("atomicbuilder: no collection selected; call Select first")
	}
	return b.current, nil
}

// add enqueues the id-key write plus, for an indexable active collection,
// every index fragment it requires. id and raw are supplied by the caller
// rather than generated here: id generation needs a collection's
// configured Parser/IDGenerator, which the narrower Target interface the
// builder depends on does not expose.
func (b *Builder) add(id string, value docstore.Doc, raw []byte) (*Builder, error) {
	cur, err := b.requireCurrent()
	if err != nil {
		return b, err
	}

	b.acc.commands = append(b.acc.commands, command{kind: cmdAddIDCheckSet, key: cur.IDKey(id), value: raw})

	if ic, ok := cur.(indexable); ok {
		frags, err := ic.PlanWrite(id, value)
		if err != nil {
			return b, err
		}
		for _, f := range frags {
			b.acc.commands = append(b.acc.commands, command{kind: cmdAddIndex, key: f.Key, value: f.Value})
		}
		b.acc.addColls[rootKeyOf(cur)] = true
	}
	return b, nil
}

// Add enqueues the creation of value under id, serialized to raw by the
// caller using the active collection's own codec. The caller supplies id
// (generating it beforehand if needed), so the command queue never needs
// to defer id allocation to commit time.
func (b *Builder) Add(id string, value docstore.Doc, raw []byte) (*Builder, error) {
	return b.add(id, value, raw)
}

// Set is an alias for Add at the command-queue level: both enqueue an
// id-key check+set plus index fragments. A caller wanting overwrite
// semantics issues its own preceding Delete (exactly what
// docstore.Collection.Set does internally) before calling Set.
func (b *Builder) Set(id string, value docstore.Doc, raw []byte) (*Builder, error) {
	return b.add(id, value, raw)
}

// Delete enqueues the removal of id. For an indexable active collection, a
// prepare step is registered to read the document's current field values
// before the main batch commits, so index cleanup can run afterward.
func (b *Builder) Delete(id string) (*Builder, error) {
	cur, err := b.requireCurrent()
	if err != nil {
		return b, err
	}

	b.acc.commands = append(b.acc.commands, command{kind: cmdDeleteKey, deleteKeys: []kvkey.Key{cur.IDKey(id)}})

	if ic, ok := cur.(indexable); ok {
		b.acc.prepares = append(b.acc.prepares, prepareStep{coll: ic, id: id})
		b.acc.deleteColls[rootKeyOf(cur)] = true
	}
	return b, nil
}

// Check appends a raw version check for optimistic concurrency against id
// in the active collection.
func (b *Builder) Check(id string, versionstamp []byte) (*Builder, error) {
	cur, err := b.requireCurrent()
	if err != nil {
		return b, err
	}
	b.acc.commands = append(b.acc.commands, command{kind: cmdCheck, checkKey: cur.IDKey(id), checkVersionstamp: versionstamp})
	return b, nil
}

// Sum appends a counter-add mutation against id. It is only valid when the
// document at id currently holds the store's 64-bit counter value; that is
// checked at the store layer, not here, and only at commit time (see
// DESIGN.md for why counter typing is checked at runtime rather than
// declared up front).
func (b *Builder) Sum(id string, delta int64) (*Builder, error) {
	cur, err := b.requireCurrent()
	if err != nil {
		return b, err
	}
	b.acc.commands = append(b.acc.commands, command{kind: cmdSum, key: cur.IDKey(id), sumDelta: delta})
	return b, nil
}

// MutationType mirrors kvstore.MutationType for the builder's own
// lower-level Mutate operation.
type MutationType = kvstore.MutationType

const (
	MutateSet    = kvstore.MutSet
	MutateDelete = kvstore.MutDelete
	MutateSum    = kvstore.MutSum
)

// Mutation is a single lower-level operation for Mutate. Delta is only
// meaningful for MutateSum.
type Mutation struct {
	ID    string
	Type  MutationType
	Value docstore.Doc
	Raw   []byte
	Delta int64
}

// Mutate translates each mutation's id into a key and appends the raw
// operation. A "set" mutation gets the same implicit versionstamp:null
// check and (for an indexable active collection) index fragments as Add;
// a "delete" mutation registers a prepare closure exactly like Delete; a
// "sum" mutation appends a counter-add exactly like Sum.
func (b *Builder) Mutate(muts ...Mutation) (*Builder, error) {
	for _, m := range muts {
		switch m.Type {
		case MutateSet:
			if _, err := b.add(m.ID, m.Value, m.Raw); err != nil {
				return b, err
			}
		case MutateDelete:
			if _, err := b.Delete(m.ID); err != nil {
				return b, err
			}
		case MutateSum:
			if _, err := b.Sum(m.ID, m.Delta); err != nil {
				return b, err
			}
		default:
			return b, fmt.Errorf("atomicbuilder: unsupported mutation type %v", m.Type)
		}
	}
	return b, nil
}

// Commit runs the full sequence: overlap check, concurrent prepare reads,
// the main atomic batch, and (on success) best-effort index cleanup.
func (b *Builder) Commit(ctx context.Context) (kvdocerrors.CommitResult, error) {
	for root := range b.acc.addColls {
		if b.acc.deleteColls[root] {
			b.acc.logger.Warn("commit rejected: add/delete overlap on one collection", "collection_root", root)
			return kvdocerrors.CommitResult{OK: false}, &kvdocerrors.OverlapError{CollectionRoot: root}
		}
	}

	cleanupKeys, err := b.runPrepares(ctx)
	if err != nil {
		return kvdocerrors.CommitResult{}, err
	}

	batch := b.acc.store.Atomic()
	for _, cmd := range b.acc.commands {
		cmd.apply(batch)
	}
	res, err := batch.Commit(ctx)
	if err != nil {
		return kvdocerrors.CommitResult{}, fmt.Errorf("atomicbuilder: commit: %w", err)
	}
	b.acc.logger.Info("commit attempted", "ok", res.OK, "commands", len(b.acc.commands))
	if !res.OK {
		return kvdocerrors.CommitResult{OK: false}, nil
	}

	if len(cleanupKeys) > 0 {
		cleanup := b.acc.store.Atomic()
		for _, k := range cleanupKeys {
			cleanup.Delete(k)
		}
		// Best-effort: a failure is logged as a warning and not returned,
		// as docstore.IndexableCollection.Delete does for its own
		// single-collection cleanup pass.
		cleanupRes, cleanupErr := cleanup.Commit(ctx)
		if cleanupErr != nil || !cleanupRes.OK {
			b.acc.logger.Warn("index cleanup failed after commit", "keys", len(cleanupKeys), "error", cleanupErr)
		}
	}

	return kvdocerrors.CommitResult{OK: true, Versionstamp: res.Versionstamp}, nil
}

func (b *Builder) runPrepares(ctx context.Context) ([]kvkey.Key, error) {
	if len(b.acc.prepares) == 0 {
		return nil, nil
	}

	results := make([][]kvkey.Key, len(b.acc.prepares))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range b.acc.prepares {
		i, p := i, p
		g.Go(func() error {
			keys, err := p.run(gctx)
			if err != nil {
				return err
			}
			results[i] = keys
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []kvkey.Key
	for _, ks := range results {
		all = append(all, ks...)
	}
	return all, nil
}
