// Package docstore implements the document-oriented layer over kvstore:
// ordinary collections (CRUD + listing), indexable collections (unique and
// non-unique secondary indexes maintained synchronously with the owning
// document), and large collections (transparent chunking of over-sized
// values). It corresponds to the "Collection (base)", "IndexableCollection"
// and "LargeCollection" components of the design.
package docstore

import (
	"log/slog"

	"github.com/arthur-debert/kvdoc/kvkey"
	"github.com/arthur-debert/kvdoc/kvstore"
	"github.com/arthur-debert/kvdoc/model"
)

// Namespace markers, exactly as laid out in the data model: every
// collection root gets "id", "segment", "primary_index" and
// "secondary_index" sub-namespaces.
const (
	markerID             = "id"
	markerSegment        = "segment"
	markerPrimaryIndex   = "primary_index"
	markerSecondaryIndex = "secondary_index"
)

// IndexKind tags how a field participates in index maintenance.
type IndexKind int

const (
	IndexNone IndexKind = iota
	IndexPrimary
	IndexSecondary
)

// Doc is the in-memory shape of a document: a JSON-object-like map. Indexed
// fields are looked up by key in this map; a missing key means the field is
// undefined for that document and is sparse (no index entry written).
type Doc map[string]any

// Options configures a collection. Only the fields relevant to a given
// collection constructor are read; IndexableCollection reads Indices,
// LargeCollection reads SegmentLimit, all three read IDGenerator/Parser/
// Serialize/Deserialize.
type Options struct {
	// IDGenerator overrides the default ULID-like generator.
	IDGenerator model.IDGenerator

	// Parser validates and normalizes a candidate document before any
	// store I/O. Defaults to model.PassthroughParser.
	Parser model.Parser

	// Indices declares per-field index kind for IndexableCollection.
	Indices map[string]IndexKind

	// Serialize/Deserialize override the default JSON codec.
	Serialize   func(Doc) ([]byte, error)
	Deserialize func([]byte) (Doc, error)

	// SegmentLimit overrides LargeCollectionStringLimit for a specific
	// LargeCollection, so tests can exercise chunking without huge
	// fixtures.
	SegmentLimit int

	// IndexLogger receives a Warn-level record whenever IndexableCollection
	// fails to clean up stale index entries after a delete. Defaults to a
	// discarding logger; see kvdoclog.Init for a ready-made IndexMaint
	// logger.
	IndexLogger *slog.Logger
}

func (o Options) idGenerator() model.IDGenerator {
	if o.IDGenerator != nil {
		return o.IDGenerator
	}
	return defaultIDGenerator
}

func (o Options) parser() model.Parser {
	if o.Parser != nil {
		return o.Parser
	}
	return model.PassthroughParser
}

func (o Options) serialize(d Doc) ([]byte, error) {
	if o.Serialize != nil {
		return o.Serialize(d)
	}
	return defaultSerialize(d)
}

func (o Options) deserialize(b []byte) (Doc, error) {
	if o.Deserialize != nil {
		return o.Deserialize(b)
	}
	return defaultDeserialize(b)
}

func (o Options) indexLogger() *slog.Logger {
	if o.IndexLogger != nil {
		return o.IndexLogger
	}
	return discardLogger
}

var discardLogger = slog.New(slog.DiscardHandler)

var defaultIDGenerator = model.NewULIDGenerator()

// base holds the fields and key-building helpers shared by every
// collection kind: the store handle, the collection's root key, and its
// options.
type base struct {
	store kvstore.Store
	root  kvkey.Key
	opts  Options
}

// Store returns the underlying kvstore.Store this collection writes to.
func (b *base) Store() kvstore.Store { return b.store }

// CollRoot returns the collection's root key, e.g. kvdoc/users.
func (b *base) CollRoot() kvkey.Key { return b.root }

// IDKey returns the id-key for docId within this collection.
func (b *base) IDKey(id string) kvkey.Key {
	return kvkey.Extend(b.root, kvkey.S(markerID), kvkey.S(id))
}

func (b *base) segmentKey(id string, idx int) kvkey.Key {
	return kvkey.Extend(b.root, kvkey.S(markerSegment), kvkey.S(id), kvkey.U(uint64(idx)))
}

func (b *base) segmentPrefix(id string) kvkey.Key {
	return kvkey.Extend(b.root, kvkey.S(markerSegment), kvkey.S(id))
}

func (b *base) primaryIndexKey(field, value string) kvkey.Key {
	return kvkey.Extend(b.root, kvkey.S(markerPrimaryIndex), kvkey.S(field), kvkey.S(value))
}

func (b *base) secondaryIndexKey(field, value, id string) kvkey.Key {
	return kvkey.Extend(b.root, kvkey.S(markerSecondaryIndex), kvkey.S(field), kvkey.S(value), kvkey.S(id))
}

func (b *base) secondaryIndexPrefix(field, value string) kvkey.Key {
	return kvkey.Extend(b.root, kvkey.S(markerSecondaryIndex), kvkey.S(field), kvkey.S(value))
}

// Target is what atomicbuilder.Builder needs from a collection to select
// it as the active collection for subsequent fluent operations.
type Target interface {
	Store() kvstore.Store
	CollRoot() kvkey.Key
	IDKey(id string) kvkey.Key
}

// fieldAsString renders an indexed field's value the way an index key
// fragment is built: fmt's default formatting, so strings, numbers, and
// bools all produce a stable textual form.
func fieldAsString(v any) string {
	return stringify(v)
}
