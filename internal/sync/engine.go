// Package sync maps remote hypermedia operations onto cache graph mutations.
//
// The engine intercepts the four basic remote operations (read, create,
// replace, delete) and replays their effects onto the local property graph:
// resource nodes are created or removed, collection membership lists are
// maintained, and class-anchor edges fan out to every cached instance.
//
// For reads and creates the engine also discovers embedded references
// (declared properties whose range is itself a documented class) and returns
// them as descriptors for the link resolver to follow up on.
package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"

	"hydragent/internal/graph"
	"hydragent/internal/resource"
	"hydragent/internal/vocab"
)

// Node labels follow the layout the bootstrap seeds: one "classes" anchor
// per vocabulary class, one "collection" node per collection endpoint, and
// resource instances under vocab.Index.ResourceLabel.
const (
	labelClasses    = "classes"
	labelCollection = "collection"
)

// Status tags a sync outcome as applied or not applicable, so callers never
// have to distinguish "nothing to do" from "nothing found" by emptiness.
type Status int

const (
	// NotApplicable means the URL didn't match any known member or
	// collection shape and no graph mutation took place.
	NotApplicable Status = iota
	// Applied means the sync ran against the graph.
	Applied
)

// EmbeddedRef describes one embedded reference discovered during a sync:
// a declared property of the synced resource whose range is a documented
// class. The caller resolves these through the link resolver.
type EmbeddedRef struct {
	// ParentID is the cached resource the reference was found on.
	ParentID string

	// ParentType is the parent resource's class name.
	ParentType string

	// Property is the IRI of the referencing property.
	Property string
}

// Outcome is the tagged result of a sync handler.
type Outcome struct {
	Status Status

	// Embedded lists discovered embedded references. Only populated for
	// applied read/create/replace syncs of member resources; an empty list
	// on an applied sync is a normal result.
	Embedded []EmbeddedRef
}

// Engine owns the four sync handlers and the cache-side resource lookup.
//
// Handlers for the same resource id are serialized internally (replace is
// delete-then-recreate and must not interleave with a concurrent delete);
// handlers for distinct ids are safe to run concurrently.
type Engine struct {
	adapter *graph.Adapter
	logger  *log.Logger

	indexMu stdsync.RWMutex
	index   *vocab.Index

	locks keyedMutex

	// collectionLocks serializes membership-list updates per collection:
	// syncs of distinct ids in the same collection each read-modify-write
	// the same instances/members lists. Always acquired after the per-id
	// lock, never the other way around.
	collectionLocks keyedMutex
}

// New creates a sync engine over an adapter and a schema index.
//
// If logger is nil, a default logger writing to stderr is used.
func New(adapter *graph.Adapter, index *vocab.Index, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		adapter: adapter,
		logger:  logger,
		index:   index,
	}
}

// Index returns the engine's current schema index.
func (e *Engine) Index() *vocab.Index {
	e.indexMu.RLock()
	defer e.indexMu.RUnlock()
	return e.index
}

// SetIndex swaps the schema index, e.g. after the vocabulary document
// changed on disk. In-flight handlers keep the index they started with.
func (e *Engine) SetIndex(index *vocab.Index) {
	e.indexMu.Lock()
	e.index = index
	e.indexMu.Unlock()
}

// SyncRead replays a successful remote read onto the graph.
//
// Member URLs cache the resource: the owning collection's instances list
// grows by one reference, the resource node is created, and a has-a edge is
// drawn from the class anchor. Collection URLs overwrite the collection
// node's members list wholesale with the server's representation. Any other
// URL shape performs no mutation and returns NotApplicable.
func (e *Engine) SyncRead(ctx context.Context, url string, doc *resource.Document) (Outcome, error) {
	idx := e.Index()
	cls := idx.Classify(url)

	switch cls.Kind {
	case vocab.Member:
		unlock := e.locks.lock(cls.ResourceID)
		defer unlock()
		return e.syncMember(ctx, idx, cls, doc)
	case vocab.Collection:
		return e.syncCollection(ctx, idx, cls, doc)
	default:
		e.logger.Printf("no applicable sync for %s", url)
		return Outcome{Status: NotApplicable}, nil
	}
}

// SyncCreate replays a remote create response onto the graph.
//
// The server assigns the new resource's id; it is derived from the URL's
// trailing path segment and injected into the document before the sync runs.
// From the cache's perspective a create is indistinguishable from
// discovering the resource via a read.
func (e *Engine) SyncCreate(ctx context.Context, url string, doc *resource.Document) (Outcome, error) {
	idx := e.Index()
	cls := idx.Classify(url)
	if cls.Kind != vocab.Member {
		e.logger.Printf("no applicable sync for %s", url)
		return Outcome{Status: NotApplicable}, nil
	}

	doc.ID = cls.ResourceID

	unlock := e.locks.lock(cls.ResourceID)
	defer unlock()
	return e.syncMember(ctx, idx, cls, doc)
}

// SyncReplace replays a remote replace response onto the graph.
//
// Replace is delete-then-recreate, never an in-place patch: any stale cached
// copy and its membership entries are removed first, so the cached property
// set exactly reflects the new object with no leftover fields.
func (e *Engine) SyncReplace(ctx context.Context, url string, doc *resource.Document) (Outcome, error) {
	idx := e.Index()
	cls := idx.Classify(url)
	if cls.Kind != vocab.Member {
		e.logger.Printf("no applicable sync for %s", url)
		return Outcome{Status: NotApplicable}, nil
	}

	doc.ID = cls.ResourceID

	unlock := e.locks.lock(cls.ResourceID)
	defer unlock()

	if err := e.deleteMember(ctx, idx, cls); err != nil {
		return Outcome{}, err
	}
	return e.syncMember(ctx, idx, cls, doc)
}

// SyncDelete replays a remote delete onto the graph: the resource node is
// removed (edges cascade with it) and the owning collection's membership
// lists are filtered by exact id. Deleting an id that was never synced is a
// silent no-op.
func (e *Engine) SyncDelete(ctx context.Context, url string) (Outcome, error) {
	idx := e.Index()
	cls := idx.Classify(url)
	if cls.Kind != vocab.Member {
		e.logger.Printf("no applicable sync for %s", url)
		return Outcome{Status: NotApplicable}, nil
	}

	unlock := e.locks.lock(cls.ResourceID)
	defer unlock()

	if err := e.deleteMember(ctx, idx, cls); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: Applied}, nil
}

// syncMember caches one member resource. Caller holds the per-id lock.
func (e *Engine) syncMember(ctx context.Context, idx *vocab.Index, cls vocab.Classification, doc *resource.Document) (Outcome, error) {
	if doc.ID == "" {
		doc.ID = cls.ResourceID
	}

	// Record the new member on the owning collection's instances list.
	collectionID := idx.CollectionID(cls.Endpoint)
	if err := e.appendInstance(ctx, collectionID, resource.Ref{ID: doc.ID, Type: doc.Type}); err != nil {
		return Outcome{}, err
	}

	// Create the resource node from the flattened property map.
	e.adapter.CreateNode(idx.ResourceLabel(doc.Type), doc.ID, doc.Flatten())
	if err := e.adapter.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("failed to commit resource node %s: %w", doc.ID, err)
	}

	// Fan out from the class anchor to the new instance.
	created, err := e.adapter.CreateEdge(ctx,
		idx.HasRelation(doc.Type),
		labelClasses, graph.ByProps(graph.Properties{"type": cls.Endpoint}),
		idx.ResourceLabel(doc.Type), graph.ByID(doc.ID))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create class edge for %s: %w", doc.ID, err)
	}
	if created == 0 {
		e.logger.Printf("WARNING: no class anchor edge created for %s (endpoint %s)", doc.ID, cls.Endpoint)
	}

	// Discover embedded references among the class's declared properties.
	var embedded []EmbeddedRef
	for _, prop := range idx.EmbeddedProperties(doc.Type) {
		embedded = append(embedded, EmbeddedRef{
			ParentID:   doc.ID,
			ParentType: doc.Type,
			Property:   prop.IRI,
		})
	}

	return Outcome{Status: Applied, Embedded: embedded}, nil
}

// syncCollection overwrites a collection node's members list with the
// server's own representation. Collections carry no embeddable properties,
// so the descriptor list is always empty.
func (e *Engine) syncCollection(ctx context.Context, idx *vocab.Index, cls vocab.Classification, doc *resource.Document) (Outcome, error) {
	collectionID := idx.CollectionID(cls.Endpoint)

	encoded, err := resource.EncodeRefs(doc.Members)
	if err != nil {
		return Outcome{}, err
	}

	updated, err := e.adapter.UpsertProperty(ctx, labelCollection, graph.ByID(collectionID), "members", encoded)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to update collection members %s: %w", collectionID, err)
	}
	if updated == 0 {
		e.logger.Printf("WARNING: collection node %s not found while updating members", collectionID)
	}

	return Outcome{Status: Applied}, nil
}

// appendInstance appends one reference to a collection node's engine-
// maintained instances list. The whole list is written back: the store has
// no array-append primitive.
func (e *Engine) appendInstance(ctx context.Context, collectionID string, ref resource.Ref) error {
	unlock := e.collectionLocks.lock(collectionID)
	defer unlock()

	props, found, err := e.adapter.FindOne(ctx, labelCollection, graph.ByID(collectionID))
	if err != nil {
		return err
	}
	if !found {
		e.logger.Printf("WARNING: collection node %s not found while appending instance %s", collectionID, ref.ID)
		return nil
	}

	instances, err := resource.DecodeRefs(props["instances"])
	if err != nil {
		return fmt.Errorf("failed to decode instances of %s: %w", collectionID, err)
	}
	instances = append(instances, ref)

	encoded, err := resource.EncodeRefs(instances)
	if err != nil {
		return err
	}

	if _, err := e.adapter.UpsertProperty(ctx, labelCollection, graph.ByID(collectionID), "instances", encoded); err != nil {
		return fmt.Errorf("failed to update instances of %s: %w", collectionID, err)
	}
	return nil
}

// deleteMember removes a cached member resource and filters it out of the
// owning collection's membership lists. Idempotent. Caller holds the per-id
// lock.
func (e *Engine) deleteMember(ctx context.Context, idx *vocab.Index, cls vocab.Classification) error {
	// Incident edges cascade with the node.
	if _, err := e.adapter.DeleteNode(ctx, "", graph.ByID(cls.ResourceID)); err != nil {
		return fmt.Errorf("failed to delete resource node %s: %w", cls.ResourceID, err)
	}

	collectionID := idx.CollectionID(cls.Endpoint)
	unlock := e.collectionLocks.lock(collectionID)
	defer unlock()

	props, found, err := e.adapter.FindOne(ctx, labelCollection, graph.ByID(collectionID))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	for _, attr := range []string{"members", "instances"} {
		refs, err := resource.DecodeRefs(props[attr])
		if err != nil {
			return fmt.Errorf("failed to decode %s of %s: %w", attr, collectionID, err)
		}

		// Exact id match only: /Drone/1 must never remove /Drone/12.
		filtered := refs[:0]
		for _, ref := range refs {
			if ref.ID != cls.ResourceID {
				filtered = append(filtered, ref)
			}
		}
		if len(filtered) == len(refs) {
			continue
		}

		encoded, err := resource.EncodeRefs(filtered)
		if err != nil {
			return err
		}
		if _, err := e.adapter.UpsertProperty(ctx, labelCollection, graph.ByID(collectionID), attr, encoded); err != nil {
			return fmt.Errorf("failed to update %s of %s: %w", attr, collectionID, err)
		}
	}

	return nil
}

// keyedMutex serializes work per resource id. Entries are never reclaimed;
// the map is bounded by the number of distinct ids an agent touches.
type keyedMutex struct {
	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

// lock acquires the mutex for a key, creating it on first use, and returns
// the matching unlock.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*stdsync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &stdsync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
