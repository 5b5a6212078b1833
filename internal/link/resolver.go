// Package link resolves embedded references discovered during sync.
//
// An embedded reference names another resource from inside a cached
// resource's properties. The resolver locates the referent, in the cache if
// it's already there or over the network otherwise, and draws the edge from
// the parent node to it. Unresolvable references are an expected, recoverable
// outcome, reported as a value rather than an error.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"hydragent/internal/graph"
	"hydragent/internal/resource"
	"hydragent/internal/sync"
)

// ErrNotFound is the transport's signal that a resource URL has no referent
// on the server.
var ErrNotFound = errors.New("resource not found")

// Transport fetches remote resources. It is the network collaborator the
// resolver and the agent share; implementations must return ErrNotFound
// (possibly wrapped) for missing resources.
type Transport interface {
	// Fetch retrieves and decodes the resource at url.
	Fetch(ctx context.Context, url string) (*resource.Document, error)
}

// Status tags a resolution outcome.
type Status int

const (
	// NotFound means the reference could not be resolved locally or
	// remotely. Expected and recoverable.
	NotFound Status = iota
	// Linked means the referent was located and the edge created.
	Linked
)

// Resolution is the outcome of resolving one embedded reference.
type Resolution struct {
	Status Status

	// EdgesCreated is the number of edges drawn (0 or 1). A Linked outcome
	// with zero edges indicates a store inconsistency, logged by the
	// resolver.
	EdgesCreated int

	// Reason describes a NotFound outcome for diagnostics.
	Reason string
}

// Resolver links parents to the resources their embedded references name.
type Resolver struct {
	engine    *sync.Engine
	adapter   *graph.Adapter
	transport Transport
	logger    *log.Logger
}

// NewResolver creates a resolver.
//
// If logger is nil, a default logger writing to stderr is used.
func NewResolver(engine *sync.Engine, adapter *graph.Adapter, transport Transport, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[link] ", log.LstdFlags)
	}
	return &Resolver{
		engine:    engine,
		adapter:   adapter,
		transport: transport,
		logger:    logger,
	}
}

// Resolve locates the resource behind referenceURL and draws a has-a edge
// from the parent's node to it.
//
// The referent is looked up in the cache first; on a miss it is fetched and
// synced so the edge has a destination to land on. Distinct references touch
// distinct parent/child pairs, so resolutions are safe to run in parallel.
func (r *Resolver) Resolve(ctx context.Context, parentID, parentType, referenceURL string) (Resolution, error) {
	referent, err := r.lookup(ctx, referenceURL)
	if err != nil {
		return Resolution{}, err
	}
	if referent == nil {
		reason := fmt.Sprintf("embedded link %s cannot be fetched", referenceURL)
		r.logger.Print(reason)
		return Resolution{Status: NotFound, Reason: reason}, nil
	}

	refID := referent["id"]
	refType := referent["type"]

	idx := r.engine.Index()
	created, err := r.adapter.CreateEdge(ctx,
		idx.HasRelation(refType),
		idx.ResourceLabel(parentType), graph.ByID(parentID),
		idx.ResourceLabel(refType), graph.ByID(refID))
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to link %s to %s: %w", parentID, refID, err)
	}
	if created == 0 {
		r.logger.Printf("WARNING: no edge created from %s to %s, endpoint missing", parentID, refID)
	}

	return Resolution{Status: Linked, EdgesCreated: created}, nil
}

// lookup returns the referent's cached property map, fetching and syncing it
// on a cache miss. A nil map with nil error means the reference is
// unresolvable.
func (r *Resolver) lookup(ctx context.Context, referenceURL string) (graph.Properties, error) {
	result, err := r.engine.GetResource(ctx, sync.Query{URL: referenceURL})
	if err != nil {
		return nil, err
	}
	if result.Hit {
		return result.Resource, nil
	}

	if r.transport == nil {
		return nil, nil
	}

	doc, err := r.transport.Fetch(ctx, referenceURL)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", referenceURL, err)
	}

	outcome, err := r.engine.SyncRead(ctx, referenceURL, doc)
	if err != nil {
		return nil, err
	}
	if outcome.Status != sync.Applied {
		return nil, nil
	}

	return graph.Properties(doc.Flatten()), nil
}
