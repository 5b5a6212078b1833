// Package agent provides the cache-first facade over the sync engine, the
// link resolver and the network transport.
//
// The agent:
// 1. Serves reads from the cache graph when it can
// 2. Fetches from the server and replays the result through the sync engine otherwise
// 3. Resolves embedded references discovered during sync
// 4. Replays writes (create/replace/delete) onto the cache after the server accepts them
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	stdsync "sync"

	"hydragent/internal/graph"
	"hydragent/internal/link"
	"hydragent/internal/resource"
	"hydragent/internal/sync"
)

// Transport is the network collaborator the agent performs remote operations
// through.
type Transport interface {
	link.Transport

	// Create PUTs a new resource and returns the server-assigned location.
	Create(ctx context.Context, url string, payload map[string]interface{}) (string, error)

	// Replace POSTs an updated resource.
	Replace(ctx context.Context, url string, payload map[string]interface{}) error

	// Delete removes a resource.
	Delete(ctx context.Context, url string) error
}

// Agent ties the engine, resolver and transport together behind the four
// remote operations.
type Agent struct {
	engine    *sync.Engine
	resolver  *link.Resolver
	transport Transport
	logger    *log.Logger
}

// New creates an agent.
//
// If logger is nil, a default logger writing to stderr is used.
func New(engine *sync.Engine, resolver *link.Resolver, transport Transport, logger *log.Logger) *Agent {
	if logger == nil {
		logger = log.New(os.Stderr, "[agent] ", log.LstdFlags)
	}
	return &Agent{
		engine:    engine,
		resolver:  resolver,
		transport: transport,
		logger:    logger,
	}
}

// Get reads a resource, cache first.
//
// A cache hit returns the stored property map without touching the network.
// On a miss the resource is fetched, synced into the graph, and its embedded
// references resolved before the flattened document is returned.
func (a *Agent) Get(ctx context.Context, url string) (graph.Properties, error) {
	result, err := a.engine.GetResource(ctx, sync.Query{URL: url})
	if err != nil {
		return nil, err
	}
	if result.Hit {
		return result.Resource, nil
	}

	doc, err := a.transport.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	outcome, err := a.engine.SyncRead(ctx, url, doc)
	if err != nil {
		return nil, err
	}
	a.resolveEmbedded(ctx, doc, outcome)

	return graph.Properties(doc.Flatten()), nil
}

// Put creates a resource on the server, then replays the create onto the
// cache.
func (a *Agent) Put(ctx context.Context, url string, payload map[string]interface{}) (sync.Outcome, error) {
	location, err := a.transport.Create(ctx, url, payload)
	if err != nil {
		return sync.Outcome{}, err
	}

	doc, err := documentFromPayload(payload)
	if err != nil {
		return sync.Outcome{}, err
	}

	outcome, err := a.engine.SyncCreate(ctx, location, doc)
	if err != nil {
		return sync.Outcome{}, err
	}
	a.resolveEmbedded(ctx, doc, outcome)
	return outcome, nil
}

// Post replaces a resource on the server, then replays the replace onto the
// cache.
func (a *Agent) Post(ctx context.Context, url string, payload map[string]interface{}) (sync.Outcome, error) {
	if err := a.transport.Replace(ctx, url, payload); err != nil {
		return sync.Outcome{}, err
	}

	doc, err := documentFromPayload(payload)
	if err != nil {
		return sync.Outcome{}, err
	}

	outcome, err := a.engine.SyncReplace(ctx, url, doc)
	if err != nil {
		return sync.Outcome{}, err
	}
	a.resolveEmbedded(ctx, doc, outcome)
	return outcome, nil
}

// Delete removes a resource on the server, then replays the delete onto the
// cache.
func (a *Agent) Delete(ctx context.Context, url string) (sync.Outcome, error) {
	if err := a.transport.Delete(ctx, url); err != nil {
		return sync.Outcome{}, err
	}
	return a.engine.SyncDelete(ctx, url)
}

// resolveEmbedded resolves every embedded reference a sync discovered.
// Each descriptor targets a distinct parent/child pair, so resolutions run
// in parallel. Failures are logged, never escalated: unresolved embedded
// links are expected and recoverable.
func (a *Agent) resolveEmbedded(ctx context.Context, doc *resource.Document, outcome sync.Outcome) {
	if outcome.Status != sync.Applied || len(outcome.Embedded) == 0 {
		return
	}

	idx := a.engine.Index()

	var wg stdsync.WaitGroup
	for _, ref := range outcome.Embedded {
		refURL := a.referenceURL(idx.EntrypointURL(), doc, ref.ParentType, ref.Property)
		if refURL == "" {
			continue
		}

		wg.Add(1)
		go func(ref sync.EmbeddedRef, refURL string) {
			defer wg.Done()

			resolution, err := a.resolver.Resolve(ctx, ref.ParentID, ref.ParentType, refURL)
			if err != nil {
				a.logger.Printf("Error resolving %s for %s: %v", refURL, ref.ParentID, err)
				return
			}
			if resolution.Status == link.NotFound {
				a.logger.Printf("Embedded link %s unresolved: %s", refURL, resolution.Reason)
			}
		}(ref, refURL)
	}
	wg.Wait()
}

// referenceURL extracts the reference URL an embedded property carries on
// this document instance. Root-relative references are made absolute against
// the entrypoint. Returns "" when the instance doesn't set the property.
func (a *Agent) referenceURL(entrypoint string, doc *resource.Document, parentType, propertyIRI string) string {
	idx := a.engine.Index()

	for _, prop := range idx.EmbeddedProperties(parentType) {
		if prop.IRI != propertyIRI {
			continue
		}
		value, ok := doc.Props[prop.Title]
		if !ok {
			return ""
		}
		target := value.Text()
		if target == "" {
			return ""
		}
		if strings.HasPrefix(target, "/") {
			return entrypoint + target
		}
		return target
	}
	return ""
}

// documentFromPayload converts a caller-supplied JSON payload into a typed
// resource document.
func documentFromPayload(payload map[string]interface{}) (*resource.Document, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return resource.Decode(encoded)
}
