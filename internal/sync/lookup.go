package sync

import (
	"context"
	"errors"

	"hydragent/internal/graph"
	"hydragent/internal/vocab"
)

// ErrNoQuery is returned when a lookup is requested with neither a URL nor a
// resource type. This is a caller configuration error, not a cache miss.
var ErrNoQuery = errors.New("lookup requires a URL or a resource type")

// Query selects resources from the cache, either by URL or by type plus an
// exact-equality filter map. Exactly one mode applies: URL wins when both
// are set.
type Query struct {
	// URL addresses one resource or collection.
	URL string

	// Type is a vocabulary class name; used with Filters when URL is empty.
	Type string

	// Filters are property name/value pairs conjoined with exact equality.
	Filters map[string]string
}

// LookupResult is the outcome of a cache lookup.
type LookupResult struct {
	// Hit reports whether the cache held anything for the query.
	Hit bool

	// Resource is the single property map found for a URL lookup.
	Resource graph.Properties

	// Resources are the matches of a type lookup, possibly empty.
	Resources []graph.Properties
}

// GetResource consults the cache before the caller hits the network.
//
// URL mode: collection-shaped URLs always miss; the server is the source of
// truth for list identity and cached collections are never authoritative.
// Member-shaped URLs perform an exact-id lookup. Unsupported shapes miss.
//
// Type mode: returns every cached node of the type matching all filters.
func (e *Engine) GetResource(ctx context.Context, q Query) (*LookupResult, error) {
	if q.URL == "" && q.Type == "" {
		return nil, ErrNoQuery
	}

	if q.URL != "" {
		return e.lookupByURL(ctx, q.URL)
	}
	return e.lookupByType(ctx, q.Type, q.Filters)
}

// lookupByURL resolves a URL-mode lookup against the cache.
func (e *Engine) lookupByURL(ctx context.Context, url string) (*LookupResult, error) {
	idx := e.Index()
	cls := idx.Classify(url)

	switch cls.Kind {
	case vocab.Member:
		matches, err := e.adapter.FindAll(ctx, "", graph.ByID(cls.ResourceID))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return &LookupResult{}, nil
		}
		if len(matches) > 1 {
			e.logger.Printf("WARNING: %d nodes share id %s, expected at most one", len(matches), cls.ResourceID)
		}
		return &LookupResult{Hit: true, Resource: matches[0]}, nil

	case vocab.Collection:
		// Collections are never trusted from cache.
		return &LookupResult{}, nil

	default:
		e.logger.Printf("lookup for unsupported URL shape %s", url)
		return &LookupResult{}, nil
	}
}

// lookupByType resolves a type-mode lookup against the cache.
func (e *Engine) lookupByType(ctx context.Context, typeName string, filters map[string]string) (*LookupResult, error) {
	var pred graph.Predicate
	if len(filters) > 0 {
		pred = graph.ByProps(graph.Properties(filters))
	}

	matches, err := e.adapter.FindAll(ctx, e.Index().ResourceLabel(typeName), pred)
	if err != nil {
		return nil, err
	}

	return &LookupResult{Hit: len(matches) > 0, Resources: matches}, nil
}
