package vocab

import (
	"strings"
)

// Kind classifies a resource URL's shape.
type Kind int

const (
	// Unsupported is any URL shape the vocabulary doesn't account for.
	Unsupported Kind = iota
	// Member addresses one resource instance (/<endpoint>/<id>).
	Member
	// Collection addresses a collection endpoint (/<entrypoint>/<endpoint>).
	Collection
)

// String returns the kind's name for diagnostics.
func (k Kind) String() string {
	switch k {
	case Member:
		return "member"
	case Collection:
		return "collection"
	default:
		return "unsupported"
	}
}

// Classification is the result of routing a URL against the index.
type Classification struct {
	// Kind is the URL's shape.
	Kind Kind

	// Endpoint is the endpoint path segment (class title) for member and
	// collection shapes.
	Endpoint string

	// ResourceID is the root-relative resource id (/<endpoint>/<id>) for
	// member shapes.
	ResourceID string
}

// entrypointMarker is the canonical name the entrypoint URL collapses to
// when URLs are normalized for classification.
const entrypointMarker = "EntryPoint"

// Index is the static, precomputed routing table derived once from the
// vocabulary document.
//
// The index never mutates after construction and is safe for concurrent use
// by any number of sync operations.
type Index struct {
	name          string
	docURL        string
	entrypointURL string

	classes             map[string]Class
	collectionEndpoints map[string]bool
	classEndpoints      map[string]bool
}

// NewIndex builds the routing index from a decoded vocabulary.
func NewIndex(api *API) *Index {
	idx := &Index{
		name:                api.Name,
		docURL:              api.DocURL,
		entrypointURL:       strings.TrimSuffix(api.EntrypointURL, "/"),
		classes:             make(map[string]Class, len(api.Classes)),
		collectionEndpoints: make(map[string]bool),
		classEndpoints:      make(map[string]bool),
	}

	for _, class := range api.Classes {
		idx.classes[class.Title] = class
		if class.Collection {
			idx.collectionEndpoints[class.Title] = true
		} else {
			idx.classEndpoints[class.Title] = true
		}
	}

	return idx
}

// Name returns the vocabulary's short name.
func (idx *Index) Name() string { return idx.name }

// DocURL returns the vocabulary document's URL.
func (idx *Index) DocURL() string { return idx.docURL }

// EntrypointURL returns the API entrypoint URL, without a trailing slash.
func (idx *Index) EntrypointURL() string { return idx.entrypointURL }

// Class returns the documented class with the given title.
func (idx *Index) Class(title string) (Class, bool) {
	class, ok := idx.classes[title]
	return class, ok
}

// Classes returns every documented class.
func (idx *Index) Classes() []Class {
	out := make([]Class, 0, len(idx.classes))
	for _, class := range idx.classes {
		out = append(out, class)
	}
	return out
}

// normalize collapses a resource URL to its path segments below the
// entrypoint. Returns nil when the URL doesn't reach the entrypoint at all.
func (idx *Index) normalize(url string) []string {
	trimmed := strings.TrimSuffix(url, "/")

	var rest string
	switch {
	case strings.Contains(trimmed, "/"+entrypointMarker+"/"):
		rest = trimmed[strings.Index(trimmed, "/"+entrypointMarker+"/")+len(entrypointMarker)+2:]
	case strings.HasSuffix(trimmed, "/"+entrypointMarker):
		rest = ""
	case idx.entrypointURL != "" && strings.HasPrefix(trimmed, idx.entrypointURL+"/"):
		rest = strings.TrimPrefix(trimmed, idx.entrypointURL+"/")
	case idx.entrypointURL != "" && trimmed == idx.entrypointURL:
		rest = ""
	default:
		return nil
	}

	if rest == "" {
		return []string{}
	}
	return strings.Split(rest, "/")
}

// Classify routes a resource URL by comparing its path segments against the
// precomputed endpoint sets.
//
// Member shapes end in /<endpoint>/<id>; collection shapes end at a known
// collection endpoint. Anything else is Unsupported.
func (idx *Index) Classify(url string) Classification {
	segments := idx.normalize(url)

	switch len(segments) {
	case 1:
		endpoint := segments[0]
		if idx.collectionEndpoints[endpoint] {
			return Classification{Kind: Collection, Endpoint: endpoint}
		}
	case 2:
		endpoint := segments[0]
		if idx.collectionEndpoints[endpoint] || idx.classEndpoints[endpoint] {
			return Classification{
				Kind:       Member,
				Endpoint:   endpoint,
				ResourceID: "/" + endpoint + "/" + segments[1],
			}
		}
	}

	return Classification{Kind: Unsupported}
}

// EmbeddedProperties returns the declared properties of typeName whose range
// is itself one of the documented classes. These are the properties whose
// values reference other resources rather than plain scalars.
func (idx *Index) EmbeddedProperties(typeName string) []Property {
	class, ok := idx.classes[typeName]
	if !ok {
		return nil
	}

	var embedded []Property
	for _, prop := range class.Properties {
		if prop.Range != "" {
			embedded = append(embedded, prop)
		}
	}
	return embedded
}

// CollectionID returns the vocabulary-qualified id of the collection node
// for an endpoint, e.g. "vocab:EntryPoint/Drone".
func (idx *Index) CollectionID(endpoint string) string {
	return idx.name + ":" + entrypointMarker + "/" + endpoint
}

// HasRelation returns the "has-a" edge label fanning out from a class
// anchor, e.g. "has_Drone".
func (idx *Index) HasRelation(typeName string) string {
	return "has_" + typeName
}

// ResourceLabel returns the node label carried by cached instances of a
// class, e.g. "objectsDrone". Both the sync engine and the link resolver
// address resource nodes through this label.
func (idx *Index) ResourceLabel(typeName string) string {
	return "objects" + typeName
}
