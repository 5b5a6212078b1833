// Package vocab models the remote API's vocabulary document and derives the
// static schema index the sync engine routes requests with.
//
// The vocabulary (a hydra ApiDocumentation) declares the API's classes and
// each class's supported properties. A property whose IRI is itself one of
// the documented classes is an embedded reference: its value on a resource
// points at another resource rather than a plain scalar.
package vocab

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Property is one declared property of a documented class.
type Property struct {
	// Title is the property's short name, used as the key on resource
	// documents.
	Title string

	// IRI is the property's fully qualified identifier.
	IRI string

	// Range is the title of the documented class this property references,
	// or "" for plain scalar properties.
	Range string
}

// Class is one documented vocabulary class.
type Class struct {
	// Title is the class's short name (e.g. "Drone"); it doubles as the
	// endpoint path segment.
	Title string

	// IRI is the class's fully qualified identifier.
	IRI string

	// Collection reports whether the class is exposed as a collection
	// endpoint (members live under /<Title>/<id>).
	Collection bool

	// Properties are the class's declared properties.
	Properties []Property
}

// API is the decoded vocabulary document.
type API struct {
	// Name is the vocabulary's short name (last segment of the doc URL).
	Name string

	// DocURL is the vocabulary document's own URL.
	DocURL string

	// EntrypointURL is the API entrypoint all resource URLs hang off.
	EntrypointURL string

	// Classes are the documented classes, collection wrappers excluded.
	Classes []Class
}

// rawDoc mirrors the subset of the ApiDocumentation wire format we consume.
type rawDoc struct {
	ID              string     `json:"@id"`
	Entrypoint      string     `json:"entrypoint"`
	SupportedClass  []rawClass `json:"supportedClass"`
}

type rawClass struct {
	ID                string        `json:"@id"`
	Type              string        `json:"@type"`
	Title             string        `json:"title"`
	SupportedProperty []rawProperty `json:"supportedProperty"`
}

type rawProperty struct {
	Title    string `json:"title"`
	Property string `json:"property"`
}

// metaClasses are hydra machinery, never resource classes.
var metaClasses = map[string]bool{
	"EntryPoint": true,
	"Resource":   true,
	"Class":      true,
	"Collection": true,
}

const hydraMemberIRI = "http://www.w3.org/ns/hydra/core#member"

// Load decodes a vocabulary document from JSON.
func Load(data []byte) (*API, error) {
	var raw rawDoc
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary document: %w", err)
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("vocabulary document has no @id")
	}

	api := &API{
		Name:          raw.ID[strings.LastIndex(raw.ID, "/")+1:],
		DocURL:        raw.ID,
		EntrypointURL: raw.Entrypoint,
	}

	// First pass: class IRIs, so property ranges can be resolved, and the
	// set of collection wrappers (XCollection classes managing class X).
	classIRIs := make(map[string]string)
	collections := make(map[string]bool)
	for _, rc := range raw.SupportedClass {
		title := classTitle(rc)
		if title == "" || metaClasses[title] {
			continue
		}
		if isCollectionClass(rc, title) {
			collections[strings.TrimSuffix(title, "Collection")] = true
			continue
		}
		classIRIs[rc.ID] = title
	}

	// Second pass: build the classes with resolved property ranges.
	for _, rc := range raw.SupportedClass {
		title := classTitle(rc)
		if title == "" || metaClasses[title] || isCollectionClass(rc, title) {
			continue
		}

		class := Class{
			Title:      title,
			IRI:        rc.ID,
			Collection: collections[title],
		}
		for _, rp := range rc.SupportedProperty {
			class.Properties = append(class.Properties, Property{
				Title: rp.Title,
				IRI:   rp.Property,
				Range: classIRIs[rp.Property],
			})
		}
		api.Classes = append(api.Classes, class)
	}

	if len(api.Classes) == 0 {
		return nil, fmt.Errorf("vocabulary document declares no usable classes")
	}

	return api, nil
}

// LoadFile decodes a vocabulary document from a file on disk.
func LoadFile(path string) (*API, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary file: %w", err)
	}
	return Load(data)
}

// classTitle falls back to the IRI fragment when a class carries no title.
func classTitle(rc rawClass) string {
	if rc.Title != "" {
		return rc.Title
	}
	if idx := strings.LastIndex(rc.ID, "#"); idx >= 0 {
		return rc.ID[idx+1:]
	}
	return ""
}

// isCollectionClass reports whether a supportedClass entry is a collection
// wrapper rather than a resource class.
func isCollectionClass(rc rawClass, title string) bool {
	if strings.HasSuffix(title, "Collection") {
		return true
	}
	for _, rp := range rc.SupportedProperty {
		if rp.Property == hydraMemberIRI {
			return true
		}
	}
	return false
}
