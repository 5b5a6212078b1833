// Package resource defines the in-memory representation of a remote
// hypermedia resource as it moves between the transport and the cache graph.
//
// Remote documents are semi-structured: a property can be a scalar, a list
// of scalars, or a reference to another resource. Document models that as an
// explicit sum type (Value) instead of an untyped map, with a single
// flattening step (Flatten) producing the text-only property map the graph
// store requires.
package resource

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	// KindString is a plain text scalar.
	KindString Kind = iota
	// KindInt is an integer scalar.
	KindInt
	// KindFloat is a floating-point scalar.
	KindFloat
	// KindBool is a boolean scalar.
	KindBool
	// KindStrings is a list of text scalars.
	KindStrings
	// KindReference is the URL or id of another resource.
	KindReference
)

// Value is one property value of a resource document.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	b    bool
	list []string
}

// String returns a text scalar value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int returns an integer scalar value.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float returns a floating-point scalar value.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool returns a boolean scalar value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Strings returns a list-of-text value.
func Strings(list []string) Value { return Value{kind: KindStrings, list: list} }

// Reference returns a value referencing another resource by URL or id.
func Reference(url string) Value { return Value{kind: KindReference, str: url} }

// Kind returns the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// Text serializes the value to the textual form the graph store requires.
// Lists serialize as a JSON array; references keep their URL/id verbatim.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindReference:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindStrings:
		encoded, err := json.Marshal(v.list)
		if err != nil {
			return "[]"
		}
		return string(encoded)
	}
	return ""
}

// Ref is a lightweight reference to a resource, as it appears in collection
// member lists. The wire keys mirror the server's JSON-LD representation.
type Ref struct {
	ID   string `json:"@id"`
	Type string `json:"@type"`
}

// Document is one decoded remote resource.
//
// ID is the resource's absolute or root-relative identifier; Type is its
// vocabulary class name. Props holds the declared properties; Members is
// only populated for collection documents.
type Document struct {
	ID      string
	Type    string
	Props   map[string]Value
	Members []Ref
}

// Flatten produces the text-only property map stored on the resource's graph
// node, including the id and type attributes.
func (d *Document) Flatten() map[string]string {
	flat := make(map[string]string, len(d.Props)+2)
	for name, value := range d.Props {
		flat[name] = value.Text()
	}
	flat["id"] = d.ID
	flat["type"] = d.Type
	return flat
}

// Decode parses a hypermedia JSON document into a Document.
//
// The JSON-LD @id and @type keys map to ID and Type; a members key maps to
// Members; every other key becomes a typed property. Nested objects are not
// supported and are reported as an error; the remote API embeds other
// resources by reference, never inline.
func Decode(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode resource document: %w", err)
	}

	doc := &Document{Props: make(map[string]Value)}

	for key, msg := range raw {
		switch key {
		case "@id":
			if err := json.Unmarshal(msg, &doc.ID); err != nil {
				return nil, fmt.Errorf("failed to decode @id: %w", err)
			}
		case "@type":
			if err := json.Unmarshal(msg, &doc.Type); err != nil {
				return nil, fmt.Errorf("failed to decode @type: %w", err)
			}
		case "@context":
			// Context metadata is not a resource property
		case "members":
			if err := json.Unmarshal(msg, &doc.Members); err != nil {
				return nil, fmt.Errorf("failed to decode members: %w", err)
			}
		default:
			value, err := decodeValue(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to decode property %q: %w", key, err)
			}
			doc.Props[key] = value
		}
	}

	return doc, nil
}

// decodeValue maps one JSON property value onto the Value sum type.
func decodeValue(msg json.RawMessage) (Value, error) {
	var probe interface{}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return Value{}, err
	}

	switch v := probe.(type) {
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case float64:
		if v == float64(int64(v)) {
			return Int(int64(v)), nil
		}
		return Float(v), nil
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("list items must be strings, got %T", item)
			}
			list = append(list, s)
		}
		return Strings(list), nil
	case nil:
		return String(""), nil
	default:
		return Value{}, fmt.Errorf("unsupported property shape %T", v)
	}
}

// EncodeRefs serializes a member reference list to the textual form stored
// on collection nodes.
func EncodeRefs(refs []Ref) (string, error) {
	if refs == nil {
		refs = []Ref{}
	}
	encoded, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("failed to encode references: %w", err)
	}
	return string(encoded), nil
}

// DecodeRefs parses a stored member reference list. An empty string decodes
// to an empty list.
func DecodeRefs(stored string) ([]Ref, error) {
	if stored == "" {
		return []Ref{}, nil
	}
	var refs []Ref
	if err := json.Unmarshal([]byte(stored), &refs); err != nil {
		return nil, fmt.Errorf("failed to decode references: %w", err)
	}
	return refs, nil
}
