// Package docstore defines the abstract document store the composition engine
// persists through: CRUD over collections of JSON-shaped documents, equality
// queries, full-result-set subscriptions and an atomic multi-document batch.
// The contract mirrors what a real-time database offers; implementations only
// have to honor the semantics, not the transport.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Document is one stored record: an ID plus JSON-shaped fields.
type Document struct {
	ID     string
	Fields map[string]any
}

// Decode unmarshals the document fields into out via JSON round trip.
func (d Document) Decode(out any) error {
	data, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// Encode converts a struct into document fields via JSON round trip, so field
// names match the struct's json tags everywhere in the store.
func Encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

// Filter is an equality predicate on a field path ("layout_id",
// "configured_values.elevation", ...).
type Filter struct {
	Path  string
	Value any
}

// Query combines equality filters with an optional ascending order-by path.
type Query struct {
	Filters []Filter
	OrderBy string
}

// Where appends an equality filter.
func (q Query) Where(path string, value any) Query {
	q.Filters = append(q.Filters, Filter{Path: path, Value: value})
	return q
}

// Ascending sets the order-by path.
func (q Query) Ascending(path string) Query {
	q.OrderBy = path
	return q
}

// Write is one entry of an atomic batch. Fields are merged into the target
// document (field-path keys allowed); Remove deletes the document instead.
type Write struct {
	Collection string
	ID         string
	Fields     map[string]any
	Remove     bool
}

// Subscription is a live query. Updates delivers the full current result set
// after every committed change that touches it; each push is a complete,
// authoritative replacement. Close releases the subscription and closes the
// channel.
type Subscription interface {
	Updates() <-chan []Document
	Close()
}

// Store is the persistence contract consumed by the engine. Update merges
// partial fields and supports dotted field paths so a single configured value
// can be written without touching its siblings. AtomicBatch commits every
// write or none; concurrent readers observe either the pre-batch or the
// post-batch state.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Subscribe(ctx context.Context, collection string, q Query) (Subscription, error)
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	AtomicBatch(ctx context.Context, writes []Write) error
	Delete(ctx context.Context, collection, id string) error
}

// fieldAt resolves a field path against document fields. Paths use gjson
// syntax, which covers the dotted paths the engine needs.
func fieldAt(fields map[string]any, path string) (any, bool) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Matches reports whether the document satisfies every filter of the query.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Filters {
		got, ok := fieldAt(doc.Fields, f.Path)
		if !ok || !looseEqual(got, f.Value) {
			return false
		}
	}
	return true
}

// looseEqual compares scalars across the numeric widenings JSON decoding
// introduces (everything numeric arrives as float64).
func looseEqual(a, b any) bool {
	if an, ok := asFloat(a); ok {
		bn, ok := asFloat(b)
		return ok && an == bn
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
