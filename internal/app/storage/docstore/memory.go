package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/platformkit/composer/internal/errors"
)

// Memory is an in-process Store. It is safe for concurrent use and backs
// tests, local development and the session's optimistic-path simulations.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	subs        map[int]*memorySub
	nextSub     int

	// batchFault, when set, fails AtomicBatch after the given number of
	// staged writes. Tests use it to prove batches never apply partially.
	batchFault int
}

// FailBatchAfter makes subsequent AtomicBatch calls fail after n staged
// writes; n = 0 restores normal behavior. Test hook.
func (m *Memory) FailBatchAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchFault = n
}

type memorySub struct {
	store      *Memory
	id         int
	collection string
	query      Query
	ch         chan []Document
	closed     bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int]*memorySub),
	}
}

var _ Store = (*Memory)(nil)

// Get returns the document or a NotFound error.
func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.collections[collection][id]
	if !ok {
		return Document{}, errors.NotFound("document", collection+"/"+id)
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

// Query evaluates equality filters and the ascending order-by.
func (m *Memory) Query(_ context.Context, collection string, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(collection, q), nil
}

func (m *Memory) queryLocked(collection string, q Query) []Document {
	docs := make([]Document, 0)
	for id, fields := range m.collections[collection] {
		doc := Document{ID: id, Fields: cloneFields(fields)}
		if q.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	SortDocuments(docs, q.OrderBy)
	return docs
}

// Subscribe registers a live query. The current result set is pushed
// immediately, then again after every committed change.
func (m *Memory) Subscribe(_ context.Context, collection string, q Query) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &memorySub{
		store:      m,
		id:         m.nextSub,
		collection: collection,
		query:      q,
		ch:         make(chan []Document, 16),
	}
	m.nextSub++
	m.subs[sub.id] = sub

	sub.push(m.queryLocked(collection, q))
	return sub, nil
}

// Set creates or fully replaces a document.
func (m *Memory) Set(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureCollectionLocked(collection)[id] = cloneFields(fields)
	m.notifyLocked(collection)
	return nil
}

// Update partially merges fields into an existing document. Dotted keys
// address nested fields, so "configured_values.title" writes one configured
// property without touching its siblings.
func (m *Memory) Update(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return errors.NotFound("document", collection+"/"+id)
	}
	merged := cloneFields(doc)
	for path, value := range fields {
		setFieldPath(merged, path, value)
	}
	m.collections[collection][id] = merged
	m.notifyLocked(collection)
	return nil
}

// AtomicBatch stages every write against a copy, then swaps the copies in
// under the lock. A failure while staging leaves the store untouched, so
// readers only ever observe the pre-batch or post-batch state.
func (m *Memory) AtomicBatch(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[string]map[string]map[string]any)
	stageCollection := func(name string) map[string]map[string]any {
		if c, ok := staged[name]; ok {
			return c
		}
		copied := make(map[string]map[string]any, len(m.collections[name]))
		for id, fields := range m.collections[name] {
			copied[id] = cloneFields(fields)
		}
		staged[name] = copied
		return copied
	}

	for i, w := range writes {
		if m.batchFault > 0 && i >= m.batchFault {
			return errors.StoreUnavailable(errInjectedFault)
		}
		c := stageCollection(w.Collection)
		if w.Remove {
			delete(c, w.ID)
			continue
		}
		target, ok := c[w.ID]
		if !ok {
			target = make(map[string]any)
		}
		for path, value := range w.Fields {
			setFieldPath(target, path, value)
		}
		c[w.ID] = target
	}

	touched := make([]string, 0, len(staged))
	for name, c := range staged {
		m.collections[name] = c
		touched = append(touched, name)
	}
	for _, name := range touched {
		m.notifyLocked(name)
	}
	return nil
}

// Delete removes a document. Deleting an absent document is not an error.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return nil
	}
	delete(m.collections[collection], id)
	m.notifyLocked(collection)
	return nil
}

func (m *Memory) ensureCollectionLocked(name string) map[string]map[string]any {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]map[string]any)
		m.collections[name] = c
	}
	return c
}

func (m *Memory) notifyLocked(collection string) {
	for _, sub := range m.subs {
		if sub.collection != collection || sub.closed {
			continue
		}
		sub.push(m.queryLocked(collection, sub.query))
	}
}

// push delivers without blocking: if the subscriber lags, the oldest pending
// snapshot is dropped since each push fully supersedes the previous one.
func (s *memorySub) push(docs []Document) {
	for {
		select {
		case s.ch <- docs:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *memorySub) Updates() <-chan []Document {
	return s.ch
}

func (s *memorySub) Close() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.store.subs, s.id)
	close(s.ch)
}

var errInjectedFault = &faultError{}

type faultError struct{}

func (*faultError) Error() string { return "injected batch fault" }

// cloneFields deep-copies a fields map.
func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneFields(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// setFieldPath writes value at a dotted path, creating intermediate maps.
func setFieldPath(fields map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := fields
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// SortDocuments orders ascending by the given field path; documents missing
// the field sort first. ID breaks ties deterministically.
func SortDocuments(docs []Document, orderBy string) {
	if orderBy == "" {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
		return
	}
	sort.Slice(docs, func(i, j int) bool {
		a, aok := fieldAt(docs[i].Fields, orderBy)
		b, bok := fieldAt(docs[j].Fields, orderBy)
		if aok != bok {
			return !aok
		}
		if an, ok := asFloat(a); ok {
			if bn, ok := asFloat(b); ok && an != bn {
				return an < bn
			}
		}
		as, aIsStr := a.(string)
		bs, bIsStr := b.(string)
		if aIsStr && bIsStr && as != bs {
			return as < bs
		}
		return docs[i].ID < docs[j].ID
	})
}
