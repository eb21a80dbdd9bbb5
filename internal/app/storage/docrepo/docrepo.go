// Package docrepo implements the typed storage interfaces on top of the
// abstract document store, so every persistence feature the engine relies on
// (field-path merges, atomic batches, live queries) flows through one
// contract regardless of the backing database.
package docrepo

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/domain/instance"
	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/app/storage/docstore"
)

// Collection names used in the document store.
const (
	CollectionDefinitions = "definitions"
	CollectionPlatforms   = "platforms"
	CollectionLayouts     = "layouts"
	CollectionInstances   = "instances"
)

// Repo adapts a docstore.Store to the typed storage interfaces.
type Repo struct {
	ds docstore.Store
}

var _ storage.DefinitionStore = (*Repo)(nil)
var _ storage.PlatformStore = (*Repo)(nil)
var _ storage.LayoutStore = (*Repo)(nil)
var _ storage.InstanceStore = (*Repo)(nil)

// New creates a repository over the given document store.
func New(ds docstore.Store) *Repo {
	return &Repo{ds: ds}
}

// NewMemory creates a repository over a fresh in-memory document store.
// Intended for tests and local development.
func NewMemory() *Repo {
	return New(docstore.NewMemory())
}

// Doc returns the underlying document store, for components that need the raw
// contract (the ordering controller's atomic batch, the session's live query).
func (r *Repo) Doc() docstore.Store {
	return r.ds
}

// DefinitionStore --------------------------------------------------------------

func (r *Repo) CreateDefinition(ctx context.Context, def definition.Definition) (definition.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	fields, err := docstore.Encode(def)
	if err != nil {
		return definition.Definition{}, err
	}
	if err := r.ds.Set(ctx, CollectionDefinitions, def.ID, fields); err != nil {
		return definition.Definition{}, err
	}
	return def, nil
}

func (r *Repo) UpdateDefinition(ctx context.Context, def definition.Definition) (definition.Definition, error) {
	original, err := r.GetDefinition(ctx, def.ID)
	if err != nil {
		return definition.Definition{}, err
	}
	def.CreatedAt = original.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	fields, err := docstore.Encode(def)
	if err != nil {
		return definition.Definition{}, err
	}
	if err := r.ds.Set(ctx, CollectionDefinitions, def.ID, fields); err != nil {
		return definition.Definition{}, err
	}
	return def, nil
}

func (r *Repo) GetDefinition(ctx context.Context, id string) (definition.Definition, error) {
	doc, err := r.ds.Get(ctx, CollectionDefinitions, id)
	if err != nil {
		return definition.Definition{}, err
	}
	var def definition.Definition
	if err := doc.Decode(&def); err != nil {
		return definition.Definition{}, err
	}
	return def, nil
}

func (r *Repo) ListDefinitions(ctx context.Context) ([]definition.Definition, error) {
	docs, err := r.ds.Query(ctx, CollectionDefinitions, docstore.Query{})
	if err != nil {
		return nil, err
	}
	defs := make([]definition.Definition, 0, len(docs))
	for _, doc := range docs {
		var def definition.Definition
		if err := doc.Decode(&def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (r *Repo) DeleteDefinition(ctx context.Context, id string) error {
	if _, err := r.ds.Get(ctx, CollectionDefinitions, id); err != nil {
		return err
	}
	return r.ds.Delete(ctx, CollectionDefinitions, id)
}

// PlatformStore ----------------------------------------------------------------

func (r *Repo) CreatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	fields, err := docstore.Encode(p)
	if err != nil {
		return platform.Platform{}, err
	}
	if err := r.ds.Set(ctx, CollectionPlatforms, p.ID, fields); err != nil {
		return platform.Platform{}, err
	}
	return p, nil
}

func (r *Repo) UpdatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error) {
	original, err := r.GetPlatform(ctx, p.ID)
	if err != nil {
		return platform.Platform{}, err
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	fields, err := docstore.Encode(p)
	if err != nil {
		return platform.Platform{}, err
	}
	if err := r.ds.Set(ctx, CollectionPlatforms, p.ID, fields); err != nil {
		return platform.Platform{}, err
	}
	return p, nil
}

func (r *Repo) GetPlatform(ctx context.Context, id string) (platform.Platform, error) {
	doc, err := r.ds.Get(ctx, CollectionPlatforms, id)
	if err != nil {
		return platform.Platform{}, err
	}
	var p platform.Platform
	if err := doc.Decode(&p); err != nil {
		return platform.Platform{}, err
	}
	return p, nil
}

func (r *Repo) ListPlatforms(ctx context.Context, tenantID string) ([]platform.Platform, error) {
	q := docstore.Query{}
	if tenantID != "" {
		q = q.Where("tenant_id", tenantID)
	}
	docs, err := r.ds.Query(ctx, CollectionPlatforms, q)
	if err != nil {
		return nil, err
	}
	platforms := make([]platform.Platform, 0, len(docs))
	for _, doc := range docs {
		var p platform.Platform
		if err := doc.Decode(&p); err != nil {
			return nil, err
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// LayoutStore ------------------------------------------------------------------

func (r *Repo) CreateLayout(ctx context.Context, l platform.Layout) (platform.Layout, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	fields, err := docstore.Encode(l)
	if err != nil {
		return platform.Layout{}, err
	}
	if err := r.ds.Set(ctx, CollectionLayouts, l.ID, fields); err != nil {
		return platform.Layout{}, err
	}
	return l, nil
}

func (r *Repo) UpdateLayout(ctx context.Context, l platform.Layout) (platform.Layout, error) {
	original, err := r.GetLayout(ctx, l.ID)
	if err != nil {
		return platform.Layout{}, err
	}
	l.CreatedAt = original.CreatedAt
	l.UpdatedAt = time.Now().UTC()

	fields, err := docstore.Encode(l)
	if err != nil {
		return platform.Layout{}, err
	}
	if err := r.ds.Set(ctx, CollectionLayouts, l.ID, fields); err != nil {
		return platform.Layout{}, err
	}
	return l, nil
}

func (r *Repo) GetLayout(ctx context.Context, id string) (platform.Layout, error) {
	doc, err := r.ds.Get(ctx, CollectionLayouts, id)
	if err != nil {
		return platform.Layout{}, err
	}
	var l platform.Layout
	if err := doc.Decode(&l); err != nil {
		return platform.Layout{}, err
	}
	return l, nil
}

func (r *Repo) ListLayouts(ctx context.Context, platformID string) ([]platform.Layout, error) {
	docs, err := r.ds.Query(ctx, CollectionLayouts, docstore.Query{}.Where("platform_id", platformID))
	if err != nil {
		return nil, err
	}
	layouts := make([]platform.Layout, 0, len(docs))
	for _, doc := range docs {
		var l platform.Layout
		if err := doc.Decode(&l); err != nil {
			return nil, err
		}
		layouts = append(layouts, l)
	}
	sort.Slice(layouts, func(i, j int) bool { return layouts[i].CreatedAt.Before(layouts[j].CreatedAt) })
	return layouts, nil
}

// InstanceStore ----------------------------------------------------------------

func (r *Repo) CreateInstance(ctx context.Context, in instance.Instance) (instance.Instance, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	in.CreatedAt = now
	in.UpdatedAt = now
	if in.Values == nil {
		in.Values = make(map[string]any)
	}

	fields, err := docstore.Encode(in)
	if err != nil {
		return instance.Instance{}, err
	}
	if err := r.ds.Set(ctx, CollectionInstances, in.ID, fields); err != nil {
		return instance.Instance{}, err
	}
	return in, nil
}

func (r *Repo) GetInstance(ctx context.Context, id string) (instance.Instance, error) {
	doc, err := r.ds.Get(ctx, CollectionInstances, id)
	if err != nil {
		return instance.Instance{}, err
	}
	var in instance.Instance
	if err := doc.Decode(&in); err != nil {
		return instance.Instance{}, err
	}
	return in, nil
}

// UpdateValue merges one configured property through a field-path write, so
// concurrent edits to different properties of the same instance never collide.
func (r *Repo) UpdateValue(ctx context.Context, id, property string, value any) (instance.Instance, error) {
	err := r.ds.Update(ctx, CollectionInstances, id, map[string]any{
		"configured_values." + property: value,
		"updated_at":                    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return instance.Instance{}, err
	}
	return r.GetInstance(ctx, id)
}

func (r *Repo) DeleteInstance(ctx context.Context, id string) error {
	if _, err := r.ds.Get(ctx, CollectionInstances, id); err != nil {
		return err
	}
	return r.ds.Delete(ctx, CollectionInstances, id)
}

func (r *Repo) ListByLayout(ctx context.Context, layoutID string) ([]instance.Instance, error) {
	docs, err := r.ds.Query(ctx, CollectionInstances, layoutQuery(layoutID))
	if err != nil {
		return nil, err
	}
	return decodeInstances(docs)
}

func (r *Repo) CountByLayout(ctx context.Context, layoutID string) (int, error) {
	docs, err := r.ds.Query(ctx, CollectionInstances, docstore.Query{}.Where("layout_id", layoutID))
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ReplaceOrder writes every instance's rank in one atomic batch.
func (r *Repo) ReplaceOrder(ctx context.Context, orders map[string]int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	writes := make([]docstore.Write, 0, len(orders))
	for id, rank := range orders {
		writes = append(writes, docstore.Write{
			Collection: CollectionInstances,
			ID:         id,
			Fields: map[string]any{
				"order":      rank,
				"updated_at": now,
			},
		})
	}
	// Deterministic write order keeps batches reproducible across runs.
	sort.Slice(writes, func(i, j int) bool { return writes[i].ID < writes[j].ID })
	return r.ds.AtomicBatch(ctx, writes)
}

// WatchLayout bridges the raw document subscription to typed instances.
func (r *Repo) WatchLayout(ctx context.Context, layoutID string) (storage.InstanceSubscription, error) {
	sub, err := r.ds.Subscribe(ctx, CollectionInstances, layoutQuery(layoutID))
	if err != nil {
		return nil, err
	}

	out := &instanceSub{inner: sub, ch: make(chan []instance.Instance, 16)}
	go out.run()
	return out, nil
}

type instanceSub struct {
	inner docstore.Subscription
	ch    chan []instance.Instance
}

func (s *instanceSub) run() {
	defer close(s.ch)
	for docs := range s.inner.Updates() {
		instances, err := decodeInstances(docs)
		if err != nil {
			continue
		}
		// Drop one stale pending snapshot if the consumer lags; the new
		// push fully supersedes it.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- instances
	}
}

func (s *instanceSub) Updates() <-chan []instance.Instance {
	return s.ch
}

func (s *instanceSub) Close() {
	s.inner.Close()
}

func layoutQuery(layoutID string) docstore.Query {
	return docstore.Query{}.Where("layout_id", layoutID).Ascending("order")
}

func decodeInstances(docs []docstore.Document) ([]instance.Instance, error) {
	instances := make([]instance.Instance, 0, len(docs))
	for _, doc := range docs {
		var in instance.Instance
		if err := doc.Decode(&in); err != nil {
			return nil, err
		}
		instances = append(instances, in)
	}
	return instances, nil
}
