package render

import (
	"context"
	"encoding/json"
	"time"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/domain/instance"
	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/app/services/instances"
	"github.com/platformkit/composer/internal/app/services/platforms"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
	"github.com/platformkit/composer/internal/rendercache"
)

// SnapshotTTL bounds how long a cached snapshot may serve before it is
// re-resolved even without an invalidation.
const SnapshotTTL = 5 * time.Minute

// Component is one rendered instance in layout order.
type Component struct {
	InstanceID  string `json:"instance_id"`
	Type        string `json:"type"`
	HTML        string `json:"html"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// Snapshot is the fully resolved output of one layout.
type Snapshot struct {
	PlatformID string            `json:"platform_id"`
	LayoutID   string            `json:"layout_id"`
	Theme      map[string]string `json:"theme,omitempty"`
	Components []Component       `json:"components"`
	RenderedAt time.Time         `json:"rendered_at"`
}

// DefinitionSource resolves definitions for rendering.
type DefinitionSource interface {
	Get(ctx context.Context, id string) (definition.Definition, error)
}

// Service resolves platforms into snapshots.
type Service struct {
	platforms   *platforms.Service
	instances   *instances.Service
	definitions DefinitionSource
	registry    *Registry
	cache       rendercache.Cache
	log         *logging.Logger
}

// New constructs a render service. cache may be nil to disable caching.
func New(p *platforms.Service, inst *instances.Service, defs DefinitionSource, registry *Registry, cache rendercache.Cache, log *logging.Logger) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = logging.NewDefault("render")
	}
	return &Service{
		platforms:   p,
		instances:   inst,
		definitions: defs,
		registry:    registry,
		cache:       cache,
		log:         log,
	}
}

// RenderPlatform resolves a published platform's default layout for end-user
// viewing. Unpublished platforms are not viewable.
func (s *Service) RenderPlatform(ctx context.Context, platformID string) (Snapshot, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, platformID); err == nil && ok {
			var snap Snapshot
			if err := json.Unmarshal(data, &snap); err == nil {
				return snap, nil
			}
		}
	}

	p, err := s.platforms.Get(ctx, platformID)
	if err != nil {
		return Snapshot{}, err
	}
	// Unpublished platforms are indistinguishable from absent ones on the
	// public render path.
	if p.Status != platform.StatusPublished {
		return Snapshot{}, errors.NotFound("platform", platformID)
	}

	layout, err := s.platforms.DefaultLayout(ctx, platformID)
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := s.RenderLayout(ctx, layout)
	if err != nil {
		return Snapshot{}, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(snap); err == nil {
			if err := s.cache.Set(ctx, platformID, data, SnapshotTTL); err != nil {
				s.log.WithError(err).WithField("platform_id", platformID).
					Warn("snapshot cache write failed")
			}
		}
	}
	return snap, nil
}

// RenderLayout resolves one layout without lifecycle gating. Builders preview
// drafts through this path.
func (s *Service) RenderLayout(ctx context.Context, layout platform.Layout) (Snapshot, error) {
	ordered, err := s.instances.ListByLayout(ctx, layout.ID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		PlatformID: layout.PlatformID,
		LayoutID:   layout.ID,
		Theme:      layout.ThemeOverrides,
		Components: make([]Component, 0, len(ordered)),
		RenderedAt: time.Now().UTC(),
	}
	for _, in := range ordered {
		snap.Components = append(snap.Components, s.renderInstance(ctx, in, layout.ThemeOverrides))
	}
	return snap, nil
}

// Invalidate drops the cached snapshot of a platform. Composition mutations
// call this after every successful write.
func (s *Service) Invalidate(ctx context.Context, platformID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, platformID); err != nil {
		s.log.WithError(err).WithField("platform_id", platformID).
			Warn("snapshot cache invalidation failed")
	}
}

// renderInstance resolves one instance. Failures never propagate: a broken
// renderer, template or dangling definition degrades to the placeholder.
func (s *Service) renderInstance(ctx context.Context, in instance.Instance, theme map[string]string) Component {
	req := Request{Instance: in, Theme: theme, Values: in.Values}

	def, err := s.definitions.Get(ctx, in.DefinitionID)
	switch {
	case err == nil:
		req.Definition = def
		req.HasDefinition = true
		req.Values = resolveValues(in, def)
	case errors.IsNotFound(err):
		s.log.WithField("instance_id", in.ID).
			WithField("definition_id", in.DefinitionID).
			Warn("definition missing; rendering placeholder")
	default:
		s.log.WithError(err).WithField("instance_id", in.ID).
			Warn("definition lookup failed; rendering placeholder")
	}

	component := Component{InstanceID: in.ID, Type: in.Type}

	if req.HasDefinition {
		frag, err := s.dispatch(ctx, req)
		if err == nil {
			component.HTML = frag.HTML
			return component
		}
		s.log.WithError(err).WithField("instance_id", in.ID).
			WithField("type", in.Type).
			Warn("renderer failed; falling back to placeholder")
	}

	frag, _ := Placeholder{}.Render(ctx, req)
	component.HTML = frag.HTML
	component.Placeholder = true
	return component
}

// dispatch picks the renderer by denormalized instance type, preferring an
// attached template, and guards against panicking renderers.
func (s *Service) dispatch(ctx context.Context, req Request) (frag Fragment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Internal(nil)
			s.log.WithField("instance_id", req.Instance.ID).
				WithField("panic", r).
				Error("renderer panicked")
		}
	}()

	if req.Definition.Template != "" {
		return TemplateRenderer{}.Render(ctx, req)
	}
	return s.registry.Resolve(req.Instance.Type).Render(ctx, req)
}

// resolveValues applies the display rule across the schema: configured value,
// else default, else the kind's empty value. Configured values for properties
// the schema no longer declares are preserved as-is.
func resolveValues(in instance.Instance, def definition.Definition) map[string]any {
	values := make(map[string]any, len(def.Schema)+len(in.Values))
	for k, v := range in.Values {
		values[k] = v
	}
	for _, prop := range def.Schema {
		if _, ok := values[prop.Name]; ok {
			continue
		}
		if prop.Default != nil {
			values[prop.Name] = prop.Default
			continue
		}
		values[prop.Name] = prop.Kind.EmptyValue()
	}
	return values
}
