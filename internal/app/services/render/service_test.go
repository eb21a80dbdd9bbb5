package render

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/app/domain/schema"
	"github.com/platformkit/composer/internal/app/services/definitions"
	"github.com/platformkit/composer/internal/app/services/instances"
	"github.com/platformkit/composer/internal/app/services/ordering"
	"github.com/platformkit/composer/internal/app/services/platforms"
	"github.com/platformkit/composer/internal/app/storage/docrepo"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
	"github.com/platformkit/composer/internal/rendercache"
)

type fixtures struct {
	render      *Service
	platforms   *platforms.Service
	instances   *instances.Service
	definitions *definitions.Service
	cache       *rendercache.Memory
}

func newFixtures(t *testing.T) fixtures {
	t.Helper()
	log := logging.NewDefault("render-test")
	log.SetOutput(io.Discard)
	repo := docrepo.NewMemory()

	defs := definitions.New(repo, log)
	order := ordering.New(repo, log)
	inst := instances.New(repo, repo, order, log)
	plats := platforms.New(repo, repo, log)
	cache := rendercache.NewMemory()
	return fixtures{
		render:      New(plats, inst, defs, NewRegistry(), cache, log),
		platforms:   plats,
		instances:   inst,
		definitions: defs,
		cache:       cache,
	}
}

func (fx fixtures) publishedPlatform(t *testing.T) platform.Platform {
	t.Helper()
	ctx := context.Background()
	p, err := fx.platforms.Create(ctx, platform.Platform{Name: "Shop"})
	if err != nil {
		t.Fatalf("create platform: %v", err)
	}
	p, err = fx.platforms.SetStatus(ctx, p.ID, platform.StatusPublished)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return p
}

func TestRenderPlatform_GatesOnPublished(t *testing.T) {
	fx := newFixtures(t)
	ctx := context.Background()

	p, err := fx.platforms.Create(ctx, platform.Platform{Name: "Draft"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// A draft must look absent to the public render path, not forbidden.
	if _, err := fx.render.RenderPlatform(ctx, p.ID); !errors.IsNotFound(err) {
		t.Fatalf("draft platform should render as not-found, got %v", err)
	}

	if _, err := fx.platforms.SetStatus(ctx, p.ID, platform.StatusPublished); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := fx.render.RenderPlatform(ctx, p.ID); err != nil {
		t.Fatalf("published platform failed to render: %v", err)
	}
}

func TestRenderPlatform_BuiltinAndDefaults(t *testing.T) {
	fx := newFixtures(t)
	ctx := context.Background()
	p := fx.publishedPlatform(t)

	def, err := fx.definitions.Create(ctx, definition.Definition{
		Type: "button",
		Schema: schema.Schema{
			{Name: "label", Property: schema.Property{Kind: schema.KindString, Default: "Click me"}},
			{Name: "disabled", Property: schema.Property{Kind: schema.KindBoolean, Default: false}},
		},
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	if _, err := fx.instances.Add(ctx, def.ID, p.ID, p.DefaultLayoutID); err != nil {
		t.Fatalf("add instance: %v", err)
	}

	snap, err := fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(snap.Components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(snap.Components))
	}
	c := snap.Components[0]
	if c.Placeholder {
		t.Fatalf("builtin type rendered as placeholder")
	}
	if c.HTML != "<button>Click me</button>" {
		t.Fatalf("unexpected markup: %s", c.HTML)
	}
}

func TestRenderPlatform_TemplateRenderer(t *testing.T) {
	fx := newFixtures(t)
	ctx := context.Background()
	p := fx.publishedPlatform(t)

	def, err := fx.definitions.Create(ctx, definition.Definition{
		Type:     "banner",
		Template: `"<h1>" + props.title + "</h1>"`,
		Schema: schema.Schema{
			{Name: "title", Property: schema.Property{Kind: schema.KindString, Default: "Welcome"}},
		},
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	in, err := fx.instances.Add(ctx, def.ID, p.ID, p.DefaultLayoutID)
	if err != nil {
		t.Fatalf("add instance: %v", err)
	}

	snap, err := fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := snap.Components[0].HTML; got != "<h1>Welcome</h1>" {
		t.Fatalf("template output: %s", got)
	}

	// A configured value overrides the default on the next resolution.
	if _, err := fx.instances.UpdateValue(ctx, in.ID, "title", "Sale"); err != nil {
		t.Fatalf("update value: %v", err)
	}
	fx.render.Invalidate(ctx, p.ID)

	snap, err = fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render after edit: %v", err)
	}
	if got := snap.Components[0].HTML; got != "<h1>Sale</h1>" {
		t.Fatalf("template output after edit: %s", got)
	}
}

func TestRenderPlatform_BrokenTemplateDegrades(t *testing.T) {
	fx := newFixtures(t)
	ctx := context.Background()
	p := fx.publishedPlatform(t)

	def, err := fx.definitions.Create(ctx, definition.Definition{
		Type:     "broken",
		Template: `props.title.`,
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	if _, err := fx.instances.Add(ctx, def.ID, p.ID, p.DefaultLayoutID); err != nil {
		t.Fatalf("add instance: %v", err)
	}

	snap, err := fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	c := snap.Components[0]
	if !c.Placeholder {
		t.Fatalf("broken template should fall back to placeholder")
	}
	if !strings.Contains(c.HTML, "broken") {
		t.Fatalf("placeholder should show the component type: %s", c.HTML)
	}
}

func TestRenderPlatform_DanglingDefinition(t *testing.T) {
	fx := newFixtures(t)
	ctx := context.Background()
	p := fx.publishedPlatform(t)

	def, err := fx.definitions.Create(ctx, definition.Definition{
		Type: "chart",
		Schema: schema.Schema{
			{Name: "series", Property: schema.Property{Kind: schema.KindString, Default: "revenue"}},
		},
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	if _, err := fx.instances.Add(ctx, def.ID, p.ID, p.DefaultLayoutID); err != nil {
		t.Fatalf("add instance: %v", err)
	}
	if err := fx.definitions.Delete(ctx, def.ID); err != nil {
		t.Fatalf("delete definition: %v", err)
	}

	snap, err := fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render with dangling definition: %v", err)
	}
	c := snap.Components[0]
	if !c.Placeholder {
		t.Fatalf("dangling definition must render a placeholder")
	}
	if c.Type != "chart" {
		t.Fatalf("denormalized type lost: %q", c.Type)
	}
	if !strings.Contains(c.HTML, "revenue") {
		t.Fatalf("placeholder should surface raw configured values: %s", c.HTML)
	}
}

func TestRenderPlatform_SnapshotCache(t *testing.T) {
	fx := newFixtures(t)
	ctx := context.Background()
	p := fx.publishedPlatform(t)

	def, err := fx.definitions.Create(ctx, definition.Definition{
		Type: "text",
		Schema: schema.Schema{
			{Name: "content", Property: schema.Property{Kind: schema.KindText, Default: "hello"}},
		},
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	in, err := fx.instances.Add(ctx, def.ID, p.ID, p.DefaultLayoutID)
	if err != nil {
		t.Fatalf("add instance: %v", err)
	}

	first, err := fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	// A write without invalidation serves the cached snapshot.
	if _, err := fx.instances.UpdateValue(ctx, in.ID, "content", "changed"); err != nil {
		t.Fatalf("update value: %v", err)
	}
	cached, err := fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render cached: %v", err)
	}
	if cached.Components[0].HTML != first.Components[0].HTML {
		t.Fatalf("expected cached markup, got %s", cached.Components[0].HTML)
	}

	fx.render.Invalidate(ctx, p.ID)
	fresh, err := fx.render.RenderPlatform(ctx, p.ID)
	if err != nil {
		t.Fatalf("render fresh: %v", err)
	}
	if !strings.Contains(fresh.Components[0].HTML, "changed") {
		t.Fatalf("invalidation did not take: %s", fresh.Components[0].HTML)
	}
}
