package instances

import (
	"context"
	"io"
	"testing"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/domain/schema"
	"github.com/platformkit/composer/internal/app/services/ordering"
	"github.com/platformkit/composer/internal/app/storage/docrepo"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
)

func newService(t *testing.T) (*Service, *docrepo.Repo) {
	t.Helper()
	log := logging.NewDefault("instances-test")
	log.SetOutput(io.Discard)
	repo := docrepo.NewMemory()
	return New(repo, repo, ordering.New(repo, log), log), repo
}

func buttonDefinition(t *testing.T, repo *docrepo.Repo) definition.Definition {
	t.Helper()
	def, err := repo.CreateDefinition(context.Background(), definition.Definition{
		ID:          "btn",
		Type:        "button",
		DisplayName: "Button",
		Schema: schema.Schema{
			{Name: "label", Property: schema.Property{Kind: schema.KindString, Default: "Button"}},
			{Name: "disabled", Property: schema.Property{Kind: schema.KindBoolean, Default: false}},
			{Name: "tooltip", Property: schema.Property{Kind: schema.KindString}},
		},
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}
	return def
}

func TestService_AddSeedsSchemaDefaults(t *testing.T) {
	svc, repo := newService(t)
	buttonDefinition(t, repo)

	in, err := svc.Add(context.Background(), "btn", "P", "L")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if in.Type != "button" {
		t.Fatalf("type not denormalized: %q", in.Type)
	}
	if in.Values["label"] != "Button" {
		t.Fatalf("label default not seeded: %#v", in.Values)
	}
	if in.Values["disabled"] != false {
		t.Fatalf("disabled default not seeded: %#v", in.Values)
	}
	if _, present := in.Values["tooltip"]; present {
		t.Fatalf("property without default must be absent, not null: %#v", in.Values)
	}
	if in.Order != 0 {
		t.Fatalf("first instance must take order 0, got %d", in.Order)
	}

	second, err := svc.Add(context.Background(), "btn", "P", "L")
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if second.Order != 1 {
		t.Fatalf("append semantics broken: order %d", second.Order)
	}
}

func TestService_AddUnknownDefinition(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Add(context.Background(), "ghost", "P", "L"); !errors.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestService_UpdateValueMergesSingleProperty(t *testing.T) {
	svc, repo := newService(t)
	buttonDefinition(t, repo)

	in, err := svc.Add(context.Background(), "btn", "P", "L")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	updated, err := svc.UpdateValue(context.Background(), in.ID, "label", "Save")
	if err != nil {
		t.Fatalf("update value: %v", err)
	}
	if updated.Values["label"] != "Save" {
		t.Fatalf("label not updated: %#v", updated.Values)
	}
	if updated.Values["disabled"] != false {
		t.Fatalf("sibling property disturbed: %#v", updated.Values)
	}
	if !updated.UpdatedAt.After(in.UpdatedAt) {
		t.Fatalf("lastModified marker not bumped")
	}
}

func TestService_UpdateValueValidatesAgainstSchema(t *testing.T) {
	svc, repo := newService(t)
	_, err := repo.CreateDefinition(context.Background(), definition.Definition{
		ID:   "card",
		Type: "card",
		Schema: schema.Schema{
			{Name: "elevation", Property: schema.Property{
				Kind: schema.KindNumber, Default: float64(1),
				Min: ptr(0.0), Max: ptr(8.0),
			}},
		},
	})
	if err != nil {
		t.Fatalf("create definition: %v", err)
	}

	in, err := svc.Add(context.Background(), "card", "P", "L")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := svc.UpdateValue(context.Background(), in.ID, "elevation", "high"); !errors.IsValidation(err) {
		t.Fatalf("expected validation error for type mismatch, got %v", err)
	}

	updated, err := svc.UpdateValue(context.Background(), in.ID, "elevation", float64(40))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Values["elevation"] != float64(8) {
		t.Fatalf("value not clamped to max: %#v", updated.Values["elevation"])
	}
}

func TestService_UpdateValueToleratesDanglingDefinition(t *testing.T) {
	svc, repo := newService(t)
	buttonDefinition(t, repo)

	in, err := svc.Add(context.Background(), "btn", "P", "L")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.DeleteDefinition(context.Background(), "btn"); err != nil {
		t.Fatalf("delete definition: %v", err)
	}

	updated, err := svc.UpdateValue(context.Background(), in.ID, "label", "Still works")
	if err != nil {
		t.Fatalf("update with dangling definition must degrade, not fail: %v", err)
	}
	if updated.Values["label"] != "Still works" {
		t.Fatalf("unvalidated write not applied: %#v", updated.Values)
	}
}

func TestService_UpdateValueOnDeletedInstance(t *testing.T) {
	svc, repo := newService(t)
	buttonDefinition(t, repo)

	in, err := svc.Add(context.Background(), "btn", "P", "L")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Delete(context.Background(), in.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.UpdateValue(context.Background(), in.ID, "label", "x"); !errors.IsNotFound(err) {
		t.Fatalf("expected not-found for concurrently deleted instance, got %v", err)
	}
}

func TestService_DeleteCompactsOrder(t *testing.T) {
	svc, repo := newService(t)
	buttonDefinition(t, repo)
	ctx := context.Background()

	a, _ := svc.Add(ctx, "btn", "P", "L")
	b, _ := svc.Add(ctx, "btn", "P", "L")
	c, _ := svc.Add(ctx, "btn", "P", "L")

	if err := svc.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	remaining, err := svc.ListByLayout(ctx, "L")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(remaining))
	}
	if remaining[0].ID != a.ID || remaining[0].Order != 0 {
		t.Fatalf("compaction wrong at 0: %#v", remaining[0])
	}
	if remaining[1].ID != c.ID || remaining[1].Order != 1 {
		t.Fatalf("compaction wrong at 1: %#v", remaining[1])
	}
}

func ptr(f float64) *float64 { return &f }
