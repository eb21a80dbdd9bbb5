package platforms

import (
	"context"
	"io"
	"testing"

	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/app/storage/docrepo"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
)

func newService(t *testing.T) *Service {
	t.Helper()
	log := logging.NewDefault("platforms-test")
	log.SetOutput(io.Discard)
	repo := docrepo.NewMemory()
	return New(repo, repo, log)
}

func TestCreate_ProvisionsDefaultLayout(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, platform.Platform{Name: "Field Ops", TenantID: "t1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != platform.StatusDraft {
		t.Fatalf("new platform must start in draft, got %s", p.Status)
	}
	if p.DefaultLayoutID == "" {
		t.Fatalf("default layout not provisioned")
	}

	l, err := svc.GetLayout(ctx, p.DefaultLayoutID)
	if err != nil {
		t.Fatalf("get default layout: %v", err)
	}
	if l.PlatformID != p.ID || l.Name != DefaultLayoutName {
		t.Fatalf("unexpected default layout: %+v", l)
	}
}

func TestCreate_RequiresName(t *testing.T) {
	svc := newService(t)
	if _, err := svc.Create(context.Background(), platform.Platform{Name: "   "}); !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetStatus_Lifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, platform.Platform{Name: "Shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	p, err = svc.SetStatus(ctx, p.ID, platform.StatusPublished)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if p.Status != platform.StatusPublished {
		t.Fatalf("status %s after publish", p.Status)
	}

	// Unpublishing back to draft is allowed.
	if _, err := svc.SetStatus(ctx, p.ID, platform.StatusDraft); err != nil {
		t.Fatalf("unpublish: %v", err)
	}

	p, err = svc.SetStatus(ctx, p.ID, platform.StatusArchived)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	// Archived is terminal.
	if _, err := svc.SetStatus(ctx, p.ID, platform.StatusDraft); !errors.IsValidation(err) {
		t.Fatalf("expected validation error leaving archived, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, p.ID, "retired"); !errors.IsValidation(err) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	_ = p
}

func TestUpdateMetadata_LeavesLifecycleAlone(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, platform.Platform{Name: "Shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.SetStatus(ctx, p.ID, platform.StatusPublished); err != nil {
		t.Fatalf("publish: %v", err)
	}

	updated, err := svc.UpdateMetadata(ctx, p.ID, "Storefront", "customer facing", "sales")
	if err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	if updated.Name != "Storefront" || updated.Purpose != "sales" {
		t.Fatalf("metadata not applied: %+v", updated)
	}
	if updated.Status != platform.StatusPublished {
		t.Fatalf("metadata edit changed status to %s", updated.Status)
	}
	if updated.DefaultLayoutID != p.DefaultLayoutID {
		t.Fatalf("metadata edit changed default layout")
	}
}

func TestDefaultLayout_FallsBackWhenDangling(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, platform.Platform{Name: "Shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	extra, err := svc.AddLayout(ctx, p.ID, "Checkout")
	if err != nil {
		t.Fatalf("add layout: %v", err)
	}

	l, err := svc.DefaultLayout(ctx, p.ID)
	if err != nil {
		t.Fatalf("default layout: %v", err)
	}
	if l.ID != p.DefaultLayoutID {
		t.Fatalf("expected the provisioned default, got %s", l.ID)
	}

	// Point the platform at a layout that no longer exists. Resolution
	// should fall back to the first layout by name.
	broken, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	broken.DefaultLayoutID = "gone"
	if _, err := svc.platforms.UpdatePlatform(ctx, broken); err != nil {
		t.Fatalf("update: %v", err)
	}

	l, err = svc.DefaultLayout(ctx, p.ID)
	if err != nil {
		t.Fatalf("default layout with dangling ref: %v", err)
	}
	if l.ID != extra.ID {
		t.Fatalf("fallback picked %s (%s), want Checkout %s", l.ID, l.Name, extra.ID)
	}
}

func TestRenameLayout(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, platform.Platform{Name: "Shop"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.RenameLayout(ctx, p.DefaultLayoutID, "  "); !errors.IsValidation(err) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}

	renamed, err := svc.RenameLayout(ctx, p.DefaultLayoutID, "Storefront")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "Storefront" {
		t.Fatalf("name not applied: %q", renamed.Name)
	}
	got, err := svc.GetLayout(ctx, p.DefaultLayoutID)
	if err != nil {
		t.Fatalf("get layout: %v", err)
	}
	if got.Name != "Storefront" {
		t.Fatalf("rename not persisted: %q", got.Name)
	}
}

func TestList_ScopedToTenant(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, platform.Platform{Name: "A", TenantID: "t1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, platform.Platform{Name: "B", TenantID: "t2"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ps, err := svc.List(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ps) != 1 || ps[0].Name != "A" {
		t.Fatalf("tenant scoping broken: %+v", ps)
	}

	all, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("unscoped list returned %d platforms", len(all))
	}
}
