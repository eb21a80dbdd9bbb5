// Package platforms manages the platform lifecycle and its layouts: creation
// with a provisioned default layout, metadata edits, status transitions and
// layout management.
package platforms

import (
	"context"
	"sort"
	"strings"

	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
)

// DefaultLayoutName is the name of the layout provisioned with every new
// platform so the composition canvas is never empty of a target.
const DefaultLayoutName = "Main"

// Service manages platforms and their layouts.
type Service struct {
	platforms storage.PlatformStore
	layouts   storage.LayoutStore
	log       *logging.Logger
}

// New constructs a platform service.
func New(platforms storage.PlatformStore, layouts storage.LayoutStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("platforms")
	}
	return &Service{platforms: platforms, layouts: layouts, log: log}
}

// Create registers a new draft platform and provisions its default layout.
func (s *Service) Create(ctx context.Context, p platform.Platform) (platform.Platform, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := platform.ValidateName(p.Name); err != nil {
		return platform.Platform{}, err
	}
	p.Status = platform.StatusDraft
	p.DefaultLayoutID = ""

	p, err := s.platforms.CreatePlatform(ctx, p)
	if err != nil {
		return platform.Platform{}, err
	}

	layout, err := s.layouts.CreateLayout(ctx, platform.Layout{
		PlatformID: p.ID,
		Name:       DefaultLayoutName,
	})
	if err != nil {
		return platform.Platform{}, err
	}
	p.DefaultLayoutID = layout.ID
	p, err = s.platforms.UpdatePlatform(ctx, p)
	if err != nil {
		return platform.Platform{}, err
	}

	s.log.WithField("platform_id", p.ID).
		WithField("layout_id", layout.ID).
		Info("platform created with default layout")
	return p, nil
}

// Get retrieves one platform.
func (s *Service) Get(ctx context.Context, id string) (platform.Platform, error) {
	return s.platforms.GetPlatform(ctx, id)
}

// List returns all platforms of a tenant, newest first. An empty tenant ID
// lists across tenants.
func (s *Service) List(ctx context.Context, tenantID string) ([]platform.Platform, error) {
	ps, err := s.platforms.ListPlatforms(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
	return ps, nil
}

// UpdateMetadata edits the builder-facing metadata fields. Status and layout
// references are managed through their own operations and left untouched.
func (s *Service) UpdateMetadata(ctx context.Context, id string, name, description, purpose string) (platform.Platform, error) {
	p, err := s.platforms.GetPlatform(ctx, id)
	if err != nil {
		return platform.Platform{}, err
	}

	name = strings.TrimSpace(name)
	if err := platform.ValidateName(name); err != nil {
		return platform.Platform{}, err
	}
	p.Name = name
	p.Description = description
	p.Purpose = purpose

	p, err = s.platforms.UpdatePlatform(ctx, p)
	if err != nil {
		return platform.Platform{}, err
	}
	s.log.WithField("platform_id", p.ID).Info("platform metadata updated")
	return p, nil
}

// SetStatus moves the platform through its lifecycle. Archived is terminal.
func (s *Service) SetStatus(ctx context.Context, id string, next platform.Status) (platform.Platform, error) {
	p, err := s.platforms.GetPlatform(ctx, id)
	if err != nil {
		return platform.Platform{}, err
	}
	if !p.Status.CanTransition(next) {
		return platform.Platform{}, errors.Validation("cannot transition platform from %s to %s", p.Status, next)
	}
	p.Status = next

	p, err = s.platforms.UpdatePlatform(ctx, p)
	if err != nil {
		return platform.Platform{}, err
	}
	s.log.WithField("platform_id", p.ID).
		WithField("status", string(next)).
		Info("platform status changed")
	return p, nil
}

// AddLayout creates an additional layout on a platform.
func (s *Service) AddLayout(ctx context.Context, platformID, name string) (platform.Layout, error) {
	name = strings.TrimSpace(name)
	if err := platform.ValidateName(name); err != nil {
		return platform.Layout{}, err
	}
	if _, err := s.platforms.GetPlatform(ctx, platformID); err != nil {
		return platform.Layout{}, err
	}
	return s.layouts.CreateLayout(ctx, platform.Layout{PlatformID: platformID, Name: name})
}

// GetLayout retrieves one layout.
func (s *Service) GetLayout(ctx context.Context, id string) (platform.Layout, error) {
	return s.layouts.GetLayout(ctx, id)
}

// ListLayouts returns a platform's layouts sorted by name then ID.
func (s *Service) ListLayouts(ctx context.Context, platformID string) ([]platform.Layout, error) {
	ls, err := s.layouts.ListLayouts(ctx, platformID)
	if err != nil {
		return nil, err
	}
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Name != ls[j].Name {
			return ls[i].Name < ls[j].Name
		}
		return ls[i].ID < ls[j].ID
	})
	return ls, nil
}

// RenameLayout changes a layout's display name.
func (s *Service) RenameLayout(ctx context.Context, layoutID, name string) (platform.Layout, error) {
	name = strings.TrimSpace(name)
	if err := platform.ValidateName(name); err != nil {
		return platform.Layout{}, err
	}
	l, err := s.layouts.GetLayout(ctx, layoutID)
	if err != nil {
		return platform.Layout{}, err
	}
	l.Name = name
	return s.layouts.UpdateLayout(ctx, l)
}

// SetTheme replaces a layout's theme overrides.
func (s *Service) SetTheme(ctx context.Context, layoutID string, overrides map[string]string) (platform.Layout, error) {
	l, err := s.layouts.GetLayout(ctx, layoutID)
	if err != nil {
		return platform.Layout{}, err
	}
	l.ThemeOverrides = overrides
	return s.layouts.UpdateLayout(ctx, l)
}

// DefaultLayout resolves the platform's default layout, falling back to the
// first layout by name when the reference is unset or dangling.
func (s *Service) DefaultLayout(ctx context.Context, platformID string) (platform.Layout, error) {
	p, err := s.platforms.GetPlatform(ctx, platformID)
	if err != nil {
		return platform.Layout{}, err
	}
	if p.DefaultLayoutID != "" {
		l, err := s.layouts.GetLayout(ctx, p.DefaultLayoutID)
		if err == nil {
			return l, nil
		}
		if !errors.IsNotFound(err) {
			return platform.Layout{}, err
		}
		s.log.WithField("platform_id", platformID).
			WithField("layout_id", p.DefaultLayoutID).
			Warn("default layout reference is dangling")
	}
	ls, err := s.ListLayouts(ctx, platformID)
	if err != nil {
		return platform.Layout{}, err
	}
	if len(ls) == 0 {
		return platform.Layout{}, errors.NotFound("layout", platformID)
	}
	return ls[0], nil
}
