// Package platform models the top-level aggregate a builder assembles:
// platforms and their layouts.
package platform

import (
	"time"

	"github.com/platformkit/composer/internal/errors"
)

// Status is the platform lifecycle state. Rendering to end users is gated on
// StatusPublished.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Valid reports whether the status is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving to next.
// Draft and published move freely between each other, both may archive, and
// archived is terminal.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() || s == StatusArchived {
		return false
	}
	return s != next
}

// Platform is the top-level aggregate: name, purpose, lifecycle status,
// owning tenant, admins and a reference to its default layout.
type Platform struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Purpose         string    `json:"purpose,omitempty"`
	Status          Status    `json:"status"`
	TenantID        string    `json:"tenant_id,omitempty"`
	Admins          []string  `json:"admins,omitempty"`
	DefaultLayoutID string    `json:"default_layout_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Layout is an ordered container of instances within one platform. The
// ordering itself lives on the instances (by reference, not containment).
type Layout struct {
	ID             string            `json:"id"`
	PlatformID     string            `json:"platform_id"`
	Name           string            `json:"name"`
	ThemeOverrides map[string]string `json:"theme_overrides,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// ValidateName checks the one builder-supplied required field.
func ValidateName(name string) error {
	if name == "" {
		return errors.Validation("name is required")
	}
	return nil
}
