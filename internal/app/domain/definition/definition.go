// Package definition models the reusable component catalog entries a
// definition author registers for platform builders.
package definition

import (
	"time"

	"github.com/platformkit/composer/internal/app/domain/schema"
)

// Definition is a catalog record describing a reusable component: its render
// dispatch type, display metadata and the schema of configurable properties.
type Definition struct {
	ID          string        `json:"id" yaml:"id"`
	Type        string        `json:"type" yaml:"type"`
	DisplayName string        `json:"display_name" yaml:"displayName"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Schema      schema.Schema `json:"schema" yaml:"schema"`
	Template    string        `json:"template,omitempty" yaml:"template,omitempty"`
	Tags        []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
	Icon        string        `json:"icon,omitempty" yaml:"icon,omitempty"`
	CreatedAt   time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time     `json:"updated_at" yaml:"-"`
}
