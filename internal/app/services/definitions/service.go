// Package definitions implements the component definition registry: the
// catalog of reusable, schema-described building blocks available to
// platform builders.
package definitions

import (
	"context"
	"sort"
	"strings"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
)

// Service manages the definition catalog. The catalog is shared and
// read-mostly; deleting an entry never cascades to placed instances.
type Service struct {
	store storage.DefinitionStore
	log   *logging.Logger
}

// New constructs a definition registry.
func New(store storage.DefinitionStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("definitions")
	}
	return &Service{store: store, log: log}
}

// Create validates and registers a new definition.
func (s *Service) Create(ctx context.Context, def definition.Definition) (definition.Definition, error) {
	def.Type = strings.TrimSpace(def.Type)
	def.DisplayName = strings.TrimSpace(def.DisplayName)

	if def.Type == "" {
		return definition.Definition{}, errors.Validation("type is required")
	}
	if def.DisplayName == "" {
		def.DisplayName = def.Type
	}
	if err := def.Schema.Validate(); err != nil {
		return definition.Definition{}, err
	}

	def, err := s.store.CreateDefinition(ctx, def)
	if err != nil {
		return definition.Definition{}, err
	}
	s.log.WithField("definition_id", def.ID).
		WithField("type", def.Type).
		Info("definition registered")
	return def, nil
}

// Update replaces an existing definition. The schema map is a full overwrite:
// removed properties become dangling on existing instances, which the editor
// and renderer tolerate.
func (s *Service) Update(ctx context.Context, def definition.Definition) (definition.Definition, error) {
	if def.ID == "" {
		return definition.Definition{}, errors.Validation("definition id is required")
	}
	original, err := s.store.GetDefinition(ctx, def.ID)
	if err != nil {
		return definition.Definition{}, err
	}

	if strings.TrimSpace(def.Type) == "" {
		def.Type = original.Type
	}
	if strings.TrimSpace(def.DisplayName) == "" {
		def.DisplayName = original.DisplayName
	}
	if err := def.Schema.Validate(); err != nil {
		return definition.Definition{}, err
	}

	def, err = s.store.UpdateDefinition(ctx, def)
	if err != nil {
		return definition.Definition{}, err
	}
	s.log.WithField("definition_id", def.ID).Info("definition updated")
	return def, nil
}

// Get retrieves one definition.
func (s *Service) Get(ctx context.Context, id string) (definition.Definition, error) {
	return s.store.GetDefinition(ctx, id)
}

// List returns the catalog stably ordered by display name then ID, so
// component palettes render deterministically.
func (s *Service) List(ctx context.Context) ([]definition.Definition, error) {
	defs, err := s.store.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].DisplayName != defs[j].DisplayName {
			return defs[i].DisplayName < defs[j].DisplayName
		}
		return defs[i].ID < defs[j].ID
	})
	return defs, nil
}

// Delete hard-removes a catalog entry. Instances referencing it keep their
// denormalized type and continue to render through the placeholder path.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	s.log.WithField("definition_id", id).
		Warn("definition deleted; existing instances now reference a dangling definition")
	return nil
}

// Seed registers every definition of a catalog file that is not already
// present, keyed by definition ID.
func (s *Service) Seed(ctx context.Context, catalog *definition.Catalog) error {
	if err := catalog.Validate(); err != nil {
		return err
	}
	for _, def := range catalog.Definitions {
		if def.ID != "" {
			if _, err := s.store.GetDefinition(ctx, def.ID); err == nil {
				continue
			}
		}
		if _, err := s.Create(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
