// Package instances manages the lifecycle of placed component instances:
// creation with schema-default seeding, field-level property edits and
// removal with order compaction.
package instances

import (
	"context"
	"strings"

	"github.com/platformkit/composer/internal/app/domain/instance"
	"github.com/platformkit/composer/internal/app/services/ordering"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
)

// Service manages component instances. Every mutation bumps the instance's
// UpdatedAt marker through the store.
type Service struct {
	definitions storage.DefinitionStore
	store       storage.InstanceStore
	order       *ordering.Controller
	log         *logging.Logger
}

// New constructs an instance service.
func New(definitions storage.DefinitionStore, store storage.InstanceStore, order *ordering.Controller, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("instances")
	}
	return &Service{definitions: definitions, store: store, order: order, log: log}
}

// Add places a definition onto a layout. Configured values are seeded from
// the schema's defaults (properties without a default stay absent), the
// definition's type is denormalized onto the instance, and the instance is
// appended at the end of the layout's order.
func (s *Service) Add(ctx context.Context, definitionID, platformID, layoutID string) (instance.Instance, error) {
	definitionID = strings.TrimSpace(definitionID)
	if definitionID == "" || platformID == "" || layoutID == "" {
		return instance.Instance{}, errors.Validation("definition_id, platform_id and layout_id are required")
	}

	def, err := s.definitions.GetDefinition(ctx, definitionID)
	if err != nil {
		return instance.Instance{}, err
	}

	count, err := s.store.CountByLayout(ctx, layoutID)
	if err != nil {
		return instance.Instance{}, err
	}

	in := instance.Instance{
		DefinitionID: def.ID,
		PlatformID:   platformID,
		LayoutID:     layoutID,
		Type:         def.Type,
		Values:       def.Schema.DefaultValues(),
		Order:        count,
	}
	in, err = s.store.CreateInstance(ctx, in)
	if err != nil {
		return instance.Instance{}, err
	}

	s.log.WithField("instance_id", in.ID).
		WithField("layout_id", layoutID).
		WithField("type", in.Type).
		Info("instance placed")
	return in, nil
}

// UpdateValue merges one configured property. When the definition still
// resolves, the value is validated (and numbers clamped) against the declared
// schema; a dangling definition or a property the schema no longer declares
// degrades to an unvalidated write with a logged consistency warning.
func (s *Service) UpdateValue(ctx context.Context, instanceID, property string, value any) (instance.Instance, error) {
	property = strings.TrimSpace(property)
	if property == "" {
		return instance.Instance{}, errors.Validation("property name is required")
	}

	in, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return instance.Instance{}, err
	}

	def, err := s.definitions.GetDefinition(ctx, in.DefinitionID)
	switch {
	case err == nil:
		if prop, ok := def.Schema.Get(property); ok {
			value, err = prop.ValidateValue(value)
			if err != nil {
				return instance.Instance{}, err
			}
		} else {
			s.log.WithField("instance_id", instanceID).
				WithField("property", property).
				Warn("property not declared by schema; stored unvalidated")
		}
	case errors.IsNotFound(err):
		s.log.WithField("instance_id", instanceID).
			WithField("definition_id", in.DefinitionID).
			Warn("definition missing; property stored unvalidated")
	default:
		return instance.Instance{}, err
	}

	return s.store.UpdateValue(ctx, instanceID, property, value)
}

// Delete removes an instance and compacts the surviving instances' order
// ranks back to a dense 0..N-1.
func (s *Service) Delete(ctx context.Context, instanceID string) error {
	in, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInstance(ctx, instanceID); err != nil {
		return err
	}
	if err := s.order.Compact(ctx, in.LayoutID); err != nil {
		return err
	}

	s.log.WithField("instance_id", instanceID).
		WithField("layout_id", in.LayoutID).
		Info("instance removed")
	return nil
}

// Get retrieves one instance.
func (s *Service) Get(ctx context.Context, instanceID string) (instance.Instance, error) {
	return s.store.GetInstance(ctx, instanceID)
}

// ListByLayout returns the layout's instances in display order.
func (s *Service) ListByLayout(ctx context.Context, layoutID string) ([]instance.Instance, error) {
	return s.order.Sequence(ctx, layoutID)
}
