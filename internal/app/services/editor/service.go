// Package editor builds the type-driven property editing surface for a
// selected instance: one form field per declared schema property, with the
// control chosen by property kind and the displayed value resolved from the
// instance's configured values.
package editor

import (
	"context"

	"github.com/platformkit/composer/internal/app/domain/instance"
	"github.com/platformkit/composer/internal/app/domain/schema"
	"github.com/platformkit/composer/internal/app/services/definitions"
	"github.com/platformkit/composer/internal/app/services/instances"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
)

// Control identifies the input widget a field renders with.
type Control string

const (
	ControlTextInput   Control = "text_input"
	ControlNumberInput Control = "number_input"
	ControlSwitch      Control = "switch"
	ControlTextArea    Control = "text_area"
	ControlSelect      Control = "select"
	ControlColorPicker Control = "color_picker"

	// ControlUnsupported is the disabled fallback for schema kinds this
	// build does not recognise. The stored value is preserved untouched.
	ControlUnsupported Control = "unsupported"
)

var controlByKind = map[schema.Kind]Control{
	schema.KindString:  ControlTextInput,
	schema.KindNumber:  ControlNumberInput,
	schema.KindBoolean: ControlSwitch,
	schema.KindText:    ControlTextArea,
	schema.KindSelect:  ControlSelect,
	schema.KindColor:   ControlColorPicker,
}

// Field is one editable property of the selected instance.
type Field struct {
	Name        string          `json:"name"`
	Label       string          `json:"label"`
	Control     Control         `json:"control"`
	Value       any             `json:"value"`
	Options     []schema.Option `json:"options,omitempty"`
	Min         *float64        `json:"min,omitempty"`
	Max         *float64        `json:"max,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
	HelperText  string          `json:"helper_text,omitempty"`
	Group       string          `json:"group,omitempty"`
	Disabled    bool            `json:"disabled,omitempty"`
}

// Form is the full editing surface for one instance.
type Form struct {
	InstanceID   string  `json:"instance_id"`
	DefinitionID string  `json:"definition_id"`
	Type         string  `json:"type"`
	Fields       []Field `json:"fields"`

	// DefinitionMissing marks a form for an instance whose definition was
	// deleted. No fields are offered; the instance itself stays intact.
	DefinitionMissing bool `json:"definition_missing,omitempty"`
}

// Service assembles forms and applies single-property edits.
type Service struct {
	definitions *definitions.Service
	instances   *instances.Service
	log         *logging.Logger
}

// New constructs the editing surface service.
func New(defs *definitions.Service, inst *instances.Service, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("editor")
	}
	return &Service{definitions: defs, instances: inst, log: log}
}

// BuildForm resolves the editing form for an instance. Field values follow
// the display rule: the configured value if present, else the schema default,
// else the kind's empty value.
func (s *Service) BuildForm(ctx context.Context, instanceID string) (Form, error) {
	inst, err := s.instances.Get(ctx, instanceID)
	if err != nil {
		return Form{}, err
	}

	form := Form{
		InstanceID:   inst.ID,
		DefinitionID: inst.DefinitionID,
		Type:         inst.Type,
	}

	def, err := s.definitions.Get(ctx, inst.DefinitionID)
	if err != nil {
		if errors.IsNotFound(err) {
			s.log.WithField("instance_id", inst.ID).
				WithField("definition_id", inst.DefinitionID).
				Warn("definition missing; serving empty form")
			form.DefinitionMissing = true
			return form, nil
		}
		return Form{}, err
	}

	form.Fields = make([]Field, 0, len(def.Schema))
	for _, prop := range def.Schema {
		form.Fields = append(form.Fields, s.buildField(inst, prop))
	}
	return form, nil
}

func (s *Service) buildField(inst instance.Instance, prop schema.NamedProperty) Field {
	field := Field{
		Name:        prop.Name,
		Label:       prop.Label,
		Options:     prop.Options,
		Min:         prop.Min,
		Max:         prop.Max,
		Placeholder: prop.Placeholder,
		HelperText:  prop.HelperText,
		Group:       prop.Group,
		Value:       displayValue(inst, prop),
	}
	if field.Label == "" {
		field.Label = prop.Name
	}

	control, ok := controlByKind[prop.Kind]
	if !ok {
		s.log.WithField("instance_id", inst.ID).
			WithField("property", prop.Name).
			WithField("kind", string(prop.Kind)).
			Warn("unsupported property kind; rendering disabled field")
		field.Control = ControlUnsupported
		field.Disabled = true
		return field
	}
	field.Control = control
	return field
}

// displayValue resolves what the field shows: configured value, then schema
// default, then the kind's empty value.
func displayValue(inst instance.Instance, prop schema.NamedProperty) any {
	if v, ok := inst.Values[prop.Name]; ok {
		return v
	}
	if prop.Default != nil {
		return prop.Default
	}
	return prop.Kind.EmptyValue()
}

// ApplyEdit writes a single property edit. Validation and persistence follow
// the instance service's single-property merge path.
func (s *Service) ApplyEdit(ctx context.Context, instanceID, property string, value any) (Form, error) {
	if _, err := s.instances.UpdateValue(ctx, instanceID, property, value); err != nil {
		return Form{}, err
	}
	return s.BuildForm(ctx, instanceID)
}
