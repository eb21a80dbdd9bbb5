// Package schema defines the configurable-property type system shared by
// component definitions, instances and the editing surface.
package schema

import (
	"fmt"

	"github.com/platformkit/composer/internal/errors"
)

// Kind identifies a configurable property type. The set is closed: values
// outside it are tolerated at read time but rejected at registration time.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindText    Kind = "text"
	KindSelect  Kind = "select"
	KindColor   Kind = "color"
)

// knownKinds is the registration-time whitelist.
var knownKinds = map[Kind]bool{
	KindString:  true,
	KindNumber:  true,
	KindBoolean: true,
	KindText:    true,
	KindSelect:  true,
	KindColor:   true,
}

// Known reports whether the kind belongs to the closed set.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// EmptyValue returns the kind-specific empty value used as the last resort in
// the display merge order (configured, then default, then empty).
func (k Kind) EmptyValue() any {
	switch k {
	case KindNumber:
		return float64(0)
	case KindBoolean:
		return false
	default:
		return ""
	}
}

// Option is one selectable value of a select property.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Property describes one configurable slot declared by a definition.
type Property struct {
	Kind        Kind     `json:"kind" yaml:"kind"`
	Label       string   `json:"label,omitempty" yaml:"label,omitempty"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Options     []Option `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelperText  string   `json:"helper_text,omitempty" yaml:"helperText,omitempty"`
	Group       string   `json:"group,omitempty" yaml:"group,omitempty"`
}

// NamedProperty pairs a property with its name. Schemas are serialized as a
// list so declaration order survives round trips.
type NamedProperty struct {
	Name     string `json:"name" yaml:"name"`
	Property `json:",inline" yaml:",inline"`
}

// Schema is the ordered set of configurable properties of a definition.
type Schema []NamedProperty

// Get returns the property named name.
func (s Schema) Get(name string) (Property, bool) {
	for _, p := range s {
		if p.Name == name {
			return p.Property, true
		}
	}
	return Property{}, false
}

// Names returns property names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for _, p := range s {
		names = append(names, p.Name)
	}
	return names
}

// DefaultValues builds the seed value map for a new instance: every property
// with a declared default maps to that default; properties without one are
// absent, not null.
func (s Schema) DefaultValues() map[string]any {
	values := make(map[string]any)
	for _, p := range s {
		if p.Default != nil {
			values[p.Name] = p.Default
		}
	}
	return values
}

// Validate checks the schema at registration time: names must be unique and
// non-empty, kinds must be known, defaults and constraints must agree with
// their kind. Read-time tolerance for unknown kinds is the editor's problem,
// not Validate's.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, p := range s {
		if p.Name == "" {
			return errors.Validation("schema property with empty name")
		}
		if seen[p.Name] {
			return errors.Validation("duplicate schema property %q", p.Name)
		}
		seen[p.Name] = true

		if !p.Kind.Known() {
			return errors.Validation("property %q: unknown kind %q", p.Name, p.Kind)
		}
		if err := p.Property.validateDeclaration(); err != nil {
			return errors.Validation("property %q: %v", p.Name, err)
		}
	}
	return nil
}

func (p Property) validateDeclaration() error {
	switch p.Kind {
	case KindBoolean:
		// A boolean must default to a concrete value so absent reads never
		// produce a third state.
		if p.Default == nil {
			return fmt.Errorf("boolean property requires a default")
		}
		if _, ok := p.Default.(bool); !ok {
			return fmt.Errorf("boolean default must be true or false, got %T", p.Default)
		}
	case KindNumber:
		if p.Default != nil {
			if _, ok := toNumber(p.Default); !ok {
				return fmt.Errorf("number default must be numeric, got %T", p.Default)
			}
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return fmt.Errorf("min %v exceeds max %v", *p.Min, *p.Max)
		}
	case KindSelect:
		if len(p.Options) == 0 {
			return fmt.Errorf("select property requires options")
		}
		if p.Default != nil {
			str, ok := p.Default.(string)
			if !ok || !p.hasOption(str) {
				return fmt.Errorf("select default %v is not an option", p.Default)
			}
		}
	default:
		if p.Default != nil {
			if _, ok := p.Default.(string); !ok {
				return fmt.Errorf("%s default must be a string, got %T", p.Kind, p.Default)
			}
		}
	}
	return nil
}

// ValidateValue checks a configured value against the property declaration and
// returns the value to store. Numbers are normalized to float64 and clamped to
// the declared min/max on accept.
func (p Property) ValidateValue(value any) (any, error) {
	switch p.Kind {
	case KindString, KindText, KindColor:
		str, ok := value.(string)
		if !ok {
			return nil, errors.Validation("expected string for %s property, got %T", p.Kind, value)
		}
		return str, nil
	case KindNumber:
		n, ok := toNumber(value)
		if !ok {
			return nil, errors.Validation("expected number, got %T", value)
		}
		if p.Min != nil && n < *p.Min {
			n = *p.Min
		}
		if p.Max != nil && n > *p.Max {
			n = *p.Max
		}
		return n, nil
	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, errors.Validation("expected boolean, got %T", value)
		}
		return b, nil
	case KindSelect:
		str, ok := value.(string)
		if !ok {
			return nil, errors.Validation("expected option value, got %T", value)
		}
		if !p.hasOption(str) {
			return nil, errors.Validation("value %q is not among the declared options", str)
		}
		return str, nil
	default:
		// Unknown kinds cannot be validated; stored as-is. Callers log the
		// consistency warning.
		return value, nil
	}
}

func (p Property) hasOption(value string) bool {
	for _, opt := range p.Options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

// toNumber widens the numeric types JSON and YAML decoders produce.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
