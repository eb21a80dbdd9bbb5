// Package instance models a placed, configured occurrence of a component
// definition within a layout.
package instance

import "time"

// Instance is one placed component. Type is a denormalized copy of the
// definition's type taken at placement time: render dispatch works from it
// alone, so already-placed instances keep rendering after their definition is
// edited or deleted.
type Instance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	PlatformID   string         `json:"platform_id"`
	LayoutID     string         `json:"layout_id"`
	Type         string         `json:"type"`
	Values       map[string]any `json:"configured_values"`
	Order        int            `json:"order"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate values freely.
func (in Instance) Clone() Instance {
	if in.Values != nil {
		values := make(map[string]any, len(in.Values))
		for k, v := range in.Values {
			values[k] = v
		}
		in.Values = values
	}
	return in
}

// ByOrder sorts instances by their order rank, breaking ties by ID so equal
// ranks (a consistency violation) still yield a deterministic sequence.
type ByOrder []Instance

func (s ByOrder) Len() int      { return len(s) }
func (s ByOrder) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s ByOrder) Less(i, j int) bool {
	if s[i].Order != s[j].Order {
		return s[i].Order < s[j].Order
	}
	return s[i].ID < s[j].ID
}
