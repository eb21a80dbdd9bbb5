package definition

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is a seed file of definitions, loaded at startup so a fresh
// deployment starts with a usable component palette.
type Catalog struct {
	Definitions []Definition `json:"definitions" yaml:"definitions"`
}

// LoadCatalog loads a catalog from a YAML or JSON file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data, path)
}

// ParseCatalog parses catalog data, picking the codec from the filename and
// falling back to trying both.
func ParseCatalog(data []byte, filename string) (*Catalog, error) {
	var c Catalog

	switch {
	case strings.HasSuffix(filename, ".yaml"), strings.HasSuffix(filename, ".yml"):
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case strings.HasSuffix(filename, ".json"):
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &c); err != nil {
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("parse catalog: %w", err)
			}
		}
	}

	return &c, nil
}

// Validate validates every definition's schema in the catalog.
func (c *Catalog) Validate() error {
	var errs []string
	for _, def := range c.Definitions {
		if def.Type == "" {
			errs = append(errs, fmt.Sprintf("definition %q: type is required", def.DisplayName))
			continue
		}
		if err := def.Schema.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("definition %q: %v", def.Type, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
