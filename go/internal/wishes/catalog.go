package wishes

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed wishes.yaml
var defaultCatalog []byte

// Catalog is the wish texts keyed by age group, as stored in wishes.yaml.
type Catalog map[AgeGroup][]string

// DefaultCatalog parses the catalog compiled into the binary.
func DefaultCatalog() (Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wish catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse wish catalog: %w", err)
	}
	for group, texts := range c {
		if !group.Valid() {
			return nil, fmt.Errorf("unknown age group %q", group)
		}
		for i, text := range texts {
			if text == "" {
				return nil, fmt.Errorf("empty wish at %s[%d]", group, i)
			}
		}
	}
	return c, nil
}

// Len returns the total number of wishes.
func (c Catalog) Len() int {
	n := 0
	for _, texts := range c {
		n += len(texts)
	}
	return n
}
