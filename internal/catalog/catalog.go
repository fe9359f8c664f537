// Package catalog serves the static definition tables: zone types,
// elections and ambits. The tables are embedded YAML decoded once on first
// use.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oriys/plebiscito/internal/domain"
)

//go:embed data/*.yaml
var tables embed.FS

// Catalog holds the decoded definition tables.
type Catalog struct {
	Zones     []domain.ZoneType
	Elections []domain.Election
	Ambits    []domain.Ambit
}

var (
	loadOnce sync.Once
	loaded   *Catalog
	loadErr  error
)

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Load(tables)
	})
	return loaded, loadErr
}

// MustDefault is Default for callers that cannot run without the tables.
// The tables are compiled in, so a failure is a build defect.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded tables: %v", err))
	}
	return c
}

// Load decodes data/zones.yaml, data/elections.yaml and data/ambits.yaml
// from fsys. Ambits must only reference zone types of the zones table.
func Load(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{}
	for name, dst := range map[string]any{
		"data/zones.yaml":     &c.Zones,
		"data/elections.yaml": &c.Elections,
		"data/ambits.yaml":    &c.Ambits,
	} {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if err := yaml.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	for _, a := range c.Ambits {
		for _, zt := range a.ZoneTypes {
			if _, ok := c.ZoneType(zt); !ok {
				return nil, fmt.Errorf("ambit %s references unknown zone type %q", a.ID, zt)
			}
		}
	}
	return c, nil
}

// ZoneType looks up a zone type by id.
func (c *Catalog) ZoneType(id string) (domain.ZoneType, bool) {
	for _, z := range c.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return domain.ZoneType{}, false
}
