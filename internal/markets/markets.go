// Package markets holds the market whitelist, the alias table used to map
// free-form city names onto it, and the static city to region table.
package markets

import (
	"slices"
	"strings"

	"github.com/mfenderov/estate-pulse/internal/config"
	"github.com/mfenderov/estate-pulse/pkg/models"
)

// DefaultRegion is assigned to markets missing from the region table.
const DefaultRegion = "National"

// Catalog answers whitelist, alias and region questions about market names.
// Lookups are case-insensitive; results are always canonical names.
type Catalog struct {
	canonical map[string]string // lower(name) -> canonical whitelisted name
	aliases   map[string]string // lower(alias) -> target name
	regions   map[string]string // canonical name -> region
	names     []string
}

// New builds a Catalog from the configured whitelist, aliases and regions.
func New(cfg config.Markets) *Catalog {
	c := &Catalog{
		canonical: make(map[string]string, len(cfg.Whitelist)),
		aliases:   make(map[string]string, len(cfg.Aliases)),
		regions:   make(map[string]string),
	}
	for _, name := range cfg.Whitelist {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := c.canonical[strings.ToLower(name)]; dup {
			continue
		}
		c.canonical[strings.ToLower(name)] = name
		c.names = append(c.names, name)
	}
	slices.Sort(c.names)

	for alias, target := range cfg.Aliases {
		c.aliases[strings.ToLower(strings.TrimSpace(alias))] = strings.TrimSpace(target)
	}
	for _, region := range cfg.Regions {
		for _, market := range region.Markets {
			if name, ok := c.canonical[strings.ToLower(market)]; ok {
				c.regions[name] = region.Name
			}
		}
	}
	return c
}

// Default returns a Catalog built from the built-in tables.
func Default() *Catalog {
	return New(config.Defaults().Markets)
}

// Normalize maps name to its canonical whitelisted form. Aliases are applied
// first; the boolean is false when the result is not whitelisted.
func (c *Catalog) Normalize(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if target, ok := c.aliases[key]; ok {
		key = strings.ToLower(target)
	}
	canonical, ok := c.canonical[key]
	return canonical, ok
}

// Valid reports whether name is already a canonical whitelisted market.
func (c *Catalog) Valid(name string) bool {
	canonical, ok := c.canonical[strings.ToLower(name)]
	return ok && canonical == name
}

// Region returns the region for a canonical market name.
func (c *Catalog) Region(name string) string {
	if region, ok := c.regions[name]; ok {
		return region
	}
	return DefaultRegion
}

// Names returns the whitelist sorted alphabetically.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

// CatchAll returns the catch-all market name.
func (c *Catalog) CatchAll() string {
	return models.CatchAllMarket
}
