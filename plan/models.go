// Package plan defines the static subscription tier catalog.
//
// Tiers are configuration, not data: the catalog is compiled in (or
// injected via the engine's options) and ordered by Rank. Rank ordering is
// what distinguishes an upgrade from a downgrade.
package plan

import (
	"github.com/xraph/credits/types"
)

// Tier describes one subscription plan.
type Tier struct {
	Name           string      `json:"name"`
	Rank           int         `json:"rank"` // higher rank = higher tier
	Credits        int64       `json:"credits"`
	Price          types.Money `json:"price"`
	ProviderPrice  string      `json:"provider_price,omitempty"` // payment provider price id
	Description    string      `json:"description,omitempty"`
	MaxConcurrency int         `json:"max_concurrency,omitempty"`
}

// Catalog is an ordered set of tiers keyed by name.
type Catalog struct {
	tiers map[string]Tier
}

// NewCatalog builds a catalog from the given tiers. Later duplicates of a
// name replace earlier ones.
func NewCatalog(tiers ...Tier) *Catalog {
	c := &Catalog{tiers: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		c.tiers[t.Name] = t
	}
	return c
}

// Get returns the tier with the given name.
func (c *Catalog) Get(name string) (Tier, bool) {
	t, ok := c.tiers[name]
	return t, ok
}

// ByProviderPrice returns the tier whose provider price id matches.
func (c *Catalog) ByProviderPrice(priceID string) (Tier, bool) {
	for _, t := range c.tiers {
		if t.ProviderPrice != "" && t.ProviderPrice == priceID {
			return t, true
		}
	}
	return Tier{}, false
}

// Names returns the catalog's tier names in ascending rank order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tiers))
	for name := range c.tiers {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && c.tiers[names[j]].Rank < c.tiers[names[j-1]].Rank; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// DefaultCatalog returns the standard three-tier catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Tier{Name: "entry", Rank: 1, Credits: 15, Price: types.USD(1900)},
		Tier{Name: "pro", Rank: 2, Credits: 50, Price: types.USD(4900)},
		Tier{Name: "studio", Rank: 3, Credits: 120, Price: types.USD(9900)},
	)
}
