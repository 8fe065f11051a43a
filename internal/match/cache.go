package match

import (
	"golang.org/x/text/cases"

	"worldroll.ai/internal/alias"
	"worldroll.ai/internal/world"
)

// AliasSource resolves alias names. alias.Store and alias.Cache implement it.
type AliasSource interface {
	Load(name string) (set alias.Set, ok bool, err error)
}

// Cache memoizes per-owner presence, territory counts and alias sets for one
// selection call. A Cache is not safe for concurrent use.
type Cache struct {
	aliases AliasSource
	fold    cases.Caser

	snap        *world.Snapshot
	presence    map[string]bool
	onlineClans map[string]struct{}
	counts      map[string]int

	resolved map[string]alias.Set
}

func NewCache(aliases AliasSource) *Cache {
	return &Cache{
		aliases:  aliases,
		fold:     cases.Fold(),
		resolved: map[string]alias.Set{},
	}
}

func (c *Cache) bind(snap *world.Snapshot) {
	if c.snap == snap {
		return
	}
	c.snap = snap
	c.presence = map[string]bool{}
	c.onlineClans = nil
	c.counts = nil
}

func (c *Cache) folded(s string) string {
	return c.fold.String(s)
}

// present reports whether the owner, or any member of the owner's clan, is
// online.
func (c *Cache) present(ownerID string) bool {
	if v, ok := c.presence[ownerID]; ok {
		return v
	}
	v := c.snap.IsOnline(ownerID)
	if !v {
		if o, ok := c.snap.Owner(ownerID); ok && o.ClanID != "" {
			if c.onlineClans == nil {
				c.onlineClans = c.snap.OnlineClans()
			}
			_, v = c.onlineClans[o.ClanID]
		}
	}
	c.presence[ownerID] = v
	return v
}

func (c *Cache) territoryCount(ownerID string) int {
	if c.counts == nil {
		c.counts = c.snap.TerritoryCounts()
	}
	return c.counts[ownerID]
}

func (c *Cache) alias(name string) (alias.Set, error) {
	if s, ok := c.resolved[name]; ok {
		return s, nil
	}
	tok := "$" + name
	if !alias.ValidName(name) {
		return nil, &Error{Token: tok, Reason: "invalid alias name"}
	}
	if c.aliases == nil {
		return nil, &Error{Token: tok, Reason: "no alias store"}
	}
	s, ok, err := c.aliases.Load(name)
	if err != nil {
		return nil, &Error{Token: tok, Reason: "load alias", Err: err}
	}
	if !ok {
		return nil, &Error{Token: tok, Reason: "alias not found"}
	}
	c.resolved[name] = s
	return s, nil
}
