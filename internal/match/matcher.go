// Package match evaluates targeting expressions against a world snapshot.
//
// An expression is a flat token list. Positive terms are OR-ed, a matching
// negative term fails its whole scope, "(" ... ")" opens a nested scope and
// "^123" restricts the power levels accepted by the current scope. A scope
// with no positive terms matches everything it does not exclude.
package match

import (
	"strconv"
	"strings"

	"worldroll.ai/internal/catalog"
	"worldroll.ai/internal/world"
)

var defaultLevels = levelSet{1: true, 2: true, 3: true}

type levelSet map[int]bool

// Operator identifies whose territories count as "mine".
type Operator struct {
	// IDs lists the operator's identities, primary first.
	IDs    []string
	ClanID string
}

func (o Operator) Primary() string {
	if len(o.IDs) == 0 {
		return ""
	}
	return o.IDs[0]
}

func (o Operator) Owns(ownerID string) bool {
	for _, id := range o.IDs {
		if id == ownerID {
			return true
		}
	}
	return false
}

type Matcher struct {
	cat *catalog.Catalog
	op  Operator
}

func New(cat *catalog.Catalog, op Operator) *Matcher {
	return &Matcher{cat: cat, op: op}
}

// Matches reports whether territory code is selected by tokens. The cache may
// be shared by calls against the same snapshot.
func (m *Matcher) Matches(snap *world.Snapshot, code string, tokens []string, cache *Cache) (bool, error) {
	if cache == nil {
		cache = NewCache(nil)
	}
	cache.bind(snap)
	e := &eval{m: m, snap: snap, code: code, cache: cache, toks: tokens}
	return e.scope(0)
}

// Check resolves every alias referenced by tokens so that expression errors
// surface before any territory is evaluated.
func (m *Matcher) Check(tokens []string, cache *Cache) error {
	if cache == nil {
		cache = NewCache(nil)
	}
	for _, tok := range tokens {
		tok = strings.TrimLeft(tok, "+-")
		if strings.HasPrefix(tok, "$") {
			if _, err := cache.alias(tok[1:]); err != nil {
				return err
			}
		}
	}
	return nil
}

type eval struct {
	m     *Matcher
	snap  *world.Snapshot
	code  string
	cache *Cache

	toks []string
	pos  int
}

func (e *eval) next() (string, bool) {
	if e.pos >= len(e.toks) {
		return "", false
	}
	t := e.toks[e.pos]
	e.pos++
	return t, true
}

func (e *eval) peek() string {
	if e.pos >= len(e.toks) {
		return ""
	}
	return e.toks[e.pos]
}

func opensGroup(tok string) bool {
	return tok != "" && strings.TrimLeft(tok, "+-") == "(" && len(tok) <= 2
}

// scope evaluates tokens up to the ")" closing this scope (or the end of
// input) and consumes that ")".
func (e *eval) scope(depth int) (bool, error) {
	matched := false
	positive := false
	levels := defaultLevels

	for {
		tok, ok := e.next()
		if !ok || tok == ")" {
			break
		}
		if tok == "" {
			continue
		}
		if tok[0] == '^' {
			if lv, ok := parseLevels(tok[1:]); ok {
				levels = lv
			}
			continue
		}

		neg := false
		switch tok[0] {
		case '-':
			neg = true
			tok = tok[1:]
		case '+':
			tok = tok[1:]
		}
		if tok == "" {
			// A lone sign applies to the next clause.
			if p := e.peek(); p == "" || p == ")" {
				continue
			}
			tok, _ = e.next()
		}
		if !neg {
			positive = true
		}

		var hit bool
		var err error
		if tok == "(" {
			hit, err = e.scope(depth + 1)
		} else {
			hit, err = e.literal(tok)
		}
		if err != nil {
			return false, err
		}
		if hit {
			if neg {
				e.skipScope()
				return false, nil
			}
			matched = true
		}
	}

	if !levels[e.snap.LevelOf(e.code)] {
		return false, nil
	}
	return matched || !positive, nil
}

// skipScope consumes the rest of the current scope, including its closing ")".
func (e *eval) skipScope() {
	depth := 0
	for {
		tok, ok := e.next()
		if !ok {
			return
		}
		switch {
		case opensGroup(tok):
			depth++
		case tok == ")":
			if depth == 0 {
				return
			}
			depth--
		}
	}
}

// parseLevels handles the text after "^". An empty string resets to the
// default levels; anything other than digits is ignored.
func parseLevels(s string) (levelSet, bool) {
	if s == "" {
		return defaultLevels, true
	}
	out := levelSet{}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, false
		}
		out[int(r-'0')] = true
	}
	return out, true
}

func (e *eval) literal(pat string) (bool, error) {
	switch pat {
	case "*":
		return true, nil
	case "@":
		pat = e.m.op.Primary()
	case "@@":
		if e.m.op.ClanID == "" {
			return false, nil
		}
		pat = "C" + e.m.op.ClanID
	}
	if pat == "" {
		return false, nil
	}

	if strings.HasPrefix(pat, "$") {
		set, err := e.cache.alias(pat[1:])
		if err != nil {
			return false, err
		}
		return set.Has(e.code), nil
	}
	if strings.HasPrefix(pat, "<=") {
		if n, err := strconv.Atoi(pat[2:]); err == nil && n >= 0 {
			owner := e.snap.OwnerOf(e.code)
			return e.cache.territoryCount(owner) <= n, nil
		}
	}

	c := e.cache
	fp := c.folded(pat)

	if strings.HasPrefix(c.folded(e.code), fp) {
		return true, nil
	}
	if e.m.cat != nil {
		if t, ok := e.m.cat.Lookup(e.code); ok && t.Name != "" && strings.HasPrefix(c.folded(t.Name), fp) {
			return true, nil
		}
	}

	ownerID := e.snap.OwnerOf(e.code)
	owner, hasOwner := e.snap.Owner(ownerID)
	if ownerID != "" && pat == ownerID {
		return true, nil
	}
	if hasOwner && owner.Name != "" && !e.isTerritoryCode(pat) && strings.HasPrefix(c.folded(owner.Name), fp) {
		return true, nil
	}
	if hasOwner && owner.ClanID != "" {
		if strings.EqualFold(pat, "C"+owner.ClanID) {
			return true, nil
		}
		if clan, ok := e.snap.Clan(owner.ClanID); ok && clan.Name != "" && strings.HasPrefix(c.folded(clan.Name), fp) {
			return true, nil
		}
	}

	switch {
	case strings.EqualFold(pat, "OFFLINE"):
		if e.m.op.Owns(ownerID) {
			return true, nil
		}
		return !c.present(ownerID), nil
	case strings.EqualFold(pat, "ONLINE"):
		if e.m.op.Owns(ownerID) {
			return false, nil
		}
		return c.present(ownerID), nil
	}
	return false, nil
}

func (e *eval) isTerritoryCode(pat string) bool {
	if e.m.cat != nil && (e.m.cat.Has(pat) || e.m.cat.Has(strings.ToUpper(pat))) {
		return true
	}
	_, ok := e.snap.Holding(strings.ToUpper(pat))
	return ok
}
