// Package order sequences candidate territories before they are filtered by
// an expression.
package order

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"worldroll.ai/internal/catalog"
	"worldroll.ai/internal/world"
)

type Mode int

const (
	Near Mode = iota
	Conn
	Random
	Small
	Large
)

var modeNames = [...]string{
	Near:   "near",
	Conn:   "conn",
	Random: "random",
	Small:  "small",
	Large:  "large",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

func Modes() []Mode { return []Mode{Near, Conn, Random, Large, Small} }

func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown order %q", s)
}

// DefaultOwnedBonus deprioritizes territories the operator already holds.
const DefaultOwnedBonus = 100

type Orderer struct {
	Catalog    *catalog.Catalog
	OwnedBonus int
	// Mine reports whether an owner id is one of the operator's identities.
	Mine func(ownerID string) bool
	Rand *rand.Rand
}

// Targets returns every territory in snap in the order defined by mode.
func (o *Orderer) Targets(snap *world.Snapshot, mode Mode) []string {
	codes := snap.Codes()
	switch mode {
	case Near:
		return o.byDistance(snap, codes, false)
	case Conn:
		return o.byDistance(snap, codes, true)
	case Random:
		r := o.Rand
		if r == nil {
			r = rand.New(rand.NewSource(rand.Int63()))
		}
		r.Shuffle(len(codes), func(i, j int) { codes[i], codes[j] = codes[j], codes[i] })
		sort.SliceStable(codes, func(i, j int) bool {
			return o.pointsToWin(snap, codes[i]) < o.pointsToWin(snap, codes[j])
		})
		return codes
	case Small:
		sort.SliceStable(codes, func(i, j int) bool { return o.area(codes[i]) < o.area(codes[j]) })
		return codes
	case Large:
		sort.SliceStable(codes, func(i, j int) bool { return o.area(codes[i]) > o.area(codes[j]) })
		return codes
	default:
		panic(fmt.Sprintf("order: unhandled mode %v", mode))
	}
}

func (o *Orderer) mine(snap *world.Snapshot, code string) bool {
	return o.Mine != nil && o.Mine(snap.OwnerOf(code))
}

func (o *Orderer) pointsToWin(snap *world.Snapshot, code string) int {
	lv := snap.LevelOf(code)
	if o.mine(snap, code) {
		return lv - o.OwnedBonus
	}
	return lv
}

func (o *Orderer) area(code string) float64 {
	if o.Catalog == nil {
		return 0
	}
	t, _ := o.Catalog.Lookup(code)
	return t.Area
}

type ranked struct {
	code string
	dist float64
	ptw  int
}

// byDistance puts held territories first, then the rest by squared distance
// to the closest held neighbor. codes must be sorted.
func (o *Orderer) byDistance(snap *world.Snapshot, codes []string, connectedOnly bool) []string {
	var mine, rest []ranked
	for _, c := range codes {
		if o.mine(snap, c) {
			mine = append(mine, ranked{code: c, ptw: o.pointsToWin(snap, c)})
		}
	}
	for _, c := range codes {
		if o.mine(snap, c) {
			continue
		}
		d := o.nearestMineNeighbor(snap, c)
		if connectedOnly && math.IsInf(d, 1) {
			continue
		}
		rest = append(rest, ranked{code: c, dist: d})
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].ptw < mine[j].ptw })
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].dist < rest[j].dist })

	out := make([]string, 0, len(mine)+len(rest))
	for _, r := range mine {
		out = append(out, r.code)
	}
	for _, r := range rest {
		out = append(out, r.code)
	}
	return out
}

func (o *Orderer) nearestMineNeighbor(snap *world.Snapshot, code string) float64 {
	if o.Catalog == nil {
		return math.Inf(1)
	}
	t, ok := o.Catalog.Lookup(code)
	if !ok {
		return math.Inf(1)
	}
	best := math.Inf(1)
	for _, n := range t.Neighbors {
		if !o.mine(snap, n) {
			continue
		}
		nt, _ := o.Catalog.Lookup(n)
		dx := nt.Centroid[0] - t.Centroid[0]
		dy := nt.Centroid[1] - t.Centroid[1]
		if d := dx*dx + dy*dy; d < best {
			best = d
		}
	}
	return best
}
