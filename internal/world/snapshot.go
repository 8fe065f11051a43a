package world

import (
	"sort"
	"strconv"
)

type Owner struct {
	ID     string
	Name   string
	ClanID string
}

type Clan struct {
	ID   string
	Name string
}

// Holding is the mutable state of one territory.
type Holding struct {
	OwnerID string
	Level   int
}

// Snapshot is one full view of the world. A Snapshot is never modified after
// it is built; updates produce a new value.
type Snapshot struct {
	Version uint64

	holdings map[string]Holding
	owners   map[string]Owner
	clans    map[string]Clan
	online   map[string]struct{}
}

// SnapshotData is the raw material for a Snapshot. NewSnapshot copies it.
type SnapshotData struct {
	Holdings map[string]Holding
	Owners   map[string]Owner
	Clans    map[string]Clan
	Online   []string
}

func NewSnapshot(version uint64, d SnapshotData) *Snapshot {
	s := &Snapshot{
		Version:  version,
		holdings: make(map[string]Holding, len(d.Holdings)),
		owners:   make(map[string]Owner, len(d.Owners)),
		clans:    make(map[string]Clan, len(d.Clans)),
		online:   make(map[string]struct{}, len(d.Online)),
	}
	for k, v := range d.Holdings {
		s.holdings[k] = v
	}
	for k, v := range d.Owners {
		s.owners[k] = v
	}
	for k, v := range d.Clans {
		s.clans[k] = v
	}
	for _, id := range d.Online {
		s.online[id] = struct{}{}
	}
	return s
}

func (s *Snapshot) Holding(code string) (Holding, bool) {
	h, ok := s.holdings[code]
	return h, ok
}

func (s *Snapshot) Owner(id string) (Owner, bool) {
	o, ok := s.owners[id]
	return o, ok
}

func (s *Snapshot) Clan(id string) (Clan, bool) {
	c, ok := s.clans[id]
	return c, ok
}

func (s *Snapshot) IsOnline(id string) bool {
	_, ok := s.online[id]
	return ok
}

// OwnerOf returns the owner id of a territory, or "" when unknown.
func (s *Snapshot) OwnerOf(code string) string {
	return s.holdings[code].OwnerID
}

func (s *Snapshot) LevelOf(code string) int {
	return s.holdings[code].Level
}

// Codes returns every territory code with known state, sorted.
func (s *Snapshot) Codes() []string {
	out := make([]string, 0, len(s.holdings))
	for k := range s.holdings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Online returns the online owner ids, sorted.
func (s *Snapshot) Online() []string {
	out := make([]string, 0, len(s.online))
	for k := range s.online {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OnlineClans returns the set of clan ids with at least one online member.
func (s *Snapshot) OnlineClans() map[string]struct{} {
	out := map[string]struct{}{}
	for id := range s.online {
		if o, ok := s.owners[id]; ok && o.ClanID != "" {
			out[o.ClanID] = struct{}{}
		}
	}
	return out
}

// TerritoryCounts returns the number of territories held per owner.
func (s *Snapshot) TerritoryCounts() map[string]int {
	out := map[string]int{}
	for _, h := range s.holdings {
		out[h.OwnerID]++
	}
	return out
}

func (s *Snapshot) data() SnapshotData {
	d := SnapshotData{
		Holdings: s.holdings,
		Owners:   s.owners,
		Clans:    s.clans,
		Online:   make([]string, 0, len(s.online)),
	}
	for id := range s.online {
		d.Online = append(d.Online, id)
	}
	return d
}

type PlayerStat struct {
	ID          string
	Name        string
	Territories int
	Points      int
}

// Leaderboard lists owners with any points, most points first.
func (s *Snapshot) Leaderboard() []PlayerStat {
	counts := map[string]int{}
	points := map[string]int{}
	for _, h := range s.holdings {
		counts[h.OwnerID]++
		points[h.OwnerID] += h.Level
	}
	out := make([]PlayerStat, 0, len(points))
	for id, p := range points {
		if p == 0 {
			continue
		}
		o, ok := s.owners[id]
		if !ok {
			continue
		}
		out = append(out, PlayerStat{ID: id, Name: o.Name, Territories: counts[id], Points: p})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Territories != b.Territories {
			return a.Territories > b.Territories
		}
		return idLess(a.ID, b.ID)
	})
	return out
}

func idLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
