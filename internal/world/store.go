package world

import "sync/atomic"

type DeltaKind int

const (
	DeltaOnline DeltaKind = iota + 1
	DeltaOffline
	DeltaTerritory
)

// Delta is one pushed change from the live listener.
type Delta struct {
	Kind    DeltaKind
	OwnerID string
	Code    string
	Level   int
}

// Store publishes the current Snapshot. Readers call Current and keep the
// returned value for as long as they need a consistent view.
type Store struct {
	cur     atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func NewStore() *Store {
	s := &Store{}
	s.cur.Store(NewSnapshot(0, SnapshotData{}))
	return s
}

func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Replace publishes a full refresh and returns it stamped with a new version.
func (s *Store) Replace(d SnapshotData) *Snapshot {
	snap := NewSnapshot(s.version.Add(1), d)
	s.cur.Store(snap)
	return snap
}

// Apply folds a pushed delta into a new snapshot. Deltas are advisory; the
// next Replace discards them.
func (s *Store) Apply(d Delta) {
	for {
		old := s.cur.Load()
		next := applyDelta(old, d, s.version.Add(1))
		if next == nil {
			return
		}
		if s.cur.CompareAndSwap(old, next) {
			return
		}
	}
}

func applyDelta(old *Snapshot, d Delta, version uint64) *Snapshot {
	data := old.data()
	switch d.Kind {
	case DeltaOnline:
		if old.IsOnline(d.OwnerID) {
			return nil
		}
		data.Online = append(data.Online, d.OwnerID)
	case DeltaOffline:
		if !old.IsOnline(d.OwnerID) {
			return nil
		}
		online := data.Online[:0]
		for _, id := range data.Online {
			if id != d.OwnerID {
				online = append(online, id)
			}
		}
		data.Online = online
	case DeltaTerritory:
		if _, ok := old.holdings[d.Code]; !ok {
			return nil
		}
		holdings := make(map[string]Holding, len(data.Holdings))
		for k, v := range data.Holdings {
			holdings[k] = v
		}
		holdings[d.Code] = Holding{OwnerID: d.OwnerID, Level: d.Level}
		data.Holdings = holdings
	default:
		return nil
	}
	return NewSnapshot(version, data)
}
