package bridge

import "sync"

// Mode is the bridge's view of a room's desired mode.
type Mode string

const (
	// ModeManual means the source room carries a user override.
	ModeManual Mode = "manual"
	// ModeScheduled means the source room follows its programmed schedule.
	ModeScheduled Mode = "scheduled"
)

// RoomState is the last state this bridge wrote to the target system
// for one room. Temperature is nil when the last write was a
// return-to-schedule. It reflects what the bridge wrote, not what the
// target system actually holds; the bridge never reads back.
type RoomState struct {
	Temperature *float64
	Mode        Mode
}

// Equal reports whether two states are identical. Equality is exact:
// nil temperatures only match nil temperatures. This is the sole rule
// that suppresses redundant writes.
func (s RoomState) Equal(o RoomState) bool {
	if s.Mode != o.Mode {
		return false
	}
	if (s.Temperature == nil) != (o.Temperature == nil) {
		return false
	}
	if s.Temperature == nil {
		return true
	}
	return *s.Temperature == *o.Temperature
}

// Store holds per-room sync state, keyed by Ngenic room UUID. It is
// sized once from the static mapping and never evicts. Only the
// reconciliation engine writes to it; the control surface reads it for
// reporting. Lost state on restart costs at most one redundant write
// cycle.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]RoomState
}

// NewStore creates a store with one (nil, scheduled) entry per room.
func NewStore(roomUUIDs []string) *Store {
	rooms := make(map[string]RoomState, len(roomUUIDs))
	for _, id := range roomUUIDs {
		rooms[id] = RoomState{Mode: ModeScheduled}
	}
	return &Store{rooms: rooms}
}

// Get returns the stored state for a room.
func (s *Store) Get(roomUUID string) (RoomState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[roomUUID]
	return st, ok
}

// Set records the state just written to the target system.
func (s *Store) Set(roomUUID string, st RoomState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomUUID] = st
}
