package chat

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry maps room ids to the sessions currently connected to them.
// A single RWMutex guards the mapping; callers only ever receive copies, so
// no reference into the map survives across a blocking send.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session
	index map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]*Session),
		index: make(map[string]string),
	}
}

// Register adds a session to roomID. A session already registered under a
// different room is moved; registering the same session id twice overwrites.
func (r *Registry) Register(roomID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.index[s.ID]; ok && previous != roomID {
		r.removeLocked(previous, s.ID)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[roomID] = members
	}
	members[s.ID] = s
	r.index[s.ID] = roomID
}

// Unregister removes a session from roomID and drops the room once empty.
// It reports whether the session was removed; repeated calls are no-ops.
func (r *Registry) Unregister(roomID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.index[s.ID]; !ok || current != roomID {
		return false
	}
	r.removeLocked(roomID, s.ID)
	return true
}

func (r *Registry) removeLocked(roomID, sessionID string) {
	delete(r.index, sessionID)
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// Members returns a point-in-time copy of the sessions in roomID, leaving out
// the session whose id equals excludingID.
func (r *Registry) Members(roomID, excludingID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := lo.Filter(lo.Values(r.rooms[roomID]), func(s *Session, _ int) bool {
		return s.ID != excludingID
	})
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// RoomOf returns the room a session is registered under.
func (r *Registry) RoomOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.index[sessionID]
	return roomID, ok
}

// Rooms returns the ids of all rooms with at least one session.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := lo.Keys(r.rooms)
	sort.Strings(rooms)
	return rooms
}

// Sessions returns a copy of every registered session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.FlatMap(lo.Values(r.rooms), func(members map[string]*Session, _ int) []*Session {
		return lo.Values(members)
	})
}

// SessionCount returns number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

// RoomCount returns number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
