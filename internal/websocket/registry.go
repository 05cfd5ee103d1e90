package websocket

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Member is what the registry needs from a connected client: a stable id and
// a non-blocking way to hand it a payload.
type Member interface {
	ID() string
	Send(payload []byte) error
}

type registryEntry struct {
	member      Member
	rooms       map[string]struct{}
	connectedAt time.Time
}

// Registry holds the connected clients and their room memberships. It keeps
// both directions (client -> rooms, room -> members) so interest counts and
// member lookups are O(1) per room.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*registryEntry
	rooms   map[string]map[string]Member
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*registryEntry),
		rooms:   make(map[string]map[string]Member),
	}
}

// Register adds a client with an empty room set.
func (r *Registry) Register(m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := m.ID()
	if _, exists := r.clients[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, id)
	}
	r.clients[id] = &registryEntry{
		member:      m,
		rooms:       make(map[string]struct{}),
		connectedAt: time.Now(),
	}
	return nil
}

// Deregister removes the client and every membership it held, returning one
// transition per room it left. Unknown ids are a no-op.
func (r *Registry) Deregister(clientID string) []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.clients[clientID]
	if !exists {
		return nil
	}

	transitions := make([]Transition, 0, len(entry.rooms))
	for room := range entry.rooms {
		transitions = append(transitions, r.removeMemberLocked(clientID, room))
	}
	delete(r.clients, clientID)

	sort.Slice(transitions, func(i, j int) bool { return transitions[i].Room < transitions[j].Room })
	return transitions
}

// Join adds room to the client's set. Joining an already-joined room returns
// an unchanged transition.
func (r *Registry) Join(clientID, room string) (Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.clients[clientID]
	if !exists {
		return Transition{Room: room}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	members := r.rooms[room]
	t := Transition{Room: room, Before: len(members)}

	if _, joined := entry.rooms[room]; !joined {
		if members == nil {
			members = make(map[string]Member)
			r.rooms[room] = members
		}
		members[clientID] = entry.member
		entry.rooms[room] = struct{}{}
	}

	t.After = len(members)
	return t, nil
}

// Leave removes room from the client's set. Leaving a room that was never
// joined returns an unchanged transition.
func (r *Registry) Leave(clientID, room string) (Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.clients[clientID]
	if !exists {
		return Transition{Room: room}, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	if _, joined := entry.rooms[room]; !joined {
		n := len(r.rooms[room])
		return Transition{Room: room, Before: n, After: n}, nil
	}

	t := r.removeMemberLocked(clientID, room)
	delete(entry.rooms, room)
	return t, nil
}

func (r *Registry) removeMemberLocked(clientID, room string) Transition {
	members := r.rooms[room]
	t := Transition{Room: room, Before: len(members)}

	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	t.After = len(members)
	return t
}

// MembersOf returns the clients joined to room right now.
func (r *Registry) MembersOf(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	result := make([]Member, 0, len(members))
	for _, m := range members {
		result = append(result, m)
	}
	return result
}

func (r *Registry) InterestCount(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the client's rooms in sorted order.
func (r *Registry) Rooms(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.clients[clientID]
	if !exists {
		return nil
	}
	rooms := make([]string, 0, len(entry.rooms))
	for room := range entry.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (r *Registry) IsMember(clientID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[room][clientID]
	return ok
}

func (r *Registry) Has(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.clients[clientID]
	return ok
}

func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// RoomCount is the number of rooms with at least one local member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ConnectedAt returns when the client registered.
func (r *Registry) ConnectedAt(clientID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.clients[clientID]
	if !exists {
		return time.Time{}, false
	}
	return entry.connectedAt, true
}
