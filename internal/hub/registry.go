package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/auth"
	"github.com/lalith-99/stationchat/internal/observ"
)

// Registry is the connection registry and the room directory in one
// structure, so both views change under the same lock.
//
//   - clients: user id → the one live Client for that user.
//   - rooms:   branch id → set of user ids whose current Client is bound
//     to that branch.
//
// Room membership is derived: a user is in a room iff its registered
// Client carries that branch.
type Registry struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	rooms   map[string]map[uuid.UUID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[uuid.UUID]*Client),
		rooms:   make(map[string]map[uuid.UUID]struct{}),
	}
}

// Register binds c to id and makes it the user's live connection.
//
// A previous connection for the same user is replaced and returned. It is
// not closed: the old socket stays open, just no longer reachable by
// routing. If c itself was registered under an identity before (a second
// auth on the same socket), that binding is dropped and returned as
// released, so the caller can announce it.
func (r *Registry) Register(c *Client, id auth.Identity) (replaced *Client, released *auth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := c.Identity(); ok && r.clients[prev.UserID] == c {
		r.removeLocked(prev)
		released = &prev
	}

	if old, ok := r.clients[id.UserID]; ok && old != c {
		if oldID, ok := old.Identity(); ok {
			r.removeLocked(oldID)
		}
		replaced = old
	}

	c.bind(id)
	r.clients[id.UserID] = c
	room, ok := r.rooms[id.BranchID]
	if !ok {
		room = make(map[uuid.UUID]struct{})
		r.rooms[id.BranchID] = room
	}
	room[id.UserID] = struct{}{}

	observ.IdentitiesOnline.Set(float64(len(r.clients)))
	return replaced, released
}

// Unregister removes c if, and only if, it is still the user's registered
// connection. It reports false for unauthenticated or superseded clients,
// which leaves a newer connection for the same user untouched.
func (r *Registry) Unregister(c *Client) bool {
	id, ok := c.Identity()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[id.UserID] != c {
		return false
	}
	r.removeLocked(id)
	observ.IdentitiesOnline.Set(float64(len(r.clients)))
	return true
}

func (r *Registry) removeLocked(id auth.Identity) {
	delete(r.clients, id.UserID)
	if room, ok := r.rooms[id.BranchID]; ok {
		delete(room, id.UserID)
		if len(room) == 0 {
			delete(r.rooms, id.BranchID)
		}
	}
}

// Lookup returns the live connection for a user.
func (r *Registry) Lookup(userID uuid.UUID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// member is one entry of a room snapshot.
type member struct {
	userID uuid.UUID
	client *Client
}

// RoomMembers snapshots the connections in a branch room.
func (r *Registry) RoomMembers(branchID string) []member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[branchID]
	members := make([]member, 0, len(room))
	for userID := range room {
		members = append(members, member{userID: userID, client: r.clients[userID]})
	}
	return members
}

// All snapshots every registered connection.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		all = append(all, c)
	}
	return all
}

// Count is the number of identities online.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
