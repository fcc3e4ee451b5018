package session

import "sync"

type Role int

const (
	RoleMember Role = iota
	RoleAdmin
)

// Sender delivers an event to a single connection. The websocket hub
// implements it with buffered, non-blocking writes so fan-out never stalls a
// session handler.
type Sender interface {
	Send(connID string, e Event)
}

// Rooms is the explicit room-membership relation
// (sessionKey, connID) -> role. It is mutated only by presence operations
// and queried for fan-out; transport state is never consulted.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]Role
	sender  Sender
}

func NewRooms(sender Sender) *Rooms {
	return &Rooms{
		members: make(map[string]map[string]Role),
		sender:  sender,
	}
}

func (r *Rooms) Join(key, connID string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.members[key]
	if !ok {
		room = make(map[string]Role)
		r.members[key] = room
	}
	room[connID] = role
}

func (r *Rooms) Leave(key, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.members[key]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.members, key)
	}
}

// ToRoom delivers e to every connection in the session's room, skipping any
// connection listed in exclude.
func (r *Rooms) ToRoom(key string, e Event, exclude ...string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID := range r.members[key] {
		if contains(exclude, connID) {
			continue
		}
		r.sender.Send(connID, e)
	}
}

// ToAdmins delivers e to the admin-only subset of the room.
func (r *Rooms) ToAdmins(key string, e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for connID, role := range r.members[key] {
		if role == RoleAdmin {
			r.sender.Send(connID, e)
		}
	}
}

// ToConn delivers e to one connection, whether or not it has joined a room.
// Rejection and waiting notices go to connections that were never admitted.
func (r *Rooms) ToConn(connID string, e Event) {
	if connID == "" {
		return
	}
	r.sender.Send(connID, e)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
