package services

import (
	"sync"

	"github.com/google/uuid"
)

// ClientConn is the minimal handle the directory holds for a live
// connection. *websocket.Conn satisfies it; tests use fakes.
type ClientConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// PresenceDirectory maps an authenticated user to their live connection
// handles. A user may hold several at once (one per device). The directory
// only tracks handles; delivering messages over them is the transport's job.
type PresenceDirectory struct {
	mu    sync.RWMutex
	conns map[uint]map[string]ClientConn
}

func NewPresenceDirectory() *PresenceDirectory {
	return &PresenceDirectory{
		conns: make(map[uint]map[string]ClientConn),
	}
}

// Add registers a connection for the user and returns its registration id.
// Additive: existing connections of the same user are untouched.
func (d *PresenceDirectory) Add(userID uint, conn ClientConn) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	if d.conns[userID] == nil {
		d.conns[userID] = make(map[string]ClientConn)
	}
	d.conns[userID][id] = conn
	return id
}

// Remove drops one registration. No-op when the user or id is unknown.
func (d *PresenceDirectory) Remove(userID uint, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.conns[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(d.conns, userID)
	}
}

// Handles returns the user's live connection handles.
func (d *PresenceDirectory) Handles(userID uint) []ClientConn {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.conns[userID]
	handles := make([]ClientConn, 0, len(set))
	for _, c := range set {
		handles = append(handles, c)
	}
	return handles
}

// Online reports whether the user has at least one live connection.
func (d *PresenceDirectory) Online(userID uint) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns[userID]) > 0
}

// OnlineUsers lists users with at least one live connection.
func (d *PresenceDirectory) OnlineUsers() []uint {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]uint, 0, len(d.conns))
	for id := range d.conns {
		users = append(users, id)
	}
	return users
}

// Count returns the total number of live connections.
func (d *PresenceDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, set := range d.conns {
		n += len(set)
	}
	return n
}

// CloseAll closes and drops every registration for one user. Used when all
// of a user's credentials get revoked.
func (d *PresenceDirectory) CloseAll(userID uint) {
	d.mu.Lock()
	set := d.conns[userID]
	delete(d.conns, userID)
	d.mu.Unlock()

	for _, c := range set {
		c.Close()
	}
}

// Global presence directory instance
var (
	globalPresence *PresenceDirectory
	presenceOnce   sync.Once
)

// GetPresence returns the global presence directory singleton
func GetPresence() *PresenceDirectory {
	presenceOnce.Do(func() {
		globalPresence = NewPresenceDirectory()
	})
	return globalPresence
}
