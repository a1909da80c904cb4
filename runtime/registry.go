package runtime

import (
	"chat-gateway/domain"
	"encoding/json"
	"log/slog"
	"sync"
)

type Registry struct {
	mu          sync.RWMutex
	log         *slog.Logger
	Connections map[string]*Connection // map connection ID -> Connection
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:         log,
		Connections: make(map[string]*Connection),
	}
}

// Add registers a freshly upgraded connection. It receives room broadcasts once it has joined.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Connections[conn.ID()] = conn
}

// Remove forgets a connection. Removing an unknown connection is a no-op.
func (r *Registry) Remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Connections, conn.ID())
}

func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.Connections[id]
	return conn, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Connections)
}

// Rooms counts the distinct rooms at least one registered connection joined.
func (r *Registry) Rooms() int {
	rooms := make(map[domain.RoomID]struct{})
	for _, conn := range r.Snapshot() {
		if room := conn.RoomID(); room != "" {
			rooms[room] = struct{}{}
		}
	}
	return len(rooms)
}

// Snapshot copies the registered connections so callers can iterate without the lock.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.Connections))
	for _, conn := range r.Connections {
		conns = append(conns, conn)
	}
	return conns
}

// Broadcast writes payload as JSON to every connection that joined roomID and returns
// how many writes succeeded. A failing connection is logged and skipped.
func (r *Registry) Broadcast(roomID domain.RoomID, payload any) int {
	if roomID == "" {
		return 0
	}
	text, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("Unable to marshal broadcast payload", "room", roomID, "error", err)
		return 0
	}

	delivered := 0
	for _, conn := range r.Snapshot() {
		if conn.RoomID() != roomID {
			continue
		}
		if err := conn.Send(text); err != nil {
			r.log.Warn("Broadcast failed", "connID", conn.ID(), "room", roomID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendTo writes payload as JSON to a single connection.
func (r *Registry) SendTo(conn *Connection, payload any) error {
	text, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.Send(text)
}
