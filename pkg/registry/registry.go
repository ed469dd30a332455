package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Link is the sending side of a live transport connection. The registry never
// dials or closes links on its own; it only hands them out.
type Link interface {
	Send(message []byte)
	Close(err error)
}

// Connection is the registry's view of a single live duplex link.
type Connection struct {
	ID          uuid.UUID
	UserID      string // empty for anonymous links
	DisplayName string
	ConnectedAt time.Time
	Link        Link
}

// Registry is the authoritative in-memory mapping of user identity to live
// connections. A connection maps to at most one user; a user maps to zero or
// more connections (multi-device). All methods are safe for concurrent use;
// mutations are serialized, so a concurrent add and remove of the same
// connection settle in mutation order (last write wins).
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
	users map[string]map[uuid.UUID]*Connection

	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		users:  make(map[string]map[uuid.UUID]*Connection),
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Add registers a connection, overwriting metadata if the ID is already
// present. Overwrite-on-add keeps reconnect races harmless: a late disconnect
// notification for the old registration cannot resurrect stale metadata.
func (r *Registry) Add(connID uuid.UUID, userID, displayName string, link Link) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.conns[connID]; exists {
		r.unindexLocked(old)
		r.logger.Debug("Re-registering known connection", slog.String("connID", connID.String()))
	}

	conn := &Connection{
		ID:          connID,
		UserID:      userID,
		DisplayName: displayName,
		ConnectedAt: time.Now(),
		Link:        link,
	}
	r.conns[connID] = conn
	if userID != "" {
		byConn, ok := r.users[userID]
		if !ok {
			byConn = make(map[uuid.UUID]*Connection)
			r.users[userID] = byConn
		}
		byConn[connID] = conn
	}

	r.logger.Debug("Connection registered", slog.String("connID", connID.String()), slog.String("userID", userID))
	return conn
}

// Remove drops a connection. Unknown IDs are a no-op: a disconnect callback
// can race a registration that never completed.
func (r *Registry) Remove(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	r.unindexLocked(conn)
	r.logger.Debug("Connection removed", slog.String("connID", connID.String()))
}

// unindexLocked detaches a connection from the user index. Caller holds mu.
func (r *Registry) unindexLocked(conn *Connection) {
	if conn.UserID == "" {
		return
	}
	byConn, ok := r.users[conn.UserID]
	if !ok {
		return
	}
	delete(byConn, conn.ID)
	if len(byConn) == 0 {
		delete(r.users, conn.UserID)
	}
}

func (r *Registry) Get(connID uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connID]
	return conn, ok
}

func (r *Registry) Has(connID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID]
	return ok
}

func (r *Registry) IsUserConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

func (r *Registry) ConnectedUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// ConnectionsForUser returns the IDs of the user's live connections, empty if
// none.
func (r *Registry) ConnectionsForUser(userID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byConn := r.users[userID]
	ids := make([]uuid.UUID, 0, len(byConn))
	for id := range byConn {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) UserConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// OldestUserConnection is used by the connection limiter's cycle mode.
func (r *Registry) OldestUserConnection(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Connection
	for _, conn := range r.users[userID] {
		if oldest == nil || conn.ConnectedAt.Before(oldest.ConnectedAt) {
			oldest = conn
		}
	}
	return oldest, oldest != nil
}

func (r *Registry) AllConnections() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// All returns every live registry entry, for shutdown sweeps.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// PurgeStale removes every entry the transport no longer considers live and
// returns how many were dropped. Registry state can drift from transport
// truth after missed disconnect callbacks; callers run this periodically or
// before trusting IsUserConnected.
func (r *Registry) PurgeStale(isLive func(connID uuid.UUID) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	for id, conn := range r.conns {
		if isLive(id) {
			continue
		}
		delete(r.conns, id)
		r.unindexLocked(conn)
		purged++
		r.logger.Warn("Purged stale connection", slog.String("connID", id.String()), slog.String("userID", conn.UserID))
	}
	return purged
}
