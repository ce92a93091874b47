package bridge

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"vale/internal/logger"
)

// connectionRecord tracks one live authenticated connection.
type connectionRecord struct {
	conn         *Conn
	lastActivity time.Time
}

// Registry maps user ids to their single live device connection. A new
// authentication for a user supersedes the previous connection
// (last-writer-wins); at most one record exists per user at any instant.
type Registry struct {
	records map[string]*connectionRecord
	logger  zerolog.Logger
	mutex   sync.RWMutex
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*connectionRecord),
		logger:  logger.New(),
	}
}

// Register records the connection for a user and returns the superseded
// connection, if any, so the caller can close it. Re-registering the same
// connection is a no-op overwrite.
func (r *Registry) Register(userID string, conn *Conn) *Conn {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var superseded *Conn
	if existing, ok := r.records[userID]; ok && existing.conn != conn {
		superseded = existing.conn
	}

	r.records[userID] = &connectionRecord{
		conn:         conn,
		lastActivity: time.Now(),
	}

	r.logger.Info().
		Str("user_id", userID).
		Bool("superseded", superseded != nil).
		Int("connected", len(r.records)).
		Msg("Connection registered")

	return superseded
}

// Lookup returns the live connection for a user, or nil.
func (r *Registry) Lookup(userID string) *Conn {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, ok := r.records[userID]
	if !ok {
		return nil
	}
	return record.conn
}

// Touch refreshes a user's activity timestamp.
func (r *Registry) Touch(userID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if record, ok := r.records[userID]; ok {
		record.lastActivity = time.Now()
	}
}

// RemoveConn deletes whichever record holds the given connection handle. The
// registry is keyed by user id, so closure requires this reverse scan. It
// returns the user id that was removed, if any.
func (r *Registry) RemoveConn(conn *Conn) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for userID, record := range r.records {
		if record.conn == conn {
			delete(r.records, userID)
			r.logger.Info().
				Str("user_id", userID).
				Int("connected", len(r.records)).
				Msg("Connection removed")
			return userID, true
		}
	}

	return "", false
}

// EvictIdle removes every record idle for longer than the threshold and
// returns the evicted connections so the caller can close them.
func (r *Registry) EvictIdle(threshold time.Duration) []*Conn {
	now := time.Now()
	var evicted []*Conn

	r.mutex.Lock()
	for userID, record := range r.records {
		if now.Sub(record.lastActivity) > threshold {
			delete(r.records, userID)
			evicted = append(evicted, record.conn)
			r.logger.Warn().
				Str("user_id", userID).
				Time("last_activity", record.lastActivity).
				Msg("Evicting idle connection")
		}
	}
	r.mutex.Unlock()

	return evicted
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.records)
}

// Users returns the user ids with a live connection.
func (r *Registry) Users() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	users := make([]string, 0, len(r.records))
	for userID := range r.records {
		users = append(users, userID)
	}
	return users
}
