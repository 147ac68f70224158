package websocket

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pulse/server/internal/telemetry"
)

// Handle is one live transport the registry can push frames to
type Handle interface {
	ID() string
	// Send enqueues a frame without blocking. It reports false when the
	// transport is closed or its outbound buffer is full.
	Send(data []byte) bool
	Close() error
}

// Connection is a point-in-time view of one registered connection
type Connection struct {
	UserID       int64
	Handle       Handle
	DisplayName  string
	Kind         string
	LastActivity time.Time
}

type entry struct {
	handle       Handle
	displayName  string
	kind         string
	lastActivity atomic.Int64
}

// Registry tracks the live connections of every user. It is the only
// owner of the in-memory connection set. Frames are enqueued outside the
// lock; no network I/O ever happens while it is held.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]map[string]*entry

	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger, metrics *telemetry.Metrics) *Registry {
	return &Registry{
		users:   make(map[int64]map[string]*entry),
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds h to userID's connection set
func (r *Registry) Register(userID int64, h Handle, displayName, kind string) {
	e := &entry{handle: h, displayName: displayName, kind: kind}
	e.lastActivity.Store(r.now().UnixNano())

	r.mu.Lock()
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]*entry)
		r.users[userID] = conns
	}
	_, existed := conns[h.ID()]
	conns[h.ID()] = e
	r.mu.Unlock()

	if !existed {
		r.metrics.ConnectionOpened()
	}
}

// Unregister removes h from userID's set and returns how many connections
// the user still has. removed is false when h was not registered.
func (r *Registry) Unregister(userID int64, h Handle) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return 0, false
	}
	if _, ok := conns[h.ID()]; !ok {
		return len(conns), false
	}

	delete(conns, h.ID())
	r.metrics.ConnectionClosed()
	if len(conns) == 0 {
		delete(r.users, userID)
		return 0, true
	}
	return len(conns), true
}

// Touch records activity on every connection of userID
func (r *Registry) Touch(userID int64) {
	now := r.now().UnixNano()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.users[userID] {
		e.lastActivity.Store(now)
	}
}

// TouchConn records activity on a single connection of userID
func (r *Registry) TouchConn(userID int64, h Handle) {
	now := r.now().UnixNano()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.users[userID][h.ID()]; ok {
		e.lastActivity.Store(now)
	}
}

// IsOnline reports whether userID has at least one live connection
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// DisplayName returns the name userID connected with, if online
func (r *Registry) DisplayName(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.users[userID]
	if !ok {
		return "", false
	}
	for _, e := range conns {
		if e.displayName != "" {
			return e.displayName, true
		}
	}
	return "", true
}

// SendTo encodes ev once and enqueues it on every connection of userID.
// The returned count is for diagnostics only.
func (r *Registry) SendTo(userID int64, ev Outbound) int {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.users[userID]))
	for _, e := range r.users[userID] {
		handles = append(handles, e.handle)
	}
	r.mu.RUnlock()

	if len(handles) == 0 {
		return 0
	}

	data, err := Encode(ev, r.now())
	if err != nil {
		r.logger.Error("failed to encode event", "type", ev.Type(), "error", err)
		return 0
	}

	delivered := 0
	for _, h := range handles {
		if h.Send(data) {
			delivered++
		}
	}
	if delivered < len(handles) {
		r.logger.Debug("skipped unwritable connections", "user", userID, "type", ev.Type(), "skipped", len(handles)-delivered)
	}
	r.metrics.Pushed(string(ev.Type()), delivered)
	return delivered
}

// SendToConn encodes ev and enqueues it on a single connection
func (r *Registry) SendToConn(h Handle, ev Outbound) bool {
	data, err := Encode(ev, r.now())
	if err != nil {
		r.logger.Error("failed to encode event", "type", ev.Type(), "error", err)
		return false
	}
	ok := h.Send(data)
	if ok {
		r.metrics.Pushed(string(ev.Type()), 1)
	}
	return ok
}

// Stale returns the connections whose last activity is before cutoff
func (r *Registry) Stale(cutoff time.Time) []Connection {
	limit := cutoff.UnixNano()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []Connection
	for userID, conns := range r.users {
		for _, e := range conns {
			last := e.lastActivity.Load()
			if last < limit {
				stale = append(stale, Connection{
					UserID:       userID,
					Handle:       e.handle,
					DisplayName:  e.displayName,
					Kind:         e.kind,
					LastActivity: time.Unix(0, last),
				})
			}
		}
	}
	return stale
}

// OnlineUsers returns the ids of every connected user in ascending order
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	userIDs := make([]int64, 0, len(r.users))
	for userID := range r.users {
		userIDs = append(userIDs, userID)
	}
	r.mu.RUnlock()

	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })
	return userIDs
}

// OnlineCount returns the number of users with at least one connection
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// ConnectionCount returns the number of live connections across all users
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.users {
		total += len(conns)
	}
	return total
}
