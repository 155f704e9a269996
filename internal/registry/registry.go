// ABOUTME: Tracks live client connections keyed by authenticated identity.
// ABOUTME: Last connect wins; deregistration is guarded by connection ID.

package registry

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Handle is the registry's view of one live connection.
type Handle interface {
	// Identity is the authenticated identity that owns the connection.
	Identity() string
	// ID is unique per physical connection, so a reconnect under the same
	// identity gets a different ID.
	ID() string
	// Send queues an encoded frame for the client.
	Send(ctx context.Context, frame []byte) error
	// Close terminates the connection with a websocket close code.
	Close(code int, reason string) error
}

// Registry maps identities to their current connection.
type Registry struct {
	handles map[string]Handle
	mu      sync.RWMutex
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles: make(map[string]Handle),
		logger:  logger.With("component", "registry"),
	}
}

// Register installs h as the connection for its identity and returns the
// handle it replaced, or nil. The previous handle is not closed here.
func (r *Registry) Register(h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity := h.Identity()
	previous := r.handles[identity]
	r.handles[identity] = h

	if previous != nil {
		r.logger.Info("session superseded",
			"identity", identity,
			"connection_id", h.ID(),
			"previous_connection_id", previous.ID(),
			"total_sessions", len(r.handles),
		)
	} else {
		r.logger.Info("session registered",
			"identity", identity,
			"connection_id", h.ID(),
			"total_sessions", len(r.handles),
		)
	}
	return previous
}

// Deregister removes h only if it is still the current connection for its
// identity. Reports whether an entry was removed.
func (r *Registry) Deregister(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity := h.Identity()
	current, ok := r.handles[identity]
	if !ok || current.ID() != h.ID() {
		r.logger.Debug("stale deregister ignored",
			"identity", identity,
			"connection_id", h.ID(),
		)
		return false
	}

	delete(r.handles, identity)
	r.logger.Info("session deregistered",
		"identity", identity,
		"connection_id", h.ID(),
		"total_sessions", len(r.handles),
	)
	return true
}

// Lookup returns the current connection for identity.
func (r *Registry) Lookup(identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[identity]
	return h, ok
}

// Count returns the number of connected identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Identities returns the connected identities in sorted order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// CloseAll closes every registered connection and empties the registry.
// Used during gateway shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]Handle)
	r.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(code, reason); err != nil {
			r.logger.Debug("close during shutdown failed",
				"identity", h.Identity(),
				"connection_id", h.ID(),
				"error", err,
			)
		}
	}
	if len(handles) > 0 {
		r.logger.Info("closed all sessions", "count", len(handles))
	}
}
