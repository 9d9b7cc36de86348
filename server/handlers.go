// Package server HTTP handlers and their shared dependencies.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/thedrkness/livebot/resolver"
)

// Maximum number of webhook message ids remembered for replay suppression.
const maxSeenMessages = 10000

// EventSink receives verified online/offline signals. Satisfied by
// *resolver.Service in production.
type EventSink interface {
	OnStreamOnline(ctx context.Context, ev resolver.StreamOnlineEvent)
	OnStreamOffline(ctx context.Context, ev resolver.StreamOfflineEvent)
}

// Options carries the handler configuration that is not a dependency.
type Options struct {
	// ChannelID is the watched broadcaster; webhook events for other
	// broadcasters are acknowledged and dropped.
	ChannelID string
	// EventSubSecret verifies webhook signatures. Empty disables the webhook.
	EventSubSecret string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db   *sql.DB
	ctx  context.Context
	sink EventSink
	opts Options

	seenMu  sync.Mutex
	seen    map[string]time.Time
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, sink EventSink, opts Options) *Handlers {
	return &Handlers{
		db:      db,
		ctx:     ctx,
		sink:    sink,
		opts:    opts,
		seen:    make(map[string]time.Time),
		started: time.Now(),
	}
}

// markSeen records a webhook message id, reporting whether it was already
// known. The map is pruned opportunistically to stay bounded.
func (h *Handlers) markSeen(id string) bool {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	if _, dup := h.seen[id]; dup {
		return true
	}
	if len(h.seen) >= maxSeenMessages {
		cutoff := time.Now().Add(-10 * time.Minute)
		for k, t := range h.seen {
			if t.Before(cutoff) {
				delete(h.seen, k)
			}
		}
	}
	h.seen[id] = time.Now()
	return false
}
