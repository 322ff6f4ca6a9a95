// Package session keeps open store connections keyed by connection
// identity, so repeated merges against one database share a client.
// Idle sessions expire after a TTL and the least recently used session is
// evicted at capacity; either way the connection is closed.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/logging"
)

// Defaults used when a Registry is built with zero values.
const (
	DefaultCapacity = 16
	DefaultTTL      = 10 * time.Minute
)

// closeTimeout bounds closing an evicted connection.
const closeTimeout = 5 * time.Second

// Opener dials a connection for key.
type Opener func(ctx context.Context, key string) (docstore.Conn, error)

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, docstore.Conn]
	open   Opener
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for close failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry holding at most capacity sessions, each expiring
// ttl after it was registered. open may be nil if callers only Register.
func New(capacity int, ttl time.Duration, open Opener, opts ...Option) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{open: open, logger: logging.Discard()}
	for _, o := range opts {
		o(r)
	}
	r.cache = expirable.NewLRU[string, docstore.Conn](capacity, r.evicted, ttl)
	return r
}

func (r *Registry) evicted(key string, c docstore.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		r.logger.Warn("closing evicted session failed", "session", key, "error", err)
		return
	}
	r.logger.Debug("session closed", "session", key)
}

// Register stores c under key. A different connection already registered
// under key is closed.
func (r *Registry) Register(key string, c docstore.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(key, c)
}

func (r *Registry) register(key string, c docstore.Conn) {
	if prev, ok := r.cache.Peek(key); ok && prev != c {
		r.cache.Remove(key)
	}
	r.cache.Add(key, c)
}

// Lookup returns the live session for key.
func (r *Registry) Lookup(key string) (docstore.Conn, bool) {
	return r.cache.Get(key)
}

// Get returns the session for key, opening and registering one if needed.
func (r *Registry) Get(ctx context.Context, key string) (docstore.Conn, error) {
	if c, ok := r.cache.Get(key); ok {
		return c, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache.Get(key); ok {
		return c, nil
	}
	if r.open == nil {
		return nil, fmt.Errorf("no session for %q and no opener configured", key)
	}
	c, err := r.open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open session %q: %w", key, err)
	}
	r.register(key, c)
	return c, nil
}

// Evict closes and forgets the session for key. It reports whether one
// was registered.
func (r *Registry) Evict(key string) bool {
	return r.cache.Remove(key)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}

// Close closes every session.
func (r *Registry) Close() {
	r.cache.Purge()
}
