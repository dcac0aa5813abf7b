package navigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"safe-route-server/geo"
	"safe-route-server/planner"
)

// Registry tracks live sessions by id.
type Registry struct {
	defaults Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions share defaults. The ID
// field of defaults is ignored.
func NewRegistry(defaults Options) *Registry {
	defaults.ID = ""
	return &Registry{
		defaults: defaults,
		sessions: make(map[string]*Session),
	}
}

// Start creates a monitoring session. A zero cfg uses the registry default.
func (r *Registry) Start(route planner.Route, destination geo.Coordinate, cfg Config) (*Session, error) {
	opts := r.defaults
	opts.ID = uuid.NewString()
	if cfg != (Config{}) {
		opts.Config = cfg
	}
	s := NewSession(opts)
	if err := s.StartMonitoring(route, destination); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Stop stops and forgets a session.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	s.StopMonitoring()
	return nil
}

// StopAll stops every session, used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.StopMonitoring()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap stops and forgets sessions idle for at least ttl. It returns the
// number of sessions removed.
func (r *Registry) Reap(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.IdleFor(now) >= ttl {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.logger.Info("session expired", "idle_ttl", ttl)
		s.StopMonitoring()
	}
	return len(expired)
}

// ReapIdle runs Reap every interval until ctx is done.
func (r *Registry) ReapIdle(ctx context.Context, ttl, interval time.Duration) {
	now := r.defaults.Clock
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(now(), ttl)
		}
	}
}
