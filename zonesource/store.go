// Package zonesource loads hazard zones from files or PostgreSQL and keeps
// the current set available to request handlers.
package zonesource

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"safe-route-server/metrics"
	"safe-route-server/risk"
)

type snapshot struct {
	zones    []risk.Zone
	source   string
	loadedAt time.Time
}

// Store holds the active zone snapshot. Readers never block; a reload swaps
// the whole slice.
type Store struct {
	current atomic.Pointer[snapshot]
	metrics *metrics.Registry
	logger  *slog.Logger
}

func NewStore(m *metrics.Registry, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{metrics: m, logger: logger}
	s.current.Store(&snapshot{})
	return s
}

// Zones returns the current snapshot. Callers must not modify it.
func (s *Store) Zones() []risk.Zone {
	return s.current.Load().zones
}

// Replace installs a new snapshot.
func (s *Store) Replace(source string, zones []risk.Zone) {
	s.current.Store(&snapshot{zones: zones, source: source, loadedAt: time.Now()})
	if s.metrics != nil {
		s.metrics.RecordZoneReload(source, len(zones), nil)
	}
	s.logger.Info("zones loaded", "source", source, "zones", len(zones))
}

// Fail records a reload failure; the previous snapshot stays active.
func (s *Store) Fail(source string, err error) {
	if s.metrics != nil {
		s.metrics.RecordZoneReload(source, 0, err)
	}
	s.logger.Warn("zone reload failed, keeping previous zones", "source", source, "error", err)
}

func (s *Store) Source() string { return s.current.Load().source }

func (s *Store) LoadedAt() time.Time { return s.current.Load().loadedAt }

// Fetcher returns a full zone set.
type Fetcher interface {
	Fetch(ctx context.Context) ([]risk.Zone, error)
}

// Poll fetches immediately and then on every interval until ctx is done.
// Fetch errors are recorded and the previous zones stay active, including
// on the first fetch. With interval <= 0 Poll fetches once and returns that
// fetch's error.
func Poll(ctx context.Context, source string, f Fetcher, store *Store, interval time.Duration) error {
	err := fetchInto(ctx, source, f, store)
	if interval <= 0 {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if fetchInto(ctx, source, f, store) != nil && ctx.Err() != nil {
				return nil
			}
		}
	}
}

func fetchInto(ctx context.Context, source string, f Fetcher, store *Store) error {
	zones, err := f.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			store.Fail(source, err)
		}
		return err
	}
	store.Replace(source, zones)
	return nil
}
