package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"safe-route-server/geo"
	"safe-route-server/metrics"
	"safe-route-server/planner"
	"safe-route-server/risk"
)

var (
	ErrInvalidPosition        = errors.New("invalid position")
	ErrEmptyRoute             = errors.New("route has no geometry")
	ErrNotMonitoring          = errors.New("session is not monitoring")
	ErrNoAlternateRoute       = errors.New("no alternate route from current position")
	ErrRecalculationTimeout   = errors.New("route recalculation timed out")
	ErrRecalculationCancelled = errors.New("route recalculation cancelled")
	ErrSessionNotFound        = errors.New("navigation session not found")
)

// State is the deviation monitor state.
type State string

const (
	Idle          State = "idle"
	Monitoring    State = "monitoring"
	Deviated      State = "deviated"
	Recalculating State = "recalculating"
)

// Config holds the deviation monitor tunables.
type Config struct {
	ThresholdMeters float64       `yaml:"threshold_meters" validate:"gt=0"`
	Cooldown        time.Duration `yaml:"cooldown" validate:"gte=0"`
	RecalcTimeout   time.Duration `yaml:"recalc_timeout" validate:"gt=0"`
}

// LiveConfig is tuned for real GPS feeds.
func LiveConfig() Config {
	return Config{
		ThresholdMeters: 1000,
		Cooldown:        5 * time.Second,
		RecalcTimeout:   30 * time.Second,
	}
}

// SimulationConfig uses a tight threshold for simulated drives along the route.
func SimulationConfig() Config {
	cfg := LiveConfig()
	cfg.ThresholdMeters = 50
	return cfg
}

// Recalculator computes a fresh route from the current position.
// *planner.Planner satisfies it.
type Recalculator interface {
	Recalculate(ctx context.Context, from, to geo.Coordinate) (planner.Route, error)
}

// ZoneSource supplies the zones used for proximity alerts.
type ZoneSource interface {
	Zones() []risk.Zone
}

// DeviationEvent describes one detected deviation and its recalculation.
type DeviationEvent struct {
	SessionID       string         `json:"sessionId"`
	Position        geo.Coordinate `json:"position"`
	DistanceMeters  float64        `json:"distance"`
	ThresholdMeters float64        `json:"threshold"`
	Route           *planner.Route `json:"route,omitempty"`
	At              time.Time      `json:"at"`
}

// Update is the outcome of one position tick.
type Update struct {
	State     State           `json:"state"`
	Alerts    []Alert         `json:"alerts,omitempty"`
	Deviation *DeviationEvent `json:"deviation,omitempty"`
}

// Status is a point-in-time view of a session.
type Status struct {
	ID           string          `json:"sessionId"`
	State        State           `json:"state"`
	Destination  geo.Coordinate  `json:"destination"`
	LastPosition *geo.Coordinate `json:"lastPosition,omitempty"`
	Route        planner.Route   `json:"route"`
}

// Options configures a Session. Recalculator is required.
type Options struct {
	ID           string
	Config       Config
	Alerts       AlertConfig
	Recalculator Recalculator
	Zones        ZoneSource
	Metrics      *metrics.Registry
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Session monitors one vehicle against its active route.
//
// Position checks run at most once per cooldown. When the distance to the
// route exceeds the threshold the session moves to Deviated, then
// Recalculating, and back to Monitoring once a new route arrives or the
// attempt fails. StopMonitoring and ReplaceRoute cancel an in-flight
// recalculation; its result is discarded.
type Session struct {
	id      string
	cfg     Config
	recalc  Recalculator
	zones   ZoneSource
	alerter *Alerter
	metrics *metrics.Registry
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	state        State
	route        planner.Route
	destination  geo.Coordinate
	lastCheck    time.Time
	lastPosition *geo.Coordinate
	lastActive   time.Time
	generation   uint64
	cancelRecalc context.CancelFunc
	stopped      chan struct{}
	subscribers  map[int]chan Event
	nextSub      int
}

func NewSession(opts Options) *Session {
	s := &Session{
		id:          opts.ID,
		cfg:         opts.Config,
		recalc:      opts.Recalculator,
		zones:       opts.Zones,
		alerter:     NewAlerter(opts.Alerts),
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Clock,
		state:       Idle,
		subscribers: make(map[int]chan Event),
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.cfg == (Config{}) {
		s.cfg = LiveConfig()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session_id", s.id)
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config { return s.cfg }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Route returns the active route.
func (s *Session) Route() planner.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:          s.id,
		State:       s.state,
		Destination: s.destination,
		Route:       s.route,
	}
	if s.lastPosition != nil {
		p := *s.lastPosition
		st.LastPosition = &p
	}
	return st
}

// StartMonitoring arms the session with a route and the final destination.
// Calling it on a running session replaces both and restarts the cooldown.
func (s *Session) StartMonitoring(route planner.Route, destination geo.Coordinate) error {
	if len(route.Geometry) == 0 {
		return ErrEmptyRoute
	}
	if !destination.Valid() {
		return fmt.Errorf("destination (%v, %v): %w", destination.Lat, destination.Lon, ErrInvalidPosition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.abortRecalcLocked()
	if s.state == Idle {
		s.stopped = make(chan struct{})
		if s.metrics != nil {
			s.metrics.NavigationSessionsActive.Inc()
		}
	}
	s.route = route
	s.destination = destination
	s.lastCheck = time.Time{}
	s.lastPosition = nil
	s.lastActive = s.now()
	s.alerter.Reset()
	s.setStateLocked(Monitoring)
	s.logger.Info("monitoring started",
		"threshold_m", s.cfg.ThresholdMeters,
		"route_points", len(route.Geometry))
	return nil
}

// StopMonitoring returns the session to Idle, cancels any recalculation
// and closes every subscription. It is safe to call more than once.
func (s *Session) StopMonitoring() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle {
		return
	}
	s.abortRecalcLocked()
	s.setStateLocked(Idle)
	close(s.stopped)
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	if s.metrics != nil {
		s.metrics.NavigationSessionsActive.Dec()
	}
	s.logger.Info("monitoring stopped")
}

// ReplaceRoute swaps the active route. The last writer wins: a
// recalculation still in flight is cancelled and its result dropped.
func (s *Session) ReplaceRoute(route planner.Route) error {
	if len(route.Geometry) == 0 {
		return ErrEmptyRoute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Recalculating {
		s.abortRecalcLocked()
		s.setStateLocked(Monitoring)
	}
	s.route = route
	s.lastActive = s.now()
	r := route
	s.publishLocked(Event{Type: EventRerouted, Route: &r})
	return nil
}

// IdleFor reports how long the session has gone without a position, a
// route change or a subscriber.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribers) > 0 {
		return 0
	}
	return now.Sub(s.lastActive)
}

// Track runs the zone alert check and the deviation check for one position.
func (s *Session) Track(ctx context.Context, pos geo.Coordinate) (Update, error) {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
	alerts := s.CheckZones(pos)
	ev, err := s.OnPositionUpdate(ctx, pos)
	return Update{State: s.State(), Alerts: alerts, Deviation: ev}, err
}

// CheckZones returns the zone alerts for pos and publishes them to
// subscribers. It is a no-op while the session is idle.
func (s *Session) CheckZones(pos geo.Coordinate) []Alert {
	if s.zones == nil || !pos.Valid() || s.State() == Idle {
		return nil
	}
	alerts := s.alerter.Check(pos, s.zones.Zones(), s.now())
	if len(alerts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range alerts {
		a := alerts[i]
		s.publishLocked(Event{Type: EventZoneAlert, Alert: &a})
		if s.metrics != nil {
			s.metrics.ZoneAlertsTotal.WithLabelValues(string(a.Level)).Inc()
		}
	}
	return alerts
}

// OnPositionUpdate checks pos against the active route. It returns nil when
// the session is not monitoring, the cooldown has not elapsed, or pos is
// within the threshold. A deviation triggers a blocking recalculation from
// pos to the original destination; the returned event carries the new route
// on success. Failed recalculations leave the previous route active.
func (s *Session) OnPositionUpdate(ctx context.Context, pos geo.Coordinate) (*DeviationEvent, error) {
	if !pos.Valid() {
		return nil, fmt.Errorf("position (%v, %v): %w", pos.Lat, pos.Lon, ErrInvalidPosition)
	}

	s.mu.Lock()
	if s.state != Monitoring {
		s.mu.Unlock()
		return nil, nil
	}
	now := s.now()
	if !s.lastCheck.IsZero() && now.Sub(s.lastCheck) < s.cfg.Cooldown {
		s.mu.Unlock()
		return nil, nil
	}
	s.lastCheck = now
	p := pos
	s.lastPosition = &p

	distance := geo.DistanceToPolyline(pos, s.route.Geometry)
	if distance <= s.cfg.ThresholdMeters {
		s.mu.Unlock()
		return nil, nil
	}

	event := &DeviationEvent{
		SessionID:       s.id,
		Position:        pos,
		DistanceMeters:  distance,
		ThresholdMeters: s.cfg.ThresholdMeters,
		At:              now,
	}
	s.setStateLocked(Deviated)
	s.publishLocked(Event{Type: EventDeviation, Deviation: event})

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RecalcTimeout)
	s.generation++
	gen := s.generation
	s.cancelRecalc = cancel
	destination := s.destination
	s.setStateLocked(Recalculating)
	s.mu.Unlock()

	s.logger.Info("route deviation detected",
		"distance_m", distance,
		"threshold_m", s.cfg.ThresholdMeters,
		"lat", pos.Lat, "lon", pos.Lon)
	if s.metrics != nil {
		s.metrics.DeviationsTotal.Inc()
	}

	route, err := s.recalc.Recalculate(rctx, pos, destination)
	timedOut := errors.Is(rctx.Err(), context.DeadlineExceeded)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.recordRecalc("cancelled")
		s.logger.Info("recalculation result discarded")
		return event, ErrRecalculationCancelled
	}
	s.cancelRecalc = nil
	s.setStateLocked(Monitoring)

	switch {
	case err == nil:
		s.route = route
		event.Route = &route
		s.publishLocked(Event{Type: EventRerouted, Route: &route})
		s.recordRecalc("ok")
		return event, nil
	case timedOut || errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s", ErrRecalculationTimeout, s.cfg.RecalcTimeout)
		s.recordRecalc("timeout")
	case errors.Is(err, planner.ErrNoRoute):
		err = ErrNoAlternateRoute
		s.recordRecalc("no_route")
	case errors.Is(err, context.Canceled):
		err = fmt.Errorf("%w: %w", ErrRecalculationCancelled, err)
		s.recordRecalc("cancelled")
	default:
		err = fmt.Errorf("recalculate route: %w", err)
		s.recordRecalc("error")
	}
	s.logger.Warn("recalculation failed, keeping previous route", "error", err)
	s.publishLocked(Event{Type: EventRecalculationFailed, Error: err.Error()})
	return event, err
}

// Run consumes a position feed until ctx is done, the feed closes, or the
// session is stopped. Errors on individual positions are logged and skipped.
func (s *Session) Run(ctx context.Context, feed <-chan geo.Coordinate) error {
	s.mu.Lock()
	stopped := s.stopped
	idle := s.state == Idle
	s.mu.Unlock()
	if idle {
		return ErrNotMonitoring
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopped:
			return nil
		case pos, ok := <-feed:
			if !ok {
				return nil
			}
			if _, err := s.Track(ctx, pos); err != nil {
				if errors.Is(err, ErrInvalidPosition) {
					s.logger.Debug("ignoring position", "error", err)
					continue
				}
				s.logger.Warn("position update failed", "error", err)
			}
		}
	}
}

// abortRecalcLocked cancels an in-flight recalculation and invalidates its result.
func (s *Session) abortRecalcLocked() {
	s.generation++
	if s.cancelRecalc != nil {
		s.cancelRecalc()
		s.cancelRecalc = nil
	}
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("state change", "from", s.state, "to", st)
	s.state = st
	s.publishLocked(Event{Type: EventState})
}

func (s *Session) recordRecalc(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRecalculation(outcome)
	}
}
