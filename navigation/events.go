package navigation

import (
	"time"

	"safe-route-server/planner"
)

type EventType string

const (
	EventState               EventType = "state"
	EventDeviation           EventType = "deviation"
	EventRerouted            EventType = "rerouted"
	EventRecalculationFailed EventType = "recalculation_failed"
	EventZoneAlert           EventType = "zone_alert"
)

// Event is pushed to session subscribers, e.g. a WebSocket client.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	State     State           `json:"state"`
	Deviation *DeviationEvent `json:"deviation,omitempty"`
	Route     *planner.Route  `json:"route,omitempty"`
	Alert     *Alert          `json:"alert,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// Subscribe registers a buffered event channel. Events are dropped for a
// subscriber whose buffer is full. The channel is closed by the returned
// cancel func or when monitoring stops.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			close(sub)
			delete(s.subscribers, id)
		}
	}
}

func (s *Session) publishLocked(ev Event) {
	ev.SessionID = s.id
	ev.State = s.state
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("subscriber buffer full, dropping event", "subscriber", id, "type", ev.Type)
		}
	}
}
