package navigation

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"safe-route-server/geo"
	"safe-route-server/risk"
)

// Level is the urgency of a zone alert.
type Level string

const (
	LevelDanger  Level = "danger"
	LevelCaution Level = "caution"
	LevelWarning Level = "warning"
)

// Alert reports that the vehicle is in or close to a hazard zone.
type Alert struct {
	Level          Level          `json:"level"`
	ZoneID         string         `json:"zoneId"`
	ZoneName       string         `json:"zoneName,omitempty"`
	Category       risk.Category  `json:"category"`
	DistanceMeters float64        `json:"distance"`
	Position       geo.Coordinate `json:"position"`
	Message        string         `json:"message"`
	At             time.Time      `json:"at"`
}

// AlertConfig holds the alert distances and the repeat suppression window.
type AlertConfig struct {
	ImmediateMeters float64       `yaml:"immediate_meters" validate:"gt=0"`
	WarningMeters   float64       `yaml:"warning_meters" validate:"gtfield=ImmediateMeters"`
	Suppression     time.Duration `yaml:"suppression" validate:"gte=0"`
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		ImmediateMeters: 50,
		WarningMeters:   200,
		Suppression:     30 * time.Second,
	}
}

// Alerter turns positions into zone alerts. Alerts for a zone already
// reported within the suppression window are dropped.
type Alerter struct {
	cfg AlertConfig

	mu   sync.Mutex
	last map[string]time.Time
}

func NewAlerter(cfg AlertConfig) *Alerter {
	if cfg == (AlertConfig{}) {
		cfg = DefaultAlertConfig()
	}
	return &Alerter{cfg: cfg, last: make(map[string]time.Time)}
}

// Check returns at most one alert per zone, in zone order.
func (a *Alerter) Check(pos geo.Coordinate, zones []risk.Zone, now time.Time) []Alert {
	if !pos.Valid() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var alerts []Alert
	for _, z := range zones {
		if !z.Valid() {
			continue
		}
		alert, ok := a.classify(pos, z)
		if !ok {
			continue
		}
		if at, seen := a.last[z.ID]; seen && now.Sub(at) < a.cfg.Suppression {
			continue
		}
		a.last[z.ID] = now
		alert.At = now
		alerts = append(alerts, alert)
	}
	return alerts
}

// Reset forgets every previously reported zone.
func (a *Alerter) Reset() {
	a.mu.Lock()
	clear(a.last)
	a.mu.Unlock()
}

func (a *Alerter) classify(pos geo.Coordinate, z risk.Zone) (Alert, bool) {
	cat := z.Category()
	if cat == risk.Low {
		return Alert{}, false
	}

	alert := Alert{
		ZoneID:   z.ID,
		ZoneName: z.Name,
		Category: cat,
		Position: pos,
	}

	if geo.InRing(pos, geo.Ring(z.Ring)) {
		alert.Level = immediateLevel(cat)
		alert.Message = fmt.Sprintf("Inside a %s risk zone", cat)
		return alert, true
	}

	center, _ := geo.Centroid(z.Ring)
	d := geo.Haversine(pos, center)
	alert.DistanceMeters = d
	switch {
	case d <= a.cfg.ImmediateMeters:
		alert.Level = immediateLevel(cat)
		alert.Message = fmt.Sprintf("%s risk zone %.0f m ahead", capitalize(string(cat)), math.Round(d))
	case d <= a.cfg.WarningMeters && cat == risk.High:
		alert.Level = LevelWarning
		alert.Message = fmt.Sprintf("High risk zone in %.0f m", math.Round(d))
	default:
		return Alert{}, false
	}
	return alert, true
}

func immediateLevel(cat risk.Category) Level {
	if cat == risk.High {
		return LevelDanger
	}
	return LevelCaution
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
