package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"safe-route-server/geo"
)

// Category is the display label derived from a numeric risk value.
type Category string

const (
	High   Category = "high"
	Medium Category = "medium"
	Low    Category = "low"
)

const (
	HighThreshold   = 0.7
	MediumThreshold = 0.5
)

// numeric values assigned to zones that only carry a category
var categoryValues = map[Category]float64{
	High:   0.85,
	Medium: 0.6,
	Low:    0.25,
}

// labels accepted at ingestion, including the legacy French ones
var categoryAliases = map[string]Category{
	"high":   High,
	"medium": Medium,
	"low":    Low,
	"élevé":  High,
	"eleve":  High,
	"moyen":  Medium,
	"faible": Low,
}

var ErrInvalidZone = errors.New("invalid zone")

var validate = validator.New()

// CategoryFor maps a risk value to its category.
func CategoryFor(value float64) Category {
	switch {
	case value >= HighThreshold:
		return High
	case value >= MediumThreshold:
		return Medium
	default:
		return Low
	}
}

// Zone is a hazard polygon with a numeric risk value in [0, 1].
type Zone struct {
	ID        string           `json:"zoneId" yaml:"zoneId"`
	Name      string           `json:"name,omitempty" yaml:"name,omitempty"`
	Ring      []geo.Coordinate `json:"geometry" yaml:"geometry"`
	RiskValue float64          `json:"risk_numeric" yaml:"risk_numeric"`
	Tags      []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func (z Zone) Category() Category { return CategoryFor(z.RiskValue) }

// Valid reports whether the ring is usable for evaluation.
func (z Zone) Valid() bool { return len(z.Ring) >= 3 }

// ZoneInput is the shape zones arrive in from files, the database and HTTP
// clients. Either RiskNumeric or Risk must be present; RiskNumeric wins when
// both are.
type ZoneInput struct {
	ID          string           `json:"zoneId" yaml:"zoneId"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty"`
	Geometry    []geo.Coordinate `json:"geometry" yaml:"geometry" validate:"required"`
	RiskNumeric *float64         `json:"risk_numeric,omitempty" yaml:"risk_numeric,omitempty" validate:"omitempty,gte=0,lte=1"`
	Risk        string           `json:"risk,omitempty" yaml:"risk,omitempty"`
	Tags        []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Zone converts the input into its canonical numeric form. Rings shorter
// than three points are accepted here and skipped by the evaluator.
func (in ZoneInput) Zone() (Zone, error) {
	if err := validate.Struct(in); err != nil {
		return Zone{}, fmt.Errorf("zone %q: %w: %v", in.ID, ErrInvalidZone, err)
	}
	for _, p := range in.Geometry {
		if !p.Valid() {
			return Zone{}, fmt.Errorf("zone %q: %w: vertex %v out of range", in.ID, ErrInvalidZone, p)
		}
	}

	var value float64
	if in.RiskNumeric != nil {
		value = *in.RiskNumeric
		if math.IsNaN(value) {
			return Zone{}, fmt.Errorf("zone %q: %w: risk is NaN", in.ID, ErrInvalidZone)
		}
	} else {
		if in.Risk == "" {
			return Zone{}, fmt.Errorf("zone %q: %w: no risk value or category", in.ID, ErrInvalidZone)
		}
		cat, ok := categoryAliases[strings.ToLower(strings.TrimSpace(in.Risk))]
		if !ok {
			return Zone{}, fmt.Errorf("zone %q: %w: unknown risk category %q", in.ID, ErrInvalidZone, in.Risk)
		}
		value = categoryValues[cat]
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Zone{
		ID:        id,
		Name:      in.Name,
		Ring:      in.Geometry,
		RiskValue: value,
		Tags:      in.Tags,
	}, nil
}

// Normalize converts a batch of inputs, logging and dropping the ones that
// fail validation.
func Normalize(inputs []ZoneInput, logger *slog.Logger) []Zone {
	if logger == nil {
		logger = slog.Default()
	}
	zones := make([]Zone, 0, len(inputs))
	for i, in := range inputs {
		z, err := in.Zone()
		if err != nil {
			logger.Warn("skipping zone", "index", i, "error", err)
			continue
		}
		if !z.Valid() {
			logger.Debug("zone ring has fewer than 3 points", "zone", z.ID)
		}
		zones = append(zones, z)
	}
	return zones
}
