package routing

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"safe-route-server/geo"
)

const (
	DepartText = "Depart"
	ArriveText = "Arrive"

	turnLeft      = "Turn left"
	turnRight     = "Turn right"
	continueAhead = "Continue straight"
	unnamedRoad   = "unnamed road"
	turnThreshold = 30.0 // degrees
)

// Instruction is one maneuver of a route.
type Instruction struct {
	Text     string         `json:"text"`
	Point    geo.Coordinate `json:"point"`
	Distance float64        `json:"distance"` // meters covered by this maneuver
}

// NodeLookup resolves node ids to positions.
type NodeLookup interface {
	Node(id int64) (*Node, bool)
}

// RoadNameLookup resolves the name of the road between two consecutive nodes.
type RoadNameLookup interface {
	RoadName(from, to int64) (string, bool)
}

// highway tags as they appear in OSM-derived names
var highwayLabels = map[string]string{
	"motorway":       "motorway",
	"trunk":          "expressway",
	"primary":        "primary road",
	"secondary":      "secondary road",
	"tertiary":       "tertiary road",
	"residential":    "residential street",
	"unclassified":   "unclassified road",
	"service":        "service road",
	"living_street":  "living street",
	"motorway_link":  "motorway ramp",
	"trunk_link":     "expressway ramp",
	"primary_link":   "primary road ramp",
	"secondary_link": "secondary road ramp",
	"tertiary_link":  "tertiary road ramp",
	"track":          "track",
	"road":           "road",
}

// HumanizeRoadName turns raw OSM names and highway tags into display text.
// "primary_link" becomes "Primary road ramp"; proper names only get their
// separators cleaned and first letter capitalised.
func HumanizeRoadName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return unnamedRoad
	}

	key := strings.ToLower(strings.Join(strings.Fields(name), "_"))
	if label, ok := highwayLabels[key]; ok {
		return capitalize(label)
	}

	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		lower := strings.ToLower(w)
		if lower == "link" {
			words[i] = "ramp"
			continue
		}
		if label, ok := highwayLabels[lower]; ok && lower == w {
			words[i] = label
		}
	}
	return capitalize(strings.Join(words, " "))
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// turnAngle returns the signed change of heading at b in degrees, in
// (-180, 180]. Positive is counter-clockwise, i.e. a left turn.
func turnAngle(a, b, c geo.Coordinate) float64 {
	in := math.Atan2(b.Lat-a.Lat, b.Lon-a.Lon)
	out := math.Atan2(c.Lat-b.Lat, c.Lon-b.Lon)
	deg := (out - in) * 180 / math.Pi
	for deg <= -180 {
		deg += 360
	}
	for deg > 180 {
		deg -= 360
	}
	return deg
}

func maneuver(angle float64) string {
	switch {
	case angle > turnThreshold:
		return turnLeft
	case angle < -turnThreshold:
		return turnRight
	default:
		return continueAhead
	}
}

// Compile converts a node path into turn-by-turn instructions. The first
// instruction is always Depart and the last Arrive, both with zero distance.
// Consecutive interior maneuvers with the same text merge into one whose
// distance accumulates and whose point moves to the latest node. Hops whose
// nodes are unknown are skipped. names may be nil, in which case roads are
// reported as unnamed.
func Compile(path []int64, nodes NodeLookup, names RoadNameLookup) []Instruction {
	if len(path) == 0 {
		return nil
	}

	coords := make([]geo.Coordinate, 0, len(path))
	ids := make([]int64, 0, len(path))
	for _, id := range path {
		if n, ok := nodes.Node(id); ok {
			coords = append(coords, n.Coordinate())
			ids = append(ids, id)
		}
	}
	if len(coords) == 0 {
		return nil
	}

	instructions := []Instruction{{Text: DepartText, Point: coords[0]}}

	var current *Instruction
	for i := 1; i < len(coords)-1; i++ {
		road := ""
		if names != nil {
			road, _ = names.RoadName(ids[i], ids[i+1])
		}
		text := fmt.Sprintf("%s on %s", maneuver(turnAngle(coords[i-1], coords[i], coords[i+1])), HumanizeRoadName(road))
		leg := geo.Haversine(coords[i], coords[i+1])

		if current != nil && current.Text == text {
			current.Distance += leg
			current.Point = coords[i]
			continue
		}
		if current != nil {
			instructions = append(instructions, *current)
		}
		current = &Instruction{Text: text, Point: coords[i], Distance: leg}
	}
	if current != nil {
		instructions = append(instructions, *current)
	}

	return append(instructions, Instruction{Text: ArriveText, Point: coords[len(coords)-1]})
}
