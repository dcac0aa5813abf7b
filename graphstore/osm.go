package graphstore

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// default used when an edge has no usable maxspeed tag
const defaultSpeedKmh = 50.0

var digits = regexp.MustCompile(`\d+(\.\d+)?`)

// nodeLinkGraph is the node-link JSON written by OSMnx exports.
type nodeLinkGraph struct {
	Graph struct {
		Directed bool           `json:"directed"`
		Nodes    []nodeLinkNode `json:"nodes"`
		Links    []nodeLinkEdge `json:"links"`
	} `json:"graph"`
}

type nodeLinkNode struct {
	ID  interface{} `json:"id"` // number or numeric string
	Y   float64     `json:"y"`
	X   float64     `json:"x"`
	Lat float64     `json:"lat"`
	Lon float64     `json:"lon"`
}

type nodeLinkEdge struct {
	Source     interface{} `json:"source"`
	Target     interface{} `json:"target"`
	Name       interface{} `json:"name"`    // string or array
	Highway    interface{} `json:"highway"` // string or array
	Maxspeed   interface{} `json:"maxspeed"`
	Length     float64     `json:"length"`
	DistanceM  float64     `json:"distance_m"`
	TravelTime float64     `json:"travel_time"`
	Weight     float64     `json:"weight"`
}

func convertID(id interface{}) (int64, error) {
	switch v := id.(type) {
	case json.Number:
		return v.Int64()
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported ID type: %T", id)
	}
}

// tagString flattens a tag that OSMnx may emit as a scalar or a list.
func tagString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			if s := tagString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// firstTag returns the first element of a list tag.
func firstTag(val interface{}) string {
	if list, ok := val.([]interface{}); ok {
		if len(list) == 0 {
			return ""
		}
		return tagString(list[0])
	}
	return tagString(val)
}

// parseSpeed reads km/h from a maxspeed tag such as "50", "50 mph" or ["30","50"].
func parseSpeed(speed interface{}) float64 {
	s := firstTag(speed)
	match := digits.FindString(s)
	if match == "" {
		return defaultSpeedKmh
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil || v <= 0 {
		return defaultSpeedKmh
	}
	if strings.Contains(s, "mph") {
		v *= 1.609344
	}
	return v
}

// ParseNodeLink decodes an OSMnx node-link export into a snapshot. Edges
// without a name fall back to their highway tag so instructions can still
// describe the road class.
func ParseNodeLink(r io.Reader, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw nodeLinkGraph
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse node-link JSON: %w", err)
	}

	snap := NewSnapshot()
	for _, n := range raw.Graph.Nodes {
		id, err := convertID(n.ID)
		if err != nil {
			return nil, fmt.Errorf("convert node ID (%v): %w", n.ID, err)
		}
		lat, lon := n.Lat, n.Lon
		if lat == 0 && lon == 0 {
			lat, lon = n.Y, n.X
		}
		snap.Nodes[id] = Node{ID: id, Latitude: lat, Longitude: lon}
	}

	for _, l := range raw.Graph.Links {
		from, err := convertID(l.Source)
		if err != nil {
			return nil, fmt.Errorf("convert source ID (%v): %w", l.Source, err)
		}
		to, err := convertID(l.Target)
		if err != nil {
			return nil, fmt.Errorf("convert target ID (%v): %w", l.Target, err)
		}

		distance := l.Length
		if distance == 0 {
			distance = l.DistanceM
		}
		travel := l.TravelTime
		if travel == 0 {
			travel = l.Weight
		}
		if travel == 0 && distance > 0 {
			travel = distance / (parseSpeed(l.Maxspeed) / 3.6)
		}
		name := firstTag(l.Name)
		if name == "" {
			name = firstTag(l.Highway)
		}

		snap.AddEdge(Edge{
			FromID:     from,
			ToID:       to,
			Distance:   distance,
			TravelTime: travel,
			Name:       name,
		})
	}

	logger.Debug("parsed node-link graph", "nodes", len(snap.Nodes), "edges", len(raw.Graph.Links), "directed", raw.Graph.Directed)
	return snap, nil
}

// ConvertFile converts a node-link JSON file into a graph snapshot file.
func ConvertFile(inputPath, outputPath string, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Open(inputPath)
	if err != nil {
		return Stats{}, fmt.Errorf("open JSON file %s: %w", inputPath, err)
	}
	defer f.Close()

	snap, err := ParseNodeLink(f, logger)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", inputPath, err)
	}
	if err := Save(outputPath, snap); err != nil {
		return Stats{}, err
	}

	stats := Stats{Nodes: len(snap.Nodes), Edges: snap.EdgeCount()}
	logger.Info("converted graph", "input", inputPath, "output", outputPath, "nodes", stats.Nodes, "edges", stats.Edges)
	return stats, nil
}
