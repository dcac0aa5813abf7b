package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"safe-route-server/geo"
	"safe-route-server/graphstore"
	"safe-route-server/planner"
	"safe-route-server/risk"
	"safe-route-server/zonesource"
)

type options struct {
	verbose bool
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "saferoute",
		Short:         "Tools for the safe route server: graphs, hazard zones and routes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newGraphCmd(opts),
		newZonesCmd(opts),
		newRouteCmd(opts),
	)
	return root
}

func newGraphCmd(opts *options) *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and inspect road graph files",
	}

	convertCmd := &cobra.Command{
		Use:   "convert <input.json> [output.gob|output.gob.sz]",
		Short: "Convert an OSM node-link JSON export to a graph file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			output := defaultGraphOutput(input)
			if len(args) > 1 {
				output = args[1]
			}
			stats, err := graphstore.ConvertFile(input, output, opts.logger(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d nodes, %d edges\n", output, stats.Nodes, stats.Edges)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats <graph file>",
		Short: "Print node and edge counts of a graph file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := graphstore.ReadFile(args[0])
			if err != nil {
				return err
			}
			g, stats, err := snap.Build(opts.logger(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d nodes, %d directed edges, %d skipped\n",
				args[0], g.NodeCount(), g.EdgeCount(), stats.Skipped)
			return nil
		},
	}

	graphCmd.AddCommand(convertCmd, statsCmd)
	return graphCmd
}

// defaultGraphOutput places the graph next to its source with a .gob
// extension.
func defaultGraphOutput(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(filepath.Base(input), ext)
	return filepath.Join(filepath.Dir(input), base+".gob")
}

func newZonesCmd(opts *options) *cobra.Command {
	zonesCmd := &cobra.Command{
		Use:   "zones",
		Short: "Validate and import hazard zone files",
	}

	validateCmd := &cobra.Command{
		Use:   "validate <zones.json|zones.yaml>",
		Short: "Parse a zone file and summarise it by risk category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			zones, err := zonesource.LoadFile(args[0], opts.logger(cmd))
			if err != nil {
				return err
			}
			var counts risk.Counts
			unusable := 0
			for _, z := range zones {
				switch z.Category() {
				case risk.High:
					counts.High++
				case risk.Medium:
					counts.Medium++
				default:
					counts.Low++
				}
				if !z.Valid() {
					unusable++
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d zones: %d high, %d medium, %d low\n", len(zones), counts.High, counts.Medium, counts.Low)
			if unusable > 0 {
				fmt.Fprintf(out, "%d zones have fewer than 3 vertices and will be ignored\n", unusable)
			}
			return nil
		},
	}

	var databaseURL string
	var timeout time.Duration
	importCmd := &cobra.Command{
		Use:   "import <zones.json|zones.yaml>",
		Short: "Upsert the zones of a file into PostgreSQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				databaseURL = os.Getenv("DATABASE_URL")
			}
			if databaseURL == "" {
				return errors.New("--database-url or DATABASE_URL is required")
			}
			logger := opts.logger(cmd)
			zones, err := zonesource.LoadFile(args[0], logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			src, err := zonesource.NewPostgresSource(ctx, databaseURL, logger)
			if err != nil {
				return err
			}
			defer src.Close()
			if err := src.Upsert(ctx, zones); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d zones\n", len(zones))
			return nil
		},
	}
	importCmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string (default $DATABASE_URL)")
	importCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall import timeout")

	zonesCmd.AddCommand(validateCmd, importCmd)
	return zonesCmd
}

type routeFlags struct {
	graph        string
	zones        string
	from         string
	to           string
	alternatives int
	compact      bool
}

func newRouteCmd(opts *options) *cobra.Command {
	f := routeFlags{}
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Compute scored truck routes between two points",
		Example: "  saferoute route --graph data/truck_graph.gob --zones data/zones.json \\\n" +
			"    --from 33.5731,-7.5898 --to 33.6020,-7.6310",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoute(cmd.Context(), cmd.OutOrStdout(), opts.logger(cmd), f)
		},
	}
	cmd.Flags().StringVar(&f.graph, "graph", "data/truck_graph.gob", "graph file")
	cmd.Flags().StringVar(&f.zones, "zones", "", "zone file used for scoring")
	cmd.Flags().StringVar(&f.from, "from", "", "start as lat,lon")
	cmd.Flags().StringVar(&f.to, "to", "", "end as lat,lon")
	cmd.Flags().IntVar(&f.alternatives, "alternatives", 0, "number of candidate routes (default from planner)")
	cmd.Flags().BoolVar(&f.compact, "compact", false, "print single-line JSON")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runRoute(ctx context.Context, out io.Writer, logger *slog.Logger, f routeFlags) error {
	start, err := parseLatLon(f.from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	end, err := parseLatLon(f.to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	graph, err := graphstore.Load(f.graph, logger)
	if err != nil {
		return err
	}
	var zones planner.StaticZones
	if f.zones != "" {
		if zones, err = zonesource.LoadFile(f.zones, logger); err != nil {
			return err
		}
	}

	p := planner.New(graph, planner.Options{Zones: zones, Logger: logger})
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := p.ComputeRoutes(ctx, planner.Request{Start: start, End: end, Alternatives: f.alternatives})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if !f.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}

// parseLatLon reads "lat,lon".
func parseLatLon(s string) (geo.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Coordinate{}, fmt.Errorf("%q: expected lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%q: %w", s, err)
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return geo.Coordinate{}, fmt.Errorf("%q: %w", s, planner.ErrInvalidCoordinate)
	}
	return c, nil
}
