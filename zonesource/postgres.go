package zonesource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"safe-route-server/geo"
	"safe-route-server/risk"
)

// PostgresSource reads zones from the risk_zones table.
type PostgresSource struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresSource connects, verifies the connection and creates the
// table when missing.
func NewPostgresSource(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 5
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PostgresSource{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *PostgresSource) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS risk_zones (
		zone_id TEXT PRIMARY KEY,
		name TEXT,
		geometry JSONB NOT NULL,
		risk_numeric DOUBLE PRECISION,
		risk TEXT,
		tags TEXT[],
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// zoneRow is one risk_zones row as scanned.
type zoneRow struct {
	ID          string
	Name        *string
	Geometry    []byte
	RiskNumeric *float64
	Risk        *string
	Tags        []string
}

func (r zoneRow) input() (risk.ZoneInput, error) {
	in := risk.ZoneInput{
		ID:          r.ID,
		RiskNumeric: r.RiskNumeric,
		Tags:        r.Tags,
	}
	if r.Name != nil {
		in.Name = *r.Name
	}
	if r.Risk != nil {
		in.Risk = *r.Risk
	}
	if err := json.Unmarshal(r.Geometry, &in.Geometry); err != nil {
		return risk.ZoneInput{}, fmt.Errorf("zone %q geometry: %w", r.ID, err)
	}
	return in, nil
}

// Fetch returns every stored zone. Rows that fail to decode or validate are
// logged and skipped.
func (s *PostgresSource) Fetch(ctx context.Context) ([]risk.Zone, error) {
	query := `
		SELECT zone_id, name, geometry, risk_numeric, risk, tags
		FROM risk_zones
		ORDER BY zone_id
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}

	scanned, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (zoneRow, error) {
		var r zoneRow
		err := row.Scan(&r.ID, &r.Name, &r.Geometry, &r.RiskNumeric, &r.Risk, &r.Tags)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan zones: %w", err)
	}

	inputs := make([]risk.ZoneInput, 0, len(scanned))
	for _, r := range scanned {
		in, err := r.input()
		if err != nil {
			s.logger.Warn("skipping zone row", "error", err)
			continue
		}
		inputs = append(inputs, in)
	}
	return risk.Normalize(inputs, s.logger), nil
}

// Upsert stores zones by id, replacing existing rows.
func (s *PostgresSource) Upsert(ctx context.Context, zones []risk.Zone) error {
	query := `
		INSERT INTO risk_zones (zone_id, name, geometry, risk_numeric, tags, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (zone_id) DO UPDATE SET
			name = EXCLUDED.name,
			geometry = EXCLUDED.geometry,
			risk_numeric = EXCLUDED.risk_numeric,
			risk = NULL,
			tags = EXCLUDED.tags,
			updated_at = now()
	`

	batch := &pgx.Batch{}
	for _, z := range zones {
		geometry, err := json.Marshal(ringOrEmpty(z.Ring))
		if err != nil {
			return fmt.Errorf("failed to marshal zone %q geometry: %w", z.ID, err)
		}
		batch.Queue(query, z.ID, z.Name, geometry, z.RiskValue, z.Tags)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, z := range zones {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert zone %q: %w", z.ID, err)
		}
	}
	return nil
}

func ringOrEmpty(ring []geo.Coordinate) []geo.Coordinate {
	if ring == nil {
		return []geo.Coordinate{}
	}
	return ring
}

// Ping checks database connectivity
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PostgresSource) Close() {
	s.pool.Close()
}
