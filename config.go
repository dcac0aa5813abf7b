package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"safe-route-server/navigation"
	"safe-route-server/planner"
	"safe-route-server/risk"
	"safe-route-server/telemetry"
)

// Config is the full service configuration. Values come from defaults, then
// the YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Data       DataConfig              `yaml:"data"`
	Routing    planner.Config          `yaml:"routing"`
	Risk       risk.Config             `yaml:"risk"`
	Navigation navigation.Config       `yaml:"navigation"`
	Alerts     navigation.AlertConfig  `yaml:"alerts"`
	Tracing    telemetry.TracingConfig `yaml:"tracing"`
	LogLevel   string                  `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string                  `yaml:"log_format" validate:"oneof=json text"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	AdminAddr       string        `yaml:"admin_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins" validate:"min=1"`
	RateLimit       int           `yaml:"rate_limit" validate:"gte=0"` // 0 disables limiting
	RateWindow      time.Duration `yaml:"rate_window" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	SessionIdleTTL  time.Duration `yaml:"session_idle_ttl" validate:"gte=0"` // 0 keeps sessions until DELETE
}

type DataConfig struct {
	GraphPath        string        `yaml:"graph_path" validate:"required"`
	ZonesPath        string        `yaml:"zones_path"`
	WatchZones       bool          `yaml:"watch_zones"`
	ZonesDatabaseURL string        `yaml:"zones_database_url" validate:"excluded_with=ZonesPath"` // one zone source at a time
	ZonesRefresh     time.Duration `yaml:"zones_refresh" validate:"gte=0"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":3001",
			AdminAddr:       ":9090",
			AllowedOrigins:  []string{"http://localhost:3000"},
			RateLimit:       100,
			RateWindow:      15 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			SessionIdleTTL:  30 * time.Minute,
		},
		Data: DataConfig{
			GraphPath:    "data/truck_graph.gob",
			ZonesRefresh: time.Minute,
		},
		Routing:    planner.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Navigation: navigation.LiveConfig(),
		Alerts:     navigation.DefaultAlertConfig(),
		Tracing: telemetry.TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// loadConfig builds the configuration. lookup is os.LookupEnv outside tests.
func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaultConfig()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Server.Addr = ":" + port
	}
	env.str("ADMIN_ADDR", &cfg.Server.AdminAddr)
	env.list("CORS_ORIGINS", &cfg.Server.AllowedOrigins)
	env.integer("RATE_LIMIT", &cfg.Server.RateLimit)
	env.duration("RATE_WINDOW", &cfg.Server.RateWindow)
	env.duration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	env.duration("SESSION_IDLE_TTL", &cfg.Server.SessionIdleTTL)

	env.str("GRAPH_PATH", &cfg.Data.GraphPath)
	env.str("ZONES_PATH", &cfg.Data.ZonesPath)
	env.boolean("WATCH_ZONES", &cfg.Data.WatchZones)
	env.str("DATABASE_URL", &cfg.Data.ZonesDatabaseURL)
	env.duration("ZONES_REFRESH", &cfg.Data.ZonesRefresh)

	env.float("AVERAGE_SPEED_KMH", &cfg.Routing.AverageSpeedKmh)
	env.integer("MAX_ALTERNATIVES", &cfg.Routing.MaxAlternatives)
	env.float("PROXIMITY_THRESHOLD_M", &cfg.Risk.ProximityMeters)
	env.integer("RISK_SAMPLE_LIMIT", &cfg.Risk.SampleLimit)

	env.float("DEVIATION_THRESHOLD_M", &cfg.Navigation.ThresholdMeters)
	env.duration("DEVIATION_COOLDOWN", &cfg.Navigation.Cooldown)
	env.duration("RECALC_TIMEOUT", &cfg.Navigation.RecalcTimeout)

	env.boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)
	env.str("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	env.float("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("LOG_FORMAT", &cfg.LogFormat)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

// newLogger builds the process logger from LogLevel and LogFormat.
func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
