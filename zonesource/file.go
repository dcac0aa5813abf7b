package zonesource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"safe-route-server/risk"
)

const defaultDebounce = 200 * time.Millisecond

type zoneFile struct {
	Zones []risk.ZoneInput `json:"zones" yaml:"zones"`
}

// ParseZones decodes zone inputs from JSON, or YAML when yamlFormat is set.
// The document is either a list of zones or an object with a "zones" list.
func ParseZones(data []byte, yamlFormat bool, logger *slog.Logger) ([]risk.Zone, error) {
	unmarshal := json.Unmarshal
	if yamlFormat {
		unmarshal = yaml.Unmarshal
	}

	var inputs []risk.ZoneInput
	if err := unmarshal(data, &inputs); err != nil {
		var wrapped zoneFile
		if werr := unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("decode zones: %w", err)
		}
		inputs = wrapped.Zones
	}
	return risk.Normalize(inputs, logger), nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads a JSON or YAML zone file. Invalid zones are logged and
// dropped.
func LoadFile(path string, logger *slog.Logger) ([]risk.Zone, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone file: %w", err)
	}
	zones, err := ParseZones(data, isYAML(path), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return zones, nil
}

// FileSource adapts a zone file to Fetcher.
type FileSource struct {
	Path   string
	Logger *slog.Logger
}

func (f FileSource) Fetch(context.Context) ([]risk.Zone, error) {
	return LoadFile(f.Path, f.Logger)
}

// Watch reloads the zone file into store each time it changes, until ctx is
// done. The parent directory is watched so editors that replace the file by
// rename are seen. Bursts of events within debounce collapse into one reload.
func Watch(ctx context.Context, path string, store *Store, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve zone file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create zone file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	store.logger.Info("watching zone file", "path", target)

	source := "file:" + filepath.Base(target)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			zones, err := LoadFile(target, store.logger)
			if err != nil {
				store.Fail(source, err)
				continue
			}
			store.Replace(source, zones)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			store.logger.Warn("zone file watcher error", "error", err)
		}
	}
}
