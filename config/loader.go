package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/c360/blinkrelay/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BLINKRELAY"

// durationPaths lists the JSON keys holding durations.
var durationPaths = [][]string{
	{"serial", "reconnect", "initial_delay"},
	{"serial", "reconnect", "max_delay"},
	{"debounce", "window"},
	{"server", "write_timeout"},
	{"server", "ping_interval"},
	{"server", "pong_wait"},
	{"nats", "reconnect_wait"},
	{"nats", "ping_interval"},
	{"nats", "dial_timeout"},
	{"nats", "drain_timeout"},
	{"nats", "max_backoff"},
	{"advisory", "timeout"},
	{"shutdown_timeout"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	dotenv     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix}
}

// AddLayer adds a JSON configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// AddDotEnv adds a .env file. Missing files are skipped.
func (l *Loader) AddDotEnv(path string) {
	l.dotenv = append(l.dotenv, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load resolves defaults, file layers, .env files and the environment.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	for _, path := range l.dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("read %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "apply environment")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations replaces duration strings with nanosecond counts so the map
// unmarshals into time.Duration fields.
func parseDurations(data map[string]any) error {
	for _, path := range durationPaths {
		parent := data
		for _, key := range path[:len(path)-1] {
			next, ok := parent[key].(map[string]any)
			if !ok {
				parent = nil
				break
			}
			parent = next
		}
		if parent == nil {
			continue
		}

		leaf := path[len(path)-1]
		s, ok := parent[leaf].(string)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, strings.Join(path, "."), err)
		}
		parent[leaf] = d.Nanoseconds()
	}
	return nil
}

// mergeFromMap overrides only the fields present in override.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// env returns the validated value of PREFIX_key, "" when unset.
func (l *Loader) env(key string) (string, error) {
	name := l.envPrefix + "_" + key
	val := strings.TrimSpace(os.Getenv(name))
	if err := validateEnvVar(name, val); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return val, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		val, err := l.env(key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if val != "" {
			*dst = val
		}
	}
	integer := func(key string, dst *int) {
		val, err := l.env(key)
		if err != nil || val == "" {
			if err != nil {
				errs = append(errs, err)
			}
			return
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s_%s=%q is not an integer", errors.ErrInvalidConfig, l.envPrefix, key, val))
			return
		}
		*dst = n
	}

	str("SERIAL_DEVICE", &cfg.Serial.Device)
	integer("SERIAL_BAUD", &cfg.Serial.BaudRate)
	integer("SERIAL_RECONNECT_ATTEMPTS", &cfg.Serial.Reconnect.MaxAttempts)
	integer("PORT", &cfg.Server.Port)
	integer("METRICS_PORT", &cfg.Metrics.Port)
	str("NATS_URL", &cfg.NATS.URL)
	str("NATS_TOKEN", &cfg.NATS.Token)
	str("ADVISORY_URL", &cfg.Advisory.URL)

	if val, err := l.env("DEBOUNCE_WINDOW"); err != nil {
		errs = append(errs, err)
	} else if val != "" {
		d, err := ParseWindow(val)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Debounce.Window = d
		}
	}

	// SEND_RAW=1 is the historical switch; the prefixed form also takes booleans.
	if os.Getenv("SEND_RAW") == "1" {
		cfg.Relay.ForwardRaw = true
	}
	if val, err := l.env("SEND_RAW"); err != nil {
		errs = append(errs, err)
	} else if val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s_SEND_RAW=%q is not a boolean", errors.ErrInvalidConfig, l.envPrefix, val))
		} else {
			cfg.Relay.ForwardRaw = b
		}
	}

	return errors.Join(errs...)
}

// ParseWindow parses a debounce window given as a Go duration ("350ms") or a
// bare number of milliseconds ("350").
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: debounce window %q", errors.ErrInvalidConfig, s)
	}
	return d, nil
}
