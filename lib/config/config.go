// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/beacon/lib/compress"
	"github.com/bureau-foundation/beacon/lib/dispatch"
)

// Environment variables read by Load and LoadFile.
const (
	EnvConfig            = "BEACON_CONFIG"
	EnvCollectorEndpoint = "BEACON_COLLECTOR_ENDPOINT"
	EnvSiteID            = "BEACON_SITE_ID"
)

// Queue kinds.
const (
	QueueMemory = "memory"
	QueueSQLite = "sqlite"
)

// Config is the beacon configuration file.
type Config struct {
	Collector CollectorConfig `yaml:"collector" json:"collector"`
	Dispatch  DispatchConfig  `yaml:"dispatch" json:"dispatch"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Settings  SettingsConfig  `yaml:"settings" json:"settings"`

	// ContentBase prefixes URLs derived from view paths, e.g.
	// "app://com.example.notes".
	ContentBase string `yaml:"content_base" json:"content_base"`

	// Language is sent with every event, e.g. "en-GB".
	Language string `yaml:"language" json:"language"`
}

// CollectorConfig describes where events go.
type CollectorConfig struct {
	// Endpoint is the absolute http(s) URL of the tracking endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// SiteID identifies the site or app in the collector.
	SiteID string `yaml:"site_id" json:"site_id"`

	// Timeout bounds one request, as a Go duration. Default: 10s
	Timeout string `yaml:"timeout" json:"timeout"`

	// Compression is the request body encoding: none, gzip, or zstd.
	// Default: none
	Compression string `yaml:"compression" json:"compression"`

	// UserAgent is sent as the User-Agent header and as the "ua"
	// parameter of every event.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// DispatchConfig controls batching and the retry timer.
type DispatchConfig struct {
	// Interval between automatic dispatch attempts, as a Go duration.
	// Zero or negative disables automatic dispatch. Default: 30s
	Interval string `yaml:"interval" json:"interval"`

	// BatchSize is the maximum number of events per request.
	// Default: 20
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// QueueConfig selects and tunes the event queues.
type QueueConfig struct {
	// Kind is "sqlite" (durable) or "memory". Default: sqlite
	Kind string `yaml:"kind" json:"kind"`

	// Path is the SQLite database holding both lanes.
	// Default: ${HOME}/.local/state/beacon/events.db
	Path string `yaml:"path" json:"path"`

	// MaxEvents bounds each lane; the oldest events are dropped on
	// overflow. Zero means unbounded.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// Compression is the at-rest payload compression: none, lz4, or
	// zstd. Default: lz4
	Compression string `yaml:"compression" json:"compression"`
}

// SettingsConfig locates the persisted tracker settings.
type SettingsConfig struct {
	// Path is the settings file.
	// Default: ${HOME}/.local/state/beacon/settings.cbor
	Path string `yaml:"path" json:"path"`
}

// Default returns the values a file is loaded over. Endpoint and site
// ID have no default.
func Default() *Config {
	return &Config{
		Collector: CollectorConfig{
			Timeout:     "10s",
			Compression: "none",
		},
		Dispatch: DispatchConfig{
			Interval:  "30s",
			BatchSize: 20,
		},
		Queue: QueueConfig{
			Kind:        QueueSQLite,
			Path:        "${BEACON_STATE}/events.db",
			Compression: "lz4",
		},
		Settings: SettingsConfig{
			Path: "${BEACON_STATE}/settings.cbor",
		},
	}
}

// Load loads the file named by BEACON_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your beacon config file, or use --config", EnvConfig)
	}
	return LoadFile(path)
}

// LoadFile loads path over Default, applies the environment overrides,
// and expands variables. It does not validate; call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".jsonc") {
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	cfg.applyEnvironment()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	if endpoint := os.Getenv(EnvCollectorEndpoint); endpoint != "" {
		c.Collector.Endpoint = endpoint
	}
	if siteID := os.Getenv(EnvSiteID); siteID != "" {
		c.Collector.SiteID = siteID
	}
}

func (c *Config) expandVariables() {
	home := os.Getenv("HOME")
	vars := map[string]string{
		"HOME":         home,
		"BEACON_STATE": home + "/.local/state/beacon",
	}
	c.Queue.Path = expandVars(c.Queue.Path, vars)
	c.Settings.Path = expandVars(c.Settings.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default}, preferring vars over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if err := dispatch.ValidateEndpoint(c.Collector.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("collector.endpoint: %w", err))
	}
	if c.Collector.SiteID == "" {
		errs = append(errs, errors.New("collector.site_id is required"))
	}
	if timeout, err := time.ParseDuration(c.Collector.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("collector.timeout: %w", err))
	} else if timeout <= 0 {
		errs = append(errs, fmt.Errorf("collector.timeout must be positive, got %s", c.Collector.Timeout))
	}
	if _, err := compress.ParseEncoding(c.Collector.Compression); err != nil {
		errs = append(errs, fmt.Errorf("collector.compression: %w", err))
	}

	if _, err := time.ParseDuration(c.Dispatch.Interval); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.interval: %w", err))
	}
	if c.Dispatch.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.batch_size must be positive, got %d", c.Dispatch.BatchSize))
	}

	switch c.Queue.Kind {
	case QueueMemory:
	case QueueSQLite:
		if c.Queue.Path == "" {
			errs = append(errs, errors.New("queue.path is required for the sqlite queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.kind must be %q or %q, got %q", QueueMemory, QueueSQLite, c.Queue.Kind))
	}
	if c.Queue.MaxEvents < 0 {
		errs = append(errs, fmt.Errorf("queue.max_events must not be negative, got %d", c.Queue.MaxEvents))
	}
	if _, err := compress.ParseTag(c.Queue.Compression); err != nil {
		errs = append(errs, fmt.Errorf("queue.compression: %w", err))
	}

	if c.Settings.Path == "" {
		errs = append(errs, errors.New("settings.path is required"))
	}

	return errors.Join(errs...)
}

// Timeout returns collector.timeout. Call after Validate.
func (c *Config) Timeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Collector.Timeout)
	return timeout
}

// Interval returns dispatch.interval in the form tracker.Config
// expects: a configured zero becomes negative, which disables the
// timer instead of selecting the default. Call after Validate.
func (c *Config) Interval() time.Duration {
	interval, _ := time.ParseDuration(c.Dispatch.Interval)
	if interval <= 0 {
		return -1
	}
	return interval
}

// BodyEncoding returns collector.compression. Call after Validate.
func (c *Config) BodyEncoding() compress.Encoding {
	encoding, _ := compress.ParseEncoding(c.Collector.Compression)
	return encoding
}

// QueueCompression returns queue.compression. Call after Validate.
func (c *Config) QueueCompression() compress.Tag {
	tag, _ := compress.ParseTag(c.Queue.Compression)
	return tag
}
