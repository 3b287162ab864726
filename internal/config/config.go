// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// ErrInvalid indicates a configuration value out of range.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a string such as "1h" or "200ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete configuration of a node.
type Config struct {
	HTTPAddr    string `toml:"http_addr"`
	TrackerAddr string `toml:"tracker_addr"`

	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`

	// MetricsReportFile, if set, receives a periodic in-memory metrics report.
	MetricsReportFile string `toml:"metrics_report_file"`

	Store   StoreConfig   `toml:"store"`
	Fetch   FetchConfig   `toml:"fetch"`
	Tracker TrackerConfig `toml:"tracker"`
	Torrent TorrentConfig `toml:"torrent"`
}

// StoreConfig configures the cache and content stores.
type StoreConfig struct {
	DSN     string `toml:"dsn"`
	DataDir string `toml:"data_dir"`
}

// FetchConfig configures fetches.
type FetchConfig struct {
	ChunkSize           int64    `toml:"chunk_size"`
	TTL                 Duration `toml:"ttl"`
	Concurrency         int      `toml:"concurrency"`
	Retries             int      `toml:"retries"`
	InitialBackoff      Duration `toml:"initial_backoff"`
	RequestTimeout      Duration `toml:"request_timeout"`
	DistributionTimeout Duration `toml:"distribution_timeout"`
	SwarmFailureTTL     Duration `toml:"swarm_failure_ttl"`
}

// TrackerConfig configures the tracker server.
type TrackerConfig struct {
	Workers     int      `toml:"workers"`
	MaxPayload  uint32   `toml:"max_payload"`
	ReadTimeout Duration `toml:"read_timeout"`
}

// TorrentConfig configures the swarm engine.
type TorrentConfig struct {
	ListenPort       int      `toml:"listen_port"`
	Seed             bool     `toml:"seed"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	DialTimeout      Duration `toml:"dial_timeout"`
	DisableDHT       bool     `toml:"disable_dht"`
	Trackers         []string `toml:"trackers"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		HTTPAddr:      "127.0.0.1:5000",
		TrackerAddr:   "0.0.0.0:8080",
		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 3,
		Store: StoreConfig{
			DSN:     "sqlite://cdn_cache.db",
			DataDir: "cdn_cache",
		},
		Fetch: FetchConfig{
			ChunkSize:           1 << 20,
			TTL:                 Duration(time.Hour),
			Concurrency:         4,
			Retries:             3,
			InitialBackoff:      Duration(200 * time.Millisecond),
			RequestTimeout:      Duration(30 * time.Second),
			DistributionTimeout: Duration(10 * time.Minute),
			SwarmFailureTTL:     Duration(30 * time.Second),
		},
		Tracker: TrackerConfig{
			Workers:     16,
			MaxPayload:  64 << 20,
			ReadTimeout: Duration(30 * time.Second),
		},
		Torrent: TorrentConfig{
			ListenPort:       42069,
			Seed:             true,
			HandshakeTimeout: Duration(2 * time.Second),
			DialTimeout:      Duration(10 * time.Second),
		},
	}
}

// Load reads the TOML file at path on fs over the defaults. An empty path returns the defaults.
func Load(fs afero.Fs, path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return c, err
	}

	if err := toml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("failed to parse %v: %w", path, err)
	}

	return c, c.Validate()
}

// Validate checks that the values are usable.
func (c *Config) Validate() error {
	switch {
	case c.Store.DSN == "":
		return fmt.Errorf("%w: store.dsn is empty", ErrInvalid)
	case c.Store.DataDir == "":
		return fmt.Errorf("%w: store.data_dir is empty", ErrInvalid)
	case c.Fetch.ChunkSize <= 0:
		return fmt.Errorf("%w: fetch.chunk_size must be positive", ErrInvalid)
	case c.Fetch.TTL.Std() < time.Second:
		return fmt.Errorf("%w: fetch.ttl must be at least 1s", ErrInvalid)
	case c.Fetch.Concurrency <= 0:
		return fmt.Errorf("%w: fetch.concurrency must be positive", ErrInvalid)
	case c.Fetch.Retries < 0:
		return fmt.Errorf("%w: fetch.retries must not be negative", ErrInvalid)
	case c.Tracker.Workers <= 0:
		return fmt.Errorf("%w: tracker.workers must be positive", ErrInvalid)
	case c.Tracker.MaxPayload == 0:
		return fmt.Errorf("%w: tracker.max_payload must be positive", ErrInvalid)
	}
	return nil
}
