package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// FeedConfig is an external ICS subscription merged into an aggregate.
type FeedConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Name is the provenance label written into merged events.
	Name string `yaml:"name" json:"name"`
}

// AggregateConfig describes one merged output calendar.
type AggregateConfig struct {
	Name         string `yaml:"name" json:"name"`
	FriendlyName string `yaml:"friendly_name" json:"friendly_name"`
	// Calendars lists "<source>-<calendar>" keys, merged first and in order.
	Calendars []string `yaml:"calendars" json:"calendars"`
	// Feeds are fetched concurrently and merged after the local calendars.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`
}

// ProxyConfig configures the relay and browser fetch modes.
type ProxyConfig struct {
	RelayURL       string        `yaml:"relay_url" json:"relay_url"`
	RelayToken     string        `yaml:"relay_token" json:"-"`
	BrowserURL     string        `yaml:"browser_url" json:"browser_url"`
	BrowserTimeout time.Duration `yaml:"browser_timeout" json:"browser_timeout"`
}

// HTTPConfig configures the direct fetcher.
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	Retries   int           `yaml:"retries" json:"retries"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web surface.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address. Empty disables the web surface.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for log timestamps and the run clock.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a standard 5-field cron spec (e.g. "0 */6 * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	SourcesDir    string `yaml:"sources_dir" json:"sources_dir"`
	RecurringFile string `yaml:"recurring_file" json:"recurring_file"`
	OutputDir     string `yaml:"output_dir" json:"output_dir"`
	CacheDir      string `yaml:"cache_dir" json:"cache_dir"`
	// HistoryDB is the SQLite run-history path. Empty disables history.
	HistoryDB string `yaml:"history_db" json:"history_db"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`
	HTTP  HTTPConfig  `yaml:"http" json:"http"`

	// APIKeys maps adapter names to keys. Values may reference environment
	// variables as ${NAME}; they are expanded once by Load.
	APIKeys map[string]string `yaml:"api_keys" json:"-"`

	Aggregates []AggregateConfig `yaml:"aggregates" json:"aggregates"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	keys map[string]string
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		RefreshCron: "0 */6 * * *",
		SourcesDir:  "sources",
		OutputDir:   "output",
		CacheDir:    "cache",
		LogLevel:    "info",
		LogFormat:   "text",
		HTTP: HTTPConfig{
			Timeout: 20 * time.Second,
			Retries: 2,
		},
		APIKeys:    map[string]string{},
		Aggregates: []AggregateConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.SourcesDir == "" {
		c.SourcesDir = def.SourcesDir
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = def.LogLevel
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		c.LogFormat = def.LogFormat
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = def.HTTP.Timeout
	}
	if c.HTTP.Retries < 0 {
		c.HTTP.Retries = 0
	}
	if c.APIKeys == nil {
		c.APIKeys = map[string]string{}
	}
	if c.Aggregates == nil {
		c.Aggregates = []AggregateConfig{}
	}
}

// Validate checks values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
	}
	seen := make(map[string]bool, len(c.Aggregates))
	for i, a := range c.Aggregates {
		if a.Name == "" {
			return fmt.Errorf("config: aggregate #%d has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate aggregate %q", a.Name)
		}
		seen[a.Name] = true
		for _, f := range a.Feeds {
			if f.URL == "" {
				return fmt.Errorf("config: aggregate %q has a feed without url", a.Name)
			}
		}
	}
	return nil
}

// Location returns the configured timezone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Keys returns APIKeys with ${ENV} references expanded.
func (c *Config) Keys() map[string]string {
	if c.keys == nil {
		c.keys = expandKeys(c.APIKeys)
	}
	return c.keys
}

func expandKeys(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for name, v := range raw {
		out[name] = os.ExpandEnv(v)
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults, expand API keys and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.keys = expandKeys(cfg.APIKeys)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
//
// API keys are written unexpanded.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventripper-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
