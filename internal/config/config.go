package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSConfig describes a single ICS subscription imported as tasks.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier; imported tasks carry it as their source.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
// PasswordHash, a bcrypt hash, takes precedence over a plain Password.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
}

// ExpansionConfig tunes the occurrence expander.
type ExpansionConfig struct {
	// MaxOccurrencesPerTask bounds a single task's expansion per request.
	MaxOccurrencesPerTask int `yaml:"max_occurrences_per_task" json:"max_occurrences_per_task"`
	// DefaultDurationMinutes is used for instances with no known length.
	DefaultDurationMinutes int `yaml:"default_duration_minutes" json:"default_duration_minutes"`
}

// DefaultDuration returns DefaultDurationMinutes as a time.Duration.
func (e ExpansionConfig) DefaultDuration() time.Duration {
	return time.Duration(e.DefaultDurationMinutes) * time.Minute
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to display the agenda and to evaluate
	// rules of tasks that carry no zone of their own.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DefaultUser owns requests when basic auth is off, and owns imported
	// ICS tasks.
	DefaultUser string `yaml:"default_user" json:"default_user"`

	// Database is a SQLite path or a PostgreSQL DSN.
	Database string `yaml:"database" json:"database"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-importing ICS feeds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CacheSize is the number of expanded windows kept in memory.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	Expansion ExpansionConfig `yaml:"expansion" json:"expansion"`

	// SnapshotPath, when set, is where the agenda PNG is rendered after each
	// refresh and served from /agenda.png.
	SnapshotPath string `yaml:"snapshot_path,omitempty" json:"snapshot_path,omitempty"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health. The username doubles as the user ID.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		DefaultUser: "local",
		Database:    "taskcal.db",
		LogLevel:    "info",
		RefreshCron: "*/15 * * * *",
		CacheDir:    "./var/ics-cache",
		CacheSize:   256,
		Expansion: ExpansionConfig{
			MaxOccurrencesPerTask:  5000,
			DefaultDurationMinutes: 60,
		},
		ICS:       []ICSConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.DefaultUser == "" {
		c.DefaultUser = def.DefaultUser
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.Expansion.MaxOccurrencesPerTask <= 0 {
		c.Expansion.MaxOccurrencesPerTask = def.Expansion.MaxOccurrencesPerTask
	}
	if c.Expansion.DefaultDurationMinutes <= 0 {
		c.Expansion.DefaultDurationMinutes = def.Expansion.DefaultDurationMinutes
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read, unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
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

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".taskcal-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
