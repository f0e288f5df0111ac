// Package config loads server and daemon settings from a YAML file and
// TASKNEST_-prefixed environment variables, with env taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// HTTPAddr is the listen address of the backup/credentials API.
	HTTPAddr string `yaml:"http_addr"`

	// SyncEndpoint is the remote sync URL handed to local sync runtimes.
	SyncEndpoint string `yaml:"sync_endpoint"`

	// DatabaseURL selects the Postgres backend when set; otherwise the
	// embedded SQLite backend at SQLitePath is used.
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	// ReplicaPath is the local replica database the daemon watches.
	ReplicaPath string `yaml:"replica_path"`

	// BlobDir is the root of durable snapshot storage.
	BlobDir string `yaml:"blob_dir"`

	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	// ServiceSecret authorizes the scheduled all-users export path.
	ServiceSecret string `yaml:"service_secret"`

	// PollInterval is the daemon's fallback drain cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// TursoURL and TursoAuthToken configure the embedded replica's
	// remote primary. Optional; without them the replica is local-only.
	TursoURL       string `yaml:"turso_url"`
	TursoAuthToken string `yaml:"turso_auth_token"`

	// LogFile enables rotating file logging when set.
	LogFile string `yaml:"log_file"`
}

// Load reads configuration from path (optional; empty means env and
// defaults only) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TASKNEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8787")
	v.SetDefault("sync_endpoint", "")
	v.SetDefault("database_url", "")
	v.SetDefault("sqlite_path", defaultDataPath("tasknest.db"))
	v.SetDefault("replica_path", defaultDataPath("replica.db"))
	v.SetDefault("blob_dir", defaultDataPath("blobs"))
	v.SetDefault("session_secret", "")
	v.SetDefault("session_ttl", "24h")
	v.SetDefault("service_secret", "")
	v.SetDefault("poll_interval", "30s")
	v.SetDefault("turso_url", "")
	v.SetDefault("turso_auth_token", "")
	v.SetDefault("log_file", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:       v.GetString("http_addr"),
		SyncEndpoint:   v.GetString("sync_endpoint"),
		DatabaseURL:    v.GetString("database_url"),
		SQLitePath:     v.GetString("sqlite_path"),
		ReplicaPath:    v.GetString("replica_path"),
		BlobDir:        v.GetString("blob_dir"),
		SessionSecret:  v.GetString("session_secret"),
		SessionTTL:     v.GetDuration("session_ttl"),
		ServiceSecret:  v.GetString("service_secret"),
		PollInterval:   v.GetDuration("poll_interval"),
		TursoURL:       v.GetString("turso_url"),
		TursoAuthToken: v.GetString("turso_auth_token"),
		LogFile:        v.GetString("log_file"),
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return cfg, nil
}

// ValidateServer checks the settings the HTTP server cannot run without.
func (c *Config) ValidateServer() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("session_secret is required (set TASKNEST_SESSION_SECRET)")
	}
	if c.ServiceSecret == "" {
		return fmt.Errorf("service_secret is required (set TASKNEST_SERVICE_SECRET)")
	}
	return nil
}

// WriteDefault writes a commented starter config to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	defaults := map[string]string{
		"http_addr":    ":8787",
		"sqlite_path":  defaultDataPath("tasknest.db"),
		"replica_path": defaultDataPath("replica.db"),
		"blob_dir":     defaultDataPath("blobs"),
		"session_ttl":  "24h",
	}
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultPath returns the conventional config location, honoring the
// user config directory.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "tasknest", "config.yaml")
	}
	return "tasknest.yaml"
}

func defaultDataPath(name string) string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".tasknest", name)
	}
	return name
}
