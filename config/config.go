package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SaveFileName is the save file Aurora keeps in its install directory.
const SaveFileName = "AuroraDB.db"

// Config holds every configurable value of the collector and query server.
type Config struct {
	// Source
	DBPath       string        `mapstructure:"db_path"`       // Aurora save file, or the directory holding it
	Debounce     time.Duration `mapstructure:"debounce"`      // quiet period after the last change event
	SettleDelay  time.Duration `mapstructure:"settle_delay"`  // extra wait before reading the save file
	PollInterval time.Duration `mapstructure:"poll_interval"` // > 0 polls instead of watching

	// Persistence
	LogPath   string `mapstructure:"log_path"`   // NDJSON snapshot log
	ModelPath string `mapstructure:"model_path"` // aggregated dashboard document

	// Server
	ListenAddr string `mapstructure:"listen_addr"`
	IndexPath  string `mapstructure:"index_path"` // optional page served at "/"

	LogLevel  string `mapstructure:"log_level"`  // debug|info|warn|error
	LogFormat string `mapstructure:"log_format"` // json|console

	Retry  RetryConfig  `mapstructure:"retry"`
	Import ImportConfig `mapstructure:"import"`
	Remote RemoteConfig `mapstructure:"remote"`
}

// RetryConfig bounds retries around extraction. MaxTries 1 disables them.
type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// ImportConfig configures batch import of several save files.
type ImportConfig struct {
	Workers int `mapstructure:"workers"`
}

// RemoteConfig points at a save file on another machine, fetched over SFTP.
// Remote mode is enabled when Addr is set.
type RemoteConfig struct {
	Addr        string        `mapstructure:"addr"` // host:port
	User        string        `mapstructure:"user"`
	KeyPath     string        `mapstructure:"key_path"`
	KnownHosts  string        `mapstructure:"known_hosts"`
	Path        string        `mapstructure:"path"`       // save file on the remote host
	CachePath   string        `mapstructure:"cache_path"` // local copy
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Enabled reports whether a remote source is configured.
func (r RemoteConfig) Enabled() bool { return r.Addr != "" }

var defaults = map[string]any{
	"db_path":                "",
	"debounce":               10 * time.Second,
	"settle_delay":           10 * time.Second,
	"poll_interval":          time.Duration(0),
	"log_path":               "data/aurora_dump.json",
	"model_path":             "data/dashboard_data.json",
	"listen_addr":            ":8080",
	"index_path":             "",
	"log_level":              "info",
	"log_format":             "json",
	"retry.max_tries":        1,
	"retry.initial_interval": time.Second,
	"retry.max_interval":     30 * time.Second,
	"import.workers":         2,
	"remote.addr":            "",
	"remote.user":            "",
	"remote.key_path":        "",
	"remote.known_hosts":     "",
	"remote.path":            "",
	"remote.cache_path":      "data/remote_save.db",
	"remote.dial_timeout":    10 * time.Second,
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"db-path":       "db_path",
	"debounce":      "debounce",
	"settle-delay":  "settle_delay",
	"poll-interval": "poll_interval",
	"log-path":      "log_path",
	"model-path":    "model_path",
	"listen":        "listen_addr",
	"index-path":    "index_path",
	"log-level":     "log_level",
	"log-format":    "log_format",
	"retries":       "retry.max_tries",
	"workers":       "import.workers",
}

// RegisterFlags defines the command-line flags understood by Load on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (default ./configs/config.yaml if present)")
	fs.String("db-path", "", "Aurora save file or install directory")
	fs.Duration("debounce", 10*time.Second, "quiet period after the last change event")
	fs.Duration("settle-delay", 10*time.Second, "wait before reading a changed save file")
	fs.Duration("poll-interval", 0, "poll the source at this interval instead of watching it")
	fs.String("log-path", "data/aurora_dump.json", "snapshot log (one JSON snapshot per line)")
	fs.String("model-path", "data/dashboard_data.json", "aggregated dashboard document")
	fs.String("listen", ":8080", "query server listen address")
	fs.String("index-path", "", "HTML page served at /")
	fs.String("log-level", "info", "debug|info|warn|error")
	fs.String("log-format", "json", "json|console")
	fs.Uint("retries", 1, "extraction attempts per pass")
	fs.Int("workers", 2, "parallel extractions during import")
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags registered with RegisterFlags (fs may be nil)
//  2. environment variables prefixed with AURORA_ (e.g. AURORA_DB_PATH,
//     AURORA_REMOTE_ADDR)
//  3. a yaml file given by --config, or ./configs/config.yaml if it exists
//  4. built-in defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("AURORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			explicit = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", explicit, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	cfg.DBPath = ResolveDBPath(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values shared by every command.
func (c *Config) Validate() error {
	if c.LogPath == "" {
		return fmt.Errorf("log_path must not be empty")
	}
	if c.ModelPath == "" {
		return fmt.Errorf("model_path must not be empty")
	}
	if c.Debounce < 0 || c.SettleDelay < 0 || c.PollInterval < 0 {
		return fmt.Errorf("debounce, settle_delay and poll_interval must not be negative")
	}
	if c.Import.Workers < 1 {
		return fmt.Errorf("import.workers must be at least 1, got %d", c.Import.Workers)
	}
	if c.Remote.Enabled() && c.Remote.CachePath == "" {
		return fmt.Errorf("remote.cache_path must not be empty when remote.addr is set")
	}
	return nil
}

// RequireSource checks that a save file or remote source is configured.
func (c *Config) RequireSource() error {
	if c.DBPath == "" && !c.Remote.Enabled() {
		return fmt.Errorf("db_path or remote.addr must be set")
	}
	return nil
}

// ResolveDBPath turns an Aurora install directory into the save file path
// inside it. Other paths are returned unchanged.
func ResolveDBPath(path string) string {
	if path == "" {
		return path
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return filepath.Join(path, SaveFileName)
	}
	return path
}
