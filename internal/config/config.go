package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultBackendURL = "http://localhost:8000"
	DefaultDBPath     = "tutorchat.db"
	DefaultLogDir     = "logs"
	DefaultTypingTick = 60 * time.Millisecond
)

// Config holds application configuration
type Config struct {
	BackendURL     string        `mapstructure:"backend_url"`     // Base URL of the tutor service (without the /api prefix)
	DBPath         string        `mapstructure:"db_path"`         // SQLite file holding the local session identifiers
	LogDir         string        `mapstructure:"log_dir"`         // Directory for rotated log, trace and metric files
	Debug          bool          `mapstructure:"debug"`
	Plain          bool          `mapstructure:"plain"`           // Line-mode REPL instead of the TUI
	Ephemeral      bool          `mapstructure:"ephemeral"`       // Keep session identifiers in memory only
	NewSession     bool          `mapstructure:"new_session"`     // Ignore any stored session and bootstrap a fresh one
	Problem        string        `mapstructure:"problem"`         // Problem statement given on the command line
	Typing         bool          `mapstructure:"typing"`          // Reveal tutor messages word by word
	TypingTick     time.Duration `mapstructure:"typing_tick"`     // Delay between revealed words
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // 0 leaves the HTTP transport default in place
	Telemetry      bool          `mapstructure:"telemetry"`       // Export traces and metrics to LogDir
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"backend-url": "backend_url",
	"db":          "db_path",
	"log-dir":     "log_dir",
	"debug":       "debug",
	"plain":       "plain",
	"ephemeral":   "ephemeral",
	"new":         "new_session",
	"problem":     "problem",
	"typing-tick": "typing_tick",
	"timeout":     "request_timeout",
}

// New returns a viper instance with defaults set. Every key can be
// overridden with a TUTOR_ environment variable, e.g. TUTOR_BACKEND_URL.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("backend_url", DefaultBackendURL)
	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("log_dir", DefaultLogDir)
	v.SetDefault("debug", false)
	v.SetDefault("plain", false)
	v.SetDefault("ephemeral", false)
	v.SetDefault("new_session", false)
	v.SetDefault("problem", "")
	v.SetDefault("typing", true)
	v.SetDefault("typing_tick", DefaultTypingTick)
	v.SetDefault("request_timeout", time.Duration(0))
	v.SetDefault("telemetry", true)

	v.SetEnvPrefix("TUTOR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	return v
}

// BindFlags lets flags that were set on the command line take precedence
// over the environment.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load collects the current values from v. It does not validate them, so
// flags applied afterwards can still fix a bad environment value.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("TUTOR_BACKEND_URL cannot be empty")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("TUTOR_BACKEND_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("TUTOR_BACKEND_URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("TUTOR_BACKEND_URL must include a host")
	}
	if !c.Ephemeral && c.DBPath == "" {
		return fmt.Errorf("TUTOR_DB_PATH cannot be empty")
	}
	if c.LogDir == "" {
		return fmt.Errorf("TUTOR_LOG_DIR cannot be empty")
	}
	if c.TypingTick < 0 {
		return fmt.Errorf("TUTOR_TYPING_TICK must be >= 0")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("TUTOR_REQUEST_TIMEOUT must be >= 0")
	}
	return nil
}
