// Package config resolves docmerge settings from flags, DOCMERGE_*
// environment variables and an optional dotenv file, in that order of
// precedence, over built-in defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/docmerge/internal/merge"
	"github.com/roach88/docmerge/internal/session"
	"github.com/roach88/docmerge/internal/staging"
)

// EnvPrefix prefixes every environment variable, e.g. DOCMERGE_MONGO_URL.
const EnvPrefix = "DOCMERGE"

// Keys.
const (
	KeyMongoURL        = "mongo.url"
	KeyMongoDatabase   = "mongo.database"
	KeyStagingPrefix   = "staging.prefix"
	KeySwapMode        = "swap.mode"
	KeyJournalPath     = "journal.path"
	KeyMetricsTextfile = "metrics.textfile"
	KeySessionCapacity = "session.capacity"
	KeySessionTTL      = "session.ttl"
	KeyCRMURL          = "crm.url"
	KeyCRMUser         = "crm.user"
	KeyCRMPassword     = "crm.password"
	KeyCRMAPIKey       = "crm.apikey"
)

// Config is the resolved configuration.
type Config struct {
	Mongo struct {
		URL      string `mapstructure:"url"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`
	Staging struct {
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"staging"`
	Swap struct {
		Mode string `mapstructure:"mode"`
	} `mapstructure:"swap"`
	Journal struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"journal"`
	Metrics struct {
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`
	Session struct {
		Capacity int           `mapstructure:"capacity"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"session"`
	CRM struct {
		URL      string `mapstructure:"url"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		APIKey   string `mapstructure:"apikey"`
	} `mapstructure:"crm"`
}

// SwapMode parses the configured swap mode.
func (c *Config) SwapMode() (merge.SwapMode, error) {
	return merge.ParseSwapMode(c.Swap.Mode)
}

// Loader binds configuration sources.
type Loader struct {
	v       *viper.Viper
	envFile string
}

// NewLoader creates a loader with defaults and environment binding.
// envFile, when set, must exist; its variables never override ones
// already in the environment.
func NewLoader(envFile string) *Loader {
	v := viper.New()
	v.SetDefault(KeyMongoURL, "mongodb://localhost:27017")
	v.SetDefault(KeyMongoDatabase, "")
	v.SetDefault(KeyStagingPrefix, staging.DefaultPrefix)
	v.SetDefault(KeySwapMode, string(merge.SwapDropThenRename))
	v.SetDefault(KeyJournalPath, "")
	v.SetDefault(KeyMetricsTextfile, "")
	v.SetDefault(KeySessionCapacity, session.DefaultCapacity)
	v.SetDefault(KeySessionTTL, session.DefaultTTL)
	v.SetDefault(KeyCRMURL, "")
	v.SetDefault(KeyCRMUser, "")
	v.SetDefault(KeyCRMPassword, "")
	v.SetDefault(KeyCRMAPIKey, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, envFile: envFile}
}

// BindFlag lets an explicitly set flag override key.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, f)
}

// Load reads the dotenv file, if any, and resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if _, err := cfg.SwapMode(); err != nil {
		return nil, fmt.Errorf("%s: %w", KeySwapMode, err)
	}
	if cfg.Session.TTL < 0 || cfg.Session.Capacity < 0 {
		return nil, fmt.Errorf("session capacity and ttl must not be negative")
	}
	return &cfg, nil
}
