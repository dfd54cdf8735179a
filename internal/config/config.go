// Package config loads gather's settings from defaults, an optional TOML
// file, .env files and GATHER_* environment variables, in increasing order
// of precedence. Command-line flags bound by the CLI override all of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file name searched for in the home directory.
const FileName = "gather.toml"

// EnvPrefix prefixes every environment variable, e.g. GATHER_DB_PATH.
const EnvPrefix = "GATHER"

// Keys understood by Load.
const (
	KeyHome             = "home"
	KeyDBPath           = "db.path"
	KeyAccountsPath     = "accounts.path"
	KeyPeerListen       = "peer.listen"
	KeyPeerAdvertise    = "peer.advertise"
	KeyPeerDialTimeout  = "peer.dial_timeout"
	KeyRendezvousURL    = "rendezvous.url"
	KeyRendezvousListen = "rendezvous.listen"
	KeyFeedListen       = "feed.listen"
	KeySpoolInbox       = "spool.inbox"
	KeySpoolDebounce    = "spool.debounce"
	KeyLogLevel         = "log.level"
	KeyLogFile          = "log.file"
)

// Config is the resolved configuration. Relative paths are resolved
// against Home.
type Config struct {
	Home       string           `mapstructure:"home"`
	DB         DBConfig         `mapstructure:"db"`
	Accounts   AccountsConfig   `mapstructure:"accounts"`
	Peer       PeerConfig       `mapstructure:"peer"`
	Rendezvous RendezvousConfig `mapstructure:"rendezvous"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Spool      SpoolConfig      `mapstructure:"spool"`
	Log        LogConfig        `mapstructure:"log"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AccountsConfig struct {
	Path string `mapstructure:"path"`
}

type PeerConfig struct {
	Listen      string        `mapstructure:"listen"`
	Advertise   string        `mapstructure:"advertise"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RendezvousConfig struct {
	// URL of the rendezvous server. Empty runs an in-process registry,
	// which only links peers inside one process.
	URL    string `mapstructure:"url"`
	Listen string `mapstructure:"listen"`
}

type FeedConfig struct {
	// Listen address of the notice feed. Empty disables it.
	Listen string `mapstructure:"listen"`
}

type SpoolConfig struct {
	Inbox    string        `mapstructure:"inbox"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultHome returns $GATHER_HOME, or ~/.gather.
func DefaultHome() string {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home
	}
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".gather")
	}
	return ".gather"
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHome, DefaultHome())
	v.SetDefault(KeyDBPath, "gather.db")
	v.SetDefault(KeyAccountsPath, "accounts.yaml")
	v.SetDefault(KeyPeerListen, "127.0.0.1:0")
	v.SetDefault(KeyPeerAdvertise, "")
	v.SetDefault(KeyPeerDialTimeout, 10*time.Second)
	v.SetDefault(KeyRendezvousURL, "")
	v.SetDefault(KeyRendezvousListen, "127.0.0.1:7400")
	v.SetDefault(KeyFeedListen, "")
	v.SetDefault(KeySpoolInbox, "inbox")
	v.SetDefault(KeySpoolDebounce, 200*time.Millisecond)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the config file (if any) and decodes v into a Config.
// configFile overrides the search for FileName in the home directory.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(v.GetString(KeyHome))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("home is required")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Peer.DialTimeout <= 0 {
		return fmt.Errorf("peer.dial_timeout must be positive")
	}
	if c.Spool.Debounce < 0 {
		return fmt.Errorf("spool.debounce must not be negative")
	}
	return nil
}

func (c *Config) resolvePaths() {
	c.DB.Path = c.resolve(c.DB.Path)
	c.Accounts.Path = c.resolve(c.Accounts.Path)
	c.Spool.Inbox = c.resolve(c.Spool.Inbox)
	c.Log.File = c.resolve(c.Log.File)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Home, p)
}
