package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type AccountType string

const (
	MEMORY  AccountType = "memory"
	LOCAL   AccountType = "local"
	MAILDIR AccountType = "maildir"
	SQL     AccountType = "sql"
)

const (
	DefaultLockTimeout = 5 * time.Second
	DefaultLockTTL     = 30 * time.Second
	DefaultLogLevel    = "info"
	DefaultUser        = "default"
)

type Config struct {
	Accounts map[string]Account `yaml:"accounts"`
	Lock     LockConfig         `yaml:"lock"`
	Log      LogConfig          `yaml:"log"`
	Metrics  MetricsConfig      `yaml:"metrics"`
}

type Account struct {
	Type AccountType `yaml:"type"`
	// Root directory of a maildir account
	Root string `yaml:"root"`
	// Database file of a local account
	File string `yaml:"file"`
	// Driver and DSN of a sql account
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Owner of the mailboxes
	User string `yaml:"user"`
}

type LockConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig enables a lock shared between processes when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Output format: "text" or "json"
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func newConfig() *Config {
	return &Config{
		Accounts: make(map[string]Account),
	}
}

// LoadFromFile loads the configuration from the file
func LoadFromFile(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	return loadConfig(file)
}

// loadConfig from a io.ReadCloser
func loadConfig(reader io.ReadCloser) (*Config, error) {
	defer reader.Close()
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	config := newConfig()
	err := decoder.Decode(config)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	applyDefaults(config)
	err = validateConfiguration(config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Accounts == nil {
		config.Accounts = make(map[string]Account)
	}
	for name, account := range config.Accounts {
		if account.User == "" {
			account.User = DefaultUser
			config.Accounts[name] = account
		}
	}
	if config.Lock.Timeout == 0 {
		config.Lock.Timeout = DefaultLockTimeout
	}
	if config.Lock.Redis.TTL == 0 {
		config.Lock.Redis.TTL = DefaultLockTTL
	}
	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func validateConfiguration(config *Config) error {
	for name, account := range config.Accounts {
		if err := account.validate(); err != nil {
			return fmt.Errorf("account %q: %w", name, err)
		}
	}
	if config.Lock.Timeout < 0 {
		return errors.New("lock timeout cannot be negative")
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", config.Log.Format)
	}
	return nil
}

func (a Account) validate() error {
	switch a.Type {
	case MEMORY:
		return nil
	case LOCAL:
		if a.File == "" {
			return errors.New("missing database file")
		}
	case MAILDIR:
		if a.Root == "" {
			return errors.New("missing root directory")
		}
	case SQL:
		if a.Driver == "" || a.DSN == "" {
			return errors.New("missing driver or dsn")
		}
	default:
		return fmt.Errorf("unknown account type %q", a.Type)
	}
	return nil
}
