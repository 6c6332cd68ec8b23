// Package config loads the service configuration from a YAML file with
// selected overrides from the environment. Secrets (database URLs, the
// credential encryption key) belong in the environment, not the file.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Database  DatabaseConfig `yaml:"database"`
	Intervals IntervalConfig `yaml:"intervals"`
	HTTP      HTTPConfig     `yaml:"http"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Redis     RedisConfig    `yaml:"redis"`
	Security  SecurityConfig `yaml:"security"`
}

type DatabaseConfig struct {
	// Driver selects the backend: "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file, relative to the config file unless
	// absolute. Ignored for postgres.
	Path string `yaml:"path"`
	// URL is the postgres connection string. Ignored for sqlite.
	URL string `yaml:"url"`
}

type IntervalConfig struct {
	PollSeconds int `yaml:"poll_seconds"`
	// Workers bounds how many controllers poll concurrently.
	Workers int `yaml:"workers"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig enables reading fan-out over MQTT. An empty broker URL leaves
// publishing disabled.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// RedisConfig enables the latest-reading hot cache. An empty addr leaves
// caching disabled.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type SecurityConfig struct {
	// EncryptionKey is the base64-encoded 32-byte AES key for credential
	// blobs. Normally injected via ENVIROFLOW_ENCRYPTION_KEY.
	EncryptionKey string `yaml:"encryption_key"`
}

// Load reads a YAML config file, overlays environment variables, and fills
// in defaults. A .env file in the working directory is honoured when present.
func Load(path string) (AppConfig, error) {
	_ = godotenv.Load()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config %s: %w", absPath, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse config %s: %w", filepath.Base(absPath), err)
	}

	cfg.applyEnv()

	if err := cfg.validate(filepath.Dir(absPath)); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// applyEnv overlays the environment variables operators are expected to set
// in deployment instead of editing the config file.
func (c *AppConfig) applyEnv() {
	if v := os.Getenv("ENVIROFLOW_DATABASE_URL"); v != "" {
		c.Database.Driver = "postgres"
		c.Database.URL = v
	}
	if v := os.Getenv("ENVIROFLOW_ENCRYPTION_KEY"); v != "" {
		c.Security.EncryptionKey = v
	}
	if v := os.Getenv("ENVIROFLOW_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("ENVIROFLOW_MQTT_BROKER_URL"); v != "" {
		c.MQTT.BrokerURL = v
	}
	if v := os.Getenv("ENVIROFLOW_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("ENVIROFLOW_POLL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Intervals.PollSeconds = n
		}
	}
}

func (c *AppConfig) validate(baseDir string) error {
	switch c.Database.Driver {
	case "":
		c.Database.Driver = "sqlite"
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Database.Driver == "sqlite" {
		if c.Database.Path == "" {
			c.Database.Path = "enviroflow.db"
		}
		if !filepath.IsAbs(c.Database.Path) {
			c.Database.Path = filepath.Clean(filepath.Join(baseDir, c.Database.Path))
		}
	}

	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("postgres driver requires a database URL")
	}

	if c.Intervals.PollSeconds <= 0 {
		c.Intervals.PollSeconds = 90
	}

	if c.Intervals.Workers <= 0 {
		c.Intervals.Workers = 4
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	if c.MQTT.BrokerURL != "" {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "enviroflow"
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = "enviroflow"
		}
	}

	if c.Redis.Addr != "" && c.Redis.TTLSeconds <= 0 {
		c.Redis.TTLSeconds = 300
	}

	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required (set ENVIROFLOW_ENCRYPTION_KEY)")
	}

	return nil
}

// EncryptionKeyBytes decodes the configured base64 key.
func (c *AppConfig) EncryptionKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return key, nil
}
