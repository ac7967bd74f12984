package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/rcdrive/internal/store"
	"github.com/srg/rcdrive/internal/transport"
)

// Config holds application configuration. Every field can come from the YAML
// file and most are overridden by command-line flags.
type Config struct {
	LogLevel  string `yaml:"log_level" default:"error"`
	LogFormat string `yaml:"log_format" default:"text"` // text, json

	Store StoreConfig `yaml:"store"`
	BLE   BLEConfig   `yaml:"ble"`
	WiFi  WiFiConfig  `yaml:"wifi"`

	Heartbeat   time.Duration `yaml:"heartbeat" default:"10s"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend" default:"file"` // file, redis, memory
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redis_addr" default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" default:"rcdrive:"`
}

type BLEConfig struct {
	Address      string        `yaml:"address"`
	ScanTimeout  time.Duration `yaml:"scan_timeout" default:"10s"`
	ChunkSize    int           `yaml:"chunk_size" default:"20"`
	ChunkDelay   time.Duration `yaml:"chunk_delay" default:"10ms"`
	PollInterval time.Duration `yaml:"poll_interval" default:"500ms"`
}

type WiFiConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port" default:"80"`
	CommandTimeout   time.Duration `yaml:"command_timeout" default:"5s"`
	SensorTimeout    time.Duration `yaml:"sensor_timeout" default:"2s"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" default:"5s"`
	PollInterval     time.Duration `yaml:"poll_interval" default:"500ms"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults. An empty path yields the defaults; a
// missing file is an error only when allowMissing is false.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	switch strings.ToLower(c.Store.Backend) {
	case store.BackendFile, store.BackendRedis, store.BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.WiFi.Port < 1 || c.WiFi.Port > 65535 {
		return fmt.Errorf("wifi port %d out of range", c.WiFi.Port)
	}
	if c.BLE.ChunkSize < 1 {
		return fmt.Errorf("ble chunk size must be positive, got %d", c.BLE.ChunkSize)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// TransportConfig maps the link sections onto transport options.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		BLE: transport.BLEOptions{
			Address:      c.BLE.Address,
			ScanTimeout:  c.BLE.ScanTimeout,
			ChunkSize:    c.BLE.ChunkSize,
			ChunkDelay:   c.BLE.ChunkDelay,
			PollInterval: c.BLE.PollInterval,
		},
		WiFi: transport.WiFiOptions{
			Host:             c.WiFi.Host,
			Port:             c.WiFi.Port,
			CommandTimeout:   c.WiFi.CommandTimeout,
			SensorTimeout:    c.WiFi.SensorTimeout,
			HandshakeTimeout: c.WiFi.HandshakeTimeout,
			PollInterval:     c.WiFi.PollInterval,
		},
	}
}

// StoreOptions maps the store section onto store.Open options.
func (c *Config) StoreOptions() store.Options {
	dir := c.Store.Dir
	if dir == "" {
		dir = store.DefaultDir
	}
	return store.Options{
		Backend:       strings.ToLower(c.Store.Backend),
		Dir:           dir,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		RedisPrefix:   c.Store.RedisPrefix,
	}
}
