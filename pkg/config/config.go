package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/puttlab/internal/device"
)

// ReconnectPolicy bounds automatic reconnection after an unexpected disconnect.
type ReconnectPolicy struct {
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay" default:"5s"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay" default:"1m"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier" default:"2"`
	// MaxAttempts of zero disables reconnection.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" default:"10"`
}

// Profile names the GATT resources of the sensor.
type Profile struct {
	NamePrefix       string `yaml:"name_prefix" json:"name_prefix"`
	StrokeService    string `yaml:"stroke_service" json:"stroke_service"`
	StrokeDataChar   string `yaml:"stroke_data_char" json:"stroke_data_char"`
	PuttEventChar    string `yaml:"putt_event_char" json:"putt_event_char"`
	BatteryService   string `yaml:"battery_service" json:"battery_service"`
	BatteryLevelChar string `yaml:"battery_level_char" json:"battery_level_char"`
}

// ServerConfig configures cmd/puttlab-server.
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr" default:":8080"`
	DBPath       string        `yaml:"db_path" json:"db_path" default:"puttlab.db"`
	UserTokenTTL time.Duration `yaml:"user_token_ttl" json:"user_token_ttl" default:"336h"`
}

// APIConfig configures the backend client.
type APIConfig struct {
	BaseURL         string        `yaml:"base_url" json:"base_url" default:"http://localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" default:"15s"`
	CredentialsPath string        `yaml:"credentials_path" json:"credentials_path"`
}

// Config holds application configuration
type Config struct {
	LogLevel      logrus.Level    `yaml:"log_level" json:"log_level"`
	ScanTimeout   time.Duration   `yaml:"scan_timeout" json:"scan_timeout" default:"3m"`
	DeviceTimeout time.Duration   `yaml:"device_timeout" json:"device_timeout" default:"30s"`
	OutputFormat  string          `yaml:"output_format" json:"output_format" default:"table"` // table, json, csv
	Reconnect     ReconnectPolicy `yaml:"reconnect" json:"reconnect"`
	Profile       Profile         `yaml:"profile" json:"profile"`
	Server        ServerConfig    `yaml:"server" json:"server"`
	API           APIConfig       `yaml:"api" json:"api"`
}

// DefaultProfile returns the identifiers of the stock sensor firmware.
func DefaultProfile() Profile {
	return Profile{
		StrokeService:    device.StrokeServiceUUID,
		StrokeDataChar:   device.StrokeDataCharUUID,
		PuttEventChar:    device.PuttEventCharUUID,
		BatteryService:   device.BatteryServiceUUID,
		BatteryLevelChar: device.BatteryLevelCharUUID,
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: logrus.InfoLevel,
		Profile:  DefaultProfile(),
	}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load overlays the YAML file at path onto DefaultConfig. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values a YAML file or flag could have set wrong.
func (c *Config) Validate() error {
	var errs []error

	switch c.OutputFormat {
	case "table", "json", "csv":
	default:
		errs = append(errs, fmt.Errorf("output_format must be table, json or csv, got %q", c.OutputFormat))
	}
	if c.ScanTimeout < 0 {
		errs = append(errs, errors.New("scan_timeout must not be negative"))
	}
	if c.DeviceTimeout <= 0 {
		errs = append(errs, errors.New("device_timeout must be positive"))
	}

	r := c.Reconnect
	if r.InitialDelay <= 0 {
		errs = append(errs, errors.New("reconnect.initial_delay must be positive"))
	}
	if r.MaxDelay < r.InitialDelay {
		errs = append(errs, errors.New("reconnect.max_delay must not be below initial_delay"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, errors.New("reconnect.multiplier must be at least 1"))
	}
	if r.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}

	p := c.Profile
	if _, err := device.ValidateUUID(p.StrokeService, p.StrokeDataChar, p.PuttEventChar, p.BatteryService, p.BatteryLevelChar); err != nil {
		errs = append(errs, fmt.Errorf("profile: %w", err))
	}

	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
