// Package config loads server configuration: defaults, overlaid by an
// optional YAML file, overlaid by HACKGRID_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the game server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Engine
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	EffectTimeout    time.Duration `yaml:"effect_timeout"`

	// Effects
	CredentialTTL       time.Duration `yaml:"credential_ttl"`
	TransferFeePercent  int64         `yaml:"transfer_fee_percent"`
	FeeAccountID        int64         `yaml:"fee_account_id"`
	EffectMaxRetries    uint64        `yaml:"effect_max_retries"`
	EffectRetryInterval time.Duration `yaml:"effect_retry_interval"`

	// Realtime transport
	QueueSize  int           `yaml:"queue_size"`
	AuthWindow time.Duration `yaml:"auth_window"`
	PingPeriod time.Duration `yaml:"ping_period"`
	PongWait   time.Duration `yaml:"pong_wait"`

	// Sessions
	SessionTTL time.Duration `yaml:"session_ttl"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Default returns Server config with production defaults.
func Default() Server {
	return Server{
		BindAddress:         "0.0.0.0",
		Port:                8080,
		SnapshotInterval:    5 * time.Second,
		EffectTimeout:       5 * time.Second,
		CredentialTTL:       24 * time.Hour,
		TransferFeePercent:  5,
		EffectMaxRetries:    3,
		EffectRetryInterval: 100 * time.Millisecond,
		QueueSize:           256,
		AuthWindow:          10 * time.Second,
		PingPeriod:          30 * time.Second,
		PongWait:            60 * time.Second,
		SessionTTL:          24 * time.Hour,
		LogLevel:            "info",
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "hackgrid",
			Password: "hackgrid",
			DBName:   "hackgrid",
			SSLMode:  "disable",
		},
	}
}

// Load builds the effective config: defaults, then the YAML file at
// path (missing file is fine), then HACKGRID_* environment variables.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays HACKGRID_* environment variables. Deployment
// platforms override single knobs without templating the YAML.
func (c *Server) applyEnv() {
	envString("HACKGRID_BIND_ADDRESS", &c.BindAddress)
	envInt("HACKGRID_PORT", &c.Port)
	envString("HACKGRID_DB_HOST", &c.Database.Host)
	envInt("HACKGRID_DB_PORT", &c.Database.Port)
	envString("HACKGRID_DB_USER", &c.Database.User)
	envString("HACKGRID_DB_PASSWORD", &c.Database.Password)
	envString("HACKGRID_DB_NAME", &c.Database.DBName)
	envString("HACKGRID_DB_SSLMODE", &c.Database.SSLMode)
	envDuration("HACKGRID_SNAPSHOT_INTERVAL", &c.SnapshotInterval)
	envDuration("HACKGRID_EFFECT_TIMEOUT", &c.EffectTimeout)
	envDuration("HACKGRID_CREDENTIAL_TTL", &c.CredentialTTL)
	envInt64("HACKGRID_TRANSFER_FEE_PERCENT", &c.TransferFeePercent)
	envInt64("HACKGRID_FEE_ACCOUNT_ID", &c.FeeAccountID)
	envUint64("HACKGRID_EFFECT_MAX_RETRIES", &c.EffectMaxRetries)
	envDuration("HACKGRID_EFFECT_RETRY_INTERVAL", &c.EffectRetryInterval)
	envInt("HACKGRID_QUEUE_SIZE", &c.QueueSize)
	envDuration("HACKGRID_AUTH_WINDOW", &c.AuthWindow)
	envDuration("HACKGRID_PING_PERIOD", &c.PingPeriod)
	envDuration("HACKGRID_PONG_WAIT", &c.PongWait)
	envDuration("HACKGRID_SESSION_TTL", &c.SessionTTL)
	envString("HACKGRID_LOG_LEVEL", &c.LogLevel)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envUint64(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
