// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/rs/zerolog"
)

const (
	DatabaseTypePostgres = "postgres"
	DatabaseTypeDummy    = "dummy"
)

type Config struct {
	// DatabaseURL is the postgres connection string.
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseType string `env:"DATABASE_TYPE,default=postgres"`
	// LogLevel is a zerolog numeric level, 0 (debug) to 5 (panic).
	LogLevel int `env:"LOGLEVEL,default=1"`

	HTTPAddr string `env:"HTTP_ADDR,default=:8000"`
	GRPCAddr string `env:"GRPC_ADDR,default=:50051"`

	// ExportBufferLines bounds the lines queued between a store cursor and a client.
	ExportBufferLines int `env:"EXPORT_BUFFER_LINES,default=256"`
	// CORSOrigins is a comma separated list of origins allowed to read exports.
	CORSOrigins           string `env:"CORS_ORIGINS,default=*"`
	HealthIntervalSeconds int    `env:"HEALTH_INTERVAL_SECONDS,default=10"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return FromEnvSet(es)
}

// FromEnvSet reads the configuration from es and validates it.
func FromEnvSet(es env.EnvSet) (Config, error) {
	var cfg Config
	if err := env.Unmarshal(es, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal environment: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.DatabaseType {
	case DatabaseTypePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when DATABASE_TYPE is %s", DatabaseTypePostgres)
		}
	case DatabaseTypeDummy:
	default:
		return fmt.Errorf("unknown DATABASE_TYPE '%s'", c.DatabaseType)
	}
	if c.ExportBufferLines <= 0 {
		return fmt.Errorf("EXPORT_BUFFER_LINES must be positive, got %d", c.ExportBufferLines)
	}
	if c.HealthIntervalSeconds <= 0 {
		return fmt.Errorf("HEALTH_INTERVAL_SECONDS must be positive, got %d", c.HealthIntervalSeconds)
	}
	return nil
}

// Level returns the configured zerolog level, falling back to info when out of range.
func (c Config) Level() zerolog.Level {
	lvl := zerolog.Level(c.LogLevel)
	if lvl < zerolog.TraceLevel || lvl > zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return lvl
}

// Origins splits CORSOrigins into its trimmed, non-empty entries.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}
