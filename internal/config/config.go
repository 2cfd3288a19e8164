// Package config loads binary configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// NATS configures the JetStream backend.
type NATS struct {
	URL           string        `env:"NATS_URL"`
	SubjectPrefix string        `env:"ES_SUBJECT_PREFIX"    envDefault:"mississippi.loadtest"`
	StreamName    string        `env:"ES_STREAM"            envDefault:"MISSISSIPPI_LOADTEST"`
	MaxAge        time.Duration `env:"ES_MAX_AGE"           envDefault:"1h"`
	SnapshotTTL   time.Duration `env:"ES_SNAPSHOT_TTL"      envDefault:"10m"`
	Bucket        string        `env:"ES_SNAPSHOT_BUCKET"   envDefault:"loadtest_snapshots"`
	EffectPrefix  string        `env:"ES_EFFECT_PREFIX"     envDefault:"mississippi.loadtest.effects"`
}

// Loadtest is the configuration of cmd/loadtest.
type Loadtest struct {
	Backend       string        `env:"BACKEND"                envDefault:"memory"`
	Entities      int           `env:"ENTITIES"               envDefault:"100"`
	Commands      int           `env:"COMMANDS"               envDefault:"50000"`
	Concurrency   int           `env:"CONCURRENCY"            envDefault:"32"`
	ReportEvery   int           `env:"REPORT_EVERY"           envDefault:"5000"`
	Milestone     int           `env:"MILESTONE"              envDefault:"100"`
	MaxIterations int           `env:"MAX_EFFECT_ITERATIONS"  envDefault:"10"`
	RetainEvery   int           `env:"SNAPSHOT_RETAIN_EVERY"  envDefault:"100"`
	Workers       int           `env:"EFFECT_WORKERS"         envDefault:"8"`
	Timeout       time.Duration `env:"TIMEOUT"                envDefault:"2m"`
	MetricsAddr   string        `env:"METRICS_ADDR"           envDefault:":9090"`
	LogLevel      slog.Level    `env:"LOG_LEVEL"              envDefault:"info"`
	NATS          NATS          `envPrefix:""`
}

// Validate rejects settings the loadtest cannot run with.
func (c Loadtest) Validate() error {
	switch c.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("unknown backend %q (memory or nats)", c.Backend)
	}
	if c.Entities <= 0 || c.Commands <= 0 || c.Concurrency <= 0 {
		return fmt.Errorf("entities, commands and concurrency must be positive")
	}
	return nil
}

// LoadLoadtest parses and validates the loadtest configuration.
func LoadLoadtest() (Loadtest, error) {
	var cfg Loadtest
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
