// Package config loads typed application configuration from the
// environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all process configuration. Every field is sourced from the
// environment; there is no config file layer.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// BlobStoreURL selects the blob-store backend by scheme: file:// for the
	// filesystem implementation, gs:// for Google Cloud Storage.
	BlobStoreURL string `env:"BLOB_STORE_URL" envDefault:"file:///var/lib/crestline/blobs"`

	WorkerPoolSize int `env:"WORKER_POOL_SIZE" envDefault:"4"`

	// BlobRateLimitPerSec and BlobRateLimitBurst bound outbound calls to the
	// blob store (golang.org/x/time/rate token bucket), so a burst of
	// activity uploads can't starve other blob traffic sharing the backend.
	BlobRateLimitPerSec float64 `env:"BLOB_RATE_LIMIT_PER_SEC" envDefault:"50.0"`
	BlobRateLimitBurst  int     `env:"BLOB_RATE_LIMIT_BURST" envDefault:"20"`

	Matcher MatcherConfig `envPrefix:"MATCHER_"`
}

// MatcherConfig tunes the segment matcher's geometric tolerance. Both
// defaults come from the design notes in SPEC_FULL.md §9.
type MatcherConfig struct {
	ToleranceMeters    float64 `env:"TOLERANCE_METERS" envDefault:"50.0"`
	CoverageThreshold  float64 `env:"COVERAGE_THRESHOLD" envDefault:"0.90"`
	LeaseDuration      int     `env:"LEASE_SECONDS" envDefault:"60"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
