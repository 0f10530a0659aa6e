package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		original, had := os.LookupEnv(k)
		_ = os.Setenv(k, v)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, original)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/crestline",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Errorf("expected default worker pool size 4, got %d", cfg.WorkerPoolSize)
	}
	if cfg.Matcher.ToleranceMeters != 50.0 {
		t.Errorf("expected default tolerance 50.0, got %v", cfg.Matcher.ToleranceMeters)
	}
	if cfg.Matcher.CoverageThreshold != 0.90 {
		t.Errorf("expected default coverage threshold 0.90, got %v", cfg.Matcher.CoverageThreshold)
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	withEnv(t, map[string]string{"DATABASE_URL": ""})
	_ = os.Unsetenv("DATABASE_URL")

	if _, err := Load(); err == nil {
		t.Error("expected error when DATABASE_URL is unset")
	}
}

func TestLoadOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"DATABASE_URL":              "postgres://localhost/crestline",
		"WORKER_POOL_SIZE":          "16",
		"MATCHER_TOLERANCE_METERS":  "25.5",
		"MATCHER_COVERAGE_THRESHOLD": "0.75",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.WorkerPoolSize != 16 {
		t.Errorf("expected worker pool size 16, got %d", cfg.WorkerPoolSize)
	}
	if cfg.Matcher.ToleranceMeters != 25.5 {
		t.Errorf("expected tolerance 25.5, got %v", cfg.Matcher.ToleranceMeters)
	}
	if cfg.Matcher.CoverageThreshold != 0.75 {
		t.Errorf("expected coverage threshold 0.75, got %v", cfg.Matcher.CoverageThreshold)
	}
}
