package shared_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/komi0929/veganmap/internal/shared"
)

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PLACES_API_KEY", "pk")
	t.Setenv("GEMINI_API_KEY", "gk")
	t.Setenv(shared.ConfigPathEnv, "")
}

func TestLoad_Defaults(t *testing.T) {
	requiredEnv(t)

	c, err := shared.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTPAddr != ":8080" || c.MaxAttempts != 3 || c.StaleAfter != 72*time.Hour || c.SweepWorkers != 1 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.CacheTTL() != 15*time.Minute {
		t.Fatalf("cache ttl: %v", c.CacheTTL())
	}
	if c.AttemptTimeout != 4*time.Minute || c.LockTTL != 15*time.Minute {
		t.Fatalf("attempt timeout %v, lock ttl %v", c.AttemptTimeout, c.LockTTL)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	requiredEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "http_addr: \":9090\"\nmax_attempts: 5\nsweep_pacing: 10s\nsweep_enabled: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(shared.ConfigPathEnv, path)
	t.Setenv("MAX_ATTEMPTS", "4")
	t.Setenv("STALE_AFTER", "24h")

	c, err := shared.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTPAddr != ":9090" || !c.SweepEnabled || c.SweepPacing != 10*time.Second {
		t.Fatalf("file layer not applied: %+v", c)
	}
	if c.MaxAttempts != 4 || c.StaleAfter != 24*time.Hour {
		t.Fatalf("env must override file: %+v", c)
	}
}

func TestLoad_Invalid(t *testing.T) {
	requiredEnv(t)
	t.Setenv("MAX_ATTEMPTS", "0")

	_, err := shared.Load()
	if err == nil || !strings.Contains(err.Error(), "MaxAttempts") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoad_MissingKey(t *testing.T) {
	requiredEnv(t)
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := shared.Load(); err == nil {
		t.Fatalf("expected error for missing gemini key")
	}
}
