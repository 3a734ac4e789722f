package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"MAX_ACTIVE_JOBS", "JOB_TIMEOUT_MINUTES", "CORS_ALLOWED_ORIGINS", "WORKER_POLL_INTERVAL_MS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.MaxActiveJobs != 5 {
		t.Fatalf("expected MaxActiveJobs=5, got %d", cfg.MaxActiveJobs)
	}
	if cfg.JobTimeout() != 10*time.Minute {
		t.Fatalf("expected 10m timeout, got %s", cfg.JobTimeout())
	}
	if cfg.WorkerPollInterval() != time.Second {
		t.Fatalf("expected 1s poll interval, got %s", cfg.WorkerPollInterval())
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadFallsBackOnNonPositiveLimits(t *testing.T) {
	t.Setenv("MAX_ACTIVE_JOBS", "0")
	t.Setenv("JOB_TIMEOUT_MINUTES", "-3")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "abc")

	cfg := Load()
	if cfg.MaxActiveJobs != 5 {
		t.Fatalf("expected fallback MaxActiveJobs=5, got %d", cfg.MaxActiveJobs)
	}
	if cfg.JobTimeoutMinutes != 10 {
		t.Fatalf("expected fallback timeout 10, got %d", cfg.JobTimeoutMinutes)
	}
	if cfg.MaxUploadBytes() != 16<<20 {
		t.Fatalf("expected 16MiB, got %d", cfg.MaxUploadBytes())
	}
}

func TestLoadParsesOriginsList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com, ,https://b.example.com ")

	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "MAX_ACTIVE_JOBS=7\nexport OUTPUT_DIR=\"/srv/out\"\nPORT=9999\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("PORT", "8081")
	t.Setenv("MAX_ACTIVE_JOBS", "")
	os.Unsetenv("MAX_ACTIVE_JOBS")
	t.Setenv("OUTPUT_DIR", "")
	os.Unsetenv("OUTPUT_DIR")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}

	cfg := Load()
	if cfg.Port != "8081" {
		t.Fatalf("expected process env to win, got %s", cfg.Port)
	}
	if cfg.MaxActiveJobs != 7 {
		t.Fatalf("expected MaxActiveJobs=7 from file, got %d", cfg.MaxActiveJobs)
	}
	if cfg.OutputDir != "/srv/out" {
		t.Fatalf("expected OUTPUT_DIR from file, got %s", cfg.OutputDir)
	}
}
