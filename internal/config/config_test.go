package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFakeEngine(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockfish")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STOCKFISH_PATH", "ENGINE_CONFIG", "REDIS_URL",
		"ALLOWED_ORIGINS", "GAME_IDLE_TTL", "GAME_SWEEP_INTERVAL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKFISH_PATH", writeFakeEngine(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.GameIdleTTL != 2*time.Hour || cfg.SweepInterval != 5*time.Minute {
		t.Errorf("eviction defaults wrong: ttl=%v sweep=%v", cfg.GameIdleTTL, cfg.SweepInterval)
	}
	if len(cfg.AllowedOrigins) == 0 {
		t.Error("no default allowed origins")
	}
}

func TestLoadRequiresEnginePath(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a missing STOCKFISH_PATH")
	}

	t.Setenv("STOCKFISH_PATH", filepath.Join(t.TempDir(), "nope"))
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a nonexistent engine binary")
	}

	dir := t.TempDir()
	t.Setenv("STOCKFISH_PATH", dir)
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a directory as engine binary")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKFISH_PATH", writeFakeEngine(t))
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("GAME_IDLE_TTL", "30m")
	t.Setenv("GAME_SWEEP_INTERVAL", "1m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.GameIdleTTL != 30*time.Minute || cfg.SweepInterval != time.Minute {
		t.Errorf("eviction overrides wrong: ttl=%v sweep=%v", cfg.GameIdleTTL, cfg.SweepInterval)
	}
	if cfg.RedisURL == "" {
		t.Error("RedisURL not picked up")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKFISH_PATH", writeFakeEngine(t))

	t.Setenv("PORT", "not-a-port")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a non-numeric port")
	}
	t.Setenv("PORT", "")

	t.Setenv("GAME_IDLE_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a malformed idle TTL")
	}
}
