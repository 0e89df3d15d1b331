package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	Port string

	StockfishPath string
	EngineConfig  string

	AllowedOrigins []string

	RedisURL string

	GameIdleTTL   time.Duration
	SweepInterval time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:          "8000",
		GameIdleTTL:   2 * time.Hour,
		SweepInterval: 5 * time.Minute,
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("PORT must be numeric, got %q", v)
		}
		cfg.Port = v
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if cfg.StockfishPath == "" {
		return nil, errors.New("STOCKFISH_PATH is required")
	}
	if err := checkExecutable(cfg.StockfishPath); err != nil {
		return nil, fmt.Errorf("STOCKFISH_PATH: %w", err)
	}

	cfg.EngineConfig = strings.TrimSpace(os.Getenv("ENGINE_CONFIG"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}

	if v := strings.TrimSpace(os.Getenv("GAME_IDLE_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("GAME_IDLE_TTL must be a positive duration, got %q", v)
		}
		cfg.GameIdleTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("GAME_SWEEP_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("GAME_SWEEP_INTERVAL must be a positive duration, got %q", v)
		}
		cfg.SweepInterval = d
	}

	return cfg, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
