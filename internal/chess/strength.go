package chess

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine strength is a UCI_Elo rating. Stockfish's limiter accepts 1320-3000;
// at MaxElo the limiter is switched off entirely.
const (
	MinElo = 1320
	MaxElo = 3000
)

var ErrStrengthRange = errors.New("strength out of range")

// ValidateElo rejects ratings outside the engine's supported range.
func ValidateElo(elo int) error {
	if elo < MinElo || elo > MaxElo {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrStrengthRange, elo, MinElo, MaxElo)
	}
	return nil
}

// EloToSkill maps a rating onto the engine's Skill Level scale (0-20).
func EloToSkill(elo int) int {
	skill := (elo - MinElo) * 20 / (MaxElo - MinElo)
	if skill < 0 {
		return 0
	}
	if skill > 20 {
		return 20
	}
	return skill
}

// FullStrength reports whether the rating disables the strength limiter.
func FullStrength(elo int) bool { return elo >= MaxElo }

// EngineTuning carries engine process knobs. The strength parameter affects
// move quality only; the search budget stays short and rating-scaled.
type EngineTuning struct {
	Threads            int `yaml:"threads"`
	HashMB             int `yaml:"hash_mb"`
	BaseMoveTimeMillis int `yaml:"base_move_time_ms"`
	RestartAttempts    int `yaml:"restart_attempts"`
}

func DefaultTuning() EngineTuning {
	return EngineTuning{
		Threads:            1,
		HashMB:             64,
		BaseMoveTimeMillis: 200,
		RestartAttempts:    2,
	}
}

// LoadTuning returns the defaults overlaid with an optional YAML file.
func LoadTuning(path string) (EngineTuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read engine tuning: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("parse engine tuning: %w", err)
	}
	if t.Threads <= 0 || t.HashMB <= 0 || t.BaseMoveTimeMillis <= 0 || t.RestartAttempts < 0 {
		return t, fmt.Errorf("engine tuning values must be positive: %+v", t)
	}
	return t, nil
}

// MoveTimeFor scales the base search budget by rating: stronger settings get
// up to 1.5x the base time, mirroring how play strength is usually tiered.
func (t EngineTuning) MoveTimeFor(elo int) time.Duration {
	factor := float64(elo-MinElo) / float64(MaxElo-MinElo)
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	ms := float64(t.BaseMoveTimeMillis) * (1 + factor*0.5)
	return time.Duration(ms) * time.Millisecond
}
