package game

import (
	"errors"
	"testing"

	"github.com/JackieWYB/majiang-sub001/internal/dto"
)

func TestRuleConfigValidate(t *testing.T) {
	cfg := DefaultRuleConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	bad := DefaultRuleConfig()
	bad.Players = 4
	if err := bad.Validate(); !errors.Is(err, dto.ErrConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID for players=4, got %v", err)
	}

	bad = DefaultRuleConfig()
	bad.Tiles = "HEARTS"
	if err := bad.Validate(); !errors.Is(err, dto.ErrConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID for unknown tile set, got %v", err)
	}

	bad = DefaultRuleConfig()
	bad.HuTypes = []string{"luckyDragon"}
	if err := bad.Validate(); !errors.Is(err, dto.ErrConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID for unknown hu type, got %v", err)
	}

	bad = DefaultRuleConfig()
	bad.Score.MaxScore = 0
	if err := bad.Validate(); !errors.Is(err, dto.ErrConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID for zero maxScore, got %v", err)
	}

	bad = DefaultRuleConfig()
	bad.MaxRounds = 0
	if err := bad.Validate(); !errors.Is(err, dto.ErrConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID for zero maxRounds, got %v", err)
	}
}
