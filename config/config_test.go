package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.InvitationTimeout != 30*time.Minute {
		t.Errorf("InvitationTimeout = %v, want 30m", cfg.InvitationTimeout)
	}
	if cfg.CaseReadTime != 10*time.Minute {
		t.Errorf("CaseReadTime = %v, want 10m", cfg.CaseReadTime)
	}
	if len(cfg.SlotStarts) != 3 {
		t.Errorf("SlotStarts = %v, want 3 defaults", cfg.SlotStarts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadDurationOverride(t *testing.T) {
	t.Setenv("GRACE_PERIOD", "3m")
	t.Setenv("PRESENCE_POLL_INTERVAL", "5s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GracePeriod != 3*time.Minute {
		t.Errorf("GracePeriod = %v, want 3m", cfg.GracePeriod)
	}
	if cfg.PresencePollInterval != 5*time.Second {
		t.Errorf("PresencePollInterval = %v, want 5s", cfg.PresencePollInterval)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "often")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid SWEEP_INTERVAL")
	}
}

func TestLoadRejectsBadSlotStarts(t *testing.T) {
	t.Setenv("SLOT_STARTS", "15:00,25:99")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid SLOT_STARTS entry")
	}
}

func TestValidateOrdering(t *testing.T) {
	t.Setenv("CASE_READ_TIME", "5m")
	t.Setenv("LINK_FOLLOW_TIME", "10m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure when LINK_FOLLOW_TIME >= CASE_READ_TIME")
	}
}

func TestValidateSameDayTimeout(t *testing.T) {
	t.Setenv("SAME_DAY_INVITATION_TIMEOUT", "45m") // longer than default invitation timeout
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation failure when same-day timeout exceeds invitation timeout")
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	t.Setenv("TWITCH_CHANNEL", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error when missing twitch envs")
	}
}
