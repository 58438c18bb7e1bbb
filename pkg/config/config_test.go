package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BrandBrain.GlobalMaxItems != 40 {
		t.Errorf("global_max_items default: %d", cfg.BrandBrain.GlobalMaxItems)
	}
	if cfg.BrandBrain.ActorTTL() != 24*time.Hour {
		t.Errorf("actor ttl default: %v", cfg.BrandBrain.ActorTTL())
	}
	if cfg.BrandBrain.StaleLockThreshold() != 10*time.Minute {
		t.Errorf("stale lock default: %v", cfg.BrandBrain.StaleLockThreshold())
	}
	if cfg.BrandBrain.HeartbeatInterval() != 30*time.Second {
		t.Errorf("heartbeat default: %v", cfg.BrandBrain.HeartbeatInterval())
	}
	if cfg.BrandBrain.EnableLinkedinProfilePosts {
		t.Error("linkedin profile posts must default to disabled")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db/brandbrain")
	t.Setenv("BRANDBRAIN_GLOBAL_MAX_ITEMS", "25")
	t.Setenv("BRANDBRAIN_ACTOR_TTL_HOURS", "6")
	t.Setenv("BRANDBRAIN_ENABLE_LINKEDIN_PROFILE_POSTS", "1")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.DSN != "postgres://u:p@db/brandbrain" {
		t.Errorf("dsn: %q", cfg.Database.DSN)
	}
	if cfg.BrandBrain.GlobalMaxItems != 25 {
		t.Errorf("global max: %d", cfg.BrandBrain.GlobalMaxItems)
	}
	if cfg.BrandBrain.ActorTTL() != 6*time.Hour {
		t.Errorf("ttl: %v", cfg.BrandBrain.ActorTTL())
	}
	if !cfg.BrandBrain.EnableLinkedinProfilePosts {
		t.Error("feature flag presence should enable linkedin profile posts")
	}
}

func TestParseDurationOr(t *testing.T) {
	if d := ParseDurationOr("", 5*time.Second); d != 5*time.Second {
		t.Errorf("empty: %v", d)
	}
	if d := ParseDurationOr("bogus", 5*time.Second); d != 5*time.Second {
		t.Errorf("bogus: %v", d)
	}
	if d := ParseDurationOr("90s", 5*time.Second); d != 90*time.Second {
		t.Errorf("90s: %v", d)
	}
}
