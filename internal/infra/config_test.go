package infra

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Auth.AssertionHeader != "X-Goog-IAP-JWT-Assertion" {
		t.Errorf("AssertionHeader = %q", cfg.Auth.AssertionHeader)
	}
	if cfg.Auth.ImpersonationHeader != "X-User-ID-Token" {
		t.Errorf("ImpersonationHeader = %q", cfg.Auth.ImpersonationHeader)
	}
	if cfg.Limits.ImpersonationWindow != time.Minute {
		t.Errorf("ImpersonationWindow = %v, want 1m", cfg.Limits.ImpersonationWindow)
	}
	if cfg.Limits.MaxUniqueImpersonations != 20 {
		t.Errorf("MaxUniqueImpersonations = %d, want 20", cfg.Limits.MaxUniqueImpersonations)
	}
	if len(cfg.Auth.AllowedPaths) != 1 || cfg.Auth.AllowedPaths[0] != "/v1/search" {
		t.Errorf("AllowedPaths = %v", cfg.Auth.AllowedPaths)
	}
}

func TestLoadConfig_DefaultIntermediaries(t *testing.T) {
	t.Setenv("AUTH_CLIENT_ID", "cid-from-env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if len(cfg.Auth.Intermediaries) != 2 {
		t.Fatalf("Intermediaries = %+v, want 2 defaults", cfg.Auth.Intermediaries)
	}

	logic := cfg.Auth.Intermediaries[0]
	if logic.Pattern != "aibot-logic" || !logic.VerifyAudience || logic.Audience != "cid-from-env" {
		t.Errorf("logic policy = %+v", logic)
	}

	accessor := cfg.Auth.Intermediaries[1]
	if accessor.Pattern != "mcp-client-accessor" || accessor.VerifyAudience {
		t.Errorf("accessor policy = %+v", accessor)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 from env", cfg.Server.Port)
	}
}
