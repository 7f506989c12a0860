package config

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_POLICY", "")
	t.Setenv("HISTORY_LIMIT", "")
	t.Setenv("ALLOW_MULTI_SESSION", "")

	cfg := Load()
	if cfg.AuthPolicy != PolicyPermissive {
		t.Errorf("AuthPolicy = %q, want permissive", cfg.AuthPolicy)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d, want 50", cfg.HistoryLimit)
	}
	if !cfg.AllowMultiSession {
		t.Error("AllowMultiSession should default to true")
	}
	if cfg.ChallengeTTL != 5*time.Minute {
		t.Errorf("ChallengeTTL = %s, want 5m", cfg.ChallengeTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTH_POLICY", "STRICT")
	t.Setenv("ALLOW_MULTI_SESSION", "false")
	t.Setenv("STORAGE_TIMEOUT_MS", "250")
	t.Setenv("WS_BURST", "not-a-number")

	cfg := Load()
	if !cfg.Strict() {
		t.Error("expected strict policy")
	}
	if cfg.AllowMultiSession {
		t.Error("expected multi-session disabled")
	}
	if cfg.StorageTimeout != 250*time.Millisecond {
		t.Errorf("StorageTimeout = %s", cfg.StorageTimeout)
	}
	if cfg.WSBurst != 20 {
		t.Errorf("WSBurst = %d, want fallback 20", cfg.WSBurst)
	}
}

func TestValidate_FixesUnknownValues(t *testing.T) {
	cfg := &Config{AuthPolicy: "maybe", StorageDriver: "mongo", HistoryLimit: 0}
	cfg.Validate(zap.NewNop())

	if cfg.AuthPolicy != PolicyPermissive {
		t.Errorf("AuthPolicy = %q", cfg.AuthPolicy)
	}
	if cfg.StorageDriver != StorageDriverPostgres {
		t.Errorf("StorageDriver = %q", cfg.StorageDriver)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d", cfg.HistoryLimit)
	}
}
