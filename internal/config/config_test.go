package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadFallsBackOnInvalidAlertWindow(t *testing.T) {
	t.Setenv("EXPIRY_ALERT_DAYS", "-3")

	cfg := Load()
	if cfg.ExpiryAlertDays != 30 {
		t.Fatalf("expected fallback window 30, got %d", cfg.ExpiryAlertDays)
	}
}
