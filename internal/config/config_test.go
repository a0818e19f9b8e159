package config

import (
	"os"
	"testing"
	"time"

	"github.com/narenallam/e-commerce-saga/internal/contract"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("ORDER_SERVICE_URL")
	os.Unsetenv("COORDINATOR_LOCAL_MODE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTPPort != 9000 {
		t.Fatalf("HTTPPort = %d, want 9000", cfg.HTTPPort)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if got := cfg.ParticipantURLs[contract.ParticipantOrder]; got != "http://order-service:8000" {
		t.Fatalf("order URL = %q, want convention default", got)
	}
	if got := cfg.ParticipantURLs[contract.ParticipantNotification]; got != "http://notification-service:8004" {
		t.Fatalf("notification URL = %q, want convention default", got)
	}
}

func TestLoadEnvOverridesParticipantURL(t *testing.T) {
	os.Setenv("PAYMENT_SERVICE_URL", "http://payments.internal:9102/")
	defer os.Unsetenv("PAYMENT_SERVICE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if got := cfg.ParticipantURLs[contract.ParticipantPayment]; got != "http://payments.internal:9102" {
		t.Fatalf("payment URL = %q, want env override with trailing slash trimmed", got)
	}
}

func TestLoadLocalModeUsesLocalhost(t *testing.T) {
	os.Setenv("COORDINATOR_LOCAL_MODE", "true")
	defer os.Unsetenv("COORDINATOR_LOCAL_MODE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if got := cfg.ParticipantURLs[contract.ParticipantInventory]; got != "http://localhost:8001" {
		t.Fatalf("inventory URL = %q, want localhost", got)
	}
}

func TestLoadRejectsMalformedURL(t *testing.T) {
	os.Setenv("SHIPPING_SERVICE_URL", "://bad")
	defer os.Unsetenv("SHIPPING_SERVICE_URL")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed participant URL")
	}
}

func TestLoadRejectsBadJournal(t *testing.T) {
	os.Setenv("COORDINATOR_JOURNAL", "sqlite")
	defer os.Unsetenv("COORDINATOR_JOURNAL")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown journal backend")
	}
}

func TestLoadPostgresJournalRequiresDSN(t *testing.T) {
	os.Setenv("COORDINATOR_JOURNAL", "postgres")
	os.Unsetenv("POSTGRES_DSN")
	defer os.Unsetenv("COORDINATOR_JOURNAL")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when postgres journal has no DSN")
	}
}

func TestLoadTimeoutFromMillis(t *testing.T) {
	os.Setenv("COORDINATOR_REQUEST_TIMEOUT_MS", "1500")
	defer os.Unsetenv("COORDINATOR_REQUEST_TIMEOUT_MS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.RequestTimeout != 1500*time.Millisecond {
		t.Fatalf("RequestTimeout = %v, want 1.5s", cfg.RequestTimeout)
	}
}
