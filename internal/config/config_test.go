package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 7070},
		Agent:     AgentConfig{ID: "42", Identity: "agent_42"},
		Backend:   BackendConfig{URL: "http://localhost:8000"},
		Signaling: SignalingConfig{URL: "ws://localhost:8000/ws"},
		Softphone: SoftphoneConfig{URL: "ws://127.0.0.1:7171/device"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Session.OfferTTL != 60*time.Second {
		t.Fatalf("expected 60s offer ttl default, got %v", c.Session.OfferTTL)
	}
	if c.Session.RejectPolicy != "silent" {
		t.Fatalf("expected silent reject policy default, got %q", c.Session.RejectPolicy)
	}
	if c.Store.Driver != "sqlite" || c.Store.SQLitePath == "" {
		t.Fatalf("expected sqlite store default, got %q %q", c.Store.Driver, c.Store.SQLitePath)
	}
	if c.Signaling.MaxReconnectAttempts <= 0 || c.Signaling.BackoffBase <= 0 || c.Signaling.BackoffMax < c.Signaling.BackoffBase {
		t.Fatalf("unexpected signaling defaults: %+v", c.Signaling)
	}
}

func TestValidate_ProductionRequiresExplicitSettings(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Backend.URL = "https://api.example.com"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without CONTROL_TOKEN and STORE_DRIVER")
	}
}

func TestValidate_PostgresStoreRequiresSSLModeInProduction(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.App.ControlToken = "secret"
	c.Backend.URL = "https://api.example.com"
	c.Store.Driver = "postgres"
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "agent"}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_RejectsUnknownRejectPolicy(t *testing.T) {
	c := validLocal()
	c.Session.RejectPolicy = "hangup"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for unknown reject policy")
	}
}

func TestLoad_RejectsUnparseableDurations(t *testing.T) {
	t.Setenv("APP_PORT", "7070")
	t.Setenv("OFFER_TTL", "sixty")
	t.Setenv("BACKEND_TIMEOUT", "10")
	t.Setenv("SIGNALING_BACKOFF_BASE", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse error")
	}
	for _, key := range []string{"OFFER_TTL", "BACKEND_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
	if strings.Contains(err.Error(), "SIGNALING_BACKOFF_BASE") {
		t.Fatalf("unset duration must fall back to the default, got %v", err)
	}
}
