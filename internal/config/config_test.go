package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxConcurrentSends_Bounds(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxConcurrentSends = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentSends=0")
	}

	cfg.General.MaxConcurrentSends = 101
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentSends=101")
	}

	cfg.General.MaxConcurrentSends = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentSends=1 should be valid: %v", err)
	}
}

func TestValidate_UnknownDefaultProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.DefaultProvider = "nonexistent"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for default provider without a providers entry")
	}
}

func TestValidate_InvalidGatewayPort(t *testing.T) {
	cfg := Defaults()
	cfg.Gateway.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Gateway.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_HistoryBackend(t *testing.T) {
	for _, backend := range []string{"", "sqlite"} {
		cfg := Defaults()
		cfg.Automation.HistoryBackend = backend
		if err := Validate(cfg); err != nil {
			t.Fatalf("backend %q should be valid: %v", backend, err)
		}
	}

	cfg := Defaults()
	cfg.Automation.HistoryBackend = "etcd"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown history backend")
	}

	cfg = Defaults()
	cfg.Automation.HistoryBackend = "redis"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis backend without addr")
	}
	cfg.Automation.Redis.Addr = "localhost:6379"
	if err := Validate(cfg); err != nil {
		t.Fatalf("redis backend with addr should be valid: %v", err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.General.DefaultProvider = "twilio"
	cfg.Providers["twilio"] = ProviderConfig{Enabled: true, APIKey: "AC123", APISecret: "tok", Sender: "+15550100"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.General.DefaultProvider != "twilio" {
		t.Fatalf("expected default provider twilio, got %q", loaded.General.DefaultProvider)
	}
	if loaded.Providers["twilio"].APIKey != "AC123" {
		t.Fatalf("provider credentials lost in round trip")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// --- Env var expansion ---

func TestExpandEnvVars_Set(t *testing.T) {
	os.Setenv("SMSGATE_TEST_KEY", "secret123")
	defer os.Unsetenv("SMSGATE_TEST_KEY")

	out := ExpandEnvVars(`{"apiKey": "${SMSGATE_TEST_KEY}"}`)
	if out != `{"apiKey": "secret123"}` {
		t.Fatalf("unexpected expansion: %s", out)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("SMSGATE_UNSET_VAR")

	out := ExpandEnvVars(`${SMSGATE_UNSET_VAR:-fallback}`)
	if out != "fallback" {
		t.Fatalf("expected fallback, got %q", out)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	os.Unsetenv("SMSGATE_UNSET_VAR")

	in := `${SMSGATE_UNSET_VAR}`
	if out := ExpandEnvVars(in); out != in {
		t.Fatalf("expected original string to be kept, got %q", out)
	}
}
