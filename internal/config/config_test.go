package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/identity"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress)
	}
	if cfg.SweepInterval != 15*time.Second || cfg.HeartbeatTimeout != 45*time.Second {
		t.Fatalf("unexpected presence timings: %s / %s", cfg.SweepInterval, cfg.HeartbeatTimeout)
	}
	if cfg.OutboundBuffer != 64 || cfg.JournalBuffer != 256 {
		t.Fatalf("unexpected buffers: %d / %d", cfg.OutboundBuffer, cfg.JournalBuffer)
	}
	if cfg.JournalPath != "" {
		t.Fatalf("expected in-memory journal by default, got %q", cfg.JournalPath)
	}
	if len(cfg.Identities) != 3 || cfg.Identities[0].ID != "user1" || cfg.Identities[0].Name != "Léo" {
		t.Fatalf("unexpected identities: %+v", cfg.Identities)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APSA_HTTP_ADDRESS", "127.0.0.1:9999")
	t.Setenv("APSA_PRESENCE_HEARTBEAT_TIMEOUT", "90s")
	t.Setenv("APSA_LOG_FORMAT", "console")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9999" {
		t.Fatalf("expected env address, got %q", cfg.HTTPAddress)
	}
	if cfg.HeartbeatTimeout != 90*time.Second {
		t.Fatalf("expected env timeout, got %s", cfg.HeartbeatTimeout)
	}
	if cfg.LogFormat != "console" {
		t.Fatalf("expected console format, got %q", cfg.LogFormat)
	}
}

func TestLoadReadsIdentitiesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apsa.yaml")
	content := strings.Join([]string{
		"identities:",
		"  - id: alice",
		"    name: Alice",
		"    color: rgb(1,2,3)",
		"  - id: bob",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	configViper := NewViper()
	configViper.SetConfigFile(path)
	if err := configViper.ReadInConfig(); err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pool, err := cfg.IdentityPool()
	if err != nil {
		t.Fatalf("unexpected pool error: %v", err)
	}
	bob, ok := pool.Lookup("bob")
	if !ok || bob.Name != "bob" || bob.Color != identity.FallbackColor {
		t.Fatalf("unexpected bob profile: %+v", bob)
	}
	if alice, _ := pool.Lookup("alice"); alice.Color != "rgb(1,2,3)" {
		t.Fatalf("unexpected alice profile: %+v", alice)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		message string
	}{
		{name: "empty address", key: "http.address", value: " ", message: "http.address"},
		{name: "zero sweep", key: "presence.sweep_interval", value: "0s", message: "sweep_interval"},
		{name: "negative timeout", key: "presence.heartbeat_timeout", value: "-1s", message: "heartbeat_timeout"},
		{name: "sweep above timeout", key: "presence.sweep_interval", value: "2m", message: "must not exceed"},
		{name: "zero outbound buffer", key: "transport.outbound_buffer", value: 0, message: "outbound_buffer"},
		{name: "zero write timeout", key: "transport.write_timeout", value: "0s", message: "write_timeout"},
		{name: "zero journal buffer", key: "journal.buffer", value: 0, message: "journal.buffer"},
		{name: "bad log format", key: "log.format", value: "xml", message: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(tt.key, tt.value)
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Fatalf("expected error mentioning %q, got %v", tt.message, err)
			}
		})
	}
}

func TestLoadRejectsBadIdentities(t *testing.T) {
	tests := []struct {
		name       string
		identities []map[string]any
		want       error
	}{
		{name: "empty", identities: []map[string]any{}, want: identity.ErrEmptyPool},
		{name: "missing id", identities: []map[string]any{{"name": "nobody"}}, want: identity.ErrInvalidIdentity},
		{name: "duplicate", identities: []map[string]any{{"id": "x"}, {"id": "x"}}, want: identity.ErrDuplicateIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("identities", tt.identities)
			_, err := Load(configViper)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
