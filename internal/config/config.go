package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/presence"
	"github.com/spf13/viper"
)

const (
	envPrefix             = "APSA"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultOutboundBuffer = 64
	defaultWriteTimeout   = 10 * time.Second
	defaultJournalBuffer  = 256
)

// AppConfig captures runtime configuration for the presence server.
type AppConfig struct {
	HTTPAddress      string
	LogLevel         string
	LogFormat        string
	SweepInterval    time.Duration
	HeartbeatTimeout time.Duration
	OutboundBuffer   int
	WriteTimeout     time.Duration
	JournalPath      string
	JournalBuffer    int
	Identities       []identity.Identity
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("presence.sweep_interval", presence.DefaultSweepInterval)
	configViper.SetDefault("presence.heartbeat_timeout", presence.DefaultHeartbeatTimeout)
	configViper.SetDefault("transport.outbound_buffer", defaultOutboundBuffer)
	configViper.SetDefault("transport.write_timeout", defaultWriteTimeout)
	configViper.SetDefault("journal.database_path", "")
	configViper.SetDefault("journal.buffer", defaultJournalBuffer)
	configViper.SetDefault("identities", defaultIdentities())
}

// defaultIdentities renders the built-in pool as plain maps so config files and
// defaults decode through the same path.
func defaultIdentities() []map[string]any {
	builtIn := identity.DefaultIdentities()
	entries := make([]map[string]any, 0, len(builtIn))
	for _, entry := range builtIn {
		entries = append(entries, map[string]any{
			"id":    entry.ID,
			"name":  entry.Name,
			"color": entry.Color,
		})
	}
	return entries
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        configViper.GetString("log.format"),
		SweepInterval:    configViper.GetDuration("presence.sweep_interval"),
		HeartbeatTimeout: configViper.GetDuration("presence.heartbeat_timeout"),
		OutboundBuffer:   configViper.GetInt("transport.outbound_buffer"),
		WriteTimeout:     configViper.GetDuration("transport.write_timeout"),
		JournalPath:      strings.TrimSpace(configViper.GetString("journal.database_path")),
		JournalBuffer:    configViper.GetInt("journal.buffer"),
	}

	if err := configViper.UnmarshalKey("identities", &cfg.Identities); err != nil {
		return AppConfig{}, fmt.Errorf("identities: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// IdentityPool builds the validated identity pool.
func (c AppConfig) IdentityPool() (identity.Pool, error) {
	return identity.NewPool(c.Identities)
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("presence.sweep_interval must be positive")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("presence.heartbeat_timeout must be positive")
	}
	if c.SweepInterval > c.HeartbeatTimeout {
		return fmt.Errorf("presence.sweep_interval (%s) must not exceed presence.heartbeat_timeout (%s)", c.SweepInterval, c.HeartbeatTimeout)
	}
	if c.OutboundBuffer <= 0 {
		return fmt.Errorf("transport.outbound_buffer must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("transport.write_timeout must be positive")
	}
	if c.JournalBuffer <= 0 {
		return fmt.Errorf("journal.buffer must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.LogFormat)
	}
	if _, err := c.IdentityPool(); err != nil {
		return err
	}
	return nil
}
