package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/syncrelay/internal/auth"
	"pkt.systems/syncrelay/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig  `mapstructure:"service" yaml:"service"`
	Relay         RelayConfig    `mapstructure:"relay" yaml:"relay"`
	Identity      IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Archive       ArchiveConfig  `mapstructure:"archive" yaml:"archive"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	Auth          AuthConfig     `mapstructure:"auth" yaml:"auth"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	AutoCreate  bool `mapstructure:"auto_create" yaml:"auto_create"`
	MaxCommands int  `mapstructure:"max_commands" yaml:"max_commands"`
}

// RelayConfig configures the client-facing relay surface.
type RelayConfig struct {
	Key          string `mapstructure:"key" yaml:"key"`
	StreamEvents int    `mapstructure:"stream_events" yaml:"stream_events"`
}

// IdentityConfig configures identifier storage.
type IdentityConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ArchiveConfig configures the encrypted record archive.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	KeyStore string `mapstructure:"key_store" yaml:"key_store"`
	Dir      string `mapstructure:"dir" yaml:"dir"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	SessionCookie   string `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	BasePath        string `mapstructure:"base_path" yaml:"base_path"`
}

// AuthConfig configures auth storage and seed users.
type AuthConfig struct {
	UserFile  string          `mapstructure:"user_file" yaml:"user_file"`
	SeedUsers []auth.SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".syncrelay", "state"),
		Service: ServiceConfig{
			AutoCreate:  true,
			MaxCommands: schema.DefaultMaxCommands,
		},
		Relay: RelayConfig{
			Key:          "",
			StreamEvents: 256,
		},
		Identity: IdentityConfig{
			Backend: "file",
			Path:    filepath.Join(home, ".syncrelay", "state", "identity"),
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			KeyStore: filepath.Join(home, ".syncrelay", "state", "archive", "keys.bundle"),
			Dir:      filepath.Join(home, ".syncrelay", "state", "archive"),
		},
		HTTP: HTTPConfig{
			Addr:            ":27490",
			SessionCookie:   "syncrelay_session",
			SessionTTLHours: 720,
			BaseURL:         "",
			BasePath:        "",
		},
		Auth: AuthConfig{
			UserFile: filepath.Join(home, ".syncrelay", "users.json"),
			SeedUsers: []auth.SeedUser{
				{
					Username:     "admin",
					PasswordHash: "$2a$12$PyjGUD8qnJie1MULQVHJdu9zuS/juh5W5RtDUVHv5HFb.62gNnY/q",
					TOTPSecret:   "JBSWY3DPEHPK3PXP",
				},
			},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".syncrelay", "config.yaml"), nil
}
