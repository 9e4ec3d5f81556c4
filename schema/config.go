package schema

// DefaultMaxCommands bounds the per-session command list.
const DefaultMaxCommands = 32

// ServiceConfig controls core relay behavior.
type ServiceConfig struct {
	// AutoCreate creates a session record on first merge instead of
	// rejecting unknown sessions.
	AutoCreate bool
	// MaxCommands bounds the command list; oldest tokens are dropped first.
	MaxCommands int
}

// NormalizeServiceConfig fills defaults.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.MaxCommands <= 0 {
		cfg.MaxCommands = DefaultMaxCommands
	}
	return cfg, nil
}
