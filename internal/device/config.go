package device

import (
	"fmt"
	"time"
)

// Source names accepted by New.
const (
	SourceStatic      = "static"
	SourceEnv         = "env"
	SourceFile        = "file"
	SourceFingerprint = "fingerprint"
)

// Config selects and parameterizes a provider.
type Config struct {
	Source   string
	ID       string
	EnvVar   string
	File     string
	CacheTTL time.Duration
}

// New builds the provider described by cfg, wrapped in a Cached layer.
func New(cfg Config, opts ...CachedOption) (*Cached, error) {
	var source Provider
	switch cfg.Source {
	case SourceStatic:
		source = Static(cfg.ID)
	case SourceEnv:
		if cfg.EnvVar == "" {
			return nil, fmt.Errorf("device source %q requires an environment variable name", cfg.Source)
		}
		source = Env{Var: cfg.EnvVar}
	case SourceFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("device source %q requires a file path", cfg.Source)
		}
		source = File{Path: cfg.File}
	case SourceFingerprint:
		source = Fingerprint{}
	default:
		return nil, fmt.Errorf("unknown device source %q", cfg.Source)
	}
	return NewCached(source, cfg.CacheTTL, opts...), nil
}
