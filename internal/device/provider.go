// Package device supplies the stable identifier an activation is bound
// to. Providers never invent an identifier: when none can be read they
// return ErrUnavailable and the caller must fail closed.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnavailable means no identifier could be obtained.
var ErrUnavailable = errors.New("device identifier unavailable")

// Provider returns this device's identifier.
type Provider interface {
	GetID(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) GetID(ctx context.Context) (string, error) { return f(ctx) }

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Static always returns the configured identifier.
type Static string

func (s Static) GetID(context.Context) (string, error) {
	id := strings.TrimSpace(string(s))
	if id == "" {
		return "", unavailable("no static identifier configured")
	}
	return id, nil
}

// Env reads the identifier from an environment variable on every call.
type Env struct {
	Var string
}

func (e Env) GetID(context.Context) (string, error) {
	id := strings.TrimSpace(os.Getenv(e.Var))
	if id == "" {
		return "", unavailable("environment variable %s is empty", e.Var)
	}
	return id, nil
}

// File reads the first non-blank line of a file, such as
// /etc/machine-id.
type File struct {
	Path string
}

func (f File) GetID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", unavailable("read %s: %v", f.Path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if id := strings.TrimSpace(line); id != "" {
			return id, nil
		}
	}
	return "", unavailable("%s is empty", f.Path)
}
