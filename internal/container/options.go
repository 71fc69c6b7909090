package container

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/scigolib/qview/internal/obs"
)

// Option configures a Container at construction time, matching the
// teacher's functional-options pattern (libravdb/options.go).
type Option func(*Container) error

// WithLogger overrides the container's zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Container) error {
		c.logger = l
		return nil
	}
}

// WithMetrics overrides the container's metrics bundle.
func WithMetrics(m *obs.Metrics) Option {
	return func(c *Container) error {
		c.metrics = m
		return nil
	}
}

// WithAddressSize sets the byte width (2, 4, or 8) used to encode object
// addresses. Defaults to 8.
func WithAddressSize(n int) Option {
	return func(c *Container) error {
		if n != 2 && n != 4 && n != 8 {
			return errInvalidSize("address", n)
		}
		c.addressSize = n
		return nil
	}
}

// WithLengthSize sets the byte width (2, 4, or 8) used to encode lengths.
// Defaults to 8.
func WithLengthSize(n int) Option {
	return func(c *Container) error {
		if n != 2 && n != 4 && n != 8 {
			return errInvalidSize("length", n)
		}
		c.lengthSize = n
		return nil
	}
}

func errInvalidSize(kind string, n int) error {
	return fmt.Errorf("container: invalid %s size %d, must be 2, 4 or 8", kind, n)
}
