package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/types"
)

// ErrNoBackends is returned when no sink backend is enabled
var ErrNoBackends = errors.New("no telemetry backend enabled")

// Backend is one destination of the fan-out
type Backend interface {
	Name() string
	Write(ctx context.Context, point types.DataPoint) error
}

// Multi writes every point to all backends in order
type Multi struct {
	backends []Backend
	logger   *zap.Logger
}

// NewMulti requires at least one backend
func NewMulti(logger *zap.Logger, backends ...Backend) (*Multi, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	return &Multi{backends: backends, logger: logger}, nil
}

// Write tries every backend and fails if any failed
func (m *Multi) Write(ctx context.Context, point types.DataPoint) error {
	var errs []error
	for _, b := range m.backends {
		if err := b.Write(ctx, point); err != nil {
			m.logger.Warn("sink write failed", zap.String("sink", b.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the backend names
func (m *Multi) Names() []string {
	names := make([]string, len(m.backends))
	for i, b := range m.backends {
		names[i] = b.Name()
	}
	return names
}
