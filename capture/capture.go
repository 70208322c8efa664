// Package capture takes single photos with the station camera.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/clock"
	"github.com/mjasion/phenostation/pkg/types"
)

// TimestampLayout names measurement photos, e.g. 2024-05-01_12-00-00.jpg
const TimestampLayout = "2006-01-02_15-04-05"

// PreviewName is the fixed base name of preview photos; each preview overwrites the last
const PreviewName = "img"

// ErrCameraBusy is returned when a capture is requested while another is in flight
var ErrCameraBusy = errors.New("camera busy")

// Camera is a camera session: Start powers it up, CaptureFile writes one JPEG, Stop releases it
type Camera interface {
	Start(ctx context.Context) error
	CaptureFile(ctx context.Context, path string) error
	Stop() error
}

// Service brackets every shot with camera start and stop and guarantees one capture at a time
type Service struct {
	camera Camera
	clock  clock.Clock
	logger *zap.Logger
	mu     sync.Mutex
}

// NewService creates a capture service
func NewService(camera Camera, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{camera: camera, clock: clk, logger: logger}
}

// FileName returns the photo file name for a shot taken at t
func FileName(t time.Time, preview bool) string {
	if preview {
		return PreviewName + ".jpg"
	}
	return t.Format(TimestampLayout) + ".jpg"
}

// Capture starts the camera, waits warmup, shoots into dir and stops the camera.
// The name is taken at shutter time, after the warm-up.
func (s *Service) Capture(ctx context.Context, dir string, preview bool, warmup time.Duration) (types.Capture, error) {
	if !s.mu.TryLock() {
		return types.Capture{}, ErrCameraBusy
	}
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.Capture{}, fmt.Errorf("create capture directory %s: %w", dir, err)
	}

	if err := s.camera.Start(ctx); err != nil {
		return types.Capture{}, fmt.Errorf("start camera: %w", err)
	}
	defer func() {
		if err := s.camera.Stop(); err != nil {
			s.logger.Warn("failed to stop camera", zap.Error(err))
		}
	}()

	if err := s.clock.Sleep(ctx, warmup); err != nil {
		return types.Capture{}, err
	}

	now := s.clock.Now()
	path := filepath.Join(dir, FileName(now, preview))
	if err := s.camera.CaptureFile(ctx, path); err != nil {
		return types.Capture{}, fmt.Errorf("capture %s: %w", path, err)
	}

	s.logger.Debug("photo captured", zap.String("path", path), zap.Bool("preview", preview))
	return types.Capture{Path: path, Time: now, Preview: preview}, nil
}
