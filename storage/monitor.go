// Package storage periodically reports how much space the station photos use.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
)

// Observer receives storage usage
type Observer interface {
	ObserveStorage(files int, bytes int64, free uint64)
}

const scanTimeout = 30 * time.Second

// Usage is one scan of the image directory
type Usage struct {
	Files int
	Bytes int64
	Free  uint64
	Total uint64
}

// Monitor scans the image directory on a cron schedule
type Monitor struct {
	dir      string
	schedule string
	observer Observer
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewMonitor validates schedule, e.g. "@every 1h" or "0 * * * *"
func NewMonitor(dir, schedule string, observer Observer, logger *zap.Logger) (*Monitor, error) {
	m := &Monitor{
		dir:      dir,
		schedule: schedule,
		observer: observer,
		cron:     cron.New(),
		logger:   logger,
	}
	if _, err := m.cron.AddFunc(schedule, m.run); err != nil {
		return nil, fmt.Errorf("invalid storage schedule %q: %w", schedule, err)
	}
	return m, nil
}

// Start scans once immediately and then on every tick
func (m *Monitor) Start() {
	m.logger.Info("Starting storage monitor", zap.String("dir", m.dir), zap.String("schedule", m.schedule))
	m.run()
	m.cron.Start()
}

// Stop waits for a running scan to finish or ctx to expire
func (m *Monitor) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (m *Monitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	usage, err := Scan(ctx, m.dir)
	if err != nil {
		m.logger.Warn("storage scan failed", zap.String("dir", m.dir), zap.Error(err))
		return
	}
	m.logger.Debug("storage scanned",
		zap.Int("files", usage.Files),
		zap.Int64("bytes", usage.Bytes),
		zap.Uint64("free", usage.Free),
	)
	m.observer.ObserveStorage(usage.Files, usage.Bytes, usage.Free)
}

// Scan counts the .jpg files under dir and reads the free space of its filesystem
func Scan(ctx context.Context, dir string) (Usage, error) {
	var u Usage
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".jpg") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		u.Files++
		u.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return u, fmt.Errorf("walk %s: %w", dir, err)
	}

	du, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return u, fmt.Errorf("disk usage of %s: %w", dir, err)
	}
	u.Free = du.Free
	u.Total = du.Total
	return u, nil
}
