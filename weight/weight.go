// Package weight samples the pot load cell.
package weight

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/clock"
	"github.com/mjasion/phenostation/pkg/types"
)

// DefaultReads is the number of raw reads averaged per sample
const DefaultReads = 5

// LoadCell yields one raw, uncalibrated reading per call
type LoadCell interface {
	ReadRaw(ctx context.Context) (int64, error)
}

// Service averages raw load-cell reads
type Service struct {
	cell   LoadCell
	reads  int
	clock  clock.Clock
	logger *zap.Logger
}

// NewService creates a weight service taking reads raw reads per sample
func NewService(cell LoadCell, reads int, clk clock.Clock, logger *zap.Logger) *Service {
	if reads < 1 {
		reads = DefaultReads
	}
	return &Service{cell: cell, reads: reads, clock: clk, logger: logger}
}

// Sample takes exactly the configured number of reads and returns their arithmetic mean.
// No outliers are rejected and no tare is subtracted.
func (s *Service) Sample(ctx context.Context) (types.WeightSample, error) {
	var sum int64
	for i := 0; i < s.reads; i++ {
		if err := ctx.Err(); err != nil {
			return types.WeightSample{}, err
		}
		v, err := s.cell.ReadRaw(ctx)
		if err != nil {
			return types.WeightSample{}, fmt.Errorf("load cell read %d/%d: %w", i+1, s.reads, err)
		}
		sum += v
	}

	sample := types.WeightSample{
		Raw:   float64(sum) / float64(s.reads),
		Reads: s.reads,
		Time:  s.clock.Now(),
	}
	s.logger.Debug("weight sampled", zap.Float64("raw", sample.Raw), zap.Int("reads", s.reads))
	return sample, nil
}
