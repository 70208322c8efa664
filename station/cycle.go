package station

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/telemetry"
	"github.com/mjasion/phenostation/pkg/types"
)

// CycleResult is the outcome of one measurement cycle
type CycleResult struct {
	Seq         uint64    `json:"seq"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
	ImagePath   string    `json:"imagePath,omitempty"`
	Growth      float64   `json:"growth"`
	Weight      *float64  `json:"weight,omitempty"`
	Published   bool      `json:"published"`
	// Interrupted is set when shutdown cut the cycle short; it is neither a success nor a failure
	Interrupted bool      `json:"interrupted,omitempty"`
	Step        string    `json:"failedStep,omitempty"`
	Err         string    `json:"error,omitempty"`
}

// OK reports whether the growth point was published
func (r CycleResult) OK() bool {
	return r.Published && r.Err == ""
}

// RunCycle performs one measurement: capture with the LED off, analyze, publish.
// Failed steps are retried per the retry policy; a step that still fails skips the
// rest of the cycle. The inter-cycle sleep is not part of RunCycle.
func (c *Controller) RunCycle(ctx context.Context) CycleResult {
	c.seq++
	res := CycleResult{Seq: c.seq, Started: c.deps.Clock.Now()}

	ctx, span := c.tracer.Start(ctx, "station.cycle")
	span.SetAttributes(attribute.Int64("cycle.seq", int64(res.Seq)))

	err := c.runCycle(ctx, &res)
	res.Finished = c.deps.Clock.Now()

	switch {
	case err == nil:
		telemetry.InfoWithTrace(ctx, c.logger, "measurement cycle complete",
			zap.Uint64("seq", res.Seq),
			zap.String("image", res.ImagePath),
			zap.Float64("growth", res.Growth),
		)
		if c.errorShown {
			c.render("measuring screen", c.deps.Display.ShowMeasuring)
			c.errorShown = false
		}
	case isCancelled(ctx, err):
		res.Err = err.Error()
		res.Interrupted = true
		telemetry.InfoWithTrace(ctx, c.logger, "measurement cycle interrupted", zap.Uint64("seq", res.Seq), zap.String("step", res.Step))
	default:
		res.Err = err.Error()
		telemetry.ErrorWithTrace(ctx, c.logger, "measurement cycle skipped",
			zap.Uint64("seq", res.Seq),
			zap.String("step", res.Step),
			zap.Error(err),
		)
		c.render("error", func() error { return c.deps.Display.ShowError(res.Step + " failed") })
		c.errorShown = true
	}
	telemetry.EndSpan(span, err)

	if c.deps.Recorder != nil {
		c.deps.Recorder.Record(ctx, res)
	}
	return res
}

func (c *Controller) runCycle(ctx context.Context, res *CycleResult) error {
	res.Step = "capture"
	capture, err := c.captureDark(ctx)
	if err != nil {
		return err
	}
	res.ImagePath = capture.Path
	telemetry.DebugWithTrace(ctx, c.logger, "photo captured", zap.String("image", capture.Path))

	res.Step = "analyze"
	growth, err := retry(ctx, c.deps.Clock, c.cfg.Retry, c.logger, "analyze", func(ctx context.Context) (float64, error) {
		ctx, span := c.tracer.Start(ctx, "station.analyze")
		v, err := c.deps.Analyzer.Analyze(ctx, capture.Path, c.cfg.Analysis)
		telemetry.EndSpan(span, err)
		return v, err
	})
	if err != nil {
		return err
	}
	res.Growth = growth
	telemetry.DebugWithTrace(ctx, c.logger, "growth analyzed", zap.Float64("growth", growth))

	res.Step = "write"
	point := types.DataPoint{
		Measurement: c.cfg.Measurement,
		Field:       c.cfg.GrowthField,
		Value:       int64(growth),
		Time:        c.deps.Clock.Now(),
	}
	if err := c.write(ctx, point); err != nil {
		return err
	}
	res.Published = true
	res.Step = ""

	if c.cfg.PublishWeight {
		c.publishWeight(ctx, res)
	}
	return nil
}

// captureDark switches the LED off for the shot and the settle time.
// The LED is switched back on however the capture ends.
func (c *Controller) captureDark(ctx context.Context) (types.Capture, error) {
	c.setLED(false)
	defer c.setLED(true)

	capture, err := retry(ctx, c.deps.Clock, c.cfg.Retry, c.logger, "capture", func(ctx context.Context) (types.Capture, error) {
		ctx, span := c.tracer.Start(ctx, "station.capture")
		v, err := c.deps.Camera.Capture(ctx, c.cfg.ImageDir, false, c.cfg.Timing.Warmup)
		telemetry.EndSpan(span, err)
		return v, err
	})
	if err != nil {
		return capture, err
	}

	if err := c.deps.Clock.Sleep(ctx, c.cfg.Timing.Settle); err != nil {
		return capture, err
	}
	return capture, nil
}

func (c *Controller) write(ctx context.Context, point types.DataPoint) error {
	_, err := retry(ctx, c.deps.Clock, c.cfg.Retry, c.logger, "write", func(ctx context.Context) (struct{}, error) {
		ctx, span := c.tracer.Start(ctx, "station.write")
		span.SetAttributes(
			attribute.String("point.measurement", point.Measurement),
			attribute.String("point.field", point.Field),
			attribute.Int64("point.value", point.Value),
		)
		err := c.deps.Sink.Write(ctx, point)
		telemetry.EndSpan(span, err)
		return struct{}{}, err
	})
	return err
}

// publishWeight writes the optional weight point; failures are logged but do not fail the cycle
func (c *Controller) publishWeight(ctx context.Context, res *CycleResult) {
	sample, err := c.deps.Scale.Sample(ctx)
	if err != nil {
		telemetry.WarnWithTrace(ctx, c.logger, "weight sample failed", zap.Error(err))
		return
	}
	raw := sample.Raw
	res.Weight = &raw

	point := types.DataPoint{
		Measurement: c.cfg.Measurement,
		Field:       c.cfg.WeightField,
		Value:       int64(sample.Raw),
		Time:        c.deps.Clock.Now(),
	}
	if err := c.write(ctx, point); err != nil {
		telemetry.WarnWithTrace(ctx, c.logger, "weight write failed", zap.Error(fmt.Errorf("weight: %w", err)))
	}
}
