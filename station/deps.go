package station

import (
	"context"
	"errors"
	"time"

	"github.com/reef-pi/hal"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/analyzer"
	"github.com/mjasion/phenostation/pkg/clock"
	"github.com/mjasion/phenostation/pkg/types"
)

// Capturer takes one photo into dir
type Capturer interface {
	Capture(ctx context.Context, dir string, preview bool, warmup time.Duration) (types.Capture, error)
}

// Weigher samples the load cell
type Weigher interface {
	Sample(ctx context.Context) (types.WeightSample, error)
}

// Analyzer derives a growth value from a photo
type Analyzer interface {
	Analyze(ctx context.Context, imagePath string, params analyzer.Params) (float64, error)
}

// Sink writes a single data point synchronously
type Sink interface {
	Write(ctx context.Context, point types.DataPoint) error
}

// Renderer draws menu screens and photos on the station display
type Renderer interface {
	ShowLogo() error
	ShowMainMenu() error
	ShowCalibrationPreviewMenu() error
	ShowImage(path string) error
	ShowCalibration(raw, tare float64) error
	ShowMeasuring() error
	ShowError(msg string) error
}

// Recorder observes finished measurement cycles
type Recorder interface {
	Record(ctx context.Context, result CycleResult)
}

// Deps bundles the hardware handles and collaborators the controller drives.
// Buttons read true for HIGH and the LED lights on true.
// Recorder is optional; everything else is required.
type Deps struct {
	Left     hal.DigitalInputPin
	Right    hal.DigitalInputPin
	LED      hal.DigitalOutputPin
	Camera   Capturer
	Scale    Weigher
	Analyzer Analyzer
	Sink     Sink
	Display  Renderer
	Clock    clock.Clock
	Recorder Recorder
	Logger   *zap.Logger
}

func (d Deps) validate() error {
	var errs []error
	check := func(ok bool, name string) {
		if !ok {
			errs = append(errs, errors.New(name+" is required"))
		}
	}
	check(d.Left != nil, "left button")
	check(d.Right != nil, "right button")
	check(d.LED != nil, "led")
	check(d.Camera != nil, "camera")
	check(d.Scale != nil, "scale")
	check(d.Analyzer != nil, "analyzer")
	check(d.Sink != nil, "sink")
	check(d.Display != nil, "display")
	check(d.Clock != nil, "clock")
	check(d.Logger != nil, "logger")
	return errors.Join(errs...)
}

// Recorders fans a cycle result out to several recorders
type Recorders []Recorder

// Record calls every recorder in order
func (rs Recorders) Record(ctx context.Context, result CycleResult) {
	for _, r := range rs {
		r.Record(ctx, result)
	}
}
