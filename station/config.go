package station

import (
	"fmt"
	"time"

	"github.com/mjasion/phenostation/analyzer"
)

// Timing holds every delay the controller waits on
type Timing struct {
	Warmup        time.Duration // camera warm-up before a measurement shot
	Settle        time.Duration // wait after capture before the LED comes back
	CycleSleep    time.Duration // idle time between cycles
	PreviewWarmup time.Duration
	MenuDelay     time.Duration // pause after entering the calibration/preview menu
	ExitSettle    time.Duration // pause after leaving preview or calibration
	PollInterval  time.Duration
}

// DefaultTiming returns the station's stock timings: an 8 s warm-up, 2 s settle and
// 1190 s sleep give one measurement every 1200 s.
func DefaultTiming() Timing {
	return Timing{
		Warmup:        8 * time.Second,
		Settle:        2 * time.Second,
		CycleSleep:    1190 * time.Second,
		PreviewWarmup: time.Second,
		MenuDelay:     time.Second,
		ExitSettle:    time.Second,
		PollInterval:  50 * time.Millisecond,
	}
}

// Period is the nominal time between two measurement cycles
func (t Timing) Period() time.Duration {
	return t.Warmup + t.Settle + t.CycleSleep
}

// Config is the immutable configuration of a Controller
type Config struct {
	ImageDir   string
	PreviewDir string

	Analysis analyzer.Params

	Measurement   string
	GrowthField   string
	PublishWeight bool
	WeightField   string

	Timing     Timing
	Retry      RetryPolicy
	ButtonMode ButtonMode
	Debounce   time.Duration
}

// DefaultConfig returns a Config with the stock telemetry names, timings and retry policy
func DefaultConfig(imageDir, previewDir string) Config {
	return Config{
		ImageDir:    imageDir,
		PreviewDir:  previewDir,
		Measurement: "my_measurement",
		GrowthField: "Growth_station_test",
		WeightField: "Weight_raw",
		Timing:      DefaultTiming(),
		Retry:       DefaultRetryPolicy(),
		ButtonMode:  LevelMode,
		Debounce:    200 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.ImageDir == "" {
		return fmt.Errorf("image directory is required")
	}
	if c.PreviewDir == "" {
		return fmt.Errorf("preview directory is required")
	}
	if c.Measurement == "" || c.GrowthField == "" {
		return fmt.Errorf("measurement and growth field names are required")
	}
	if c.PublishWeight && c.WeightField == "" {
		return fmt.Errorf("weight field name is required when publishing weight")
	}
	if c.Timing.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	return nil
}
