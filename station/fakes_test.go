package station

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mjasion/phenostation/analyzer"
	"github.com/mjasion/phenostation/capture"
	"github.com/mjasion/phenostation/pkg/clock"
	"github.com/mjasion/phenostation/pkg/types"
)

// Button levels: inputs are pulled up, so a pressed button reads LOW.
const (
	up   = true
	down = false
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// scriptedButton returns levels in order, one per Read, then rest forever
type scriptedButton struct {
	levels []bool
	rest   bool
	reads  int
}

func released(levels ...bool) *scriptedButton {
	return &scriptedButton{levels: levels, rest: up}
}

func (b *scriptedButton) Name() string { return "button" }
func (b *scriptedButton) Number() int  { return 0 }
func (b *scriptedButton) Close() error { return nil }

func (b *scriptedButton) Read() (bool, error) {
	b.reads++
	if len(b.levels) == 0 {
		return b.rest, nil
	}
	v := b.levels[0]
	b.levels = b.levels[1:]
	return v, nil
}

type fakeLED struct {
	writes []bool
}

func (l *fakeLED) Write(on bool) error {
	l.writes = append(l.writes, on)
	return nil
}

func (l *fakeLED) Name() string    { return "led" }
func (l *fakeLED) Number() int     { return 0 }
func (l *fakeLED) Close() error    { return nil }
func (l *fakeLED) LastState() bool { return l.on() }

func (l *fakeLED) on() bool {
	return len(l.writes) > 0 && l.writes[len(l.writes)-1]
}

// fakeCamera writes a placeholder JPEG; startErr makes every session fail to start
type fakeCamera struct {
	starts   int
	startErr error
}

func (c *fakeCamera) Start(context.Context) error {
	c.starts++
	return c.startErr
}

func (c *fakeCamera) CaptureFile(_ context.Context, path string) error {
	return os.WriteFile(path, []byte("jpeg"), 0o644)
}

func (c *fakeCamera) Stop() error { return nil }

type captureCall struct {
	dir     string
	preview bool
	warmup  time.Duration
}

// recordingCapturer records every capture request before handing it to next
type recordingCapturer struct {
	next  Capturer
	calls []captureCall
}

func (r *recordingCapturer) Capture(ctx context.Context, dir string, preview bool, warmup time.Duration) (types.Capture, error) {
	r.calls = append(r.calls, captureCall{dir: dir, preview: preview, warmup: warmup})
	return r.next.Capture(ctx, dir, preview, warmup)
}

type stubScale struct {
	samples []float64
	err     error
	calls   int
}

func (s *stubScale) Sample(context.Context) (types.WeightSample, error) {
	s.calls++
	if s.err != nil {
		return types.WeightSample{}, s.err
	}
	if len(s.samples) == 0 {
		return types.WeightSample{Raw: 0, Reads: 5}, nil
	}
	v := s.samples[0]
	if len(s.samples) > 1 {
		s.samples = s.samples[1:]
	}
	return types.WeightSample{Raw: v, Reads: 5}, nil
}

type stubAnalyzer struct {
	value    float64
	failures int
	onCall   func()
	paths    []string
	params   []analyzer.Params
}

func (a *stubAnalyzer) Analyze(_ context.Context, imagePath string, params analyzer.Params) (float64, error) {
	a.paths = append(a.paths, imagePath)
	a.params = append(a.params, params)
	if a.onCall != nil {
		a.onCall()
	}
	if a.failures > 0 {
		a.failures--
		return 0, errors.New("analysis exited with status 1")
	}
	return a.value, nil
}

type memorySink struct {
	points     []types.DataPoint
	attempts   int
	alwaysFail bool
}

func (s *memorySink) Write(_ context.Context, point types.DataPoint) error {
	s.attempts++
	if s.alwaysFail {
		return errors.New("influxdb: 503 service unavailable")
	}
	s.points = append(s.points, point)
	return nil
}

// fakeDisplay records screens as short names, e.g. "main", "image:img.jpg", "error:capture failed"
type fakeDisplay struct {
	screens      []string
	calibrations [][2]float64
}

func (d *fakeDisplay) add(s string) error {
	d.screens = append(d.screens, s)
	return nil
}

func (d *fakeDisplay) ShowLogo() error                   { return d.add("logo") }
func (d *fakeDisplay) ShowMainMenu() error               { return d.add("main") }
func (d *fakeDisplay) ShowCalibrationPreviewMenu() error { return d.add("setup") }
func (d *fakeDisplay) ShowMeasuring() error              { return d.add("measuring") }
func (d *fakeDisplay) ShowError(msg string) error        { return d.add("error:" + msg) }
func (d *fakeDisplay) ShowImage(path string) error       { return d.add("image:" + filepath.Base(path)) }
func (d *fakeDisplay) ShowCalibration(raw, tare float64) error {
	d.calibrations = append(d.calibrations, [2]float64{raw, tare})
	return d.add(fmt.Sprintf("calibration:%.0f/%.0f", raw, tare))
}

func (d *fakeDisplay) last() string {
	if len(d.screens) == 0 {
		return ""
	}
	return d.screens[len(d.screens)-1]
}

func (d *fakeDisplay) count(screen string) int {
	n := 0
	for _, s := range d.screens {
		if s == screen {
			n++
		}
	}
	return n
}

type resultLog struct {
	results []CycleResult
}

func (l *resultLog) Record(_ context.Context, res CycleResult) {
	l.results = append(l.results, res)
}

// harness wires a controller to fakes on a simulated clock
type harness struct {
	t        *testing.T
	cfg      Config
	clk      *clock.Fake
	left     *scriptedButton
	right    *scriptedButton
	led      *fakeLED
	camera   *fakeCamera
	captures *recordingCapturer
	scale    *stubScale
	analyzer *stubAnalyzer
	sink     *memorySink
	display  *fakeDisplay
	results  *resultLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "images"), filepath.Join(dir, "assets"))
	cfg.Analysis = analyzer.Params{PotLimit: 230, Channel: "a", KernelSize: 3, FillSize: 3}

	return &harness{
		t:        t,
		cfg:      cfg,
		clk:      clock.NewFake(epoch),
		left:     released(),
		right:    released(),
		led:      &fakeLED{},
		camera:   &fakeCamera{},
		scale:    &stubScale{samples: []float64{8123.4}},
		analyzer: &stubAnalyzer{value: 42},
		sink:     &memorySink{},
		display:  &fakeDisplay{},
		results:  &resultLog{},
	}
}

func (h *harness) controller() *Controller {
	h.t.Helper()
	h.captures = &recordingCapturer{next: capture.NewService(h.camera, h.clk, zap.NewNop())}

	c, err := New(h.cfg, Deps{
		Left:     h.left,
		Right:    h.right,
		LED:      h.led,
		Camera:   h.captures,
		Scale:    h.scale,
		Analyzer: h.analyzer,
		Sink:     h.sink,
		Display:  h.display,
		Clock:    h.clk,
		Recorder: h.results,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		h.t.Fatalf("Failed to create controller: %v", err)
	}
	return c
}

// run runs c until limit of simulated time has passed and returns the transitions taken
func (h *harness) run(c *Controller, limit time.Duration) []string {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.clk.OnSleep = func(now time.Time) {
		if now.Sub(epoch) >= limit {
			cancel()
		}
	}

	var transitions []string
	c.OnTransition = func(from, to MenuState) {
		transitions = append(transitions, from.String()+" -> "+to.String())
	}

	if err := c.Run(ctx); err != nil {
		h.t.Fatalf("Expected Run to stop cleanly, got %v", err)
	}
	return transitions
}
