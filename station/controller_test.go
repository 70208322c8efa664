package station

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func expectTransitions(t *testing.T, got []string, want ...string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected transitions %v, got %v", want, got)
	}
}

func TestRun_RightStartsMeasuring(t *testing.T) {
	h := newHarness(t)
	h.right = released(down)
	c := h.controller()

	transitions := h.run(c, 1200*time.Second)

	expectTransitions(t, transitions, "main_menu -> measuring_loop")
	if c.State() != MeasuringLoop {
		t.Errorf("Expected MeasuringLoop, got %s", c.State())
	}

	// buttons are read once in the main menu and never again
	if h.left.reads != 1 || h.right.reads != 1 {
		t.Errorf("Expected 1 read per button, got left=%d right=%d", h.left.reads, h.right.reads)
	}

	// one cycle: 8s warm-up, 2s settle, 1190s sleep
	if got := h.clk.Elapsed(); got != 1200*time.Second {
		t.Errorf("Expected 1200s simulated, got %v", got)
	}
	if len(h.sink.points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(h.sink.points))
	}
	p := h.sink.points[0]
	if p.Measurement != "my_measurement" || p.Field != "Growth_station_test" || p.Value != 42 {
		t.Errorf("Expected my_measurement Growth_station_test=42, got %+v", p)
	}
	if !h.led.on() {
		t.Error("Expected LED on after the cycle")
	}
	if h.display.count("measuring") != 1 {
		t.Errorf("Expected measuring screen rendered once, got %v", h.display.screens)
	}
}

func TestRun_MeasuringRepeatsEveryPeriod(t *testing.T) {
	h := newHarness(t)
	h.right = released(down)
	c := h.controller()

	h.run(c, 3*1200*time.Second)

	if len(h.sink.points) != 3 {
		t.Fatalf("Expected 3 points, got %d", len(h.sink.points))
	}
	for i, p := range h.sink.points {
		want := epoch.Add(time.Duration(i)*1200*time.Second + 10*time.Second)
		if !p.Time.Equal(want) {
			t.Errorf("Point %d: expected time %v, got %v", i, want, p.Time)
		}
	}
	if len(h.results.results) != 3 || h.results.results[2].Seq != 3 {
		t.Errorf("Expected 3 recorded cycles, got %+v", h.results.results)
	}
}

func TestRun_LeftThenRightPreviews(t *testing.T) {
	h := newHarness(t)
	h.left = released(down)
	h.right = released(down)
	c := h.controller()

	// 1s menu delay, then 1s per preview shot; the third shot is cut short
	transitions := h.run(c, 4*time.Second)

	expectTransitions(t, transitions,
		"main_menu -> calibration_preview_menu",
		"calibration_preview_menu -> preview_loop",
	)
	if len(h.captures.calls) != 3 {
		t.Fatalf("Expected 3 preview captures, got %d", len(h.captures.calls))
	}
	for i, call := range h.captures.calls {
		if !call.preview || call.warmup != time.Second || call.dir != h.cfg.PreviewDir {
			t.Errorf("Capture %d: expected preview in %s with 1s warm-up, got %+v", i, h.cfg.PreviewDir, call)
		}
	}
	if h.display.count("image:img.jpg") != 2 {
		t.Errorf("Expected 2 preview images shown, got %v", h.display.screens)
	}
	if len(h.sink.points) != 0 {
		t.Errorf("Expected no data points from preview, got %d", len(h.sink.points))
	}
}

func TestRun_PreviewExitsToMainMenu(t *testing.T) {
	h := newHarness(t)
	h.left = released(down)
	h.right = released(down, up, down)
	c := h.controller()

	transitions := h.run(c, 10*time.Second)

	expectTransitions(t, transitions,
		"main_menu -> calibration_preview_menu",
		"calibration_preview_menu -> preview_loop",
		"preview_loop -> main_menu",
	)
	if len(h.captures.calls) != 2 {
		t.Errorf("Expected 2 preview captures, got %d", len(h.captures.calls))
	}
	if c.State() != MainMenu {
		t.Errorf("Expected MainMenu, got %s", c.State())
	}
	if h.display.last() != "main" {
		t.Errorf("Expected main menu on screen, got %s", h.display.last())
	}
}

func TestRun_Calibration(t *testing.T) {
	h := newHarness(t)
	h.scale.samples = []float64{100, 250}
	h.left = released(down, down, down, up)
	h.right = released(up, up, down)
	c := h.controller()

	transitions := h.run(c, 3*time.Second)

	expectTransitions(t, transitions,
		"main_menu -> calibration_preview_menu",
		"calibration_preview_menu -> calibration_loop",
		"calibration_loop -> main_menu",
	)

	// tare is sampled on entry and raw starts at 0
	want := [][2]float64{{0, 100}, {250, 100}}
	if !reflect.DeepEqual(h.display.calibrations, want) {
		t.Errorf("Expected calibration screens %v, got %v", want, h.display.calibrations)
	}
	if h.scale.calls != 2 {
		t.Errorf("Expected 2 samples, got %d", h.scale.calls)
	}
}

func TestRun_HeldButton(t *testing.T) {
	tests := []struct {
		name  string
		mode  ButtonMode
		state MenuState
	}{
		// a held button fires on every poll, so it also selects calibration in the next menu
		{name: "level", mode: LevelMode, state: CalibrationLoop},
		// only the first falling edge counts
		{name: "edge", mode: EdgeMode, state: CalibrationPreviewMenu},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.cfg.ButtonMode = tt.mode
			h.left = &scriptedButton{rest: down}
			c := h.controller()

			h.run(c, 3*time.Second)

			if c.State() != tt.state {
				t.Errorf("Expected %s, got %s", tt.state, c.State())
			}
		})
	}
}

func TestRun_LEDOnAndLogoFirst(t *testing.T) {
	h := newHarness(t)
	c := h.controller()

	h.run(c, time.Second)

	if len(h.led.writes) == 0 || !h.led.writes[0] {
		t.Errorf("Expected LED switched on first, got %v", h.led.writes)
	}
	if len(h.display.screens) < 2 || h.display.screens[0] != "logo" || h.display.screens[1] != "main" {
		t.Errorf("Expected logo then main menu, got %v", h.display.screens)
	}
	if c.State() != MainMenu {
		t.Errorf("Expected MainMenu, got %s", c.State())
	}
}

func TestRun_PreviewCaptureFailureStaysInPreview(t *testing.T) {
	h := newHarness(t)
	h.left = released(down)
	h.right = released(down)
	h.camera.startErr = errors.New("camera not detected")
	c := h.controller()

	h.run(c, 2*time.Second)

	if c.State() != PreviewLoop {
		t.Errorf("Expected PreviewLoop, got %s", c.State())
	}
	if h.display.count("error:preview capture failed") == 0 {
		t.Errorf("Expected preview failure on screen, got %v", h.display.screens)
	}
}

// menuTransitions is every transition the menu may take
var menuTransitions = map[string]bool{
	"main_menu -> calibration_preview_menu":        true,
	"main_menu -> measuring_loop":                  true,
	"calibration_preview_menu -> preview_loop":     true,
	"calibration_preview_menu -> calibration_loop": true,
	"preview_loop -> main_menu":                    true,
	"calibration_loop -> main_menu":                true,
}

func randomLevels(rng *rand.Rand, n int) *scriptedButton {
	levels := make([]bool, n)
	for i := range levels {
		// mostly released, like a real operator
		levels[i] = rng.IntN(4) != 0
	}
	return &scriptedButton{levels: levels, rest: up}
}

func TestRun_RandomButtonsFollowTransitionTable(t *testing.T) {
	for _, mode := range []ButtonMode{LevelMode, EdgeMode} {
		for seed := uint64(1); seed <= 40; seed++ {
			t.Run(fmt.Sprintf("%s/seed%d", mode, seed), func(t *testing.T) {
				rng := rand.New(rand.NewPCG(seed, 0x5eed))
				h := newHarness(t)
				h.cfg.ButtonMode = mode
				h.left = randomLevels(rng, 300)
				h.right = randomLevels(rng, 300)
				c := h.controller()

				transitions := h.run(c, 60*time.Second)

				from := MainMenu.String()
				for i, tr := range transitions {
					if !menuTransitions[tr] {
						t.Fatalf("Transition %d %q is not in the menu table (all: %v)", i, tr, transitions)
					}
					if !strings.HasPrefix(tr, from+" -> ") {
						t.Fatalf("Transition %d %q does not start from %s", i, tr, from)
					}
					from = strings.TrimPrefix(tr, from+" -> ")
					if from == MeasuringLoop.String() && i != len(transitions)-1 {
						t.Fatalf("Expected no transition after measuring_loop, got %v", transitions[i+1:])
					}
				}
				if from != c.State().String() {
					t.Errorf("Expected final state %s, got %s", from, c.State())
				}
			})
		}
	}
}

func TestStep_UnknownState(t *testing.T) {
	h := newHarness(t)
	c := h.controller()

	if _, err := c.step(context.Background(), MenuState(42)); err == nil {
		t.Error("Expected error for unknown state, got nil")
	}
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := New(h.cfg, Deps{Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("Expected error for missing dependencies, got nil")
	}
	if !strings.Contains(err.Error(), "camera is required") {
		t.Errorf("Expected missing camera reported, got %v", err)
	}

	cfg := h.cfg
	cfg.ImageDir = ""
	if _, err := New(cfg, Deps{}); err == nil || !strings.Contains(err.Error(), "image directory") {
		t.Errorf("Expected image directory error, got %v", err)
	}
}

func TestMenuState_String(t *testing.T) {
	if MeasuringLoop.String() != "measuring_loop" {
		t.Errorf("Expected measuring_loop, got %s", MeasuringLoop.String())
	}
	if MenuState(42).String() != "unknown" {
		t.Errorf("Expected unknown, got %s", MenuState(42).String())
	}
}

func TestTiming_Period(t *testing.T) {
	if got := DefaultTiming().Period(); got != 1200*time.Second {
		t.Errorf("Expected 1200s, got %v", got)
	}
}
