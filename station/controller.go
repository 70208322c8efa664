// Package station implements the station controller: the two-button menu
// state machine and the periodic measurement cycle it hands off to.
package station

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/types"
)

// Controller owns the menu state and drives all station hardware from a single goroutine
type Controller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer

	left  *button
	right *button

	state atomic.Int32
	seq   uint64
	// errorShown is set while the display shows a cycle error instead of the measuring screen
	errorShown bool

	// OnTransition, if set, is called on every state change from the controller goroutine
	OnTransition func(from, to MenuState)
}

// New validates cfg and deps and returns a controller in MainMenu
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid station config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid station dependencies: %w", err)
	}

	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		tracer: otel.Tracer("station"),
		left:   newButton("left", deps.Left, cfg.ButtonMode, cfg.Debounce),
		right:  newButton("right", deps.Right, cfg.ButtonMode, cfg.Debounce),
	}, nil
}

// State returns the current menu state. Safe to call from any goroutine.
func (c *Controller) State() MenuState {
	return MenuState(c.state.Load())
}

// Run switches the LED on, shows the logo and runs the menu until ctx is cancelled.
// It returns nil on cancellation and an error only for an unknown state.
func (c *Controller) Run(ctx context.Context) error {
	c.setLED(true)
	c.render("logo", c.deps.Display.ShowLogo)

	c.logger.Info("station controller started",
		zap.String("state", c.State().String()),
		zap.String("button_mode", c.cfg.ButtonMode.String()),
	)

	state := c.State()
	for {
		if ctx.Err() != nil {
			c.logger.Info("station controller stopped", zap.String("state", state.String()))
			return nil
		}

		next, err := c.step(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}

		if next != state {
			c.transition(state, next)
			state = next
		}
	}
}

func (c *Controller) step(ctx context.Context, state MenuState) (MenuState, error) {
	switch state {
	case MainMenu:
		return c.mainMenu(ctx)
	case CalibrationPreviewMenu:
		return c.calibrationPreviewMenu(ctx)
	case PreviewLoop:
		return c.previewLoop(ctx)
	case CalibrationLoop:
		return c.calibrationLoop(ctx)
	case MeasuringLoop:
		return MeasuringLoop, c.measuringLoop(ctx)
	default:
		return state, fmt.Errorf("unknown menu state %d", state)
	}
}

func (c *Controller) transition(from, to MenuState) {
	c.state.Store(int32(to))
	c.logger.Info("menu transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if c.OnTransition != nil {
		c.OnTransition(from, to)
	}
}

func (c *Controller) mainMenu(ctx context.Context) (MenuState, error) {
	c.render("main menu", c.deps.Display.ShowMainMenu)

	for {
		if c.pressed(c.left) {
			return CalibrationPreviewMenu, nil
		}
		if c.pressed(c.right) {
			return MeasuringLoop, nil
		}
		if err := c.poll(ctx); err != nil {
			return MainMenu, err
		}
	}
}

func (c *Controller) calibrationPreviewMenu(ctx context.Context) (MenuState, error) {
	c.render("calibration/preview menu", c.deps.Display.ShowCalibrationPreviewMenu)

	if err := c.deps.Clock.Sleep(ctx, c.cfg.Timing.MenuDelay); err != nil {
		return CalibrationPreviewMenu, err
	}

	for {
		if c.pressed(c.right) {
			return PreviewLoop, nil
		}
		if c.pressed(c.left) {
			return CalibrationLoop, nil
		}
		if err := c.poll(ctx); err != nil {
			return CalibrationPreviewMenu, err
		}
	}
}

func (c *Controller) previewLoop(ctx context.Context) (MenuState, error) {
	for {
		capture, err := c.deps.Camera.Capture(ctx, c.cfg.PreviewDir, true, c.cfg.Timing.PreviewWarmup)
		switch {
		case err != nil && ctx.Err() != nil:
			return PreviewLoop, ctx.Err()
		case err != nil:
			c.showFailure("preview capture failed", err)
			if err := c.poll(ctx); err != nil {
				return PreviewLoop, err
			}
		default:
			c.render("preview image", func() error { return c.deps.Display.ShowImage(capture.Path) })
		}

		if c.pressed(c.right) {
			return c.exitToMainMenu(ctx, PreviewLoop)
		}
	}
}

func (c *Controller) calibrationLoop(ctx context.Context) (MenuState, error) {
	tare, err := c.deps.Scale.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return CalibrationLoop, ctx.Err()
		}
		c.showFailure("tare sample failed", err)
		tare = types.WeightSample{}
	}
	raw := 0.0

	c.logger.Info("calibration started", zap.Float64("tare", tare.Raw))
	c.renderCalibration(raw, tare.Raw)

	for {
		if c.pressed(c.left) {
			sample, err := c.deps.Scale.Sample(ctx)
			switch {
			case err != nil && ctx.Err() != nil:
				return CalibrationLoop, ctx.Err()
			case err != nil:
				c.showFailure("weight sample failed", err)
			default:
				raw = sample.Raw
				c.logger.Info("calibration sample", zap.Float64("raw", raw), zap.Float64("tare", tare.Raw))
				c.renderCalibration(raw, tare.Raw)
			}
		}
		if c.pressed(c.right) {
			return c.exitToMainMenu(ctx, CalibrationLoop)
		}
		if err := c.poll(ctx); err != nil {
			return CalibrationLoop, err
		}
	}
}

func (c *Controller) exitToMainMenu(ctx context.Context, from MenuState) (MenuState, error) {
	if err := c.deps.Clock.Sleep(ctx, c.cfg.Timing.ExitSettle); err != nil {
		return from, err
	}
	return MainMenu, nil
}

// measuringLoop never returns to a button state; buttons are not polled any more
func (c *Controller) measuringLoop(ctx context.Context) error {
	c.render("measuring screen", c.deps.Display.ShowMeasuring)

	for {
		c.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.deps.Clock.Sleep(ctx, c.cfg.Timing.CycleSleep); err != nil {
			return err
		}
	}
}

func (c *Controller) poll(ctx context.Context) error {
	return c.deps.Clock.Sleep(ctx, c.cfg.Timing.PollInterval)
}

// pressed polls b; read errors are logged and count as not pressed
func (c *Controller) pressed(b *button) bool {
	ok, err := b.pressed(c.deps.Clock.Now())
	if err != nil {
		c.logger.Warn("button read failed", zap.Error(err))
		return false
	}
	return ok
}

func (c *Controller) render(what string, draw func() error) {
	if err := draw(); err != nil {
		c.logger.Warn("display update failed", zap.String("screen", what), zap.Error(err))
	}
}

func (c *Controller) renderCalibration(raw, tare float64) {
	c.render("calibration", func() error { return c.deps.Display.ShowCalibration(raw, tare) })
}

func (c *Controller) showFailure(msg string, err error) {
	c.logger.Error(msg, zap.Error(err))
	c.render("error", func() error { return c.deps.Display.ShowError(msg) })
}

func (c *Controller) setLED(on bool) {
	if err := c.deps.LED.Write(on); err != nil {
		c.logger.Error("failed to switch LED", zap.Bool("on", on), zap.Error(err))
	}
}

// isCancelled reports whether err stems from ctx being done
func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
