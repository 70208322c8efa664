package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	framePoll    = 50 * time.Millisecond
	frameTimeout = 15 * time.Second
	stopTimeout  = 3 * time.Second
)

// StillCamera shoots JPEGs with a libcamera still-capture command such as rpicam-still.
// Start launches the command in signal mode so the sensor runs through the warm-up;
// each CaptureFile sends SIGUSR1 and Stop ends the process with SIGUSR2.
type StillCamera struct {
	command string
	args    []string
	width   int
	height  int
	logger  *zap.Logger

	mu      sync.Mutex
	path    string
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	done    chan struct{}
	waitErr error
	session string
	last    string
}

// StillCameraConfig configures StillCamera
type StillCameraConfig struct {
	Command string
	Args    []string
	Width   int
	Height  int
}

// NewStillCamera creates a camera adapter; the command is resolved on Start
func NewStillCamera(cfg StillCameraConfig, logger *zap.Logger) *StillCamera {
	command := cfg.Command
	if command == "" {
		command = "rpicam-still"
	}
	return &StillCamera{
		command: command,
		args:    cfg.Args,
		width:   cfg.Width,
		height:  cfg.Height,
		logger:  logger,
	}
}

// Start launches the camera process and leaves it streaming until Stop
func (c *StillCamera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return errors.New("camera session already started")
	}
	if c.path == "" {
		path, err := exec.LookPath(c.command)
		if err != nil {
			return fmt.Errorf("camera command %s: %w", c.command, err)
		}
		c.path = path
	}

	session, err := os.MkdirTemp("", "phenostation-camera-")
	if err != nil {
		return fmt.Errorf("camera session dir: %w", err)
	}

	cmd := exec.Command(c.path, c.commandArgs(session)...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		os.RemoveAll(session)
		return fmt.Errorf("start %s: %w", c.command, err)
	}

	c.cmd = cmd
	c.stderr = stderr
	c.session = session
	c.last = ""
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		err := cmd.Wait()
		c.mu.Lock()
		c.waitErr = err
		c.mu.Unlock()
		close(done)
	}(c.done)

	c.logger.Debug("camera started", zap.Int("pid", cmd.Process.Pid), zap.String("session", session))
	return nil
}

func (c *StillCamera) commandArgs(session string) []string {
	args := []string{"--nopreview"}
	if c.width > 0 && c.height > 0 {
		args = append(args, "--width", strconv.Itoa(c.width), "--height", strconv.Itoa(c.height))
	}
	args = append(args, c.args...)
	return append(args,
		"--timeout", "0",
		"--signal",
		"--output", filepath.Join(session, "frame%04d.jpg"),
		"--latest", c.latestLink(session),
	)
}

func (c *StillCamera) latestLink(session string) string {
	return filepath.Join(session, "latest.jpg")
}

// CaptureFile triggers one frame and moves it to path
func (c *StillCamera) CaptureFile(ctx context.Context, path string) error {
	c.mu.Lock()
	cmd, done, session, last := c.cmd, c.done, c.session, c.last
	c.mu.Unlock()

	if cmd == nil {
		return errors.New("camera session not started")
	}
	if err := cmd.Process.Signal(syscall.SIGUSR1); err != nil {
		return fmt.Errorf("trigger %s: %w", c.command, err)
	}

	frame, err := c.waitFrame(ctx, done, session, last)
	if err != nil {
		return err
	}
	if err := moveFile(frame, path); err != nil {
		return fmt.Errorf("store frame: %w", err)
	}

	c.mu.Lock()
	c.last = frame
	c.mu.Unlock()

	c.logger.Debug("camera frame written", zap.String("path", path))
	return nil
}

// waitFrame waits until the latest link points at a frame other than last
func (c *StillCamera) waitFrame(ctx context.Context, done <-chan struct{}, session, last string) (string, error) {
	timeout := time.NewTimer(frameTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(framePoll)
	defer ticker.Stop()

	link := c.latestLink(session)
	for {
		if target, err := os.Readlink(link); err == nil {
			if !filepath.IsAbs(target) {
				target = filepath.Join(session, target)
			}
			if target != last {
				return target, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-done:
			return "", fmt.Errorf("%s exited before the frame was saved: %s", c.command, c.stderrTail())
		case <-timeout.C:
			return "", fmt.Errorf("%s: no frame within %v", c.command, frameTimeout)
		case <-ticker.C:
		}
	}
}

func (c *StillCamera) stderrTail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stderr == nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(c.stderr.String()), "\n")
	return lines[len(lines)-1]
}

// Stop ends the camera process and removes its session files
func (c *StillCamera) Stop() error {
	c.mu.Lock()
	cmd, done, session := c.cmd, c.done, c.session
	c.cmd, c.done, c.session = nil, nil, ""
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}
	defer os.RemoveAll(session)

	select {
	case <-done:
	default:
		cmd.Process.Signal(syscall.SIGUSR2)
		select {
		case <-done:
		case <-time.After(stopTimeout):
			c.logger.Warn("camera did not stop, killing it", zap.Int("pid", cmd.Process.Pid))
			cmd.Process.Kill()
			<-done
		}
	}

	c.mu.Lock()
	err := c.waitErr
	c.mu.Unlock()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("stop %s: %w", c.command, err)
	}
	return nil
}

// moveFile renames src to dst, copying when they sit on different filesystems
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
