// Package analyzer runs the external growth-analysis program on a photo.
package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Params are the tuning parameters passed to the analysis program
type Params struct {
	PotLimit   int    `json:"potLimit"`
	Channel    string `json:"channel"`
	KernelSize int    `json:"kernelSize"`
	FillSize   int    `json:"fillSize"`
}

// Validate checks the parameters are usable
func (p Params) Validate() error {
	if p.PotLimit <= 0 {
		return fmt.Errorf("potLimit must be positive, got %d", p.PotLimit)
	}
	if strings.TrimSpace(p.Channel) == "" {
		return fmt.Errorf("channel cannot be empty")
	}
	if p.KernelSize <= 0 {
		return fmt.Errorf("kernelSize must be positive, got %d", p.KernelSize)
	}
	if p.FillSize < 0 {
		return fmt.Errorf("fillSize must be >= 0, got %d", p.FillSize)
	}
	return nil
}

// Args renders p as command-line flags for the analysis program
func (p Params) Args(imagePath string) []string {
	return []string{
		"--image", imagePath,
		"--pot-limit", strconv.Itoa(p.PotLimit),
		"--channel", p.Channel,
		"--kernel-size", strconv.Itoa(p.KernelSize),
		"--fill-size", strconv.Itoa(p.FillSize),
	}
}

// Command runs an external program and reads the growth value from its output.
// The program must print the value as the last non-empty line of stdout.
type Command struct {
	path    string
	args    []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommand creates an analyzer invoking path with args followed by the parameter flags
func NewCommand(path string, args []string, timeout time.Duration, logger *zap.Logger) *Command {
	return &Command{path: path, args: args, timeout: timeout, logger: logger}
}

// Analyze runs the program on imagePath
func (c *Command) Analyze(ctx context.Context, imagePath string, params Params) (float64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.args...), params.Args(imagePath)...)
	cmd := exec.CommandContext(ctx, c.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, fmt.Errorf("analysis of %s aborted: %w", imagePath, ctxErr)
		}
		return 0, fmt.Errorf("analysis of %s failed: %w: %s", imagePath, err, lastLine(stderr.Bytes()))
	}

	value, err := ParseOutput(stdout.Bytes())
	if err != nil {
		return 0, fmt.Errorf("analysis of %s: %w", imagePath, err)
	}

	c.logger.Debug("analysis finished",
		zap.String("image", imagePath),
		zap.Float64("growth", value),
		zap.Duration("duration", time.Since(start)),
	)
	return value, nil
}

// ErrNoOutput is returned when the program printed nothing
var ErrNoOutput = errors.New("analysis produced no output")

// ParseOutput returns the float on the last non-empty line of out
func ParseOutput(out []byte) (float64, error) {
	line := lastLine(out)
	if line == "" {
		return 0, ErrNoOutput
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable analysis output %q: %w", line, err)
	}
	return v, nil
}

func lastLine(out []byte) string {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			last = l
		}
	}
	return last
}
