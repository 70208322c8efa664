package station

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/clock"
	"github.com/mjasion/phenostation/pkg/telemetry"
)

// RetryPolicy bounds how often a cycle step is attempted
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// DefaultRetryPolicy is 3 attempts with 1s then 2s backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second}
}

// retry runs fn until it succeeds, attempts run out or ctx is done.
// The backoff doubles after each failed attempt and is slept on clk.
func retry[T any](ctx context.Context, clk clock.Clock, policy RetryPolicy, logger *zap.Logger, step string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		trace.SpanFromContext(ctx).AddEvent("attempt failed", trace.WithAttributes(
			attribute.String("step", step),
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))

		if attempt == policy.MaxAttempts {
			break
		}

		telemetry.WarnWithTrace(ctx, logger, "cycle step failed, will retry",
			zap.String("step", step),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := clk.Sleep(ctx, backoff); err != nil {
			return zero, err
		}
		backoff *= 2
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", step, policy.MaxAttempts, lastErr)
}
