package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/types"
)

// Pusher sends data points to a Prometheus remote_write endpoint.
// Every Push is a single synchronous request; retrying is left to the caller.
type Pusher struct {
	url      string
	username string
	password string
	client   *http.Client
	logger   *zap.Logger
}

// Config contains configuration for the Prometheus pusher
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// New creates a pusher with an OpenTelemetry-instrumented HTTP client
func New(cfg Config, logger *zap.Logger) *Pusher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Pusher{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(
				http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		logger: logger,
	}
}

// Push encodes points as one WriteRequest and sends it
func (p *Pusher) Push(ctx context.Context, points []*types.DataPoint, labels map[string]string) error {
	ctx, span := otel.Tracer("metrics").Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("metrics.points", len(points))),
	)
	defer span.End()

	if len(points) == 0 {
		span.SetStatus(codes.Ok, "nothing to push")
		return nil
	}

	writeReq := &prompb.WriteRequest{Timeseries: BuildTimeSeries(points, labels)}
	if err := p.send(ctx, writeReq); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		return err
	}

	p.logger.Debug("pushed points to remote write", zap.Int("points", len(points)))
	span.SetStatus(codes.Ok, "pushed")
	return nil
}

func (p *Pusher) send(ctx context.Context, writeReq *prompb.WriteRequest) error {
	data, err := proto.Marshal(writeReq)
	if err != nil {
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("metrics.protobuf_size_bytes", len(data)),
		attribute.Int("metrics.compressed_size_bytes", len(compressed)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.username != "" && p.password != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}
