// Package sink publishes measurement points to time-series backends.
package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/types"
)

// InfluxConfig locates the InfluxDB bucket
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// Influx writes points with the blocking write API: one point, one request
type Influx struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	url    string
	logger *zap.Logger
}

// NewInflux creates the InfluxDB client. No request is made until the first write or Ping.
func NewInflux(cfg InfluxConfig, logger *zap.Logger) *Influx {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetApplicationName("phenostation").
		SetHTTPClient(&http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "influxdb.write"
				}),
			),
		})

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Influx{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		url:    cfg.URL,
		logger: logger,
	}
}

// Name identifies the sink in logs and errors
func (s *Influx) Name() string { return "influxdb" }

// Write sends point as a single integer field. The server assigns the timestamp.
func (s *Influx) Write(ctx context.Context, point types.DataPoint) error {
	p := write.NewPointWithMeasurement(point.Measurement).AddField(point.Field, point.Value)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influxdb write %s.%s: %w", point.Measurement, point.Field, err)
	}
	s.logger.Debug("point written to influxdb",
		zap.String("measurement", point.Measurement),
		zap.String("field", point.Field),
		zap.Int64("value", point.Value),
	)
	return nil
}

// Ping checks the server is reachable
func (s *Influx) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb ping %s: %w", s.url, err)
	}
	if !ok {
		return fmt.Errorf("influxdb ping %s: server not ready", s.url)
	}
	return nil
}

// Close releases the client
func (s *Influx) Close() error {
	s.client.Close()
	return nil
}
