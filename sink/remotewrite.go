package sink

import (
	"context"

	"github.com/mjasion/phenostation/pkg/metrics"
	"github.com/mjasion/phenostation/pkg/types"
)

// RemoteWrite publishes points through a Prometheus remote-write pusher
type RemoteWrite struct {
	pusher *metrics.Pusher
	labels map[string]string
}

// NewRemoteWrite wraps pusher; labels are attached to every series
func NewRemoteWrite(pusher *metrics.Pusher, labels map[string]string) *RemoteWrite {
	return &RemoteWrite{pusher: pusher, labels: labels}
}

// Name identifies the sink in logs and errors
func (s *RemoteWrite) Name() string { return "remote_write" }

// Write pushes one sample
func (s *RemoteWrite) Write(ctx context.Context, point types.DataPoint) error {
	return s.pusher.Push(ctx, []*types.DataPoint{&point}, s.labels)
}
