package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/types"
)

func TestPush_EmptyPoints(t *testing.T) {
	pusher := New(Config{URL: "http://127.0.0.1:1"}, zap.NewNop())

	if err := pusher.Push(context.Background(), nil, nil); err != nil {
		t.Errorf("Expected no error for empty points, got: %v", err)
	}
}

func TestPush_Success(t *testing.T) {
	var got prompb.WriteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("Content-Encoding") != "snappy" {
			t.Errorf("Expected Content-Encoding snappy, got %s", r.Header.Get("Content-Encoding"))
		}
		username, password, ok := r.BasicAuth()
		if !ok || username != "station" || password != "secret" {
			t.Errorf("Expected basic auth station/secret, got %s/%s (ok=%v)", username, password, ok)
		}

		compressed, _ := io.ReadAll(r.Body)
		data, err := snappy.Decode(nil, compressed)
		if err != nil {
			t.Fatalf("Failed to decode snappy body: %v", err)
		}
		if err := proto.Unmarshal(data, &got); err != nil {
			t.Fatalf("Failed to unmarshal write request: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	pusher := New(Config{URL: server.URL, Username: "station", Password: "secret"}, zap.NewNop())
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	points := []*types.DataPoint{{Measurement: "my_measurement", Field: "Growth_station_test", Value: 42, Time: ts}}

	if err := pusher.Push(context.Background(), points, map[string]string{"station": "greenhouse"}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(got.Timeseries) != 1 {
		t.Fatalf("Expected 1 time series, got %d", len(got.Timeseries))
	}
	series := got.Timeseries[0]
	if series.Samples[0].Value != 42 {
		t.Errorf("Expected sample value 42, got %f", series.Samples[0].Value)
	}
	if series.Samples[0].Timestamp != ts.UnixMilli() {
		t.Errorf("Expected timestamp %d, got %d", ts.UnixMilli(), series.Samples[0].Timestamp)
	}
}

func TestPush_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	pusher := New(Config{URL: server.URL}, zap.NewNop())
	err := pusher.Push(context.Background(), []*types.DataPoint{{Measurement: "m", Field: "f", Value: 1}}, nil)
	if err == nil {
		t.Fatal("Expected error for 500 response, got nil")
	}
}

func TestBuildTimeSeries(t *testing.T) {
	now := time.Now()
	points := []*types.DataPoint{
		{Measurement: "my_measurement", Field: "Growth_station_test", Value: 10, Time: now},
		{Measurement: "my_measurement", Field: "Weight_raw", Value: 8000, Time: now},
		{Measurement: "my_measurement", Field: "Growth_station_test", Value: 11, Time: now.Add(time.Minute)},
	}

	series := BuildTimeSeries(points, map[string]string{"station": "s1", "field": "ignored"})
	if len(series) != 2 {
		t.Fatalf("Expected 2 series, got %d", len(series))
	}
	if len(series[0].Samples) != 2 {
		t.Errorf("Expected 2 samples in growth series, got %d", len(series[0].Samples))
	}

	labels := series[0].Labels
	expected := []prompb.Label{
		{Name: "__name__", Value: "my_measurement"},
		{Name: "field", Value: "Growth_station_test"},
		{Name: "station", Value: "s1"},
	}
	if len(labels) != len(expected) {
		t.Fatalf("Expected %d labels, got %d: %v", len(expected), len(labels), labels)
	}
	for i := range expected {
		if labels[i].Name != expected[i].Name || labels[i].Value != expected[i].Value {
			t.Errorf("Expected label[%d]=%s:%s, got %s:%s", i, expected[i].Name, expected[i].Value, labels[i].Name, labels[i].Value)
		}
	}
}

func TestSanitizeMetricName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"my_measurement", "my_measurement"},
		{"Growth Station-1", "growth_station_1"},
		{"1st", "_1st"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := SanitizeMetricName(tt.in); got != tt.want {
			t.Errorf("SanitizeMetricName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
