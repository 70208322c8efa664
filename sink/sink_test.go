package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/metrics"
	"github.com/mjasion/phenostation/pkg/types"
)

var growthPoint = types.DataPoint{
	Measurement: "my_measurement",
	Field:       "Growth_station_test",
	Value:       42,
	Time:        time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC),
}

func TestInflux_Write(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewInflux(InfluxConfig{URL: server.URL, Token: "tok", Org: "lab", Bucket: "plants"}, zap.NewNop())
	defer s.Close()

	if err := s.Write(context.Background(), growthPoint); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if gotPath != "/api/v2/write" {
		t.Errorf("Expected /api/v2/write, got %s", gotPath)
	}
	if !strings.Contains(gotQuery, "org=lab") || !strings.Contains(gotQuery, "bucket=plants") {
		t.Errorf("Expected org and bucket in query, got %s", gotQuery)
	}
	if gotAuth != "Token tok" {
		t.Errorf("Expected token auth, got %q", gotAuth)
	}
	// one point, integer field, no explicit timestamp
	if strings.TrimSpace(gotBody) != "my_measurement Growth_station_test=42i" {
		t.Errorf("Unexpected line protocol: %q", gotBody)
	}
}

func TestInflux_WriteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":"unauthorized","message":"unauthorized access"}`))
	}))
	defer server.Close()

	s := NewInflux(InfluxConfig{URL: server.URL, Token: "bad", Org: "lab", Bucket: "plants"}, zap.NewNop())
	defer s.Close()

	if err := s.Write(context.Background(), growthPoint); err == nil {
		t.Fatal("Expected error for 401, got nil")
	}
}

func TestRemoteWrite_Write(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewRemoteWrite(metrics.New(metrics.Config{URL: server.URL}, zap.NewNop()), map[string]string{"station": "s1"})
	if err := s.Write(context.Background(), growthPoint); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if requests != 1 {
		t.Errorf("Expected exactly 1 request per point, got %d", requests)
	}
}

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMQTTClient struct {
	mqtt.Client
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.topic, c.qos = topic, qos
	c.payload = payload.([]byte)
	return &doneToken{err: c.err}
}

func (c *fakeMQTTClient) Connect() mqtt.Token { return &doneToken{} }
func (c *fakeMQTTClient) Disconnect(uint)     {}

func TestMQTT_Write(t *testing.T) {
	client := &fakeMQTTClient{}
	s := newMQTTWithClient(client, "phenostation/", 1, time.Second, zap.NewNop())

	if err := s.Connect(); err != nil {
		t.Fatalf("Expected no connect error, got %v", err)
	}
	if err := s.Write(context.Background(), growthPoint); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if client.topic != "phenostation/my_measurement/Growth_station_test" {
		t.Errorf("Unexpected topic %s", client.topic)
	}
	if client.qos != 1 {
		t.Errorf("Expected QoS 1, got %d", client.qos)
	}

	var msg mqttMessage
	if err := json.Unmarshal(client.payload, &msg); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if msg.Value != 42 || msg.Timestamp != growthPoint.Time.Unix() {
		t.Errorf("Unexpected payload %+v", msg)
	}
}

func TestMQTT_WriteError(t *testing.T) {
	client := &fakeMQTTClient{err: errors.New("not connected")}
	s := newMQTTWithClient(client, "p", 0, time.Second, zap.NewNop())

	if err := s.Write(context.Background(), growthPoint); err == nil {
		t.Fatal("Expected publish error, got nil")
	}
}

type fakeBackend struct {
	name   string
	err    error
	points []types.DataPoint
}

func (b *fakeBackend) Name() string { return b.name }
func (b *fakeBackend) Write(ctx context.Context, p types.DataPoint) error {
	b.points = append(b.points, p)
	return b.err
}

func TestMulti(t *testing.T) {
	if _, err := NewMulti(zap.NewNop()); !errors.Is(err, ErrNoBackends) {
		t.Errorf("Expected ErrNoBackends, got %v", err)
	}

	boom := errors.New("boom")
	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b", err: boom}
	c := &fakeBackend{name: "c"}
	m, err := NewMulti(zap.NewNop(), a, b, c)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	err = m.Write(context.Background(), growthPoint)
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to wrap backend error, got %v", err)
	}
	for _, backend := range []*fakeBackend{a, b, c} {
		if len(backend.points) != 1 {
			t.Errorf("Expected backend %s to receive 1 point, got %d", backend.name, len(backend.points))
		}
	}
	if got := strings.Join(m.Names(), ","); got != "a,b,c" {
		t.Errorf("Expected names a,b,c, got %s", got)
	}
}
