package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/pkg/types"
)

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// mqttMessage is the JSON payload of a published point
type mqttMessage struct {
	Measurement string `json:"measurement"`
	Field       string `json:"field"`
	Value       int64  `json:"value"`
	Timestamp   int64  `json:"timestamp"`
}

// MQTT publishes each point as a JSON message to <prefix>/<measurement>/<field>
type MQTT struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

// NewMQTT builds the paho client; call Connect before writing
func NewMQTT(cfg MQTTConfig, logger *zap.Logger) *MQTT {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	return newMQTTWithClient(mqtt.NewClient(opts), cfg.TopicPrefix, cfg.QoS, timeout, logger)
}

func newMQTTWithClient(client mqtt.Client, prefix string, qos byte, timeout time.Duration, logger *zap.Logger) *MQTT {
	return &MQTT{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     qos,
		timeout: timeout,
		logger:  logger,
	}
}

// Connect dials the broker; with connect retry enabled it waits at most the timeout
func (s *MQTT) Connect() error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Name identifies the sink in logs and errors
func (s *MQTT) Name() string { return "mqtt" }

// Topic returns the topic a point is published to
func (s *MQTT) Topic(point types.DataPoint) string {
	return s.prefix + "/" + point.Measurement + "/" + point.Field
}

// Write publishes point and waits for the broker acknowledgement
func (s *MQTT) Write(ctx context.Context, point types.DataPoint) error {
	payload, err := json.Marshal(mqttMessage{
		Measurement: point.Measurement,
		Field:       point.Field,
		Value:       point.Value,
		Timestamp:   point.Time.Unix(),
	})
	if err != nil {
		return fmt.Errorf("mqtt encode: %w", err)
	}

	topic := s.Topic(point)
	token := s.client.Publish(topic, s.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing 250ms for in-flight messages
func (s *MQTT) Close() error {
	s.client.Disconnect(250)
	return nil
}
