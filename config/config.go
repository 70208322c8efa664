package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/mjasion/phenostation/analyzer"
	pkgconfig "github.com/mjasion/phenostation/pkg/config"
	"github.com/mjasion/phenostation/station"
)

// Config holds all configuration parameters for the station controller
type Config struct {
	Station   StationConfig   `yaml:"station"`
	Pins      PinsConfig      `yaml:"pins"`
	Buttons   ButtonsConfig   `yaml:"buttons"`
	Camera    CameraConfig    `yaml:"camera"`
	Display   DisplayConfig   `yaml:"display"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Timing    TimingConfig    `yaml:"timing"`
	Retry     RetryConfig     `yaml:"retry"`

	// Data sinks
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	RemoteWrite RemoteWriteConfig `yaml:"remoteWrite"`
	MQTT        MQTTConfig        `yaml:"mqtt"`

	// Local surfaces
	Health  HealthConfig  `yaml:"health"`
	Journal JournalConfig `yaml:"journal"`
	Storage StorageConfig `yaml:"storage"`

	Logging       pkgconfig.LoggingConfig       `yaml:"logging"`
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`
	Profiling     pkgconfig.ProfilingConfig     `yaml:"profiling"`
}

// StationConfig holds the photo directories
type StationConfig struct {
	ImageDir   string `yaml:"imageDir" env:"STATION_IMAGE_DIR" env-required:"true"`
	PreviewDir string `yaml:"previewDir" env:"STATION_PREVIEW_DIR" env-default:"/home/pi/Desktop/phenostation/assets"`
}

// PinsConfig holds BCM line offsets on the GPIO character device
type PinsConfig struct {
	GPIOChip    string `yaml:"gpioChip" env:"PINS_GPIO_CHIP" env-default:"gpiochip0"`
	LED         int    `yaml:"led" env:"PINS_LED"`
	ButtonLeft  int    `yaml:"buttonLeft" env:"PINS_BUTTON_LEFT"`
	ButtonRight int    `yaml:"buttonRight" env:"PINS_BUTTON_RIGHT"`
	HX711Data   int    `yaml:"hx711Data" env:"PINS_HX711_DATA"`
	HX711Clock  int    `yaml:"hx711Clock" env:"PINS_HX711_CLOCK"`
}

type ButtonsConfig struct {
	Mode           string `yaml:"mode" env:"BUTTONS_MODE" env-default:"level"`
	DebounceMillis int    `yaml:"debounceMillis" env:"BUTTONS_DEBOUNCE_MILLIS"`
}

type CameraConfig struct {
	Command string   `yaml:"command" env:"CAMERA_COMMAND" env-default:"rpicam-still"`
	Args    []string `yaml:"args" env:"CAMERA_ARGS" env-separator:" "`
	Width   int      `yaml:"width" env:"CAMERA_WIDTH" env-default:"0"`
	Height  int      `yaml:"height" env:"CAMERA_HEIGHT" env-default:"0"`
}

type DisplayConfig struct {
	Device   string `yaml:"device" env:"DISPLAY_DEVICE" env-default:"/dev/fb1"`
	Width    int    `yaml:"width" env:"DISPLAY_WIDTH" env-default:"128"`
	Height   int    `yaml:"height" env:"DISPLAY_HEIGHT" env-default:"160"`
	LogoPath string `yaml:"logoPath" env:"DISPLAY_LOGO_PATH"`
}

// AnalysisConfig points at the external growth analyzer and its parameters
type AnalysisConfig struct {
	Command        string   `yaml:"command" env:"ANALYSIS_COMMAND" env-default:"python3"`
	Args           []string `yaml:"args" env:"ANALYSIS_ARGS" env-separator:" "`
	PotLimit       int      `yaml:"potLimit" env:"ANALYSIS_POT_LIMIT" env-default:"230"`
	Channel        string   `yaml:"channel" env:"ANALYSIS_CHANNEL" env-default:"a"`
	KernelSize     int      `yaml:"kernelSize" env:"ANALYSIS_KERNEL_SIZE" env-default:"3"`
	FillSize       int      `yaml:"fillSize" env:"ANALYSIS_FILL_SIZE"`
	TimeoutSeconds int      `yaml:"timeoutSeconds" env:"ANALYSIS_TIMEOUT_SECONDS" env-default:"120"`
}

// TelemetryConfig names the published series
type TelemetryConfig struct {
	Measurement   string `yaml:"measurement" env:"TELEMETRY_MEASUREMENT" env-default:"my_measurement"`
	GrowthField   string `yaml:"growthField" env:"TELEMETRY_GROWTH_FIELD" env-default:"Growth_station_test"`
	PublishWeight bool   `yaml:"publishWeight" env:"TELEMETRY_PUBLISH_WEIGHT" env-default:"false"`
	WeightField   string `yaml:"weightField" env:"TELEMETRY_WEIGHT_FIELD" env-default:"Weight_raw"`
	WeightReads   int    `yaml:"weightReads" env:"TELEMETRY_WEIGHT_READS" env-default:"5"`
}

// TimingConfig holds the controller delays; zero is a legal value for all but the poll interval
type TimingConfig struct {
	WarmupSeconds        int `yaml:"warmupSeconds" env:"TIMING_WARMUP_SECONDS"`
	SettleSeconds        int `yaml:"settleSeconds" env:"TIMING_SETTLE_SECONDS"`
	CycleSleepSeconds    int `yaml:"cycleSleepSeconds" env:"TIMING_CYCLE_SLEEP_SECONDS"`
	PreviewWarmupSeconds int `yaml:"previewWarmupSeconds" env:"TIMING_PREVIEW_WARMUP_SECONDS"`
	MenuDelayMillis      int `yaml:"menuDelayMillis" env:"TIMING_MENU_DELAY_MILLIS"`
	ExitSettleMillis     int `yaml:"exitSettleMillis" env:"TIMING_EXIT_SETTLE_MILLIS"`
	PollIntervalMillis   int `yaml:"pollIntervalMillis" env:"TIMING_POLL_INTERVAL_MILLIS"`
}

type RetryConfig struct {
	MaxAttempts          int `yaml:"maxAttempts" env:"RETRY_MAX_ATTEMPTS" env-default:"3"`
	InitialBackoffMillis int `yaml:"initialBackoffMillis" env:"RETRY_INITIAL_BACKOFF_MILLIS"`
}

// InfluxDBConfig is the primary sink; it is enabled whenever url is set
type InfluxDBConfig struct {
	URL            string `yaml:"url" env:"INFLUXDB_URL"`
	Token          string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Org            string `yaml:"org" env:"INFLUXDB_ORG"`
	Bucket         string `yaml:"bucket" env:"INFLUXDB_BUCKET"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" env:"INFLUXDB_TIMEOUT_SECONDS" env-default:"10"`
}

// Enabled reports whether a server is configured
func (c InfluxDBConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type RemoteWriteConfig struct {
	Enabled        bool              `yaml:"enabled" env:"REMOTE_WRITE_ENABLED" env-default:"false"`
	URL            string            `yaml:"url" env:"REMOTE_WRITE_URL"`
	Username       string            `yaml:"username" env:"REMOTE_WRITE_USERNAME"`
	Password       string            `yaml:"password" env:"REMOTE_WRITE_PASSWORD"`
	TimeoutSeconds int               `yaml:"timeoutSeconds" env:"REMOTE_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	Labels         map[string]string `yaml:"labels"`
}

type MQTTConfig struct {
	Enabled        bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Broker         string `yaml:"broker" env:"MQTT_BROKER"`
	ClientID       string `yaml:"clientId" env:"MQTT_CLIENT_ID" env-default:"phenostation"`
	Username       string `yaml:"username" env:"MQTT_USERNAME"`
	Password       string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix    string `yaml:"topicPrefix" env:"MQTT_TOPIC_PREFIX" env-default:"phenostation"`
	QoS            int    `yaml:"qos" env:"MQTT_QOS"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" env:"MQTT_TIMEOUT_SECONDS" env-default:"10"`
}

type HealthConfig struct {
	Port        int `yaml:"port" env:"HEALTH_PORT" env-default:"8080"`
	HistorySize int `yaml:"historySize" env:"HEALTH_HISTORY_SIZE" env-default:"72"`
}

// JournalConfig locates the local cycle journal; an empty path disables it
type JournalConfig struct {
	Path string `yaml:"path" env:"JOURNAL_PATH"`
}

type StorageConfig struct {
	Schedule string `yaml:"schedule" env:"STORAGE_SCHEDULE" env-default:"@every 1h"`
}

// Default returns the defaults of the fields where 0 is a legal setting.
// cleanenv replaces a zero with env-default, so these fields carry no such tag and
// Load decodes the file over Default instead. An explicit 0 in the file survives.
func Default() Config {
	sc := station.DefaultConfig("", "")
	t := sc.Timing
	return Config{
		Pins: PinsConfig{
			LED:         26,
			ButtonLeft:  21,
			ButtonRight: 16,
			HX711Data:   5,
			HX711Clock:  6,
		},
		Buttons:  ButtonsConfig{DebounceMillis: int(sc.Debounce.Milliseconds())},
		Analysis: AnalysisConfig{FillSize: 3},
		Timing: TimingConfig{
			WarmupSeconds:        int(t.Warmup / time.Second),
			SettleSeconds:        int(t.Settle / time.Second),
			CycleSleepSeconds:    int(t.CycleSleep / time.Second),
			PreviewWarmupSeconds: int(t.PreviewWarmup / time.Second),
			MenuDelayMillis:      int(t.MenuDelay.Milliseconds()),
			ExitSettleMillis:     int(t.ExitSettle.Milliseconds()),
			PollIntervalMillis:   int(t.PollInterval.Milliseconds()),
		},
		Retry: RetryConfig{InitialBackoffMillis: int(sc.Retry.InitialBackoff.Milliseconds())},
		MQTT:  MQTTConfig{QoS: 1},
	}
}

// Load reads configuration from the specified file path and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all configuration parameters are valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Station.ImageDir) == "" {
		return fmt.Errorf("station.imageDir cannot be empty")
	}

	pins := map[string]int{
		"led":         c.Pins.LED,
		"buttonLeft":  c.Pins.ButtonLeft,
		"buttonRight": c.Pins.ButtonRight,
		"hx711Data":   c.Pins.HX711Data,
		"hx711Clock":  c.Pins.HX711Clock,
	}
	used := make(map[int]string, len(pins))
	for name, offset := range pins {
		if offset < 0 {
			return fmt.Errorf("pins.%s must not be negative, got %d", name, offset)
		}
		if other, ok := used[offset]; ok {
			return fmt.Errorf("pins.%s and pins.%s share line %d", name, other, offset)
		}
		used[offset] = name
	}

	if _, err := station.ParseButtonMode(c.Buttons.Mode); err != nil {
		return err
	}
	if c.Buttons.DebounceMillis < 0 {
		return fmt.Errorf("buttons.debounceMillis must not be negative, got %d", c.Buttons.DebounceMillis)
	}

	if strings.TrimSpace(c.Camera.Command) == "" {
		return fmt.Errorf("camera.command cannot be empty")
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height)
	}

	if strings.TrimSpace(c.Analysis.Command) == "" {
		return fmt.Errorf("analysis.command cannot be empty")
	}
	if err := c.AnalysisParams().Validate(); err != nil {
		return fmt.Errorf("invalid analysis parameters: %w", err)
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		return fmt.Errorf("analysis.timeoutSeconds must be positive, got %d", c.Analysis.TimeoutSeconds)
	}

	if c.Telemetry.WeightReads <= 0 {
		return fmt.Errorf("telemetry.weightReads must be positive, got %d", c.Telemetry.WeightReads)
	}

	t := c.Timing
	if t.WarmupSeconds < 0 || t.SettleSeconds < 0 || t.CycleSleepSeconds < 0 || t.PreviewWarmupSeconds < 0 ||
		t.MenuDelayMillis < 0 || t.ExitSettleMillis < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	if t.PollIntervalMillis <= 0 {
		return fmt.Errorf("timing.pollIntervalMillis must be positive, got %d", t.PollIntervalMillis)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoffMillis < 0 {
		return fmt.Errorf("retry.initialBackoffMillis must not be negative, got %d", c.Retry.InitialBackoffMillis)
	}

	if err := c.validateSinks(); err != nil {
		return err
	}

	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}
	if c.Health.HistorySize <= 0 {
		return fmt.Errorf("health.historySize must be positive, got %d", c.Health.HistorySize)
	}

	// Validate logging configuration
	if err := pkgconfig.ValidateLogging(&c.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	// Validate OpenTelemetry configuration
	if err := pkgconfig.ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return fmt.Errorf("opentelemetry validation failed: %w", err)
	}

	// Validate Profiling configuration
	if err := pkgconfig.ValidateProfiling(&c.Profiling); err != nil {
		return fmt.Errorf("profiling validation failed: %w", err)
	}

	return nil
}

func (c *Config) validateSinks() error {
	if !c.InfluxDB.Enabled() && !c.RemoteWrite.Enabled && !c.MQTT.Enabled {
		return fmt.Errorf("at least one of influxdb, remoteWrite or mqtt must be enabled")
	}

	if c.InfluxDB.Enabled() {
		if _, err := url.ParseRequestURI(c.InfluxDB.URL); err != nil {
			return fmt.Errorf("invalid influxdb.url: %w", err)
		}
		if c.InfluxDB.Token == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb.token, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.RemoteWrite.Enabled {
		if _, err := url.ParseRequestURI(c.RemoteWrite.URL); err != nil {
			return fmt.Errorf("invalid remoteWrite.url: %w", err)
		}
	}

	if c.MQTT.Enabled {
		if _, err := url.ParseRequestURI(c.MQTT.Broker); err != nil {
			return fmt.Errorf("invalid mqtt.broker: %w", err)
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}
	return nil
}

// AnalysisParams returns the analyzer parameters
func (c *Config) AnalysisParams() analyzer.Params {
	return analyzer.Params{
		PotLimit:   c.Analysis.PotLimit,
		Channel:    c.Analysis.Channel,
		KernelSize: c.Analysis.KernelSize,
		FillSize:   c.Analysis.FillSize,
	}
}

// StationConfig maps the file configuration onto the controller configuration
func (c *Config) StationConfig() station.Config {
	mode, _ := station.ParseButtonMode(c.Buttons.Mode)
	sc := station.DefaultConfig(c.Station.ImageDir, c.Station.PreviewDir)

	sc.Analysis = c.AnalysisParams()
	sc.Measurement = c.Telemetry.Measurement
	sc.GrowthField = c.Telemetry.GrowthField
	sc.PublishWeight = c.Telemetry.PublishWeight
	sc.WeightField = c.Telemetry.WeightField
	sc.ButtonMode = mode
	sc.Debounce = millis(c.Buttons.DebounceMillis)
	sc.Timing = station.Timing{
		Warmup:        seconds(c.Timing.WarmupSeconds),
		Settle:        seconds(c.Timing.SettleSeconds),
		CycleSleep:    seconds(c.Timing.CycleSleepSeconds),
		PreviewWarmup: seconds(c.Timing.PreviewWarmupSeconds),
		MenuDelay:     millis(c.Timing.MenuDelayMillis),
		ExitSettle:    millis(c.Timing.ExitSettleMillis),
		PollInterval:  millis(c.Timing.PollIntervalMillis),
	}
	sc.Retry = station.RetryPolicy{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: millis(c.Retry.InitialBackoffMillis),
	}
	return sc
}

// Redacted returns a copy of the config with sensitive fields redacted for logging
func (c *Config) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"station": map[string]interface{}{
			"imageDir":   c.Station.ImageDir,
			"previewDir": c.Station.PreviewDir,
		},
		"pins":      c.Pins,
		"buttons":   c.Buttons,
		"camera":    c.Camera,
		"display":   c.Display,
		"analysis":  c.Analysis,
		"telemetry": c.Telemetry,
		"timing":    c.Timing,
		"retry":     c.Retry,
		"influxdb": map[string]interface{}{
			"enabled":  c.InfluxDB.Enabled(),
			"url":      redactURL(c.InfluxDB.URL),
			"org":      c.InfluxDB.Org,
			"bucket":   c.InfluxDB.Bucket,
			"tokenSet": c.InfluxDB.Token != "",
		},
		"remoteWrite": map[string]interface{}{
			"enabled":     c.RemoteWrite.Enabled,
			"url":         redactURL(c.RemoteWrite.URL),
			"username":    c.RemoteWrite.Username,
			"password":    "***",
			"labels":      c.RemoteWrite.Labels,
			"timeoutSecs": c.RemoteWrite.TimeoutSeconds,
		},
		"mqtt": map[string]interface{}{
			"enabled":     c.MQTT.Enabled,
			"broker":      redactURL(c.MQTT.Broker),
			"clientId":    c.MQTT.ClientID,
			"username":    c.MQTT.Username,
			"password":    "***",
			"topicPrefix": c.MQTT.TopicPrefix,
			"qos":         c.MQTT.QoS,
		},
		"health":  c.Health,
		"journal": c.Journal,
		"storage": c.Storage,
		"logging": map[string]interface{}{
			"logFormat": c.Logging.Format,
			"logLevel":  c.Logging.Level,
		},
		"opentelemetry": map[string]interface{}{
			"enabled":        c.OpenTelemetry.Enabled,
			"serviceName":    c.OpenTelemetry.ServiceName,
			"serviceVersion": c.OpenTelemetry.ServiceVersion,
			"environment":    c.OpenTelemetry.Environment,
			"traces": map[string]interface{}{
				"enabled":       c.OpenTelemetry.Traces.Enabled,
				"endpointSet":   c.OpenTelemetry.TracesEndpoint() != "",
				"samplingRatio": c.OpenTelemetry.Traces.SamplingRatio,
			},
			"metrics": map[string]interface{}{
				"enabled":        c.OpenTelemetry.Metrics.Enabled,
				"endpointSet":    c.OpenTelemetry.MetricsEndpoint() != "",
				"intervalMillis": c.OpenTelemetry.Metrics.IntervalMillis,
				"runtimeMetrics": c.OpenTelemetry.Metrics.RuntimeMetrics,
			},
		},
		"profiling": map[string]interface{}{
			"enabled":         c.Profiling.Enabled,
			"applicationName": c.Profiling.ApplicationName,
			"serverAddress":   c.Profiling.ServerAddress,
		},
	}
}

// NewLogger creates a zap logger based on the configuration
func (c *Config) NewLogger() (*zap.Logger, error) {
	return pkgconfig.NewLogger(&c.Logging)
}

// PrintConfig prints the configuration (masking sensitive fields)
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.String("image_dir", c.Station.ImageDir),
		zap.String("preview_dir", c.Station.PreviewDir),
		zap.String("gpio_chip", c.Pins.GPIOChip),
		zap.Int("pin_led", c.Pins.LED),
		zap.Int("pin_button_left", c.Pins.ButtonLeft),
		zap.Int("pin_button_right", c.Pins.ButtonRight),
		zap.Int("pin_hx711_data", c.Pins.HX711Data),
		zap.Int("pin_hx711_clock", c.Pins.HX711Clock),
		zap.String("button_mode", c.Buttons.Mode),
		zap.String("camera_command", c.Camera.Command),
		zap.String("display_device", c.Display.Device),
		zap.String("analysis_command", c.Analysis.Command),
		zap.Strings("analysis_args", c.Analysis.Args),
		zap.String("measurement", c.Telemetry.Measurement),
		zap.String("growth_field", c.Telemetry.GrowthField),
		zap.Bool("publish_weight", c.Telemetry.PublishWeight),
		zap.Int("cycle_sleep_seconds", c.Timing.CycleSleepSeconds),
		zap.Int("retry_max_attempts", c.Retry.MaxAttempts),
		zap.Bool("influxdb_enabled", c.InfluxDB.Enabled()),
		zap.String("influxdb_url", redactURL(c.InfluxDB.URL)),
		zap.Bool("influxdb_token_set", c.InfluxDB.Token != ""),
		zap.Bool("remote_write_enabled", c.RemoteWrite.Enabled),
		zap.String("remote_write_url", redactURL(c.RemoteWrite.URL)),
		zap.Bool("mqtt_enabled", c.MQTT.Enabled),
		zap.String("mqtt_broker", redactURL(c.MQTT.Broker)),
		zap.Int("health_port", c.Health.Port),
		zap.String("journal_path", c.Journal.Path),
		zap.String("storage_schedule", c.Storage.Schedule),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
		zap.String("otel_service_name", c.OpenTelemetry.ServiceName),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
	)
}

// redactURL removes credentials from URLs for logging
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
