// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables always win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Stream        StreamConfig        `yaml:"stream"`
	Engines       EnginesConfig       `yaml:"engines"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds identity and listener settings.
type ServiceConfig struct {
	Principal string `yaml:"principal" validate:"required"`
	HTTPPort  string `yaml:"httpPort" validate:"required,numeric"`
	GRPCPort  string `yaml:"grpcPort" validate:"required,numeric"`
}

// StreamConfig holds per-session streaming settings.
type StreamConfig struct {
	SampleRateHz  int           `yaml:"sampleRateHz" validate:"min=8000,max=48000"`
	ChunkSamples  int           `yaml:"chunkSamples" validate:"min=1"`
	QueueCapacity int           `yaml:"queueCapacity" validate:"min=1"`
	UpdateBuffer  int           `yaml:"updateBuffer" validate:"min=1"`
	MaxSessions   int           `yaml:"maxSessions" validate:"gte=0"`
	IdleTimeout   time.Duration `yaml:"idleTimeout" validate:"gt=0"`
	TickInterval  time.Duration `yaml:"tickInterval" validate:"gt=0"`
	StatusSlice   time.Duration `yaml:"statusSlice" validate:"gt=0"`
	FlushTimeout  time.Duration `yaml:"flushTimeout" validate:"gt=0"`
}

// EnginesConfig selects and tunes the recognition backends.
type EnginesConfig struct {
	// Backend is "mock" for scripted in-process backends or "live" for the
	// vosk, whisper and Google services below.
	Backend string `yaml:"backend" validate:"oneof=mock live"`

	WordConfidenceThreshold float64 `yaml:"wordConfidenceThreshold" validate:"gte=0,lte=1"`
	VoskURL                 string  `yaml:"voskUrl" validate:"omitempty,url"`

	WhisperURL       string        `yaml:"whisperUrl" validate:"omitempty,url"`
	WhisperLanguage  string        `yaml:"whisperLanguage"`
	WindowInterval   time.Duration `yaml:"windowInterval" validate:"gt=0"`
	WindowDuration   time.Duration `yaml:"windowDuration" validate:"gtfield=WindowInterval"`
	MaxSegments      int           `yaml:"maxSegments" validate:"min=1"`
	InferenceWorkers int           `yaml:"inferenceWorkers" validate:"min=1"`

	CloudLanguageCode string `yaml:"cloudLanguageCode"`
	CloudEncoding     string `yaml:"cloudEncoding"`
	CloudInterim      bool   `yaml:"cloudInterim"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers" validate:"required_if=Enabled true"`
	TopicPartial   string   `yaml:"topicPartial"`
	TopicFinal     string   `yaml:"topicFinal"`
	TopicCompleted string   `yaml:"topicCompleted" validate:"required"`
	Principal      string   `yaml:"principal"`
	// MirrorUpdates also publishes every partial and final update.
	MirrorUpdates bool `yaml:"mirrorUpdates"`
}

// MonitorConfig holds resource monitor ceilings.
type MonitorConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Interval          time.Duration `yaml:"interval" validate:"gt=0"`
	GracePeriod       time.Duration `yaml:"gracePeriod" validate:"gte=0"`
	MaxBusyRatio      float64       `yaml:"maxBusyRatio" validate:"gt=0"`
	MaxBufferedBytes  int           `yaml:"maxBufferedBytes" validate:"gt=0"`
	MaxRealtimeFactor float64       `yaml:"maxRealtimeFactor" validate:"gt=0"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel" validate:"oneof=debug info warn error"`
	LogFormat   string `yaml:"logFormat" validate:"oneof=json console"`
	MetricsPort string `yaml:"metricsPort" validate:"required,numeric"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal: "svc-speech-stream",
			HTTPPort:  "8080",
			GRPCPort:  "50051",
		},
		Stream: StreamConfig{
			SampleRateHz:  16000,
			ChunkSamples:  4096,
			QueueCapacity: 64,
			UpdateBuffer:  64,
			MaxSessions:   0,
			IdleTimeout:   60 * time.Second,
			TickInterval:  250 * time.Millisecond,
			StatusSlice:   1500 * time.Millisecond,
			FlushTimeout:  5 * time.Second,
		},
		Engines: EnginesConfig{
			Backend:                 "mock",
			WordConfidenceThreshold: 0.8,
			VoskURL:                 "ws://localhost:2700",
			WhisperURL:              "http://localhost:9000",
			WhisperLanguage:         "en",
			WindowInterval:          1500 * time.Millisecond,
			WindowDuration:          6 * time.Second,
			MaxSegments:             8,
			InferenceWorkers:        2,
			CloudLanguageCode:       "en-US",
			CloudEncoding:           "LINEAR16",
			CloudInterim:            true,
		},
		Kafka: KafkaConfig{
			Enabled:        false,
			TopicPartial:   "interaction.transcript.partial",
			TopicFinal:     "interaction.transcript.final",
			TopicCompleted: "interaction.transcript.completed",
		},
		Monitor: MonitorConfig{
			Enabled:           true,
			Interval:          2 * time.Second,
			GracePeriod:       10 * time.Second,
			MaxBusyRatio:      0.9,
			MaxBufferedBytes:  16 * 1024 * 1024,
			MaxRealtimeFactor: 4.0,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: "9090",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and the environment. A broken file is ignored in
// favour of the defaults; use LoadFile to surface the error.
func Load() *Config {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		}
	}
	cfg.applyEnv()
	return cfg
}

// LoadFile is Load with an explicit YAML file whose errors are returned.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)

	c.Stream.SampleRateHz = envOrDefaultInt("STREAM_SAMPLE_RATE_HZ", c.Stream.SampleRateHz)
	c.Stream.ChunkSamples = envOrDefaultInt("STREAM_CHUNK_SAMPLES", c.Stream.ChunkSamples)
	c.Stream.QueueCapacity = envOrDefaultInt("STREAM_QUEUE_CAPACITY", c.Stream.QueueCapacity)
	c.Stream.UpdateBuffer = envOrDefaultInt("STREAM_UPDATE_BUFFER", c.Stream.UpdateBuffer)
	c.Stream.MaxSessions = envOrDefaultInt("STREAM_MAX_SESSIONS", c.Stream.MaxSessions)
	c.Stream.IdleTimeout = envOrDefaultDuration("STREAM_IDLE_TIMEOUT", c.Stream.IdleTimeout)
	c.Stream.TickInterval = envOrDefaultDuration("STREAM_TICK_INTERVAL", c.Stream.TickInterval)
	c.Stream.StatusSlice = envOrDefaultDuration("STREAM_STATUS_SLICE", c.Stream.StatusSlice)
	c.Stream.FlushTimeout = envOrDefaultDuration("STREAM_FLUSH_TIMEOUT", c.Stream.FlushTimeout)

	c.Engines.Backend = envOrDefault("ENGINE_BACKEND", c.Engines.Backend)
	c.Engines.WordConfidenceThreshold = envOrDefaultFloat("ENGINE_WORD_CONFIDENCE_THRESHOLD", c.Engines.WordConfidenceThreshold)
	c.Engines.VoskURL = envOrDefault("ENGINE_VOSK_URL", c.Engines.VoskURL)
	c.Engines.WhisperURL = envOrDefault("ENGINE_WHISPER_URL", c.Engines.WhisperURL)
	c.Engines.WhisperLanguage = envOrDefault("ENGINE_WHISPER_LANGUAGE", c.Engines.WhisperLanguage)
	c.Engines.WindowInterval = envOrDefaultDuration("ENGINE_WINDOW_INTERVAL", c.Engines.WindowInterval)
	c.Engines.WindowDuration = envOrDefaultDuration("ENGINE_WINDOW_DURATION", c.Engines.WindowDuration)
	c.Engines.MaxSegments = envOrDefaultInt("ENGINE_MAX_SEGMENTS", c.Engines.MaxSegments)
	c.Engines.InferenceWorkers = envOrDefaultInt("ENGINE_INFERENCE_WORKERS", c.Engines.InferenceWorkers)
	c.Engines.CloudLanguageCode = envOrDefault("ENGINE_CLOUD_LANGUAGE_CODE", c.Engines.CloudLanguageCode)
	c.Engines.CloudEncoding = envOrDefault("ENGINE_CLOUD_ENCODING", c.Engines.CloudEncoding)
	c.Engines.CloudInterim = envOrDefaultBool("ENGINE_CLOUD_INTERIM_RESULTS", c.Engines.CloudInterim)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", c.Kafka.TopicPartial)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.TopicCompleted = envOrDefault("KAFKA_TOPIC_COMPLETED", c.Kafka.TopicCompleted)
	c.Kafka.MirrorUpdates = envOrDefaultBool("KAFKA_MIRROR_UPDATES", c.Kafka.MirrorUpdates)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Monitor.Enabled = envOrDefaultBool("MONITOR_ENABLED", c.Monitor.Enabled)
	c.Monitor.Interval = envOrDefaultDuration("MONITOR_INTERVAL", c.Monitor.Interval)
	c.Monitor.GracePeriod = envOrDefaultDuration("MONITOR_GRACE_PERIOD", c.Monitor.GracePeriod)
	c.Monitor.MaxBusyRatio = envOrDefaultFloat("MONITOR_MAX_BUSY_RATIO", c.Monitor.MaxBusyRatio)
	c.Monitor.MaxBufferedBytes = envOrDefaultInt("MONITOR_MAX_BUFFERED_BYTES", c.Monitor.MaxBufferedBytes)
	c.Monitor.MaxRealtimeFactor = envOrDefaultFloat("MONITOR_MAX_REALTIME_FACTOR", c.Monitor.MaxRealtimeFactor)

	c.Observability.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", c.Observability.LogLevel))
	c.Observability.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", c.Observability.LogFormat))
	c.Observability.MetricsPort = envOrDefault("METRICS_PORT", c.Observability.MetricsPort)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
