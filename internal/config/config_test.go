package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnv = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "LOG_LEVEL", "LOG_FORMAT",
	"STREAM_SAMPLE_RATE_HZ", "STREAM_QUEUE_CAPACITY", "STREAM_IDLE_TIMEOUT",
	"ENGINE_BACKEND", "ENGINE_WORD_CONFIDENCE_THRESHOLD", "ENGINE_WINDOW_INTERVAL",
	"ENGINE_CLOUD_INTERIM_RESULTS", "KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range configEnv {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Service.Principal != "svc-speech-stream" {
		t.Errorf("expected default principal 'svc-speech-stream', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default port '50051', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Stream.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Stream.SampleRateHz)
	}
	if cfg.Stream.IdleTimeout != 60*time.Second {
		t.Errorf("expected default idle timeout 60s, got %v", cfg.Stream.IdleTimeout)
	}
	if cfg.Engines.Backend != "mock" {
		t.Errorf("expected default backend 'mock', got %s", cfg.Engines.Backend)
	}
	if cfg.Engines.WordConfidenceThreshold != 0.8 {
		t.Errorf("expected default threshold 0.8, got %v", cfg.Engines.WordConfidenceThreshold)
	}
	if cfg.Engines.WindowInterval != 1500*time.Millisecond || cfg.Engines.WindowDuration != 6*time.Second {
		t.Errorf("unexpected window defaults: %v / %v", cfg.Engines.WindowInterval, cfg.Engines.WindowDuration)
	}
	if !cfg.Engines.CloudInterim {
		t.Error("expected interim results on by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STREAM_SAMPLE_RATE_HZ", "8000")
	t.Setenv("STREAM_IDLE_TIMEOUT", "30s")
	t.Setenv("ENGINE_BACKEND", "live")
	t.Setenv("ENGINE_WORD_CONFIDENCE_THRESHOLD", "0.65")
	t.Setenv("ENGINE_CLOUD_INTERIM_RESULTS", "false")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
	if cfg.Stream.SampleRateHz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", cfg.Stream.SampleRateHz)
	}
	if cfg.Stream.IdleTimeout != 30*time.Second {
		t.Errorf("expected idle timeout 30s, got %v", cfg.Stream.IdleTimeout)
	}
	if cfg.Engines.Backend != "live" {
		t.Errorf("expected backend 'live', got %s", cfg.Engines.Backend)
	}
	if cfg.Engines.WordConfidenceThreshold != 0.65 {
		t.Errorf("expected threshold 0.65, got %v", cfg.Engines.WordConfidenceThreshold)
	}
	if cfg.Engines.CloudInterim {
		t.Error("expected interim results off")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("custom values should validate: %v", err)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAM_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("STREAM_IDLE_TIMEOUT", "invalid")
	t.Setenv("ENGINE_WORD_CONFIDENCE_THRESHOLD", "high")
	t.Setenv("ENGINE_CLOUD_INTERIM_RESULTS", "invalid")

	cfg := Load()

	if cfg.Stream.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.Stream.SampleRateHz)
	}
	if cfg.Stream.IdleTimeout != 60*time.Second {
		t.Errorf("expected default idle timeout on invalid input, got %v", cfg.Stream.IdleTimeout)
	}
	if cfg.Engines.WordConfidenceThreshold != 0.8 {
		t.Errorf("expected default threshold on invalid input, got %v", cfg.Engines.WordConfidenceThreshold)
	}
	if !cfg.Engines.CloudInterim {
		t.Error("expected default interim results on invalid input")
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoadFile_EnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
service:
  principal: from-file
  httpPort: "8181"
engines:
  backend: live
  windowInterval: 2s
  windowDuration: 8s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTP_PORT", "8282")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Service.Principal != "from-file" {
		t.Errorf("expected principal from file, got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8282" {
		t.Errorf("expected env to win for HTTP port, got %s", cfg.Service.HTTPPort)
	}
	if cfg.Engines.WindowInterval != 2*time.Second || cfg.Engines.WindowDuration != 8*time.Second {
		t.Errorf("unexpected window from file: %v / %v", cfg.Engines.WindowInterval, cfg.Engines.WindowDuration)
	}
	if cfg.Stream.QueueCapacity != 64 {
		t.Errorf("expected untouched default queue capacity, got %d", cfg.Stream.QueueCapacity)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Engines.Backend = "local" }, true},
		{"threshold above one", func(c *Config) { c.Engines.WordConfidenceThreshold = 1.5 }, true},
		{"window shorter than interval", func(c *Config) { c.Engines.WindowDuration = time.Second }, true},
		{"zero queue", func(c *Config) { c.Stream.QueueCapacity = 0 }, true},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, true},
		{"kafka with brokers", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = []string{"localhost:9092"}
		}, false},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			t.Setenv(key, tt.envValue)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestEnvOrDefaultFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT_VAR", "0.25")
	if got := envOrDefaultFloat("TEST_FLOAT_VAR", 1); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	t.Setenv("TEST_FLOAT_VAR", "x")
	if got := envOrDefaultFloat("TEST_FLOAT_VAR", 1); got != 1 {
		t.Errorf("expected fallback 1, got %v", got)
	}
}
