package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

var allVars = []string{
	"SERVICE_NAME", "SERVICE_PRINCIPAL", "GRPC_PORT", "HTTP_PORT", "METRICS_ADDR",
	"GATEWAY_PROVIDER", "GEMINI_API_KEY", "GEMINI_BASE_URL", "GEMINI_TEXT_MODEL",
	"GEMINI_SPEECH_MODEL", "GEMINI_VOICE", "GEMINI_TIMEOUT", "GEMINI_BREAKER_FAILURES",
	"GEMINI_BREAKER_COOLDOWN",
	"PIPELINE_AUDIO_SOURCE", "PIPELINE_AUDIO_ENABLED", "PIPELINE_REQUIRE_AUDIO",
	"PIPELINE_STAGE_TIMEOUT", "PIPELINE_PUBLISH_TIMEOUT", "PIPELINE_MIN_QUERY_LENGTH", "PIPELINE_EXTRA_LANGUAGES",
	"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ", "STT_AUDIO_ENCODING", "STT_MODEL",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_OUTCOME", "KAFKA_TOPIC_FAILURE", "KAFKA_PRINCIPAL",
	"LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv() {
	for _, v := range allVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	// Service defaults
	if cfg.Service.Principal != "svc-insta-first-aid" {
		t.Errorf("expected default principal 'svc-insta-first-aid', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default gRPC port '50051', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default HTTP port '8080', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Service.MetricsAddr != ":9090" {
		t.Errorf("expected default metrics addr ':9090', got %s", cfg.Service.MetricsAddr)
	}

	// Gateway defaults
	if cfg.Gateway.Provider != "gemini" {
		t.Errorf("expected default gateway provider 'gemini', got %s", cfg.Gateway.Provider)
	}
	if cfg.Gateway.Voice != "Algenib" {
		t.Errorf("expected default voice 'Algenib', got %s", cfg.Gateway.Voice)
	}
	if cfg.Gateway.Timeout != 60*time.Second {
		t.Errorf("expected default gateway timeout 60s, got %v", cfg.Gateway.Timeout)
	}
	if cfg.Gateway.BreakerFailures != 5 {
		t.Errorf("expected default breaker failures 5, got %d", cfg.Gateway.BreakerFailures)
	}

	// Pipeline defaults
	if cfg.Pipeline.AudioSource != "instructions" {
		t.Errorf("expected default audio source 'instructions', got %s", cfg.Pipeline.AudioSource)
	}
	if !cfg.Pipeline.AudioEnabled || cfg.Pipeline.RequireAudio {
		t.Errorf("expected audio enabled and not required, got %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.StageTimeout != 30*time.Second {
		t.Errorf("expected default stage timeout 30s, got %v", cfg.Pipeline.StageTimeout)
	}
	if cfg.Pipeline.PublishTimeout != time.Second {
		t.Errorf("expected default publish timeout 1s, got %v", cfg.Pipeline.PublishTimeout)
	}
	if cfg.Pipeline.MinQueryLength != 10 {
		t.Errorf("expected default min query length 10, got %d", cfg.Pipeline.MinQueryLength)
	}

	// STT defaults
	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if cfg.STT.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.STT.AudioEncoding)
	}

	// Kafka defaults
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"localhost:9092"}) {
		t.Errorf("unexpected default brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.TopicOutcome != "firstaid.guidance.outcome" || cfg.Kafka.TopicFailure != "firstaid.guidance.failure" {
		t.Errorf("unexpected default topics: %s, %s", cfg.Kafka.TopicOutcome, cfg.Kafka.TopicFailure)
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("expected default log format 'json', got %s", cfg.Observability.LogFormat)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("GATEWAY_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("GEMINI_TIMEOUT", "15s")
	t.Setenv("PIPELINE_AUDIO_SOURCE", "KEYWORDS")
	t.Setenv("PIPELINE_AUDIO_ENABLED", "false")
	t.Setenv("PIPELINE_REQUIRE_AUDIO", "1")
	t.Setenv("PIPELINE_STAGE_TIMEOUT", "5s")
	t.Setenv("PIPELINE_PUBLISH_TIMEOUT", "250ms")
	t.Setenv("PIPELINE_MIN_QUERY_LENGTH", "3")
	t.Setenv("PIPELINE_EXTRA_LANGUAGES", "es-ES:Spanish")
	t.Setenv("STT_PROVIDER", "google")
	t.Setenv("STT_SAMPLE_RATE_HZ", "8000")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Gateway.Provider != "gemini" || cfg.Gateway.APIKey != "secret" {
		t.Errorf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.Gateway.Timeout != 15*time.Second {
		t.Errorf("expected gateway timeout 15s, got %v", cfg.Gateway.Timeout)
	}
	if cfg.Pipeline.AudioSource != "keywords" {
		t.Errorf("expected audio source 'keywords', got %s", cfg.Pipeline.AudioSource)
	}
	if cfg.Pipeline.AudioEnabled || !cfg.Pipeline.RequireAudio {
		t.Errorf("unexpected audio flags: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.StageTimeout != 5*time.Second {
		t.Errorf("expected stage timeout 5s, got %v", cfg.Pipeline.StageTimeout)
	}
	if cfg.Pipeline.PublishTimeout != 250*time.Millisecond {
		t.Errorf("expected publish timeout 250ms, got %v", cfg.Pipeline.PublishTimeout)
	}
	if cfg.Pipeline.MinQueryLength != 3 {
		t.Errorf("expected min query length 3, got %d", cfg.Pipeline.MinQueryLength)
	}
	if cfg.Pipeline.ExtraLanguages != "es-ES:Spanish" {
		t.Errorf("unexpected extra languages: %q", cfg.Pipeline.ExtraLanguages)
	}
	if cfg.STT.Provider != "google" || cfg.STT.SampleRateHz != 8000 {
		t.Errorf("unexpected STT config: %+v", cfg.STT)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	t.Setenv("GEMINI_TIMEOUT", "soon")
	t.Setenv("GEMINI_BREAKER_FAILURES", "-2")
	t.Setenv("PIPELINE_AUDIO_ENABLED", "maybe")
	t.Setenv("PIPELINE_STAGE_TIMEOUT", "-5s")
	t.Setenv("PIPELINE_MIN_QUERY_LENGTH", "ten")
	t.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("KAFKA_BROKERS", " , ")

	cfg := Load()

	if cfg.Gateway.Timeout != 60*time.Second {
		t.Errorf("expected default gateway timeout on invalid input, got %v", cfg.Gateway.Timeout)
	}
	if cfg.Gateway.BreakerFailures != 5 {
		t.Errorf("expected default breaker failures on invalid input, got %d", cfg.Gateway.BreakerFailures)
	}
	if !cfg.Pipeline.AudioEnabled {
		t.Error("expected default audio enabled on invalid input")
	}
	if cfg.Pipeline.StageTimeout != 30*time.Second {
		t.Errorf("expected default stage timeout on invalid input, got %v", cfg.Pipeline.StageTimeout)
	}
	if cfg.Pipeline.MinQueryLength != 10 {
		t.Errorf("expected default min query length on invalid input, got %d", cfg.Pipeline.MinQueryLength)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"localhost:9092"}) {
		t.Errorf("expected default brokers on invalid input, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	t.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
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
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
