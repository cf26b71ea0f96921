// Package config loads service configuration from environment variables.
// Unset or unparsable values fall back to their defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	Gateway       GatewayConfig
	Pipeline      PipelineConfig
	STT           STTConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Name        string
	Principal   string
	GRPCPort    string
	HTTPPort    string
	MetricsAddr string
}

// GatewayConfig selects and tunes the model gateway.
type GatewayConfig struct {
	Provider        string // gemini, mock
	APIKey          string
	BaseURL         string
	TextModel       string
	SpeechModel     string
	Voice           string
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// PipelineConfig tunes the guidance pipeline.
type PipelineConfig struct {
	AudioSource    string // instructions, keywords
	AudioEnabled   bool
	RequireAudio   bool
	StageTimeout   time.Duration
	PublishTimeout time.Duration
	MinQueryLength int
	// ExtraLanguages registers more output languages: "es-ES:Spanish,fr-FR:French".
	ExtraLanguages string
}

// STTConfig configures voice query transcription.
type STTConfig struct {
	Provider      string // mock, google
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string
	Model         string
}

// KafkaConfig configures outcome event publishing.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicOutcome string
	TopicFailure string
	Principal    string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-insta-first-aid")

	return &Configuration{
		Service: ServiceConfig{
			Name:        envOrDefault("SERVICE_NAME", "insta-first-aid"),
			Principal:   principal,
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		Gateway: GatewayConfig{
			Provider:        strings.ToLower(envOrDefault("GATEWAY_PROVIDER", "gemini")),
			APIKey:          os.Getenv("GEMINI_API_KEY"),
			BaseURL:         envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			TextModel:       envOrDefault("GEMINI_TEXT_MODEL", "gemini-2.0-flash"),
			SpeechModel:     envOrDefault("GEMINI_SPEECH_MODEL", "gemini-2.5-flash-preview-tts"),
			Voice:           envOrDefault("GEMINI_VOICE", "Algenib"),
			Timeout:         envOrDefaultDuration("GEMINI_TIMEOUT", 60*time.Second),
			BreakerFailures: envOrDefaultInt("GEMINI_BREAKER_FAILURES", 5),
			BreakerCooldown: envOrDefaultDuration("GEMINI_BREAKER_COOLDOWN", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			AudioSource:    strings.ToLower(envOrDefault("PIPELINE_AUDIO_SOURCE", "instructions")),
			AudioEnabled:   envOrDefaultBool("PIPELINE_AUDIO_ENABLED", true),
			RequireAudio:   envOrDefaultBool("PIPELINE_REQUIRE_AUDIO", false),
			StageTimeout:   envOrDefaultDuration("PIPELINE_STAGE_TIMEOUT", 30*time.Second),
			PublishTimeout: envOrDefaultDuration("PIPELINE_PUBLISH_TIMEOUT", time.Second),
			MinQueryLength: envOrDefaultInt("PIPELINE_MIN_QUERY_LENGTH", 10),
			ExtraLanguages: os.Getenv("PIPELINE_EXTRA_LANGUAGES"),
		},
		STT: STTConfig{
			Provider:      strings.ToLower(envOrDefault("STT_PROVIDER", "mock")),
			LanguageCode:  envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:  envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			AudioEncoding: envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:         os.Getenv("STT_MODEL"),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicOutcome: envOrDefault("KAFKA_TOPIC_OUTCOME", "firstaid.guidance.outcome"),
			TopicFailure: envOrDefault("KAFKA_TOPIC_FAILURE", "firstaid.guidance.failure"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
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
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
