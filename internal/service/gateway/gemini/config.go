package gemini

import (
	"net/http"
	"time"
)

// Defaults for the Gemini REST API.
const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTextModel   = "gemini-2.0-flash"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
)

// Config holds client configuration.
type Config struct {
	// Connection
	BaseURL string
	APIKey  string

	// Models
	TextModel   string // structured generation
	SpeechModel string // audio generation

	Timeout time.Duration

	// Circuit breaker: open after this many consecutive provider failures,
	// try again after BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         DefaultBaseURL,
		TextModel:       DefaultTextModel,
		SpeechModel:     DefaultSpeechModel,
		Timeout:         60 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// Apply applies opts to c.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithTextModel sets the model used for structured generation.
func WithTextModel(model string) Option {
	return func(c *Config) { c.TextModel = model }
}

// WithSpeechModel sets the model used for audio generation.
func WithSpeechModel(model string) Option {
	return func(c *Config) { c.SpeechModel = model }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithBreaker sets the circuit breaker thresholds.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(c *Config) {
		c.BreakerFailures = failures
		c.BreakerCooldown = cooldown
	}
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}
