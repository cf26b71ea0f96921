// Package gemini implements the model gateway on top of the Gemini
// generateContent REST API, guarded by a circuit breaker.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sudarshan922/insta-first-aid/internal/observability/logging"
	"github.com/sudarshan922/insta-first-aid/internal/observability/metrics"
	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
)

const providerGemini = "gemini"

// Operation names used in metrics.
const (
	opStructured = "structured"
	opAudio      = "audio"
)

// Client implements gateway.Gateway for Gemini.
type Client struct {
	config  *Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// New creates a Gemini gateway client.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, gateway.WrapError(providerGemini, gateway.ErrNoAPIKey)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		config: cfg,
		http:   hc,
		logger: logging.WithProvider("gateway", providerGemini),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.BreakerFailures > 0 && counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.DefaultMetrics.RecordBreakerState(name, int(to))
		},
	})

	return c, nil
}

// countsAsHealthy decides which errors leave the breaker closed: caller
// cancellations, malformed outputs and client-side API errors say nothing
// about provider health.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, schema.ErrMismatch) || errors.Is(err, gateway.ErrNoMedia) {
		return true
	}
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return !apiErr.IsRetryable()
	}
	return false
}

// GenerateStructured implements gateway.Gateway.
func (c *Client) GenerateStructured(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]interface{}{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"responseSchema":   s.OpenAPI(),
		},
	}

	var out map[string]any
	err := c.call(ctx, opStructured, c.config.TextModel, payload, func(resp *generateResponse) error {
		text := resp.text()
		if text == "" {
			return gateway.WrapError(providerGemini, gateway.ErrNoContent)
		}
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			return gateway.WrapError(providerGemini, fmt.Errorf("%w: %s: %v", schema.ErrMismatch, s.Name, err))
		}
		if err := s.Validate(out); err != nil {
			return gateway.WrapError(providerGemini, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateAudio implements gateway.Gateway.
func (c *Client) GenerateAudio(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": []map[string]interface{}{{"text": prompt}}},
		},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"AUDIO"},
			"speechConfig": map[string]interface{}{
				"voiceConfig": map[string]interface{}{
					"prebuiltVoiceConfig": map[string]interface{}{"voiceName": voice},
				},
			},
		},
	}

	var media *gateway.Media
	err := c.call(ctx, opAudio, c.config.SpeechModel, payload, func(resp *generateResponse) error {
		inline := resp.media()
		if inline == nil || inline.Data == "" {
			return gateway.WrapError(providerGemini, gateway.ErrNoMedia)
		}
		media = &gateway.Media{
			ContentType: inline.MimeType,
			URL:         "data:" + inline.MimeType + ";base64," + inline.Data,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return media, nil
}

// call posts payload to model:generateContent through the breaker and hands
// the decoded response to handle.
func (c *Client) call(ctx context.Context, op, model string, payload map[string]interface{}, handle func(*generateResponse) error) error {
	start := time.Now()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.post(ctx, model, payload)
		if err != nil {
			return nil, err
		}
		return nil, handle(resp)
	})

	status := "ok"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "rejected"
		err = gateway.WrapError(providerGemini, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err))
	case err != nil:
		status = "error"
	}
	metrics.DefaultMetrics.RecordGatewayRequest(providerGemini, op, status, time.Since(start).Seconds())

	if err != nil {
		c.logger.Debug().
			Err(err).
			Str("operation", op).
			Str("model", model).
			Msg("Gateway call failed")
	}
	return err
}

func (c *Client) post(ctx context.Context, model string, payload map[string]interface{}) (*generateResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, gateway.WrapError(providerGemini, fmt.Errorf("marshal payload: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.config.BaseURL, "/"), model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, gateway.WrapError(providerGemini, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, gateway.WrapError(providerGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, gateway.WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
	}
	if result.Error.Message != "" {
		return nil, &gateway.APIError{
			StatusCode: resp.StatusCode,
			Message:    result.Error.Message,
			Provider:   providerGemini,
		}
	}
	return &result, nil
}

// parseError reads and parses an error response.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &gateway.APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerGemini,
	}
}

// generateResponse is the generateContent response format.
type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string      `json:"text,omitempty"`
				InlineData *inlineData `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// text concatenates the text parts of the first candidate.
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

// media returns the first inline media part of the first candidate.
func (r *generateResponse) media() *inlineData {
	if len(r.Candidates) == 0 {
		return nil
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.InlineData != nil {
			return p.InlineData
		}
	}
	return nil
}

// Verify Client implements gateway.Gateway at compile time.
var _ gateway.Gateway = (*Client)(nil)
