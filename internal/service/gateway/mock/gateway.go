// Package mock provides a scripted model gateway for tests and for running
// the service without cloud credentials. The default behavior simulates the
// model: emergency detection by keyword lexicon, canned first-aid
// instructions in the constrained Markdown dialect, and silent PCM audio
// whose length follows the spoken text.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/audio"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
)

const provider = "mock"

// Schema names the default simulation knows how to answer.
const (
	SchemaDetection = "DetectionResult"
	SchemaGuidance  = "GuidanceResult"
	SchemaChat      = "ChatResponse"
)

// BytesPerChar is the amount of silent PCM produced per character of text
// (about 20ms at 24kHz, 16-bit mono).
const BytesPerChar = 960

// PCMMediaType is the media type of audio returned by GenerateAudio.
const PCMMediaType = "audio/L16;codec=pcm;rate=24000"

// EmergencyLexicon lists phrases the simulation treats as emergency keywords.
var EmergencyLexicon = []string{
	"chest pain",
	"difficulty breathing",
	"not breathing",
	"unconscious",
	"severe bleeding",
	"bleeding",
	"choking",
	"seizure",
	"stroke",
	"heart attack",
	"burn",
	"broken bone",
	"fracture",
	"allergic reaction",
	"swelling",
	"poisoning",
	"drowning",
	"snake bite",
	"head injury",
}

// Gateway implements gateway.Gateway with function fields.
type Gateway struct {
	// StructuredFunc answers GenerateStructured. Its output is validated
	// against the schema before being returned. If nil, the default
	// simulation is used.
	StructuredFunc func(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error)

	// AudioFunc answers GenerateAudio. If nil, silent PCM is returned.
	AudioFunc func(ctx context.Context, prompt, voice string) (*gateway.Media, error)

	// Delay is applied before every call, honoring ctx.
	Delay time.Duration

	mu    sync.Mutex
	calls []Call
}

// Call records a method invocation for verification.
type Call struct {
	Method string
	Prompt string
	Arg    string // schema name or voice
	Time   time.Time
}

// New creates a mock gateway with the default simulation.
func New() *Gateway {
	return &Gateway{}
}

// WithError returns a mock whose every call fails with err.
func WithError(err error) *Gateway {
	return &Gateway{
		StructuredFunc: func(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
			return nil, err
		},
		AudioFunc: func(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
			return nil, err
		},
	}
}

// GenerateStructured implements gateway.Gateway.
func (g *Gateway) GenerateStructured(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
	g.record("GenerateStructured", prompt, s.Name)
	if err := g.wait(ctx); err != nil {
		return nil, gateway.WrapError(provider, err)
	}

	fn := g.StructuredFunc
	if fn == nil {
		fn = Simulate
	}
	out, err := fn(ctx, prompt, s)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(out); err != nil {
		return nil, gateway.WrapError(provider, err)
	}
	return out, nil
}

// GenerateAudio implements gateway.Gateway.
func (g *Gateway) GenerateAudio(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
	g.record("GenerateAudio", prompt, voice)
	if err := g.wait(ctx); err != nil {
		return nil, gateway.WrapError(provider, err)
	}

	if g.AudioFunc != nil {
		return g.AudioFunc(ctx, prompt, voice)
	}
	return SilentAudio(prompt)
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) record(method, prompt, arg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{
		Method: method,
		Prompt: prompt,
		Arg:    arg,
		Time:   time.Now(),
	})
}

// Calls returns all recorded calls.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make([]Call, len(g.calls))
	copy(result, g.calls)
	return result
}

// CallCount returns the number of times method was called.
func (g *Gateway) CallCount(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, c := range g.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears recorded calls.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

// SilentAudio returns BytesPerChar bytes of silent PCM per character of text.
func SilentAudio(text string) (*gateway.Media, error) {
	n := len([]rune(strings.TrimSpace(text)))
	if n == 0 {
		return nil, gateway.WrapError(provider, gateway.ErrNoMedia)
	}
	return &gateway.Media{
		ContentType: PCMMediaType,
		URL:         audio.DataURI(PCMMediaType, make([]byte, n*BytesPerChar)),
	}, nil
}

// Simulate is the default structured answer, keyed on the schema name.
func Simulate(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
	switch s.Name {
	case SchemaDetection:
		return detect(lastInput(prompt)), nil
	case SchemaGuidance:
		return map[string]any{
			"instructions": Instructions(lastField(prompt, "Keywords:"), lastField(prompt, "Language:")),
		}, nil
	case SchemaChat:
		return map[string]any{
			"response": "Stay calm and make sure the area is safe. If anyone is seriously hurt, call your local emergency number right away.",
		}, nil
	default:
		return nil, gateway.WrapError(provider, fmt.Errorf("%w: no simulation for schema %q", gateway.ErrNoContent, s.Name))
	}
}

// Instructions renders canned guidance for keywords in the constrained
// Markdown dialect. The language label is echoed so callers can tell
// responses apart.
func Instructions(keywords, language string) string {
	if keywords == "" {
		keywords = "the emergency"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## First Aid for %s\n\n", keywords)
	if language != "" {
		fmt.Fprintf(&b, "Language: %s\n\n", language)
	}
	b.WriteString("### Immediate Steps\n")
	b.WriteString("**Call emergency services** if the person is in danger.\n")
	b.WriteString("1. Make sure the scene is safe before you approach.\n")
	b.WriteString("2. Keep the person still and reassure them.\n\n")
	b.WriteString("### While You Wait\n")
	b.WriteString("* **Monitor breathing** and be ready to start CPR.\n\n")
	b.WriteString("## Disclaimer\n")
	b.WriteString("This guidance does not replace professional medical care. Contact your local emergency services immediately.\n")
	return b.String()
}

func detect(text string) map[string]any {
	lower := strings.ToLower(text)
	keywords := []any{}
	for _, phrase := range EmergencyLexicon {
		if !strings.Contains(lower, phrase) {
			continue
		}
		// "severe bleeding" already covers "bleeding"
		covered := false
		for _, k := range keywords {
			if strings.Contains(k.(string), phrase) {
				covered = true
				break
			}
		}
		if !covered {
			keywords = append(keywords, phrase)
		}
	}
	return map[string]any{
		"isEmergency": len(keywords) > 0,
		"keywords":    keywords,
	}
}

// lastInput returns the text between the last "Input:" and the "Output:"
// that follows it.
func lastInput(prompt string) string {
	i := strings.LastIndex(prompt, "Input:")
	if i < 0 {
		return ""
	}
	rest := prompt[i+len("Input:"):]
	if j := strings.LastIndex(rest, "Output:"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// lastField returns the text after the last line starting with label.
func lastField(prompt, label string) string {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if rest, ok := strings.CutPrefix(line, label); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// Verify Gateway implements gateway.Gateway at compile time.
var _ gateway.Gateway = (*Gateway)(nil)
