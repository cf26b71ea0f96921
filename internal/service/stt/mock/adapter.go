// Package mock provides a mock STT adapter for testing without cloud credentials.
// It returns a scripted transcript for every recording and records calls.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/sudarshan922/insta-first-aid/internal/observability/metrics"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/stt"
)

const provider = "mock"

// DefaultTranscript is what New transcribes every recording to.
const DefaultTranscript = "My father has chest pain and difficulty breathing"

// Call records a Transcribe invocation.
type Call struct {
	AudioBytes   int
	SampleRateHz int
	Language     language.Code
}

// Adapter implements stt.Transcriber with a scripted transcript.
type Adapter struct {
	// Transcript is returned for every non-empty recording.
	Transcript string
	// Err, when set, is returned instead of a transcript.
	Err error
	// Delay is applied before answering, honoring ctx.
	Delay time.Duration

	mu     sync.Mutex
	calls  []Call
	closed bool
}

// New creates a mock STT adapter that always hears DefaultTranscript.
func New() *Adapter {
	return &Adapter{Transcript: DefaultTranscript}
}

// WithTranscript creates a mock that hears text.
func WithTranscript(text string) *Adapter {
	return &Adapter{Transcript: text}
}

// Transcribe implements stt.Transcriber.
func (a *Adapter) Transcribe(ctx context.Context, pcm []byte, sampleRateHz int, lang language.Code) (string, error) {
	start := time.Now()

	a.mu.Lock()
	a.calls = append(a.calls, Call{AudioBytes: len(pcm), SampleRateHz: sampleRateHz, Language: lang})
	a.mu.Unlock()

	if a.Delay > 0 {
		t := time.NewTimer(a.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			metrics.DefaultMetrics.RecordSTTError(provider, "canceled")
			return "", ctx.Err()
		}
	}

	if a.Err != nil {
		metrics.DefaultMetrics.RecordSTTError(provider, "scripted")
		return "", a.Err
	}
	if len(pcm) == 0 || a.Transcript == "" {
		metrics.DefaultMetrics.RecordSTTError(provider, "no_speech")
		return "", stt.ErrNoSpeech
	}

	metrics.DefaultMetrics.RecordSTT(provider, time.Since(start).Seconds())
	return a.Transcript, nil
}

// Calls returns all recorded calls.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close marks the adapter closed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

var _ stt.Transcriber = (*Adapter)(nil)
