package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/audio"
	"github.com/sudarshan922/insta-first-aid/internal/service/detect"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway/mock"
	"github.com/sudarshan922/insta-first-aid/internal/service/instruct"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/markdown"
	"github.com/sudarshan922/insta-first-aid/internal/service/speech"
)

const chestPain = "My father has chest pain and difficulty breathing"

type recorded struct {
	key       string
	eventType string
	event     any
}

type recordingSink struct {
	mu       sync.Mutex
	outcomes []recorded
	failures []recorded
}

func (s *recordingSink) PublishOutcome(ctx context.Context, key, eventType string, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, recorded{key, eventType, event})
	return nil
}

func (s *recordingSink) PublishFailure(ctx context.Context, key, eventType string, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, recorded{key, eventType, event})
	return nil
}

func newPipeline(gw gateway.Gateway, opts ...Option) *Pipeline {
	langs := language.Default()
	return New(
		detect.New(gw),
		instruct.New(gw, langs),
		speech.New(gw, langs),
		langs,
		opts...,
	)
}

// failGuidance makes the gateway fail instruction generation only.
func failGuidance(gw *mock.Gateway, err error) {
	gw.StructuredFunc = func(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
		if s.Name == instruct.Schema.Name {
			return nil, err
		}
		return mock.Simulate(ctx, prompt, s)
	}
}

func TestRun_NotEmergency(t *testing.T) {
	gw := mock.New()
	sink := &recordingSink{}
	p := newPipeline(gw, WithEvents(sink))

	out, err := p.Run(context.Background(), "I have a headache and a slight fever.", language.English)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	ne, ok := out.(NotEmergency)
	if !ok {
		t.Fatalf("expected NotEmergency, got %T", out)
	}
	if ne.InvocationID == "" {
		t.Error("expected an invocation ID")
	}
	if gw.CallCount("GenerateStructured") != 1 || gw.CallCount("GenerateAudio") != 0 {
		t.Errorf("expected detection only, got %+v", gw.Calls())
	}
	if len(sink.outcomes) != 1 || sink.outcomes[0].eventType != models.EventGuidanceNotEmergency {
		t.Errorf("expected one not-emergency event, got %+v", sink.outcomes)
	}
}

func TestRun_EmergencyWithoutKeywordsIsNotEmergency(t *testing.T) {
	gw := mock.New()
	gw.StructuredFunc = func(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
		return map[string]any{"isEmergency": true, "keywords": []any{}}, nil
	}

	out, err := newPipeline(gw).Run(context.Background(), "something is wrong", language.English)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := out.(NotEmergency); !ok {
		t.Errorf("expected NotEmergency, got %T", out)
	}
	if gw.CallCount("GenerateStructured") != 1 {
		t.Error("generation must not run without keywords")
	}
}

func TestRun_Guidance(t *testing.T) {
	gw := mock.New()
	sink := &recordingSink{}
	p := newPipeline(gw, WithEvents(sink))

	out, err := p.Run(context.Background(), chestPain, language.English)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	g, ok := out.(*Guidance)
	if !ok {
		t.Fatalf("expected *Guidance, got %T", out)
	}
	if g.Degraded() {
		t.Errorf("unexpected degraded guidance: %v", g.AudioErr)
	}

	lines := markdown.Parse(g.Instructions)
	if markdown.DisclaimerCount(lines) != 1 {
		t.Errorf("expected one Disclaimer section:\n%s", g.Instructions)
	}
	if markdown.MaxHeadingLevel(lines) > 3 {
		t.Errorf("expected no heading deeper than ###:\n%s", g.Instructions)
	}

	if !strings.HasPrefix(g.AudioDataURI, models.AudioDataURIPrefix) {
		t.Fatalf("unexpected audio data URI: %.40s", g.AudioDataURI)
	}
	m, err := audio.ParseDataURI(g.AudioDataURI)
	if err != nil {
		t.Fatalf("ParseDataURI failed: %v", err)
	}
	if _, _, err := audio.DecodeWAV(m.Data); err != nil {
		t.Errorf("audio is not a WAV container: %v", err)
	}

	// Audio is spoken from the instructions with Markdown stripped.
	for _, c := range gw.Calls() {
		if c.Method == "GenerateAudio" && strings.ContainsAny(c.Prompt, "#*") {
			t.Errorf("speech text still contains Markdown: %q", c.Prompt)
		}
	}

	if len(sink.outcomes) != 1 {
		t.Fatalf("expected one outcome event, got %d", len(sink.outcomes))
	}
	ev := sink.outcomes[0].event.(models.GuidanceCompleted)
	if !ev.AudioAvailable || ev.KeywordCount != 2 || ev.InvocationID != g.InvocationID {
		t.Errorf("unexpected completed event: %+v", ev)
	}
}

func TestRun_DegradesWhenNoAudioGenerated(t *testing.T) {
	gw := mock.New()
	gw.AudioFunc = func(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
		return nil, gateway.WrapError("mock", gateway.ErrNoMedia)
	}
	sink := &recordingSink{}

	out, err := newPipeline(gw, WithEvents(sink)).Run(context.Background(), chestPain, language.English)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	g := out.(*Guidance)
	if g.Instructions == "" {
		t.Error("expected instructions despite synthesis failure")
	}
	if g.AudioDataURI != "" {
		t.Error("expected no audio")
	}
	if !g.Degraded() || !errors.Is(g.AudioErr, models.ErrNoAudioGenerated) {
		t.Errorf("expected degraded guidance with ErrNoAudioGenerated, got %v", g.AudioErr)
	}

	ev := sink.outcomes[0].event.(models.GuidanceCompleted)
	if ev.AudioAvailable || ev.AudioError != "NoAudioGenerated" {
		t.Errorf("unexpected completed event: %+v", ev)
	}
}

func TestRun_RequireAudio(t *testing.T) {
	gw := mock.New()
	gw.AudioFunc = func(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
		return nil, errors.New("tts backend down")
	}
	sink := &recordingSink{}

	out, err := newPipeline(gw, WithRequireAudio(true), WithEvents(sink)).Run(context.Background(), chestPain, language.English)
	if out != nil {
		t.Errorf("expected no outcome, got %T", out)
	}
	if !errors.Is(err, models.ErrSynthesisFailed) {
		t.Errorf("expected ErrSynthesisFailed, got %v", err)
	}
	if len(sink.failures) != 1 {
		t.Fatalf("expected one failure event, got %d", len(sink.failures))
	}
	if ev := sink.failures[0].event.(models.GuidanceFailed); ev.Stage != models.StageSynthesize || ev.Kind != "SynthesisFailed" {
		t.Errorf("unexpected failure event: %+v", ev)
	}
}

func TestRun_GenerationFailure(t *testing.T) {
	gw := mock.New()
	failGuidance(gw, errors.New("model overloaded"))
	sink := &recordingSink{}

	out, err := newPipeline(gw, WithEvents(sink)).Run(context.Background(), chestPain, language.English)
	if out != nil {
		t.Errorf("expected no outcome, got %T", out)
	}
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if gw.CallCount("GenerateAudio") != 0 {
		t.Error("synthesis must not run after a generation failure")
	}
	if len(sink.failures) != 1 || sink.failures[0].event.(models.GuidanceFailed).Stage != models.StageGenerate {
		t.Errorf("unexpected failure events: %+v", sink.failures)
	}
}

func TestRun_DetectionFailure(t *testing.T) {
	gw := mock.WithError(errors.New("bad gateway"))

	_, err := newPipeline(gw).Run(context.Background(), chestPain, language.English)
	if !errors.Is(err, models.ErrDetectionFailed) {
		t.Errorf("expected ErrDetectionFailed, got %v", err)
	}
	if models.StageOf(err) != models.StageDetect {
		t.Errorf("expected detect stage, got %q", models.StageOf(err))
	}
}

func TestRun_KeywordAudioSource(t *testing.T) {
	gw := mock.New()

	out, err := newPipeline(gw, WithAudioSource(AudioFromKeywords)).Run(context.Background(), chestPain, language.Hindi)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	g := out.(*Guidance)
	if g.AudioSource != AudioFromKeywords || g.AudioDataURI == "" {
		t.Errorf("expected keyword audio, got source=%s audio=%d chars", g.AudioSource, len(g.AudioDataURI))
	}

	var spoken []string
	for _, c := range gw.Calls() {
		if c.Method == "GenerateAudio" {
			spoken = append(spoken, c.Prompt)
		}
	}
	if len(spoken) != 1 || spoken[0] != "chest pain, difficulty breathing" {
		t.Errorf("expected keywords to be spoken, got %q", spoken)
	}
}

func TestRun_KeywordAudioSource_GenerationFailureCancelsSynthesis(t *testing.T) {
	gw := mock.New()
	started := make(chan struct{})
	var canceled atomic.Bool

	gw.StructuredFunc = func(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
		if s.Name == instruct.Schema.Name {
			<-started
			return nil, errors.New("model overloaded")
		}
		return mock.Simulate(ctx, prompt, s)
	}
	gw.AudioFunc = func(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return nil, ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		_, err := newPipeline(gw, WithAudioSource(AudioFromKeywords)).Run(context.Background(), chestPain, language.English)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, models.ErrGenerationFailed) {
			t.Errorf("expected ErrGenerationFailed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after generation failure")
	}
	if !canceled.Load() {
		t.Error("expected synthesis to observe cancellation")
	}
}

func TestRun_KeywordAudioSource_Degrades(t *testing.T) {
	gw := mock.New()
	gw.AudioFunc = func(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
		return nil, errors.New("tts backend down")
	}

	out, err := newPipeline(gw, WithAudioSource(AudioFromKeywords)).Run(context.Background(), chestPain, language.English)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if g := out.(*Guidance); !g.Degraded() || g.Instructions == "" {
		t.Errorf("expected degraded guidance with instructions, got %+v", g)
	}
}

func TestRun_AudioDisabled(t *testing.T) {
	gw := mock.New()

	out, err := newPipeline(gw, WithAudioEnabled(false)).Run(context.Background(), chestPain, language.English)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	g := out.(*Guidance)
	if g.AudioDataURI != "" || g.Degraded() {
		t.Errorf("expected text-only, non-degraded guidance, got %+v", g)
	}
	if gw.CallCount("GenerateAudio") != 0 {
		t.Error("synthesis must not run when audio is disabled")
	}
}

func TestRun_StageTimeout(t *testing.T) {
	gw := mock.New()
	gw.Delay = time.Second

	start := time.Now()
	_, err := newPipeline(gw, WithStageTimeout(20*time.Millisecond)).Run(context.Background(), chestPain, language.English)

	if !errors.Is(err, models.ErrGatewayTimeout) {
		t.Errorf("expected ErrGatewayTimeout, got %v", err)
	}
	if !errors.Is(err, models.ErrDetectionFailed) {
		t.Errorf("expected ErrDetectionFailed, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("stage timeout not honored, took %v", time.Since(start))
	}
}

func TestRun_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(mock.New()).Run(ctx, chestPain, language.English)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		lang    language.Code
		wantErr error
	}{
		{"empty", "", language.English, models.ErrInvalidQuery},
		{"whitespace", "   \n", language.English, models.ErrInvalidQuery},
		{"too short", "help!", language.English, models.ErrInvalidQuery},
		{"unsupported language", chestPain, "fr-FR", models.ErrUnsupportedLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := mock.New()
			_, err := newPipeline(gw, WithMinQueryLength(10)).Run(context.Background(), tt.text, tt.lang)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if len(gw.Calls()) != 0 {
				t.Error("gateway must not be called for invalid input")
			}
		})
	}
}

func TestRun_UsesInvocationIDFromContext(t *testing.T) {
	ctx := ContextWithInvocationID(context.Background(), "req-42")

	out, err := newPipeline(mock.New()).Run(ctx, chestPain, language.English)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if id := out.(*Guidance).InvocationID; id != "req-42" {
		t.Errorf("expected invocation ID req-42, got %s", id)
	}
}

// markedAudio returns PCM carrying the invocation ID of ctx, padded to a
// whole 16-bit sample.
func markedAudio(ctx context.Context, prompt, voice string) (*gateway.Media, error) {
	pcm := []byte(InvocationIDFrom(ctx))
	if len(pcm)%2 != 0 {
		pcm = append(pcm, ' ')
	}
	return &gateway.Media{
		ContentType: mock.PCMMediaType,
		URL:         audio.DataURI(mock.PCMMediaType, pcm),
	}, nil
}

func audioMarker(dataURI string) (string, error) {
	m, err := audio.ParseDataURI(dataURI)
	if err != nil {
		return "", err
	}
	_, pcm, err := audio.DecodeWAV(m.Data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(pcm)), nil
}

func TestRun_ConcurrentInvocationsKeepTheirOutput(t *testing.T) {
	langs := []struct {
		code language.Code
		name string
	}{
		{language.English, "English (en-US)"},
		{language.Hindi, "Hindi (hi-IN)"},
	}

	for _, src := range []AudioSource{AudioFromInstructions, AudioFromKeywords} {
		t.Run(string(src), func(t *testing.T) {
			gw := mock.New()
			gw.Delay = 5 * time.Millisecond
			gw.AudioFunc = markedAudio
			p := newPipeline(gw, WithAudioSource(src))

			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				l := langs[i%2]
				other := langs[(i+1)%2]
				id := fmt.Sprintf("inv-%02d", i)
				wg.Add(1)
				go func() {
					defer wg.Done()
					out, err := p.Run(ContextWithInvocationID(context.Background(), id), chestPain, l.code)
					if err != nil {
						errs <- err
						return
					}
					g := out.(*Guidance)
					if g.InvocationID != id {
						errs <- fmt.Errorf("%s: got invocation ID %s", id, g.InvocationID)
					}
					if g.Language != l.code {
						errs <- fmt.Errorf("%s: language swapped: asked %s, got %s", id, l.code, g.Language)
					}
					if !strings.Contains(g.Instructions, l.name) || strings.Contains(g.Instructions, other.name) {
						errs <- fmt.Errorf("%s: instructions for %s carry the wrong language", id, l.code)
					}
					if g.AudioDataURI == "" {
						errs <- fmt.Errorf("%s: expected audio", id)
						return
					}
					got, err := audioMarker(g.AudioDataURI)
					if err != nil {
						errs <- fmt.Errorf("%s: %v", id, err)
						return
					}
					if got != id {
						errs <- fmt.Errorf("%s: returned audio belongs to %q", id, got)
					}
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Error(err)
			}
		})
	}
}

func TestParseAudioSource(t *testing.T) {
	tests := []struct {
		in      string
		want    AudioSource
		wantErr bool
	}{
		{"instructions", AudioFromInstructions, false},
		{" Keywords ", AudioFromKeywords, false},
		{"both", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAudioSource(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAudioSource(%q) = %q, %v", tt.in, got, err)
		}
	}
}

// slowSink blocks every publish until release is closed, ignoring ctx.
type slowSink struct {
	release chan struct{}
	calls   atomic.Int32
}

func (s *slowSink) PublishOutcome(ctx context.Context, key, eventType string, event any) error {
	s.calls.Add(1)
	<-s.release
	return nil
}

func (s *slowSink) PublishFailure(ctx context.Context, key, eventType string, event any) error {
	s.calls.Add(1)
	<-s.release
	return nil
}

func TestRun_SlowEventSinkDoesNotHoldGuidance(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	defer close(sink.release)

	p := newPipeline(mock.New(), WithEvents(sink), WithPublishTimeout(50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := p.Run(ctx, chestPain, language.English)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := out.(*Guidance); !ok {
		t.Fatalf("expected *Guidance, got %T", out)
	}
	if elapsed > time.Second {
		t.Errorf("Run waited %v on the event sink", elapsed)
	}
	if sink.calls.Load() != 1 {
		t.Errorf("expected one publish attempt, got %d", sink.calls.Load())
	}
}

func TestRun_SlowEventSinkOnFailure(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	defer close(sink.release)

	p := newPipeline(mock.WithError(errors.New("model down")), WithEvents(sink), WithPublishTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := p.Run(context.Background(), chestPain, language.English)
	if !errors.Is(err, models.ErrDetectionFailed) {
		t.Fatalf("expected ErrDetectionFailed, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Run waited %v on the event sink", elapsed)
	}
}

func TestWithPublishTimeout_IgnoresNonPositive(t *testing.T) {
	p := newPipeline(mock.New(), WithPublishTimeout(0))
	if p.publishTimeout != DefaultPublishTimeout {
		t.Errorf("expected %v, got %v", DefaultPublishTimeout, p.publishTimeout)
	}
}

func TestRun_FailureLogsStageState(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	gw := mock.New()
	failGuidance(gw, errors.New("model down"))
	p := newPipeline(gw, WithAudioSource(AudioFromKeywords))

	if _, err := p.Run(context.Background(), chestPain, language.English); err == nil {
		t.Fatal("expected generation failure")
	}

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if e["message"] == "Pipeline failed" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("no failure log line in %q", buf.String())
	}
	if entry["stage"] != models.StageGenerate {
		t.Errorf("expected stage generate, got %v", entry["stage"])
	}
	if entry["state"] != StateGenerating.String() {
		t.Errorf("expected state GENERATING, got %v", entry["state"])
	}
}
