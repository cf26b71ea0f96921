// Package pipeline orchestrates the guidance-synthesis stages:
//
//	detect → generate → synthesize → encode
//
// A query that is not an emergency stops after detection and yields a
// NotEmergency outcome. Generation failures fail the invocation. Synthesis
// failures degrade it to text-only guidance unless RequireAudio is set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/observability/logging"
	"github.com/sudarshan922/insta-first-aid/internal/observability/metrics"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/speech"
)

// Detector classifies queries.
type Detector interface {
	Detect(ctx context.Context, q models.EmergencyQuery) (models.DetectionResult, error)
}

// Generator produces instructions.
type Generator interface {
	Generate(ctx context.Context, req models.GuidanceRequest) (models.GuidanceResult, error)
}

// Synthesizer produces audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req models.SpeechRequest) (models.AudioArtifact, error)
}

// EventSink receives one event per finished invocation.
type EventSink interface {
	PublishOutcome(ctx context.Context, key, eventType string, event any) error
	PublishFailure(ctx context.Context, key, eventType string, event any) error
}

// AudioSource selects the text the audio is spoken from.
type AudioSource string

const (
	// AudioFromInstructions speaks the final instructions. Synthesis starts
	// after generation, so audio always matches the text.
	AudioFromInstructions AudioSource = "instructions"
	// AudioFromKeywords speaks the detected keywords. Generation and
	// synthesis run concurrently; audio may not match the text.
	AudioFromKeywords AudioSource = "keywords"
)

// ParseAudioSource parses a configured audio source.
func ParseAudioSource(s string) (AudioSource, error) {
	switch AudioSource(strings.ToLower(strings.TrimSpace(s))) {
	case AudioFromInstructions:
		return AudioFromInstructions, nil
	case AudioFromKeywords:
		return AudioFromKeywords, nil
	default:
		return "", fmt.Errorf("unknown audio source %q", s)
	}
}

// Outcome is the result of a successful Run: *Guidance or NotEmergency.
type Outcome interface {
	isOutcome()
}

// Guidance is returned when instructions were generated.
type Guidance struct {
	InvocationID string
	Language     language.Code
	Keywords     []string
	Instructions string
	// AudioDataURI is "data:audio/wav;base64,..." or empty when audio is
	// disabled or synthesis failed.
	AudioDataURI string
	// AudioErr is the synthesis failure behind an empty AudioDataURI.
	AudioErr    error
	AudioSource AudioSource
}

func (*Guidance) isOutcome() {}

// Degraded reports whether synthesis failed and the guidance is text only.
func (g *Guidance) Degraded() bool {
	return g.AudioErr != nil
}

// NotEmergency is returned when the query does not describe an emergency.
type NotEmergency struct {
	InvocationID string
}

func (NotEmergency) isOutcome() {}

// Pipeline runs guidance invocations. It holds no per-invocation state and
// is safe for concurrent use.
type Pipeline struct {
	detector    Detector
	generator   Generator
	synthesizer Synthesizer
	languages   *language.Set
	events      EventSink
	metrics     *metrics.Metrics

	audioSource    AudioSource
	audioEnabled   bool
	requireAudio   bool
	stageTimeout   time.Duration
	publishTimeout time.Duration
	minQueryLength int
}

// DefaultPublishTimeout bounds how long Run waits for its event to be
// accepted by the sink.
const DefaultPublishTimeout = time.Second

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAudioSource sets the audio source policy.
func WithAudioSource(src AudioSource) Option {
	return func(p *Pipeline) { p.audioSource = src }
}

// WithAudioEnabled turns synthesis on or off.
func WithAudioEnabled(enabled bool) Option {
	return func(p *Pipeline) { p.audioEnabled = enabled }
}

// WithRequireAudio makes a synthesis failure fail the whole invocation.
func WithRequireAudio(require bool) Option {
	return func(p *Pipeline) { p.requireAudio = require }
}

// WithStageTimeout bounds every stage call. Zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// WithPublishTimeout bounds how long Run waits on the event sink. Zero or
// negative values keep DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// WithMinQueryLength rejects queries shorter than n characters.
func WithMinQueryLength(n int) Option {
	return func(p *Pipeline) { p.minQueryLength = n }
}

// WithEvents publishes an event for every finished invocation.
func WithEvents(sink EventSink) Option {
	return func(p *Pipeline) { p.events = sink }
}

// New creates a pipeline from its stages.
func New(d Detector, g Generator, s Synthesizer, langs *language.Set, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:       d,
		generator:      g,
		synthesizer:    s,
		languages:      langs,
		metrics:        metrics.DefaultMetrics,
		audioSource:    AudioFromInstructions,
		audioEnabled:   true,
		stageTimeout:   30 * time.Second,
		publishTimeout: DefaultPublishTimeout,
		minQueryLength: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type invocationKey struct{}

// ContextWithInvocationID makes Run use id instead of generating one.
func ContextWithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationIDFrom returns the invocation ID carried by ctx, if any.
func InvocationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

// ValidateQuery checks the raw text and language before any stage runs.
func (p *Pipeline) ValidateQuery(text string, lang language.Code) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("%w: empty text", models.ErrInvalidQuery)
	}
	if n := utf8.RuneCountInString(trimmed); n < p.minQueryLength {
		return fmt.Errorf("%w: %d characters, need at least %d", models.ErrInvalidQuery, n, p.minQueryLength)
	}
	if !p.languages.Supports(lang) {
		return fmt.Errorf("%w: %q", models.ErrUnsupportedLanguage, lang)
	}
	return nil
}

// Run takes text through the pipeline. On success the outcome is either
// *Guidance or NotEmergency; an error is never returned together with an
// outcome.
func (p *Pipeline) Run(ctx context.Context, text string, lang language.Code) (Outcome, error) {
	if err := p.ValidateQuery(text, lang); err != nil {
		return nil, err
	}

	inv := &invocation{
		id:    InvocationIDFrom(ctx),
		lang:  lang,
		start: time.Now(),
	}
	if inv.id == "" {
		inv.id = uuid.NewString()
	}
	inv.lc = NewLifecycle(inv.id)
	inv.logger = logging.WithInvocation(inv.id, string(lang))

	p.metrics.RecordPipelineStart()
	inv.logger.Info().Int("queryChars", utf8.RuneCountInString(text)).Msg("Pipeline started")

	var det models.DetectionResult
	err := p.stage(ctx, models.StageDetect, func(ctx context.Context) error {
		var err error
		det, err = p.detector.Detect(ctx, models.EmergencyQuery{Text: strings.TrimSpace(text)})
		return err
	})
	if err != nil {
		return nil, p.fail(ctx, inv, err)
	}

	if !det.Actionable() {
		_ = inv.lc.MarkNotEmergency()
		p.finishNotEmergency(ctx, inv)
		return NotEmergency{InvocationID: inv.id}, nil
	}

	if err := inv.lc.BeginGeneration(); err != nil {
		return nil, p.fail(ctx, inv, err)
	}

	req := models.NewGuidanceRequest(det.Keywords, lang)
	var out stageOutput
	switch {
	case !p.audioEnabled:
		out.res, err = p.generate(ctx, req)
	case p.audioSource == AudioFromKeywords:
		out, err = p.generateWithKeywordAudio(ctx, inv, req)
	default:
		out, err = p.generateThenSynthesize(ctx, inv, req)
	}
	if err != nil {
		return nil, p.fail(ctx, inv, err)
	}
	synthErr := out.synthErr

	if synthErr != nil {
		if p.requireAudio || ctx.Err() != nil {
			return nil, p.fail(ctx, inv, synthErr)
		}
		inv.logger.Warn().
			Err(synthErr).
			Str("kind", models.KindName(synthErr)).
			Msg("Synthesis failed, returning text-only guidance")
		p.metrics.RecordDegraded()
	}

	if err := inv.lc.Succeed(); err != nil {
		return nil, p.fail(ctx, inv, err)
	}

	g := &Guidance{
		InvocationID: inv.id,
		Language:     lang,
		Keywords:     det.Keywords,
		Instructions: out.res.Instructions,
		AudioErr:     synthErr,
		AudioSource:  p.audioSource,
	}
	if synthErr == nil && len(out.art.Data) > 0 {
		g.AudioDataURI = out.art.DataURI()
	}
	p.finishCompleted(ctx, inv, g, len(out.art.Data))
	return g, nil
}

// stageOutput is what generation and synthesis produced. A synthesis
// failure is kept separately because it does not fail the invocation.
type stageOutput struct {
	res      models.GuidanceResult
	art      models.AudioArtifact
	synthErr error
}

// generateThenSynthesize speaks the finished instructions.
func (p *Pipeline) generateThenSynthesize(ctx context.Context, inv *invocation, req models.GuidanceRequest) (stageOutput, error) {
	var out stageOutput
	var err error
	out.res, err = p.generate(ctx, req)
	if err != nil {
		return stageOutput{}, err
	}
	if err := inv.lc.BeginSynthesis(); err != nil {
		return stageOutput{}, err
	}

	out.art, out.synthErr = p.synthesize(ctx, models.SpeechRequest{
		Text:     speech.StripMarkdown(out.res.Instructions),
		Language: req.Language,
	})
	return out, nil
}

// generateWithKeywordAudio runs generation and synthesis of the keywords
// concurrently. A generation failure cancels synthesis. A synthesis failure
// cancels generation only when audio is required.
func (p *Pipeline) generateWithKeywordAudio(ctx context.Context, inv *invocation, req models.GuidanceRequest) (stageOutput, error) {
	if err := inv.lc.BeginSynthesis(); err != nil {
		return stageOutput{}, err
	}

	var out stageOutput
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.res, err = p.generate(gctx, req)
		return err
	})
	g.Go(func() error {
		art, err := p.synthesize(gctx, models.SpeechRequest{
			Text:     speech.StripMarkdown(req.Keywords),
			Language: req.Language,
		})
		if err != nil && p.requireAudio {
			return err
		}
		out.art, out.synthErr = art, err
		return nil
	})
	if err := g.Wait(); err != nil {
		return stageOutput{}, err
	}
	return out, nil
}

func (p *Pipeline) generate(ctx context.Context, req models.GuidanceRequest) (models.GuidanceResult, error) {
	var res models.GuidanceResult
	err := p.stage(ctx, models.StageGenerate, func(ctx context.Context) error {
		var err error
		res, err = p.generator.Generate(ctx, req)
		return err
	})
	return res, err
}

func (p *Pipeline) synthesize(ctx context.Context, req models.SpeechRequest) (models.AudioArtifact, error) {
	var art models.AudioArtifact
	err := p.stage(ctx, models.StageSynthesize, func(ctx context.Context) error {
		var err error
		art, err = p.synthesizer.Synthesize(ctx, req)
		return err
	})
	return art, err
}

// stage runs fn under the stage timeout and records its latency.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStage(name, models.KindName(err), time.Since(start).Seconds())
	return err
}

// invocation carries per-run bookkeeping.
type invocation struct {
	id     string
	lang   language.Code
	start  time.Time
	lc     *Lifecycle
	logger zerolog.Logger
}

func (inv *invocation) elapsed() time.Duration {
	return time.Since(inv.start)
}

func (p *Pipeline) fail(ctx context.Context, inv *invocation, err error) error {
	from := inv.lc.State()
	inv.lc.Fail()

	stage := models.StageOf(err)
	kind := models.KindName(err)
	if s, ok := StageState(stage); ok {
		from = s
	}
	elapsed := inv.elapsed()
	p.metrics.RecordPipelineEnd(StateFailed.String(), elapsed.Seconds())

	ev := inv.logger.Error()
	if errors.Is(err, context.Canceled) {
		ev = inv.logger.Info()
	}
	ev.Err(err).
		Str("stage", stage).
		Str("kind", kind).
		Str("state", from.String()).
		Dur("elapsed", elapsed).
		Msg("Pipeline failed")

	p.publish(ctx, inv, models.EventGuidanceFailed, true, models.GuidanceFailed{
		EventType:    models.EventGuidanceFailed,
		InvocationID: inv.id,
		Language:     string(inv.lang),
		Timestamp:    time.Now().UnixMilli(),
		Stage:        stage,
		Kind:         kind,
		Error:        err.Error(),
		DurationMs:   elapsed.Milliseconds(),
	})
	return err
}

func (p *Pipeline) finishNotEmergency(ctx context.Context, inv *invocation) {
	elapsed := inv.elapsed()
	p.metrics.RecordPipelineEnd(StateNotEmergency.String(), elapsed.Seconds())
	inv.logger.Info().Dur("elapsed", elapsed).Msg("Query is not an emergency")

	p.publish(ctx, inv, models.EventGuidanceNotEmergency, false, models.GuidanceNotEmergency{
		EventType:    models.EventGuidanceNotEmergency,
		InvocationID: inv.id,
		Language:     string(inv.lang),
		Timestamp:    time.Now().UnixMilli(),
		DurationMs:   elapsed.Milliseconds(),
	})
}

func (p *Pipeline) finishCompleted(ctx context.Context, inv *invocation, g *Guidance, audioBytes int) {
	elapsed := inv.elapsed()
	outcome := StateSucceeded.String()
	if g.Degraded() || !p.audioEnabled {
		outcome = "TEXT_ONLY"
	}
	p.metrics.RecordPipelineEnd(outcome, elapsed.Seconds())

	inv.logger.Info().
		Int("keywordCount", len(g.Keywords)).
		Int("instructionsChars", utf8.RuneCountInString(g.Instructions)).
		Int("audioBytes", audioBytes).
		Bool("degraded", g.Degraded()).
		Dur("elapsed", elapsed).
		Msg("Pipeline succeeded")

	audioErr := ""
	if g.AudioErr != nil {
		audioErr = models.KindName(g.AudioErr)
	}
	p.publish(ctx, inv, models.EventGuidanceCompleted, false, models.GuidanceCompleted{
		EventType:         models.EventGuidanceCompleted,
		InvocationID:      inv.id,
		Language:          string(inv.lang),
		Timestamp:         time.Now().UnixMilli(),
		KeywordCount:      len(g.Keywords),
		InstructionsChars: utf8.RuneCountInString(g.Instructions),
		AudioAvailable:    g.AudioDataURI != "",
		AudioBytes:        audioBytes,
		AudioSource:       string(g.AudioSource),
		AudioError:        audioErr,
		DurationMs:        elapsed.Milliseconds(),
	})
}

// publish sends an event without letting caller cancellation drop it. Run
// waits at most publishTimeout; a sink that is slower than that keeps its
// own goroutine and the result is only logged.
func (p *Pipeline) publish(ctx context.Context, inv *invocation, eventType string, failure bool, event any) {
	if p.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	logger := inv.logger

	done := make(chan error, 1)
	go func() {
		defer cancel()
		if failure {
			done <- p.events.PublishFailure(ctx, inv.id, eventType, event)
		} else {
			done <- p.events.PublishOutcome(ctx, inv.id, eventType, event)
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn().Err(err).Str("eventType", eventType).Msg("Failed to publish event")
		}
	case <-ctx.Done():
		logger.Warn().
			Err(ctx.Err()).
			Str("eventType", eventType).
			Dur("timeout", p.publishTimeout).
			Msg("Event publish did not finish in time, returning without it")
	}
}
