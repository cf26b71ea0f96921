// Package speech turns instruction text into a playable WAV artifact using
// the model gateway's audio generation.
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/observability/metrics"
	"github.com/sudarshan922/insta-first-aid/internal/service/audio"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
)

// DefaultVoice is used for every language.
const DefaultVoice = "Algenib"

// StripMarkdown removes the Markdown control characters '#' and '*' so they
// are not read aloud. Nothing else is changed.
func StripMarkdown(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '#' || r == '*' {
			return -1
		}
		return r
	}, s)
}

// Synthesizer is the speech synthesis stage. It is safe for concurrent use.
type Synthesizer struct {
	gw        gateway.Gateway
	languages *language.Set
	voice     string
	format    audio.Format
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithVoice overrides the prebuilt voice.
func WithVoice(voice string) Option {
	return func(s *Synthesizer) {
		if voice != "" {
			s.voice = voice
		}
	}
}

// New creates a synthesizer backed by gw.
func New(gw gateway.Gateway, langs *language.Set, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		gw:        gw,
		languages: langs,
		voice:     DefaultVoice,
		format:    audio.DefaultFormat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Voice returns the configured voice.
func (s *Synthesizer) Voice() string {
	return s.voice
}

// Synthesize speaks req.Text and returns it as a WAV artifact. The voice is
// the same for every language; the language is carried by the text itself.
func (s *Synthesizer) Synthesize(ctx context.Context, req models.SpeechRequest) (models.AudioArtifact, error) {
	if !s.languages.Supports(req.Language) {
		return models.AudioArtifact{}, models.NewStageError(models.StageSynthesize, models.ErrUnsupportedLanguage,
			fmt.Errorf("language %q", req.Language))
	}
	if strings.TrimSpace(req.Text) == "" {
		return models.AudioArtifact{}, models.NewStageError(models.StageSynthesize, models.ErrNoAudioGenerated,
			errors.New("nothing to speak"))
	}

	media, err := s.gw.GenerateAudio(ctx, req.Text, s.voice)
	if err != nil {
		kind := models.ErrSynthesisFailed
		if errors.Is(err, gateway.ErrNoMedia) {
			kind = models.ErrNoAudioGenerated
		}
		return models.AudioArtifact{}, models.NewStageError(models.StageSynthesize, kind, err)
	}
	if media == nil || media.URL == "" {
		return models.AudioArtifact{}, models.NewStageError(models.StageSynthesize, models.ErrNoAudioGenerated, nil)
	}

	format, pcm, err := s.decodeMedia(media)
	if err != nil {
		return models.AudioArtifact{}, models.NewStageError(models.StageSynthesize, models.ErrSynthesisFailed, err)
	}
	if len(pcm) == 0 {
		return models.AudioArtifact{}, models.NewStageError(models.StageSynthesize, models.ErrNoAudioGenerated,
			errors.New("empty audio payload"))
	}

	wav, err := audio.EncodeWAV(pcm, format)
	if err != nil {
		return models.AudioArtifact{}, models.NewStageError(models.StageSynthesize, models.ErrSynthesisFailed, err)
	}

	metrics.DefaultMetrics.RecordAudioGenerated(len(wav), time.Duration(format.DurationMs(len(pcm)))*time.Millisecond)
	return models.NewAudioArtifact(wav), nil
}

// decodeMedia base64-decodes everything after the first comma of the media
// URL. A "rate" parameter on the media type overrides the sample rate.
func (s *Synthesizer) decodeMedia(m *gateway.Media) (audio.Format, []byte, error) {
	format := s.format

	meta, payload, ok := strings.Cut(m.URL, ",")
	if !ok {
		return format, nil, fmt.Errorf("media URL has no payload")
	}

	mediaType := m.ContentType
	if mediaType == "" {
		mediaType = strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
	}
	if _, params, err := mime.ParseMediaType(mediaType); err == nil {
		if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
			format.SampleRateHz = rate
		}
	}

	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return format, nil, fmt.Errorf("decode media payload: %w", err)
	}
	return format, pcm, nil
}
