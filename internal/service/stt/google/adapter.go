// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"

	"github.com/sudarshan922/insta-first-aid/internal/observability/logging"
	"github.com/sudarshan922/insta-first-aid/internal/observability/metrics"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/stt"
)

const provider = "google"

// Config holds recognition settings.
type Config struct {
	LanguageCode  string // used when a request carries no language
	SampleRateHz  int    // used when a request carries no sample rate
	AudioEncoding string // LINEAR16, MULAW, FLAC, ...
	Model         string // optional recognition model, e.g. "latest_short"
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
	}
}

// Adapter implements stt.Transcriber using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	config Config
	logger zerolog.Logger
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Adapter{
		client: c,
		config: cfg,
		logger: logging.WithProvider("stt", provider),
	}, nil
}

// Transcribe runs a synchronous Recognize call over the whole recording.
func (a *Adapter) Transcribe(ctx context.Context, pcm []byte, sampleRateHz int, lang language.Code) (string, error) {
	start := time.Now()

	resp, err := a.client.Recognize(ctx, a.request(pcm, sampleRateHz, lang))
	if err != nil {
		metrics.DefaultMetrics.RecordSTTError(provider, "recognize")
		a.logger.Error().Err(err).Int("audioBytes", len(pcm)).Msg("Recognize failed")
		return "", fmt.Errorf("recognize: %w", err)
	}

	transcript, confidence := joinResults(resp.GetResults())
	if transcript == "" {
		metrics.DefaultMetrics.RecordSTTError(provider, "no_speech")
		return "", stt.ErrNoSpeech
	}

	metrics.DefaultMetrics.RecordSTT(provider, time.Since(start).Seconds())
	a.logger.Debug().
		Int("audioBytes", len(pcm)).
		Int("transcriptChars", len(transcript)).
		Float64("confidence", confidence).
		Dur("elapsed", time.Since(start)).
		Msg("Recognize completed")
	return transcript, nil
}

func (a *Adapter) request(pcm []byte, sampleRateHz int, lang language.Code) *speechpb.RecognizeRequest {
	if sampleRateHz <= 0 {
		sampleRateHz = a.config.SampleRateHz
	}
	code := string(lang)
	if code == "" {
		code = a.config.LanguageCode
	}
	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(a.config.AudioEncoding),
			SampleRateHertz:            int32(sampleRateHz),
			LanguageCode:               code,
			Model:                      a.config.Model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	}
}

// Close releases the speech client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// joinResults concatenates the top alternative of every result and returns
// the mean confidence.
func joinResults(results []*speechpb.SpeechRecognitionResult) (string, float64) {
	var parts []string
	var sum float64
	for _, r := range results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		sum += float64(alt.Confidence)
	}
	if len(parts) == 0 {
		return "", 0
	}
	return strings.Join(parts, " "), sum / float64(len(parts))
}

// parseAudioEncoding maps a config string to the recognition encoding,
// falling back to LINEAR16.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToUpper(s) {
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

var _ stt.Transcriber = (*Adapter)(nil)
