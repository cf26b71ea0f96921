package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sudarshan922/insta-first-aid/internal/config"
	"github.com/sudarshan922/insta-first-aid/internal/events"
	"github.com/sudarshan922/insta-first-aid/internal/observability/logging"
	"github.com/sudarshan922/insta-first-aid/internal/observability/metrics"
	"github.com/sudarshan922/insta-first-aid/internal/service/chat"
	"github.com/sudarshan922/insta-first-aid/internal/service/detect"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway/gemini"
	gwmock "github.com/sudarshan922/insta-first-aid/internal/service/gateway/mock"
	"github.com/sudarshan922/insta-first-aid/internal/service/instruct"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/pipeline"
	"github.com/sudarshan922/insta-first-aid/internal/service/speech"
	"github.com/sudarshan922/insta-first-aid/internal/service/stt"
	sttgoogle "github.com/sudarshan922/insta-first-aid/internal/service/stt/google"
	sttmock "github.com/sudarshan922/insta-first-aid/internal/service/stt/mock"
)

// ErrNotReady is reported by Ready before Start completes and after Shutdown.
var ErrNotReady = errors.New("application not ready")

// Application holds process-wide state for the service. Components that are
// set before Start (tests inject mocks this way) are kept; the rest are
// built from Cfg.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Languages   *language.Set
	Gateway     gateway.Gateway
	Transcriber stt.Transcriber
	Events      pipeline.EventSink
	Pipeline    *pipeline.Pipeline
	Chat        *chat.Assistant

	publisher *events.Publisher
	ready     atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("First-aid guidance application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.WithComponent("application").
		With().
		Str("service", a.Cfg.Service.Name).
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start builds the gateway, stages and pipeline and marks the application
// ready to serve traffic.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	if a.Languages == nil {
		a.Languages = language.Default()
		if err := a.Languages.RegisterList(a.Cfg.Pipeline.ExtraLanguages); err != nil {
			return fmt.Errorf("extra languages: %w", err)
		}
	}

	if a.Gateway == nil {
		gw, err := a.buildGateway()
		if err != nil {
			return err
		}
		a.Gateway = gw
	}

	if a.Transcriber == nil {
		tr, err := a.buildTranscriber(ctx)
		if err != nil {
			return err
		}
		a.Transcriber = tr
	}

	if a.Events == nil {
		a.publisher = events.New(&events.Config{
			Enabled:      a.Cfg.Kafka.Enabled,
			Brokers:      a.Cfg.Kafka.Brokers,
			TopicOutcome: a.Cfg.Kafka.TopicOutcome,
			TopicFailure: a.Cfg.Kafka.TopicFailure,
			Principal:    a.Cfg.Kafka.Principal,
		})
		a.Events = a.publisher
	}

	source, err := pipeline.ParseAudioSource(a.Cfg.Pipeline.AudioSource)
	if err != nil {
		startLogger.Warn().Err(err).Msg("Falling back to instructions audio source")
		source = pipeline.AudioFromInstructions
	}

	a.Pipeline = pipeline.New(
		detect.New(a.Gateway),
		instruct.New(a.Gateway, a.Languages),
		speech.New(a.Gateway, a.Languages, speech.WithVoice(a.Cfg.Gateway.Voice)),
		a.Languages,
		pipeline.WithAudioSource(source),
		pipeline.WithAudioEnabled(a.Cfg.Pipeline.AudioEnabled),
		pipeline.WithRequireAudio(a.Cfg.Pipeline.RequireAudio),
		pipeline.WithStageTimeout(a.Cfg.Pipeline.StageTimeout),
		pipeline.WithPublishTimeout(a.Cfg.Pipeline.PublishTimeout),
		pipeline.WithMinQueryLength(a.Cfg.Pipeline.MinQueryLength),
		pipeline.WithEvents(a.Events),
	)
	a.Chat = chat.New(a.Gateway)

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)

	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Str("gatewayProvider", a.Cfg.Gateway.Provider).
		Str("sttProvider", a.Cfg.STT.Provider).
		Str("audioSource", string(source)).
		Bool("audioEnabled", a.Cfg.Pipeline.AudioEnabled).
		Bool("requireAudio", a.Cfg.Pipeline.RequireAudio).
		Interface("languages", a.Languages.Codes()).
		Msg("First-aid guidance service starting")

	return nil
}

func (a *Application) buildGateway() (gateway.Gateway, error) {
	switch a.Cfg.Gateway.Provider {
	case "gemini":
		c, err := gemini.New(
			gemini.WithAPIKey(a.Cfg.Gateway.APIKey),
			gemini.WithBaseURL(a.Cfg.Gateway.BaseURL),
			gemini.WithTextModel(a.Cfg.Gateway.TextModel),
			gemini.WithSpeechModel(a.Cfg.Gateway.SpeechModel),
			gemini.WithTimeout(a.Cfg.Gateway.Timeout),
			gemini.WithBreaker(uint32(a.Cfg.Gateway.BreakerFailures), a.Cfg.Gateway.BreakerCooldown),
		)
		if err != nil {
			return nil, fmt.Errorf("gemini gateway: %w", err)
		}
		return c, nil
	case "mock":
		a.Logger.Warn().Msg("Using mock model gateway, guidance is simulated")
		return gwmock.New(), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", a.Cfg.Gateway.Provider)
	}
}

func (a *Application) buildTranscriber(ctx context.Context) (stt.Transcriber, error) {
	switch a.Cfg.STT.Provider {
	case "google":
		tr, err := sttgoogle.New(ctx, sttgoogle.Config{
			LanguageCode:  a.Cfg.STT.LanguageCode,
			SampleRateHz:  a.Cfg.STT.SampleRateHz,
			AudioEncoding: a.Cfg.STT.AudioEncoding,
			Model:         a.Cfg.STT.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("google stt: %w", err)
		}
		return tr, nil
	case "mock", "":
		return sttmock.New(), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", a.Cfg.STT.Provider)
	}
}

// Ready reports whether the application can serve traffic.
func (a *Application) Ready() error {
	if !a.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Uptime returns the time since Start.
func (a *Application) Uptime() time.Duration {
	if a.StartupTime.IsZero() {
		return 0
	}
	return time.Since(a.StartupTime)
}

// Metrics returns the process metrics registry.
func (a *Application) Metrics() *metrics.Metrics {
	return metrics.DefaultMetrics
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)

	if a.Transcriber != nil {
		if err := a.Transcriber.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Failed to close transcriber")
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			shutdownLogger.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}

	shutdownLogger.Info().
		Dur("uptime", a.Uptime()).
		Msg("First-aid guidance service shutting down")
}
