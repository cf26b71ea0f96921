package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sudarshan922/insta-first-aid/internal/app"
	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/observability/logging"
	"github.com/sudarshan922/insta-first-aid/internal/service/audio"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/markdown"
	"github.com/sudarshan922/insta-first-aid/internal/service/pipeline"
	"github.com/sudarshan922/insta-first-aid/internal/service/stt"
)

// Request limits.
const (
	MaxJSONBytes  = 64 << 10
	MaxVoiceBytes = 10 << 20
)

// InvocationHeader carries the invocation ID in both directions.
const InvocationHeader = "X-Invocation-Id"

// GuidanceRequest is the body of POST /v1/guidance.
type GuidanceRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// GuidanceResponse is returned by the guidance endpoints.
type GuidanceResponse struct {
	InvocationID string          `json:"invocationId"`
	IsEmergency  bool            `json:"isEmergency"`
	Language     string          `json:"language,omitempty"`
	Transcript   string          `json:"transcript,omitempty"`
	Keywords     []string        `json:"keywords,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Lines        []markdown.Line `json:"lines,omitempty"`
	AudioDataURI string          `json:"audioDataUri,omitempty"`
	Degraded     bool            `json:"degraded,omitempty"`
	AudioError   string          `json:"audioError,omitempty"`
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Query string `json:"query"`
}

// ChatResponse is returned by POST /v1/chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error        string `json:"error"`
	Kind         string `json:"kind,omitempty"`
	Stage        string `json:"stage,omitempty"`
	InvocationID string `json:"invocationId,omitempty"`
}

type handler struct {
	app    *app.Application
	logger zerolog.Logger
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handler{
		app:    application,
		logger: logging.WithComponent("http"),
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if err := application.Ready(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/languages", h.languages)
		r.Post("/guidance", h.guidance)
		r.Post("/guidance/voice", h.voiceGuidance)
		r.Post("/chat", h.chat)
	})

	return r
}

// observe records the route latency once chi has resolved the pattern.
func (h *handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.app.Metrics().RecordHTTP(route, strconv.Itoa(status), time.Since(start).Seconds())
	})
}

func (h *handler) languages(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	var out []entry
	for _, code := range h.app.Languages.Codes() {
		name, _ := h.app.Languages.Name(code)
		out = append(out, entry{Code: string(code), Name: name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) guidance(w http.ResponseWriter, r *http.Request) {
	id := invocationID(r)
	w.Header().Set(InvocationHeader, id)

	var req GuidanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, id, err)
		return
	}

	lang := language.Code(req.Language)
	if lang == "" {
		lang = language.English
	}
	h.run(r.Context(), w, id, req.Text, lang, "")
}

// voiceGuidance transcribes a LINEAR16 WAV upload and runs the pipeline on
// the transcript. The output language comes from the "language" query
// parameter.
func (h *handler) voiceGuidance(w http.ResponseWriter, r *http.Request) {
	id := invocationID(r)
	w.Header().Set(InvocationHeader, id)

	lang := language.Code(r.URL.Query().Get("language"))
	if lang == "" {
		lang = language.English
	}
	if !h.app.Languages.Supports(lang) {
		h.writeError(w, id, fmt.Errorf("%w: %q", models.ErrUnsupportedLanguage, lang))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxVoiceBytes))
	if err != nil {
		h.writeError(w, id, fmt.Errorf("%w: read upload: %v", models.ErrInvalidQuery, err))
		return
	}
	format, pcm, err := audio.DecodeWAV(body)
	if err != nil {
		h.writeError(w, id, fmt.Errorf("%w: %v", models.ErrInvalidQuery, err))
		return
	}
	if format.BitsPerSample != 16 || format.Channels != 1 {
		h.writeError(w, id, fmt.Errorf("%w: want 16-bit mono PCM, got %d-bit %d-channel",
			models.ErrInvalidQuery, format.BitsPerSample, format.Channels))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.app.Cfg.Pipeline.StageTimeout)
	transcript, err := h.app.Transcriber.Transcribe(ctx, pcm, format.SampleRateHz, lang)
	cancel()
	if err != nil {
		h.writeError(w, id, models.NewStageError(models.StageTranscribe, models.ErrTranscriptionFailed, err))
		return
	}

	h.logger.Info().
		Str("invocationId", id).
		Int64("audioMs", format.DurationMs(len(pcm))).
		Int("transcriptChars", len(transcript)).
		Msg("Voice query transcribed")

	h.run(r.Context(), w, id, transcript, lang, transcript)
}

func (h *handler) run(ctx context.Context, w http.ResponseWriter, id, text string, lang language.Code, transcript string) {
	out, err := h.app.Pipeline.Run(pipeline.ContextWithInvocationID(ctx, id), text, lang)
	if err != nil {
		h.writeError(w, id, err)
		return
	}

	resp := GuidanceResponse{
		InvocationID: id,
		Language:     string(lang),
		Transcript:   transcript,
	}
	if g, ok := out.(*pipeline.Guidance); ok {
		resp.IsEmergency = true
		resp.Keywords = g.Keywords
		resp.Instructions = g.Instructions
		resp.Lines = markdown.Parse(g.Instructions)
		resp.AudioDataURI = g.AudioDataURI
		resp.Degraded = g.Degraded()
		if g.AudioErr != nil {
			resp.AudioError = models.KindName(g.AudioErr)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) chat(w http.ResponseWriter, r *http.Request) {
	id := invocationID(r)
	w.Header().Set(InvocationHeader, id)

	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, id, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.app.Cfg.Pipeline.StageTimeout)
	defer cancel()

	answer, err := h.app.Chat.Ask(ctx, req.Query)
	if err != nil {
		h.writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: answer})
}

func (h *handler) writeError(w http.ResponseWriter, id string, err error) {
	status := StatusFor(err)
	ev := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("invocationId", id).Int("status", status).Msg("Request failed")

	writeJSON(w, status, ErrorResponse{
		Error:        err.Error(),
		Kind:         models.KindName(err),
		Stage:        models.StageOf(err),
		InvocationID: id,
	})
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidQuery), errors.Is(err, models.ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, stt.ErrNoSpeech):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func invocationID(r *http.Request) string {
	if id := r.Header.Get(InvocationHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", models.ErrInvalidQuery, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
