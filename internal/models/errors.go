package models

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds surfaced by the pipeline. Every stage error matches exactly
// one kind with errors.Is; a timed-out stage additionally matches
// ErrGatewayTimeout.
var (
	ErrDetectionFailed     = errors.New("detection failed")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
	ErrNoAudioGenerated    = errors.New("no audio generated")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrGatewayTimeout      = errors.New("gateway timeout")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrChatFailed          = errors.New("chat failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Stage names used in errors, logs, metrics and events.
const (
	StageDetect     = "detect"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StageChat       = "chat"
	StageTranscribe = "transcribe"
)

// StageError reports which stage failed, the failure kind and the cause.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

// NewStageError builds a StageError, tagging deadline overruns with
// ErrGatewayTimeout so callers can tell slow gateways from broken ones.
func NewStageError(stage string, kind, err error) *StageError {
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrGatewayTimeout) {
		err = fmt.Errorf("%w: %w", ErrGatewayTimeout, err)
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns a stable, metric-friendly name for err's failure kind.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedLanguage):
		return "UnsupportedLanguage"
	case errors.Is(err, ErrInvalidQuery):
		return "InvalidQuery"
	case errors.Is(err, ErrGatewayTimeout):
		return "GatewayTimeout"
	case errors.Is(err, ErrNoAudioGenerated):
		return "NoAudioGenerated"
	case errors.Is(err, ErrDetectionFailed):
		return "DetectionFailed"
	case errors.Is(err, ErrGenerationFailed):
		return "GenerationFailed"
	case errors.Is(err, ErrSynthesisFailed):
		return "SynthesisFailed"
	case errors.Is(err, ErrChatFailed):
		return "ChatFailed"
	case errors.Is(err, ErrTranscriptionFailed):
		return "TranscriptionFailed"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	default:
		return "Unknown"
	}
}

// StageOf returns the stage recorded in err, or "" if err is not a StageError.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
