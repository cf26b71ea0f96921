// Package stt defines the interface for Speech-to-Text adapters used by
// voice queries.
package stt

import (
	"context"
	"errors"

	"github.com/sudarshan922/insta-first-aid/internal/service/language"
)

// ErrNoSpeech is returned when the audio contained no recognizable speech.
var ErrNoSpeech = errors.New("stt: no speech recognized")

// Transcriber turns a recorded voice query into text (Google, mock, ...).
type Transcriber interface {
	// Transcribe recognizes LINEAR16 PCM sampled at sampleRateHz in lang.
	Transcribe(ctx context.Context, pcm []byte, sampleRateHz int, lang language.Code) (string, error)

	// Close releases provider resources.
	Close() error
}
