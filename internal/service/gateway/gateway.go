// Package gateway defines the generative model capability used by every
// pipeline stage. Providers live in subpackages (gemini, mock).
package gateway

import (
	"context"

	"github.com/sudarshan922/insta-first-aid/internal/schema"
)

// Gateway is the opaque generative model. Implementations must be safe for
// concurrent use and must honor ctx cancellation.
type Gateway interface {
	// GenerateStructured runs prompt and returns an object that validates
	// against s. Outputs that do not type-check fail with schema.ErrMismatch.
	GenerateStructured(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error)

	// GenerateAudio speaks prompt with the named voice. The returned media
	// URL is a data URI carrying raw PCM. ErrNoMedia is returned when the
	// model produced no audio.
	GenerateAudio(ctx context.Context, prompt, voice string) (*Media, error)
}

// Media is audio returned by GenerateAudio.
type Media struct {
	ContentType string
	URL         string
}
