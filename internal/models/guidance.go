// Package models defines the data structures exchanged between pipeline
// stages and the events published for each guidance request.
package models

import (
	"encoding/base64"
	"strings"

	"github.com/sudarshan922/insta-first-aid/internal/service/language"
)

// EmergencyQuery is the raw description typed (or spoken) by the user.
type EmergencyQuery struct {
	Text string
}

// DetectionResult is the classification of an EmergencyQuery.
// When IsEmergency is false, Keywords is always empty.
type DetectionResult struct {
	IsEmergency bool     `json:"isEmergency"`
	Keywords    []string `json:"keywords"`
}

// Actionable reports whether guidance can be generated from the result.
func (d DetectionResult) Actionable() bool {
	return d.IsEmergency && len(d.Keywords) > 0
}

// GuidanceRequest asks the instruction generator for first-aid steps.
type GuidanceRequest struct {
	Keywords string
	Language language.Code
}

// NewGuidanceRequest joins detected keywords the way the generator expects.
func NewGuidanceRequest(keywords []string, lang language.Code) GuidanceRequest {
	return GuidanceRequest{
		Keywords: strings.Join(keywords, ", "),
		Language: lang,
	}
}

// GuidanceResult holds instructions in the constrained Markdown dialect:
// "##" and "###" headings, "**" bold, and a single "## Disclaimer" section.
type GuidanceResult struct {
	Instructions string `json:"instructions"`
}

// SpeechRequest is the input of the speech synthesizer. Text must already
// have Markdown control characters stripped.
type SpeechRequest struct {
	Text     string
	Language language.Code
}

// Audio artifact constants.
const (
	AudioMimeType      = "audio/wav"
	AudioEncoding      = "base64"
	AudioDataURIPrefix = "data:" + AudioMimeType + ";" + AudioEncoding + ","
)

// AudioArtifact is a complete WAV container ready for playback.
type AudioArtifact struct {
	MimeType string
	Encoding string
	Data     []byte
}

// NewAudioArtifact wraps an encoded WAV container.
func NewAudioArtifact(wav []byte) AudioArtifact {
	return AudioArtifact{
		MimeType: AudioMimeType,
		Encoding: AudioEncoding,
		Data:     wav,
	}
}

// DataURI returns the self-describing "data:audio/wav;base64,..." form.
func (a AudioArtifact) DataURI() string {
	return "data:" + a.MimeType + ";" + a.Encoding + "," + base64.StdEncoding.EncodeToString(a.Data)
}
