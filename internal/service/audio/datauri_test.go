package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestDataURI_RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xFE, 0xFF}
	uri := DataURI("audio/wav", data)

	if uri != "data:audio/wav;base64,AAH+/w==" {
		t.Fatalf("unexpected URI: %s", uri)
	}

	m, err := ParseDataURI(uri)
	if err != nil {
		t.Fatalf("ParseDataURI failed: %v", err)
	}
	if m.MediaType != "audio/wav" {
		t.Errorf("expected audio/wav, got %s", m.MediaType)
	}
	if !bytes.Equal(m.Data, data) {
		t.Errorf("payload mismatch: %v", m.Data)
	}
}

func TestParseDataURI_Params(t *testing.T) {
	m, err := ParseDataURI("data:audio/L16;codec=pcm;rate=16000;base64,AAAA")
	if err != nil {
		t.Fatalf("ParseDataURI failed: %v", err)
	}
	if m.MediaType != "audio/l16" {
		t.Errorf("expected lower-cased media type, got %s", m.MediaType)
	}
	if m.Params["rate"] != "16000" {
		t.Errorf("expected rate=16000, got %q", m.Params["rate"])
	}
	if len(m.Data) != 3 {
		t.Errorf("expected 3 bytes, got %d", len(m.Data))
	}
}

func TestParseDataURI_Errors(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"no scheme", "audio/wav;base64,AAAA"},
		{"no comma", "data:audio/wav;base64"},
		{"not base64", "data:text/plain,hello"},
		{"bad payload", "data:audio/wav;base64,!!!"},
		{"bad media type", "data:/;base64,AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDataURI(tt.uri); !errors.Is(err, ErrInvalidDataURI) {
				t.Errorf("expected ErrInvalidDataURI, got %v", err)
			}
		})
	}
}
