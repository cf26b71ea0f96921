package mock

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/audio"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
)

var detectionSchema = schema.New(SchemaDetection,
	schema.Field{Name: "isEmergency", Type: schema.Boolean, Required: true},
	schema.Field{Name: "keywords", Type: schema.StringArray, Required: true},
)

func detectionPrompt(text string) string {
	return "Examples:\nInput: I have a sudden chest pain\nOutput: {...}\n\nInput: " + text + "\nOutput:"
}

func TestSimulate_Detection(t *testing.T) {
	tests := []struct {
		text     string
		wantEmer bool
		wantKeys []string
	}{
		{"I have a headache and a slight fever.", false, []string{}},
		{"My father has chest pain and difficulty breathing", true, []string{"chest pain", "difficulty breathing"}},
		{"There is SEVERE BLEEDING from the leg", true, []string{"severe bleeding"}},
		{"I burned my hand on the stove", true, []string{"burn"}},
	}

	g := New()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			out, err := g.GenerateStructured(context.Background(), detectionPrompt(tt.text), detectionSchema)
			if err != nil {
				t.Fatalf("GenerateStructured failed: %v", err)
			}
			if got := schema.BoolField(out, "isEmergency"); got != tt.wantEmer {
				t.Errorf("isEmergency = %v, want %v", got, tt.wantEmer)
			}
			if got := schema.StringsField(out, "keywords"); !reflect.DeepEqual(got, tt.wantKeys) {
				t.Errorf("keywords = %v, want %v", got, tt.wantKeys)
			}
		})
	}
}

func TestSimulate_Guidance(t *testing.T) {
	s := schema.New(SchemaGuidance, schema.Field{Name: "instructions", Type: schema.String, Required: true})
	prompt := "Write instructions.\nKeywords: chest pain\nLanguage: Hindi (hi-IN)"

	out, err := New().GenerateStructured(context.Background(), prompt, s)
	if err != nil {
		t.Fatalf("GenerateStructured failed: %v", err)
	}

	text := schema.StringField(out, "instructions")
	for _, want := range []string{"## First Aid for chest pain", "Language: Hindi (hi-IN)", "## Disclaimer"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected instructions to contain %q", want)
		}
	}
}

func TestGenerateStructured_UnknownSchema(t *testing.T) {
	_, err := New().GenerateStructured(context.Background(), "x", schema.New("Other"))
	if !errors.Is(err, gateway.ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestGenerateStructured_ValidatesScriptedOutput(t *testing.T) {
	g := New()
	g.StructuredFunc = func(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
		return map[string]any{"isEmergency": "yes"}, nil
	}

	_, err := g.GenerateStructured(context.Background(), "x", detectionSchema)
	if !errors.Is(err, schema.ErrMismatch) {
		t.Errorf("expected ErrMismatch, got %v", err)
	}
}

func TestGenerateAudio_SilentPCM(t *testing.T) {
	g := New()
	media, err := g.GenerateAudio(context.Background(), "hello", "Algenib")
	if err != nil {
		t.Fatalf("GenerateAudio failed: %v", err)
	}

	m, err := audio.ParseDataURI(media.URL)
	if err != nil {
		t.Fatalf("ParseDataURI failed: %v", err)
	}
	if len(m.Data) != 5*BytesPerChar {
		t.Errorf("expected %d bytes, got %d", 5*BytesPerChar, len(m.Data))
	}
	if m.Params["rate"] != "24000" {
		t.Errorf("expected rate 24000, got %q", m.Params["rate"])
	}

	calls := g.Calls()
	if len(calls) != 1 || calls[0].Method != "GenerateAudio" || calls[0].Arg != "Algenib" {
		t.Errorf("unexpected calls: %+v", calls)
	}
}

func TestGenerateAudio_EmptyText(t *testing.T) {
	_, err := New().GenerateAudio(context.Background(), "  ", "Algenib")
	if !errors.Is(err, gateway.ErrNoMedia) {
		t.Errorf("expected ErrNoMedia, got %v", err)
	}
}

func TestDelay_HonorsContext(t *testing.T) {
	g := New()
	g.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.GenerateAudio(ctx, "hello", "Algenib")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestWithError(t *testing.T) {
	boom := errors.New("boom")
	g := WithError(boom)

	if _, err := g.GenerateStructured(context.Background(), "x", detectionSchema); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if _, err := g.GenerateAudio(context.Background(), "x", "v"); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if g.CallCount("GenerateStructured") != 1 || g.CallCount("GenerateAudio") != 1 {
		t.Errorf("unexpected call counts: %+v", g.Calls())
	}
}
