package instruct

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway/mock"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/markdown"
)

func TestGenerate_ChestPainEnglish(t *testing.T) {
	g := New(mock.New(), language.Default())

	req := models.NewGuidanceRequest([]string{"chest pain", "difficulty breathing"}, language.English)
	res, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !strings.Contains(res.Instructions, "## Disclaimer") {
		t.Error("expected a Disclaimer section")
	}
	lines := markdown.Parse(res.Instructions)
	if lvl := markdown.MaxHeadingLevel(lines); lvl > 3 {
		t.Errorf("expected no heading deeper than ###, got level %d", lvl)
	}
	if !markdown.WellFormed(lines) {
		t.Errorf("expected well-formed instructions:\n%s", res.Instructions)
	}
}

func TestGenerate_UnsupportedLanguage(t *testing.T) {
	gw := mock.New()
	g := New(gw, language.Default())

	_, err := g.Generate(context.Background(), models.GuidanceRequest{Keywords: "burn", Language: "xx-XX"})
	if !errors.Is(err, models.ErrUnsupportedLanguage) {
		t.Errorf("expected ErrUnsupportedLanguage, got %v", err)
	}
	if gw.CallCount("GenerateStructured") != 0 {
		t.Error("gateway must not be called for an unsupported language")
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name string
		out  map[string]any
		err  error
	}{
		{"gateway error", nil, errors.New("boom")},
		{"malformed output", map[string]any{"text": "hi"}, nil},
		{"empty instructions", map[string]any{"instructions": "  "}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := mock.New()
			gw.StructuredFunc = func(ctx context.Context, prompt string, s *schema.Schema) (map[string]any, error) {
				return tt.out, tt.err
			}
			_, err := New(gw, language.Default()).Generate(context.Background(),
				models.GuidanceRequest{Keywords: "burn", Language: language.English})
			if !errors.Is(err, models.ErrGenerationFailed) {
				t.Errorf("expected ErrGenerationFailed, got %v", err)
			}
		})
	}
}

func TestPrompt_NamesLanguage(t *testing.T) {
	g := New(mock.New(), language.Default())

	p, err := g.Prompt(models.GuidanceRequest{Keywords: "burn, blister", Language: language.Hindi})
	if err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}
	for _, want := range []string{"Hindi (hi-IN)", "Keywords: burn, blister", `"## Disclaimer"`} {
		if !strings.Contains(p, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}

func TestGenerate_RegisteredLanguage(t *testing.T) {
	langs := language.Default()
	langs.Register("es-ES", "Spanish")

	res, err := New(mock.New(), langs).Generate(context.Background(),
		models.GuidanceRequest{Keywords: "burn", Language: "es-ES"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.Contains(res.Instructions, "Spanish (es-ES)") {
		t.Errorf("expected mock to echo the language:\n%s", res.Instructions)
	}
}
