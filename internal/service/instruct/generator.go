// Package instruct generates step-by-step first-aid instructions from
// detected emergency keywords.
package instruct

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
)

// Schema is the structured output requested from the gateway.
var Schema = schema.New("GuidanceResult",
	schema.Field{
		Name:        "instructions",
		Type:        schema.String,
		Description: "Step-by-step first aid instructions based on the provided keywords.",
		Required:    true,
	},
)

var promptTemplate = template.Must(template.New("instruct").Parse(`You are an expert first aid responder. A user will provide keywords related to a medical emergency.
Your job is to provide clear, step-by-step first aid instructions that are easy to understand and follow.
Reason step by step about the best course of action, and decide when it is appropriate to include a piece of information.

Format the instructions as Markdown using only these elements:
- "## " for section headings and "### " for sub-steps. Do not use any other heading level.
- "**" around short phrases that must stand out.
- End with exactly one section headed "## Disclaimer" that tells the reader to contact local emergency services immediately.

Write the entire answer, headings included, in {{.LanguageName}} ({{.LanguageCode}}). Keep the heading "## Disclaimer" literally as written.

Keywords: {{.Keywords}}
Language: {{.LanguageName}} ({{.LanguageCode}})`))

type promptData struct {
	Keywords     string
	LanguageName string
	LanguageCode language.Code
}

// Generator is the instruction generation stage. It is safe for concurrent use.
type Generator struct {
	gw        gateway.Gateway
	languages *language.Set
}

// New creates a generator backed by gw that accepts the languages in langs.
func New(gw gateway.Gateway, langs *language.Set) *Generator {
	return &Generator{gw: gw, languages: langs}
}

// Prompt renders the generation prompt for req.
func (g *Generator) Prompt(req models.GuidanceRequest) (string, error) {
	name, ok := g.languages.Name(req.Language)
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnsupportedLanguage, req.Language)
	}
	var b strings.Builder
	err := promptTemplate.Execute(&b, promptData{
		Keywords:     req.Keywords,
		LanguageName: name,
		LanguageCode: req.Language,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Generate produces instructions for req. The Markdown is returned as the
// model wrote it.
func (g *Generator) Generate(ctx context.Context, req models.GuidanceRequest) (models.GuidanceResult, error) {
	if !g.languages.Supports(req.Language) {
		return models.GuidanceResult{}, models.NewStageError(models.StageGenerate, models.ErrUnsupportedLanguage,
			fmt.Errorf("language %q", req.Language))
	}

	prompt, err := g.Prompt(req)
	if err != nil {
		return models.GuidanceResult{}, models.NewStageError(models.StageGenerate, models.ErrGenerationFailed, err)
	}

	out, err := g.gw.GenerateStructured(ctx, prompt, Schema)
	if err != nil {
		return models.GuidanceResult{}, models.NewStageError(models.StageGenerate, models.ErrGenerationFailed, err)
	}

	instructions := strings.TrimSpace(schema.StringField(out, "instructions"))
	if instructions == "" {
		return models.GuidanceResult{}, models.NewStageError(models.StageGenerate, models.ErrGenerationFailed,
			fmt.Errorf("empty instructions"))
	}
	return models.GuidanceResult{Instructions: instructions}, nil
}
