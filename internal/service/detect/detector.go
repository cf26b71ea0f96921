// Package detect classifies a free-text query as an emergency or not and
// extracts the emergency keywords it mentions.
package detect

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
)

// Schema is the structured output requested from the gateway.
var Schema = schema.New("DetectionResult",
	schema.Field{
		Name:        "isEmergency",
		Type:        schema.Boolean,
		Description: "Whether the input text indicates an emergency.",
		Required:    true,
	},
	schema.Field{
		Name:        "keywords",
		Type:        schema.StringArray,
		Description: "The emergency-related keywords detected in the text.",
		Required:    true,
	},
)

var promptTemplate = template.Must(template.New("detect").Parse(`You are an assistant that detects emergency-related keywords in user input.

Decide whether the input describes an emergency situation. If it does, extract the relevant keywords.

Example 1:
Input: "I'm experiencing severe chest pain and difficulty breathing."
Output: {
  "isEmergency": true,
  "keywords": ["chest pain", "difficulty breathing"]
}

Example 2:
Input: "I have a headache and a slight fever."
Output: {
  "isEmergency": false,
  "keywords": []
}

Input: {{.Text}}
Output:`))

// Detector is the keyword detection stage. It is safe for concurrent use.
type Detector struct {
	gw gateway.Gateway
}

// New creates a detector backed by gw.
func New(gw gateway.Gateway) *Detector {
	return &Detector{gw: gw}
}

// Prompt renders the detection prompt for q.
func Prompt(q models.EmergencyQuery) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, q); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Detect classifies q. A result with IsEmergency=false always has no
// keywords; a model answer that violates this fails with
// models.ErrDetectionFailed.
func (d *Detector) Detect(ctx context.Context, q models.EmergencyQuery) (models.DetectionResult, error) {
	prompt, err := Prompt(q)
	if err != nil {
		return models.DetectionResult{}, models.NewStageError(models.StageDetect, models.ErrDetectionFailed, err)
	}

	out, err := d.gw.GenerateStructured(ctx, prompt, Schema)
	if err != nil {
		return models.DetectionResult{}, models.NewStageError(models.StageDetect, models.ErrDetectionFailed, err)
	}

	res := models.DetectionResult{
		IsEmergency: schema.BoolField(out, "isEmergency"),
		Keywords:    NormalizeKeywords(schema.StringsField(out, "keywords")),
	}
	if !res.IsEmergency && len(res.Keywords) > 0 {
		return models.DetectionResult{}, models.NewStageError(models.StageDetect, models.ErrDetectionFailed,
			fmt.Errorf("not an emergency but %d keywords returned", len(res.Keywords)))
	}
	return res, nil
}

// NormalizeKeywords trims and lower-cases keywords, dropping empties and
// duplicates while keeping first-seen order. It never returns nil.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.Join(strings.Fields(k), " "))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
