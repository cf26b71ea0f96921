// Package chat answers free-form first-aid questions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/schema"
	"github.com/sudarshan922/insta-first-aid/internal/service/gateway"
)

// Schema is the structured output requested from the gateway.
var Schema = schema.New("ChatResponse",
	schema.Field{
		Name:        "response",
		Type:        schema.String,
		Description: "The assistant's response to the user query.",
		Required:    true,
	},
)

var promptTemplate = template.Must(template.New("chat").Parse(`You are a helpful assistant specializing in first aid. A user will ask a question about first aid, and you should provide a clear, concise, and helpful response.

User Query: {{.}}`))

// Assistant answers first-aid questions. It is safe for concurrent use.
type Assistant struct {
	gw gateway.Gateway
}

// New creates an assistant backed by gw.
func New(gw gateway.Gateway) *Assistant {
	return &Assistant{gw: gw}
}

// Ask returns the model's answer to query.
func (a *Assistant) Ask(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: empty question", models.ErrInvalidQuery)
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, query); err != nil {
		return "", models.NewStageError(models.StageChat, models.ErrChatFailed, err)
	}

	out, err := a.gw.GenerateStructured(ctx, b.String(), Schema)
	if err != nil {
		return "", models.NewStageError(models.StageChat, models.ErrChatFailed, err)
	}

	resp := strings.TrimSpace(schema.StringField(out, "response"))
	if resp == "" {
		return "", models.NewStageError(models.StageChat, models.ErrChatFailed, errors.New("empty response"))
	}
	return resp, nil
}
