package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlpdb/nlpdb/internal/schema"
)

type Request struct {
	Snapshot        schema.Snapshot
	NaturalLanguage string
}

type Result struct {
	SQL      string `json:"sql"`
	Raw      string `json:"raw"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// CompletionTranslator renders the prompt, asks the completion service and
// cleans what comes back.
type CompletionTranslator struct {
	completer Completer
	params    Params
	model     string
}

func NewCompletionTranslator(completer Completer, params Params, model string) *CompletionTranslator {
	return &CompletionTranslator{completer: completer, params: params, model: model}
}

func (t *CompletionTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.NaturalLanguage) == "" {
		return Result{}, fmt.Errorf("%w: request text is empty", ErrNoValidSQL)
	}
	prompt := BuildPrompt(req.Snapshot, req.NaturalLanguage, t.params)
	raw, err := t.completer.Complete(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	sql, err := Clean(raw)
	if err != nil {
		return Result{Raw: raw}, err
	}
	return Result{
		SQL:      sql,
		Raw:      raw,
		Provider: "openai-compatible",
		Model:    t.model,
	}, nil
}
