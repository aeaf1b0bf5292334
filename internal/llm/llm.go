// Package llm is the boundary to the language model used for report
// synthesis.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Unavailable is a Completer that always fails with err. It stands in when
// no model is configured so callers take their fallback path.
func Unavailable(err error) Completer {
	return CompleterFunc(func(context.Context, string) (string, error) { return "", err })
}
