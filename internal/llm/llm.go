// Package llm wraps chat-completion backends that answer with a single JSON
// object. Every failure, including a malformed answer, surfaces as an
// *ExternalServiceError.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Request is one system+user prompt pair.
type Request struct {
	System string
	Prompt string

	// MaxTokens overrides the client default when positive.
	MaxTokens int
}

// Completer returns the raw text of a JSON-mode chat completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Validator is implemented by response schemas. Validate reports missing
// or out-of-range fields after decoding.
type Validator interface {
	Validate() error
}

// Call runs req against c and strictly decodes the answer into out.
func Call(ctx context.Context, c Completer, op string, req Request, out Validator) error {
	raw, err := c.Complete(ctx, req)
	if err != nil {
		var ese *ExternalServiceError
		if errors.As(err, &ese) {
			return err
		}
		return &ExternalServiceError{Op: op, Err: err}
	}
	if err := Decode(raw, out); err != nil {
		return &ExternalServiceError{Op: op, Err: err}
	}
	return nil
}

// Decode parses raw as exactly one JSON object and validates it.
// Trailing content after the object is rejected.
func Decode(raw string, out Validator) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected content after JSON object")
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
