// Package providers holds the completion-service client used for reply
// generation, memory extraction, session summaries and history compression.
package providers

import (
	"context"
	"errors"
)

// Message is the provider-agnostic prompt message representation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat selects the completion output shape.
type ResponseFormat string

const (
	FormatText ResponseFormat = ""
	FormatJSON ResponseFormat = "json_object"
)

// ErrEmptyCompletion is returned when the service answers with no usable
// content. Callers must treat it as a failed generation attempt.
var ErrEmptyCompletion = errors.New("completion service returned empty output")

// Completer is the single external generation dependency of the memory layer.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message, format ResponseFormat) (string, error)
}
