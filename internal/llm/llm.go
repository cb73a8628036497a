// Package llm is the completion collaborator behind gear processing. The
// engine only needs ordered messages in and text out; providers stay behind
// the Client interface.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role values mirror the chat roles gears store.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in an ordered prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FinishFunc receives the fully assembled assistant message once a stream
// completes.
type FinishFunc func(full string)

// Client produces completions. Complete blocks for the full text; Stream
// delivers tokens as they arrive and invokes onFinish with the assembled
// message. Implementations tolerate empty content and stringify non-string
// assistant content.
type Client interface {
	Complete(ctx context.Context, msgs []Message) (string, error)
	Stream(ctx context.Context, msgs []Message, onToken func(token string), onFinish FinishFunc) error
}

// FailureError wraps any provider-side failure so callers can classify it
// without knowing the provider.
type FailureError struct {
	Provider string
	Err      error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("llm failure (%s): %v", e.Provider, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Stringify renders arbitrary assistant content as prompt text.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", s))
	}
}
