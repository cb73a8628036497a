package llm

import (
	"context"
	"strings"
)

// Scripted is a deterministic Client for tests and keyless development.
// Reply computes the completion from the prompt; when nil, the completion
// echoes the last user message.
type Scripted struct {
	Reply func(msgs []Message) string
	Err   error
}

func (s *Scripted) Complete(ctx context.Context, msgs []Message) (string, error) {
	if s.Err != nil {
		return "", &FailureError{Provider: "scripted", Err: s.Err}
	}
	if err := ctx.Err(); err != nil {
		return "", &FailureError{Provider: "scripted", Err: err}
	}
	return s.reply(msgs), nil
}

func (s *Scripted) Stream(ctx context.Context, msgs []Message, onToken func(string), onFinish FinishFunc) error {
	if s.Err != nil {
		return &FailureError{Provider: "scripted", Err: s.Err}
	}
	full := s.reply(msgs)
	if onToken != nil {
		for _, word := range strings.Fields(full) {
			if err := ctx.Err(); err != nil {
				return &FailureError{Provider: "scripted", Err: err}
			}
			onToken(word)
		}
	}
	if onFinish != nil {
		onFinish(full)
	}
	return nil
}

func (s *Scripted) reply(msgs []Message) string {
	if s.Reply != nil {
		return s.Reply(msgs)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
