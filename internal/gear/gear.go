// Package gear implements the stateful processing units a patch is wired
// from: prompt messages, example inputs, multi-source fan-in, a bounded
// audit log, and push-forwarding to downstream gears by URL.
package gear

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxLogEntries caps a gear's audit log. Oldest entries fall off the tail.
const MaxLogEntries = 50

// Role values permitted in gear messages. Anything else coerces to user on
// ingress.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CoerceRole maps unknown roles to user.
func CoerceRole(role string) string {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return role
	default:
		return RoleUser
	}
}

// Message is one prompt entry authored on a gear.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SourceRef identifies the gear a forwarded payload came from.
type SourceRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// LogEntry records one ingress: what came in, what went out, and from whom.
// Source is either a SourceRef or a free-form string for direct callers.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Input     any       `json:"input"`
	Output    any       `json:"output"`
	Source    any       `json:"source"`
}

// Gear is the persisted state of one processing unit.
type Gear struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Messages      []Message      `json:"messages"`
	ExampleInputs []any          `json:"exampleInputs"`
	Inputs        map[string]any `json:"inputs,omitempty"`
	OutputURLs    []string       `json:"outputUrls"`
	Log           []LogEntry     `json:"log"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// New returns an empty gear with timestamps set.
func New(id, label string) *Gear {
	now := time.Now().UTC()
	return &Gear{
		ID:            id,
		Label:         label,
		Messages:      []Message{},
		ExampleInputs: []any{},
		OutputURLs:    []string{},
		Log:           []LogEntry{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Touch bumps UpdatedAt, keeping it non-decreasing.
func (g *Gear) Touch() {
	now := time.Now().UTC()
	if now.After(g.UpdatedAt) {
		g.UpdatedAt = now
	}
}

// DisplayLabel returns the label, falling back to the id.
func (g *Gear) DisplayLabel() string {
	if g.Label != "" {
		return g.Label
	}
	return g.ID
}

// Ref returns the gear's identity for forwarded payloads and log sources.
func (g *Gear) Ref() SourceRef {
	return SourceRef{ID: g.ID, Label: g.DisplayLabel()}
}

// AddMessage appends msg with a coerced role, assigning a ULID when the id is
// empty. A user message whose content equals the current trailing user
// message is skipped: chat clients send the latest message both in history
// and standalone, and it must land once.
func (g *Gear) AddMessage(msg Message) bool {
	msg.Role = CoerceRole(msg.Role)
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Role == RoleUser && len(g.Messages) > 0 {
		last := g.Messages[len(g.Messages)-1]
		if last.Role == RoleUser && last.Content == msg.Content {
			return false
		}
	}
	g.Messages = append(g.Messages, msg)
	g.Touch()
	return true
}

// SetLabel replaces the label.
func (g *Gear) SetLabel(label string) {
	g.Label = label
	g.Touch()
}

// SetOutputURLs replaces the downstream wiring.
func (g *Gear) SetOutputURLs(urls []string) {
	if urls == nil {
		urls = []string{}
	}
	g.OutputURLs = urls
	g.Touch()
}

// SetExampleInputs replaces the authored examples.
func (g *Gear) SetExampleInputs(examples []any) {
	if examples == nil {
		examples = []any{}
	}
	g.ExampleInputs = examples
	g.Touch()
}

// SetInput stores a payload under its source id, overwriting any previous
// payload from that source. Inputs accumulate across calls for fan-in.
func (g *Gear) SetInput(sourceID string, payload any) {
	if g.Inputs == nil {
		g.Inputs = map[string]any{}
	}
	g.Inputs[sourceID] = payload
	g.Touch()
}

// PrependLog inserts entry at the head and trims past MaxLogEntries. The log
// is newest-first.
func (g *Gear) PrependLog(entry LogEntry) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	g.Log = append([]LogEntry{entry}, g.Log...)
	if len(g.Log) > MaxLogEntries {
		g.Log = g.Log[:MaxLogEntries]
	}
	g.Touch()
}
