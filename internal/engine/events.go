package engine

import "time"

// EventType tags a run lifecycle record.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventNodeStart   EventType = "node_start"
	EventNodeSuccess EventType = "node_success"
	EventNodeError   EventType = "node_error"
	EventRunComplete EventType = "run_complete"
)

// ErrorInfo is the wire shape of a node failure. Stack is populated only when
// the runner is in dev mode.
type ErrorInfo struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Event is one record in a run's lifecycle stream.
//
// Per run: exactly one run_start first and one run_complete last; each
// executed node contributes one node_start followed by exactly one of
// node_success or node_error; after the first node_error no further
// node_start is emitted.
type Event struct {
	Type   EventType  `json:"type"`
	RunID  string     `json:"runId,omitempty"`
	NodeID string     `json:"nodeId,omitempty"`
	TS     time.Time  `json:"ts"`
	Input  any        `json:"input,omitempty"`
	Output any        `json:"output,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}
