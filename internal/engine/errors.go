package engine

import (
	"errors"
	"fmt"

	"github.com/bbn/patchbay/internal/outlet"
	"github.com/bbn/patchbay/internal/urlguard"
)

// ErrCycle is returned when the edge set does not induce a DAG.
var ErrCycle = errors.New("cycle detected")

// InvalidPatchError indicates a structurally broken definition. It surfaces
// before the first node starts, never as a node_error event.
type InvalidPatchError struct {
	Reason string
}

func (e *InvalidPatchError) Error() string {
	return "invalid patch: " + e.Reason
}

// TimeoutError indicates an outbound node call exceeded its deadline.
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout calling %s", e.URL)
}

// HTTPStatusError indicates a non-2xx response from an http node.
type HTTPStatusError struct {
	Code   int
	Reason string
}

func (e *HTTPStatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("downstream returned status %d", e.Code)
	}
	return fmt.Sprintf("downstream returned status %d: %s", e.Code, e.Reason)
}

// ErrorKind classifies an execution error for event payloads. Unclassified
// errors map to the empty string.
func ErrorKind(err error) string {
	var (
		invalid    *InvalidPatchError
		timeout    *TimeoutError
		status     *HTTPStatusError
		badURL     *urlguard.InvalidURLError
		disallowed *urlguard.DisallowedHostError
		missing    *outlet.NotRegisteredError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCycle):
		return "CycleDetected"
	case errors.As(err, &invalid):
		return "InvalidPatch"
	case errors.As(err, &timeout):
		return "Timeout"
	case errors.As(err, &status):
		return fmt.Sprintf("HttpStatus{%d}", status.Code)
	case errors.As(err, &badURL):
		return "InvalidUrl"
	case errors.As(err, &disallowed):
		return "DisallowedHost"
	case errors.As(err, &missing):
		return "LocalFnMissing"
	default:
		return ""
	}
}
