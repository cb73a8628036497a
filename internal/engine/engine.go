// Package engine executes patches: directed acyclic graphs of local and
// remote nodes. A run emits a strictly ordered lifecycle event stream and
// short-circuits on the first node failure.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	rdebug "runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bbn/patchbay/internal/metrics"
	"github.com/bbn/patchbay/internal/outlet"
	"github.com/bbn/patchbay/internal/urlguard"
)

const maxNodeResponseBytes = 4 << 20

// Runner executes patch definitions. Construct once and share; a Runner has
// no per-run state.
type Runner struct {
	Outlets     *outlet.Registry
	Guard       *urlguard.Guard
	HTTPClient  *http.Client
	NodeTimeout time.Duration
	Logger      zerolog.Logger

	// DevMode includes stack traces in node_error payloads.
	DevMode bool
}

// NewRunner wires a Runner with the default outlet registry and a plain
// http.Client. Callers override fields before first use.
func NewRunner(guard *urlguard.Guard, logger zerolog.Logger) *Runner {
	return &Runner{
		Outlets:     outlet.Default(),
		Guard:       guard,
		HTTPClient:  &http.Client{},
		NodeTimeout: urlguard.DefaultNodeTimeout,
		Logger:      logger,
	}
}

// Run validates def, computes the execution order, and returns a lazy event
// stream. Startup failures (invalid definition, cycle) are returned
// synchronously and no events are produced. Execution failures surface as a
// node_error event followed by run_complete.
//
// The channel is unbuffered: events are produced as the consumer reads them.
// Canceling ctx aborts the in-flight node and ends the stream.
func (r *Runner) Run(ctx context.Context, def *Definition, initial any) (<-chan Event, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	ids := make([]string, len(def.Nodes))
	byID := make(map[string]Node, len(def.Nodes))
	for i, n := range def.Nodes {
		ids[i] = n.ID
		byID[n.ID] = n
	}
	order, err := TopoSort(ids, def.Edges)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	metrics.RunsStarted.Inc()
	r.Logger.Info().Str("run_id", runID).Str("patch_id", def.ID).Int("nodes", len(order)).Msg("run started")

	ch := make(chan Event)
	go func() {
		defer close(ch)
		if !emit(ctx, ch, Event{Type: EventRunStart, RunID: runID, TS: time.Now().UTC()}) {
			return
		}

		outputs := make(map[string]any, len(order))
		for _, nodeID := range order {
			node := byID[nodeID]
			input := resolveInput(nodeID, def.Edges, outputs, initial)

			if !emit(ctx, ch, Event{Type: EventNodeStart, NodeID: nodeID, TS: time.Now().UTC(), Input: input}) {
				return
			}

			output, err := r.execNode(ctx, node, input)
			if err != nil {
				metrics.NodeErrors.Inc()
				r.Logger.Warn().Str("run_id", runID).Str("node_id", nodeID).Err(err).Msg("node failed")
				info := &ErrorInfo{Message: err.Error(), Kind: ErrorKind(err)}
				if r.DevMode {
					info.Stack = string(rdebug.Stack())
				}
				if !emit(ctx, ch, Event{Type: EventNodeError, NodeID: nodeID, TS: time.Now().UTC(), Error: info}) {
					return
				}
				emit(ctx, ch, Event{Type: EventRunComplete, RunID: runID, TS: time.Now().UTC()})
				return
			}

			outputs[nodeID] = output
			if !emit(ctx, ch, Event{Type: EventNodeSuccess, NodeID: nodeID, TS: time.Now().UTC(), Output: output}) {
				return
			}
		}

		emit(ctx, ch, Event{Type: EventRunComplete, RunID: runID, TS: time.Now().UTC()})
		r.Logger.Info().Str("run_id", runID).Msg("run complete")
	}()
	return ch, nil
}

// resolveInput selects a node's input from its incoming edges: none means
// the initial payload, one means that parent's output, several mean an
// ordered list of parent outputs in edge-list order.
func resolveInput(nodeID string, edges []Edge, outputs map[string]any, initial any) any {
	var sources []string
	for _, e := range edges {
		if e.Target == nodeID {
			sources = append(sources, e.Source)
		}
	}
	switch len(sources) {
	case 0:
		return initial
	case 1:
		return outputs[sources[0]]
	default:
		inputs := make([]any, len(sources))
		for i, src := range sources {
			inputs[i] = outputs[src]
		}
		return inputs
	}
}

func (r *Runner) execNode(ctx context.Context, node Node, input any) (any, error) {
	switch node.Kind {
	case KindLocal:
		fn, err := r.Outlets.Lookup(node.Fn)
		if err != nil {
			return nil, err
		}
		return fn(ctx, input)
	case KindHTTP:
		return r.execHTTP(ctx, node, input)
	default:
		return nil, &InvalidPatchError{Reason: fmt.Sprintf("node %q: unknown kind %q", node.ID, node.Kind)}
	}
}

func (r *Runner) execHTTP(ctx context.Context, node Node, input any) (any, error) {
	u, err := r.Guard.ValidateHTTPURL(ctx, node.URL)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input for node %q: %w", node.ID, err)
	}

	callCtx, cancel := urlguard.WithTimeout(ctx, r.NodeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{URL: node.URL}
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxNodeResponseBytes))
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{URL: node.URL}
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{Code: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var output any
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, fmt.Errorf("decode response from node %q: %w", node.ID, err)
	}
	return output, nil
}

// emit delivers ev unless the consumer is gone. Returns false when the run
// should stop producing.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
