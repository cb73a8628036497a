package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bbn/patchbay/internal/urlguard"
)

func testRunner() *Runner {
	guard := urlguard.New([]string{"127.0.0.1", "localhost"})
	return NewRunner(guard, zerolog.Nop())
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out draining events, got %d so far", len(events))
		}
	}
}

func localDef(nodes []Node, edges []Edge) *Definition {
	return &Definition{ID: "p1", Name: "test", Nodes: nodes, Edges: edges}
}

func TestRun_EchoChain(t *testing.T) {
	r := testRunner()
	def := localDef(
		[]Node{{ID: "a", Kind: KindLocal, Fn: "echoGear"}},
		[]Edge{},
	)

	ch, err := r.Run(context.Background(), def, map[string]any{"msg": "hi"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 4)
	require.Equal(t, EventRunStart, events[0].Type)
	require.Equal(t, EventNodeStart, events[1].Type)
	require.Equal(t, "a", events[1].NodeID)
	require.Equal(t, map[string]any{"msg": "hi"}, events[1].Input)
	require.Equal(t, EventNodeSuccess, events[2].Type)
	require.Equal(t, map[string]any{"echo": "hi"}, events[2].Output)
	require.Equal(t, EventRunComplete, events[3].Type)
	require.Equal(t, events[0].RunID, events[3].RunID)
	require.NotEmpty(t, events[0].RunID)
}

func TestRun_TwoNodePipeline(t *testing.T) {
	r := testRunner()
	def := localDef(
		[]Node{
			{ID: "a", Kind: KindLocal, Fn: "echoGear"},
			{ID: "b", Kind: KindLocal, Fn: "echoGear"},
		},
		[]Edge{{Source: "a", Target: "b"}},
	)

	ch, err := r.Run(context.Background(), def, map[string]any{"msg": "x"})
	require.NoError(t, err)
	events := collect(t, ch)

	// run_start, a start/success, b start/success, run_complete
	require.Len(t, events, 6)
	require.Equal(t, map[string]any{"msg": "x"}, events[1].Input)
	require.Equal(t, map[string]any{"echo": "x"}, events[2].Output)
	// b's input is a's output, independent of what b makes of it.
	require.Equal(t, "b", events[3].NodeID)
	require.Equal(t, map[string]any{"echo": "x"}, events[3].Input)
	require.Equal(t, EventNodeSuccess, events[4].Type)
	require.Equal(t, EventRunComplete, events[5].Type)
}

func TestRun_CycleRejectedAtStartup(t *testing.T) {
	r := testRunner()
	def := localDef(
		[]Node{
			{ID: "a", Kind: KindLocal, Fn: "echoGear"},
			{ID: "b", Kind: KindLocal, Fn: "echoGear"},
		},
		[]Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	)

	_, err := r.Run(context.Background(), def, nil)
	require.ErrorIs(t, err, ErrCycle)
}

func TestRun_InvalidDefinitions(t *testing.T) {
	r := testRunner()
	cases := []struct {
		name string
		def  *Definition
	}{
		{"nil nodes", &Definition{Edges: []Edge{}}},
		{"nil edges", &Definition{Nodes: []Node{}}},
		{"duplicate ids", localDef([]Node{
			{ID: "a", Kind: KindLocal, Fn: "echoGear"},
			{ID: "a", Kind: KindLocal, Fn: "echoGear"},
		}, []Edge{})},
		{"edge to unknown node", localDef([]Node{
			{ID: "a", Kind: KindLocal, Fn: "echoGear"},
		}, []Edge{{Source: "a", Target: "ghost"}})},
		{"local without fn", localDef([]Node{{ID: "a", Kind: KindLocal}}, []Edge{})},
		{"http without url", localDef([]Node{{ID: "a", Kind: KindHTTP}}, []Edge{})},
		{"unknown kind", localDef([]Node{{ID: "a", Kind: "grpc"}}, []Edge{})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Run(context.Background(), tc.def, nil)
			var invalid *InvalidPatchError
			require.ErrorAs(t, err, &invalid)
		})
	}
}

func TestRun_EmptyPatch(t *testing.T) {
	r := testRunner()
	ch, err := r.Run(context.Background(), localDef([]Node{}, []Edge{}), map[string]any{"x": 1})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 2)
	require.Equal(t, EventRunStart, events[0].Type)
	require.Equal(t, EventRunComplete, events[1].Type)
}

func TestRun_MultiParentFanIn(t *testing.T) {
	r := testRunner()
	def := localDef(
		[]Node{
			{ID: "a", Kind: KindLocal, Fn: "echoGear"},
			{ID: "b", Kind: KindLocal, Fn: "echoGear"},
			{ID: "join", Kind: KindLocal, Fn: "echoGear"},
		},
		[]Edge{
			{Source: "b", Target: "join"},
			{Source: "a", Target: "join"},
		},
	)

	ch, err := r.Run(context.Background(), def, map[string]any{"msg": "m"})
	require.NoError(t, err)
	events := collect(t, ch)

	var joinStart *Event
	for i := range events {
		if events[i].Type == EventNodeStart && events[i].NodeID == "join" {
			joinStart = &events[i]
		}
	}
	require.NotNil(t, joinStart)
	// Edge-list order: b's output first, then a's.
	require.Equal(t, []any{
		map[string]any{"echo": "m"},
		map[string]any{"echo": "m"},
	}, joinStart.Input)
}

func TestRun_LocalFnMissing(t *testing.T) {
	r := testRunner()
	def := localDef([]Node{{ID: "a", Kind: KindLocal, Fn: "noSuchFn"}}, []Edge{})

	ch, err := r.Run(context.Background(), def, nil)
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 4)
	require.Equal(t, EventNodeError, events[2].Type)
	require.Equal(t, "LocalFnMissing", events[2].Error.Kind)
	require.Equal(t, EventRunComplete, events[3].Type)
}

func TestRun_ShortCircuitAfterNodeError(t *testing.T) {
	r := testRunner()
	def := localDef(
		[]Node{
			{ID: "bad", Kind: KindLocal, Fn: "noSuchFn"},
			{ID: "after", Kind: KindLocal, Fn: "echoGear"},
		},
		[]Edge{{Source: "bad", Target: "after"}},
	)

	ch, err := r.Run(context.Background(), def, nil)
	require.NoError(t, err)
	events := collect(t, ch)

	for _, ev := range events {
		require.NotEqual(t, "after", ev.NodeID, "node after a failure must never start")
	}
	require.Equal(t, EventNodeError, events[2].Type)
	require.Equal(t, EventRunComplete, events[3].Type)
}

func TestRun_HTTPNode(t *testing.T) {
	var gotBody map[string]any
	var gotContentType, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotContentType = req.Header.Get("Content-Type")
		gotAccept = req.Header.Get("Accept")
		_ = json.NewDecoder(req.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	r := testRunner()
	def := localDef([]Node{{ID: "remote", Kind: KindHTTP, URL: srv.URL + "/gears/x"}}, []Edge{})

	ch, err := r.Run(context.Background(), def, map[string]any{"msg": "ping"})
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, EventNodeSuccess, events[2].Type)
	require.Equal(t, map[string]any{"ok": true}, events[2].Output)
	require.Equal(t, map[string]any{"msg": "ping"}, gotBody)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "application/json", gotAccept)
}

func TestRun_HTTPNodeNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	r := testRunner()
	def := localDef([]Node{{ID: "remote", Kind: KindHTTP, URL: srv.URL}}, []Edge{})

	ch, err := r.Run(context.Background(), def, nil)
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, EventNodeError, events[2].Type)
	require.Equal(t, "HttpStatus{502}", events[2].Error.Kind)
}

func TestRun_HTTPNodeDisallowedHost(t *testing.T) {
	r := NewRunner(urlguard.New(nil), zerolog.Nop())
	def := localDef([]Node{{ID: "remote", Kind: KindHTTP, URL: "http://10.0.0.9/hook"}}, []Edge{})

	ch, err := r.Run(context.Background(), def, nil)
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, EventNodeError, events[2].Type)
	require.Equal(t, "DisallowedHost", events[2].Error.Kind)
}

func TestRun_HTTPNodeTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	r := testRunner()
	r.NodeTimeout = 50 * time.Millisecond
	def := localDef([]Node{{ID: "slow", Kind: KindHTTP, URL: srv.URL}}, []Edge{})

	ch, err := r.Run(context.Background(), def, nil)
	require.NoError(t, err)
	events := collect(t, ch)

	require.Equal(t, EventNodeError, events[2].Type)
	require.Equal(t, "Timeout", events[2].Error.Kind)
}

func TestRun_CancelStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := testRunner()
	def := localDef(
		[]Node{
			{ID: "a", Kind: KindLocal, Fn: "echoGear"},
			{ID: "b", Kind: KindLocal, Fn: "echoGear"},
		},
		[]Edge{{Source: "a", Target: "b"}},
	)

	ch, err := r.Run(ctx, def, map[string]any{"msg": "x"})
	require.NoError(t, err)

	// Read the first event, then walk away.
	<-ch
	cancel()

	select {
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	case _, ok := <-ch:
		if ok {
			// One event may already be in flight; the channel must close soon after.
			for range ch {
			}
		}
	}
}

func TestRun_WellBracketedPerNode(t *testing.T) {
	r := testRunner()
	def := localDef(
		[]Node{
			{ID: "n1", Kind: KindLocal, Fn: "echoGear"},
			{ID: "n2", Kind: KindLocal, Fn: "echoGear"},
			{ID: "n3", Kind: KindLocal, Fn: "echoGear"},
		},
		[]Edge{{Source: "n1", Target: "n2"}, {Source: "n2", Target: "n3"}},
	)

	ch, err := r.Run(context.Background(), def, map[string]any{"msg": "y"})
	require.NoError(t, err)
	events := collect(t, ch)

	starts := map[string]int{}
	ends := map[string]int{}
	for _, ev := range events {
		switch ev.Type {
		case EventNodeStart:
			starts[ev.NodeID]++
			require.Equal(t, starts[ev.NodeID], ends[ev.NodeID]+1)
		case EventNodeSuccess, EventNodeError:
			ends[ev.NodeID]++
			require.Equal(t, starts[ev.NodeID], ends[ev.NodeID])
		}
	}
	require.Len(t, starts, 3)
	for id, n := range starts {
		require.Equal(t, 1, n, "node %s started %d times", id, n)
		require.Equal(t, 1, ends[id])
	}
	require.Equal(t, EventRunStart, events[0].Type)
	require.Equal(t, EventRunComplete, events[len(events)-1].Type)
}
