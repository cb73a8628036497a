package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bbn/patchbay/internal/engine"
	"github.com/bbn/patchbay/internal/store"
)

// handleInlet triggers a patch run and streams its lifecycle events over SSE.
// Request-shape problems fail fast with plain 400s; anything after the stream
// opens travels as an error event, since the 200 is already committed.
func (s *Server) handleInlet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "Invalid patch ID", http.StatusBadRequest)
		return
	}

	var initial any
	raw, err := readBody(r)
	if err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &initial); err != nil {
			http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
			return
		}
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	def, err := s.loadPatch(r, id)
	if err != nil {
		msg := "failed to load patch " + id
		if errors.Is(err, store.ErrNotFound) {
			msg = "patch " + id + " not found"
		}
		_ = sse.errorEvent(&engine.ErrorInfo{Message: msg})
		return
	}

	events, err := s.runner.Run(r.Context(), def, initial)
	if err != nil {
		// Validation or cycle failure, before any node ran.
		_ = sse.errorEvent(&engine.ErrorInfo{Message: err.Error(), Kind: engine.ErrorKind(err)})
		return
	}

	keepalive := newKeepaliveTicker()
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-keepalive.C:
			if err := sse.keepalive(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.data(ev); err != nil {
				return
			}
		}
	}
}
