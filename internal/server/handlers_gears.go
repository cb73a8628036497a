package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bbn/patchbay/internal/gear"
	"github.com/bbn/patchbay/internal/llm"
	"github.com/bbn/patchbay/internal/store"
)

type createGearRequest struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Messages      []gear.Message `json:"messages"`
	OutputURLs    []string       `json:"outputUrls"`
	ExampleInputs []any          `json:"exampleInputs"`
}

func (s *Server) handleCreateGear(w http.ResponseWriter, r *http.Request) {
	var req createGearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	g := gear.New(req.ID, req.Label)
	for _, m := range req.Messages {
		g.AddMessage(m)
	}
	if req.OutputURLs != nil {
		g.SetOutputURLs(req.OutputURLs)
	}
	if req.ExampleInputs != nil {
		g.SetExampleInputs(req.ExampleInputs)
	}

	if err := s.gears.Create(r.Context(), g); err != nil {
		if errors.Is(err, gear.ErrExists) {
			s.writeError(w, http.StatusConflict, "gear "+req.ID+" already exists")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleListGears(w http.ResponseWriter, r *http.Request) {
	gears, err := s.gears.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gears)
}

func (s *Server) handleGetGear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g, err := s.gears.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "gear "+id+" not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body, err := json.Marshal(g)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sum := blake3.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type updateGearRequest struct {
	Label         *string         `json:"label"`
	Messages      *[]gear.Message `json:"messages"`
	OutputURLs    *[]string       `json:"outputUrls"`
	ExampleInputs *[]any          `json:"exampleInputs"`
	Log           *[]gear.LogEntry `json:"log"`
}

func (s *Server) handleUpdateGear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateGearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	g, err := s.gears.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "gear "+id+" not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Label != nil {
		g.SetLabel(*req.Label)
	}
	if req.Messages != nil {
		msgs := *req.Messages
		g.Messages = g.Messages[:0]
		for _, m := range msgs {
			g.AddMessage(m)
		}
		g.Touch()
	}
	if req.OutputURLs != nil {
		g.SetOutputURLs(*req.OutputURLs)
	}
	if req.ExampleInputs != nil {
		g.SetExampleInputs(*req.ExampleInputs)
	}
	if req.Log != nil {
		log := *req.Log
		if len(log) > gear.MaxLogEntries {
			log = log[:gear.MaxLogEntries]
		}
		g.Log = log
		g.Touch()
	}

	if err := s.gears.Save(r.Context(), g); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "updated": true})
}

// ingressRequest accepts both wire shapes on POST /gears/{id}: the forwarded
// form {data, source_gear:{id,label}} and the direct form {message, source}.
type ingressRequest struct {
	Data       any             `json:"data"`
	SourceGear *gear.SourceRef `json:"source_gear"`
	Message    any             `json:"message"`
	Source     string          `json:"source"`
}

func (s *Server) handleGearIngress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req ingressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if _, err := s.gears.Load(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "gear "+id+" not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	query := r.URL.Query()
	opts := gear.ProcessOptions{
		NoForward: query.Get("no_forward") == "true",
		NoLog:     query.Get("no_log") == "true",
	}

	var output string
	var err error
	if req.SourceGear != nil {
		opts.Source = *req.SourceGear
		output, err = s.gears.ProcessInput(r.Context(), id, req.SourceGear.ID, req.Data, opts)
	} else {
		if req.Source != "" {
			opts.Source = req.Source
		}
		output, err = s.gears.Process(r.Context(), id, req.Message, opts)
	}
	if err != nil {
		var failure *llm.FailureError
		if errors.As(err, &failure) {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"output": output})
}

func (s *Server) handleGearStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, unsub := s.bus.Subscribe(id)
	defer unsub()

	if err := sse.data(StatusEvent{Status: "connected"}); err != nil {
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
				// Dropped for slowness.
				return
			}
			if err := sse.data(ev); err != nil {
				return
			}
		}
	}
}
