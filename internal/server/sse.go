package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const keepaliveInterval = 30 * time.Second

func newKeepaliveTicker() *time.Ticker {
	return time.NewTicker(keepaliveInterval)
}

// sseWriter frames JSON values as Server-Sent Events. Construction commits
// the 200 and the event-stream headers; everything after that travels
// in-band.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// data writes a `data: <json>` frame.
func (s *sseWriter) data(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// errorEvent writes an `event: error` frame. The caller closes the stream
// afterwards.
func (s *sseWriter) errorEvent(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", raw); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// keepalive writes a comment frame.
func (s *sseWriter) keepalive() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
