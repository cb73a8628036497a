// Package server exposes the HTTP surface: the inlet that triggers patch
// runs, gear CRUD and ingress, per-gear status streams, and patch CRUD.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	rdebug "runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bbn/patchbay/internal/engine"
	"github.com/bbn/patchbay/internal/gear"
	"github.com/bbn/patchbay/internal/store"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string
	// DevMode includes stack traces in error envelopes.
	DevMode bool
}

// Server wires the HTTP surface over the engine, gear service, and status bus.
type Server struct {
	config  Config
	store   store.Store
	gears   *gear.Service
	runner  *engine.Runner
	bus     *StatusBus
	logger  zerolog.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server
}

// New creates a Server. The bus must be the same instance the gear service
// publishes to.
func New(cfg Config, st store.Store, gears *gear.Service, runner *engine.Runner, bus *StatusBus, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		store:   st,
		gears:   gears,
		runner:  runner,
		bus:     bus,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	mux := http.NewServeMux()

	// Go 1.22+ method+pattern routing.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /inlet/{id}", s.handleInlet)

	mux.HandleFunc("POST /gears", s.handleCreateGear)
	mux.HandleFunc("GET /gears", s.handleListGears)
	mux.HandleFunc("POST /gears/{id}", s.handleGearIngress)
	mux.HandleFunc("GET /gears/{id}", s.handleGetGear)
	mux.HandleFunc("PUT /gears/{id}", s.handleUpdateGear)
	mux.HandleFunc("GET /gears/{id}/status", s.handleGearStatus)

	mux.HandleFunc("POST /patches", s.handleCreatePatch)
	mux.HandleFunc("GET /patches", s.handleListPatches)
	mux.HandleFunc("GET /patches/{id}", s.handleGetPatch)
	mux.HandleFunc("PUT /patches/{id}", s.handleUpdatePatch)
	mux.HandleFunc("DELETE /patches/{id}", s.handleDeletePatch)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		s.logger.Info().Str("signal", sig.String()).Msg("shutting down")
		s.Shutdown()
	}()

	s.logger.Info().Str("addr", s.config.Addr).Msg("listening")
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains HTTP connections and cancels all in-flight runs and
// streams through the base context.
func (s *Server) Shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.cancel()
}

// csrfProtect rejects mutating cross-origin browser requests. Browsers set
// the Origin header on cross-origin requests; CLI and programmatic callers
// either omit it or match the server.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":{"message":"invalid Origin header"}}`, http.StatusForbidden)
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":{"message":"cross-origin request blocked"}}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// --- Helpers ---

type errorBody struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// maxBodyBytes caps request bodies read through readBody.
const maxBodyBytes = 8 << 20

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	body := errorBody{Message: msg}
	if s.config.DevMode {
		body.Stack = string(rdebug.Stack())
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}
