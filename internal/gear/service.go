package gear

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bbn/patchbay/internal/llm"
	"github.com/bbn/patchbay/internal/metrics"
	"github.com/bbn/patchbay/internal/store"
)

// StatusPublisher receives processing-state transitions for a gear. The
// server's status bus implements it; a nil publisher is allowed.
type StatusPublisher interface {
	Publish(gearID, status string, data any)
}

// Status values published at processing transitions.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// ErrExists is returned by Create for a duplicate gear id.
var ErrExists = errors.New("gear already exists")

// ProcessOptions control one ingress.
type ProcessOptions struct {
	// NoLog skips the audit log entry.
	NoLog bool
	// NoForward skips fan-out to OutputURLs.
	NoForward bool
	// Source is recorded in the log entry: a SourceRef for forwarded
	// ingress, a string for direct callers.
	Source any
}

// Service owns gear persistence and processing. Concurrent ingress to the
// same gear is serialized through a per-gear lock table so the log cap and
// newest-first ordering hold under load.
type Service struct {
	Store     store.Store
	LLM       llm.Client
	Forwarder *Forwarder
	Status    StatusPublisher
	Logger    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires a Service. Status may be nil.
func NewService(st store.Store, client llm.Client, fwd *Forwarder, status StatusPublisher, logger zerolog.Logger) *Service {
	return &Service{
		Store:     st,
		LLM:       client,
		Forwarder: fwd,
		Status:    status,
		Logger:    logger,
		locks:     map[string]*sync.Mutex{},
	}
}

func (s *Service) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = map[string]*sync.Mutex{}
	}
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create persists a new gear. Returns ErrExists when the id is taken.
func (s *Service) Create(ctx context.Context, g *Gear) error {
	key := store.GearKey(g.ID)
	if _, err := s.Store.Get(ctx, key); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, g.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.Save(ctx, g)
}

// Load fetches a gear by id. store.ErrNotFound passes through.
func (s *Service) Load(ctx context.Context, id string) (*Gear, error) {
	raw, err := s.Store.Get(ctx, store.GearKey(id))
	if err != nil {
		return nil, err
	}
	var g Gear
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode gear %s: %w", id, err)
	}
	return &g, nil
}

// Save persists a gear under its key.
func (s *Service) Save(ctx context.Context, g *Gear) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode gear %s: %w", g.ID, err)
	}
	return s.Store.Put(ctx, store.GearKey(g.ID), raw)
}

// List returns all stored gears, ordered by key.
func (s *Service) List(ctx context.Context) ([]*Gear, error) {
	keys, err := s.Store.ListKeys(ctx, store.GearPrefix())
	if err != nil {
		return nil, err
	}
	gears := make([]*Gear, 0, len(keys))
	for _, key := range keys {
		raw, err := s.Store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // deleted between list and get
			}
			return nil, err
		}
		var g Gear
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		gears = append(gears, &g)
	}
	return gears, nil
}

// DeleteByID removes a gear. store.ErrNotFound passes through.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	return s.Store.Delete(ctx, store.GearKey(id))
}

// Process runs one direct ingress: compose the prompt from the gear's system
// messages plus direct, invoke the LLM, log, persist, and fan out. The
// Inputs map is untouched on this path.
func (s *Service) Process(ctx context.Context, id string, direct any, opts ProcessOptions) (string, error) {
	return s.process(ctx, id, direct, func(g *Gear) any { return direct }, opts)
}

// ProcessInput stores payload under sourceID and processes with the full
// accumulated input map, supporting multi-source fan-in.
func (s *Service) ProcessInput(ctx context.Context, id, sourceID string, payload any, opts ProcessOptions) (string, error) {
	return s.process(ctx, id, payload, func(g *Gear) any {
		g.SetInput(sourceID, payload)
		return g.Inputs
	}, opts)
}

// process is the shared pipeline: lock, load, publish processing, prompt,
// complete, log (before fan-out), persist, fan out, publish terminal status.
func (s *Service) process(ctx context.Context, id string, logged any, promptInput func(g *Gear) any, opts ProcessOptions) (out string, err error) {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	g, err := s.Load(ctx, id)
	if err != nil {
		return "", err
	}

	s.publish(id, StatusProcessing, map[string]any{"source": opts.Source})
	defer func() {
		if err != nil {
			metrics.GearProcessed.WithLabelValues("error").Inc()
			s.publish(id, StatusError, map[string]any{"message": err.Error()})
		} else {
			metrics.GearProcessed.WithLabelValues("ok").Inc()
			s.publish(id, StatusComplete, map[string]any{"output": out})
		}
	}()

	input := promptInput(g)
	msgs := composePrompt(g, input)

	out, err = s.LLM.Complete(ctx, msgs)
	if err != nil {
		return "", err
	}

	if !opts.NoLog {
		source := opts.Source
		if source == nil {
			source = "direct"
		}
		g.PrependLog(LogEntry{Input: logged, Output: out, Source: source})
	}
	if err := s.Save(ctx, g); err != nil {
		return "", err
	}

	// Log is durable before any downstream sees the output. Fan-out runs
	// detached from the request and never reports back to the caller.
	if !opts.NoForward && len(g.OutputURLs) > 0 && s.Forwarder != nil {
		urls := append([]string(nil), g.OutputURLs...)
		go s.Forwarder.Forward(context.Background(), g.Ref(), urls, out)
	}
	return out, nil
}

// composePrompt builds the ordered message list: system messages first, then
// authored examples, then the conversation history, then the current input
// as the final user message.
func composePrompt(g *Gear, input any) []llm.Message {
	var msgs []llm.Message
	for _, m := range g.Messages {
		if m.Role == RoleSystem {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		}
	}
	for _, ex := range g.ExampleInputs {
		msgs = append(msgs, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Example input: " + encodeJSON(ex),
		})
	}
	for _, m := range g.Messages {
		if m.Role != RoleSystem {
			msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: encodeJSON(input)})
	return msgs
}

func encodeJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return llm.Stringify(v)
	}
	return string(raw)
}

func (s *Service) publish(gearID, status string, data any) {
	if s.Status == nil {
		return
	}
	s.Status.Publish(gearID, status, data)
}
