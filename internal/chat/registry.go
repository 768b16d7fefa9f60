package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrNotFinalized     = errors.New("handler registry not finalized")
	ErrAlreadyFinalized = errors.New("handler registry already finalized")
	ErrNoHandler        = errors.New("no chat handler registered")
)

// Registry collects chat handlers during startup and selects one active
// handler at finalization. Registered extension handlers take precedence over
// the default; among extensions, registration order wins.
type Registry struct {
	mu         sync.Mutex
	logger     *slog.Logger
	extensions []Handler
	fallback   Handler
	active     Handler
	finalized  bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{logger: log.With(slog.String("service", "chat"))}
}

// Register adds an extension handler. Registration closes at finalization.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrAlreadyFinalized
	}
	r.extensions = append(r.extensions, h)
	r.logger.Info("handler registered", slog.String("handler", h.Name()))
	return nil
}

// SetDefault installs the fallback handler used when no extension registers.
func (r *Registry) SetDefault(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrAlreadyFinalized
	}
	r.fallback = h
	return nil
}

// Finalize closes registration and selects the active handler. Calling it
// twice is an error, as is finalizing with nothing registered.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrAlreadyFinalized
	}
	switch {
	case len(r.extensions) > 0:
		r.active = r.extensions[0]
		if len(r.extensions) > 1 {
			r.logger.Warn("multiple extension handlers registered, using first",
				slog.String("handler", r.active.Name()),
				slog.Int("registered", len(r.extensions)),
			)
		}
	case r.fallback != nil:
		r.active = r.fallback
	default:
		return ErrNoHandler
	}
	r.finalized = true
	r.logger.Info("handler registry finalized", slog.String("active", r.active.Name()))
	return nil
}

// Handler returns the active handler. It fails before Finalize so a
// misordered startup surfaces immediately instead of racing registration.
func (r *Registry) Handler() (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finalized {
		return nil, ErrNotFinalized
	}
	return r.active, nil
}
