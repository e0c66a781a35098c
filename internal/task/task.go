// Package task holds the job bodies workers execute, keyed by job kind.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kzinmr/jobpoll/pkg/models"
)

var (
	ErrUnknownKind   = errors.New("unknown job kind")
	ErrDuplicateKind = errors.New("job kind already registered")
	ErrInvalidParams = errors.New("invalid job params")
)

// Reporter receives progress updates from a running job body.
type Reporter interface {
	Progress(ctx context.Context, current, total int, message string) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, current, total int, message string) error

func (f ReporterFunc) Progress(ctx context.Context, current, total int, message string) error {
	return f(ctx, current, total, message)
}

// Handler is a job body. Decode must reject malformed params so that no
// work starts for them; Run performs the work and reports progress.
type Handler interface {
	Kind() string
	Decode(raw json.RawMessage) (any, error)
	Run(ctx context.Context, params any, r Reporter) (*models.Result, error)
}

// Registry maps job kinds to handlers. It is built at startup and read-only
// afterwards.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry registers every handler in hs.
func NewRegistry(hs ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(hs))}
	for _, h := range hs {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(h Handler) error {
	kind := h.Kind()
	if kind == "" {
		return fmt.Errorf("%w: empty kind", ErrUnknownKind)
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKind, kind)
	}
	r.handlers[kind] = h
	return nil
}

func (r *Registry) Get(kind string) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
