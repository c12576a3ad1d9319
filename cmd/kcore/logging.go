package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

const (
	handlerTerminal = "terminal"
	handlerUI       = "ui"
)

//nolint:gochecknoglobals
var terminalOutput io.Writer = os.Stdout

func newTintHandler(w io.Writer, color bool) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
		NoColor:    !color,
	})
}

// setupLogging installs a [SlogManager] writing to the terminal as the
// default logger and returns it, so outputs can be swapped later.
func setupLogging() *SlogManager {
	logs := NewSlogManager()
	logs.AddHandler(handlerTerminal, newTintHandler(terminalOutput, true))

	slog.SetDefault(slog.New(logs))

	return logs
}

// SlogManager is a [slog.Handler] fanning records out to a named set of
// handlers that can change while logging goes on. Loggers derived with
// attributes or groups keep following the set of their root manager.
type SlogManager struct {
	root *slogRoot

	// derivations replay WithAttrs and WithGroup calls, in order, on each
	// handler of the root.
	derivations []func(slog.Handler) slog.Handler
}

type slogRoot struct {
	sync.RWMutex
	handlers map[string]slog.Handler
}

// NewSlogManager returns a pointer to a new, empty [SlogManager].
func NewSlogManager() *SlogManager {
	return &SlogManager{
		root: &slogRoot{handlers: make(map[string]slog.Handler)},
	}
}

func (m *SlogManager) derive(h slog.Handler) slog.Handler {
	for _, d := range m.derivations {
		h = d(h)
	}

	return h
}

func (m *SlogManager) with(d func(slog.Handler) slog.Handler) *SlogManager {
	derivations := make([]func(slog.Handler) slog.Handler, 0, len(m.derivations)+1)
	derivations = append(derivations, m.derivations...)

	return &SlogManager{
		root:        m.root,
		derivations: append(derivations, d),
	}
}

// Enabled implements [slog.Handler].
func (m *SlogManager) Enabled(ctx context.Context, level slog.Level) bool {
	m.root.RLock()
	defer m.root.RUnlock()

	for _, h := range m.root.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle implements [slog.Handler]. Failures of single handlers are ignored.
func (m *SlogManager) Handle(ctx context.Context, r slog.Record) error {
	m.root.RLock()
	defer m.root.RUnlock()

	for _, h := range m.root.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = m.derive(h).Handle(ctx, r.Clone())
		}
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (m *SlogManager) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return m
	}

	return m.with(func(h slog.Handler) slog.Handler {
		return h.WithAttrs(attrs)
	})
}

// WithGroup implements [slog.Handler].
func (m *SlogManager) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}

	return m.with(func(h slog.Handler) slog.Handler {
		return h.WithGroup(name)
	})
}

// GetHandler returns the handler registered under name.
func (m *SlogManager) GetHandler(name string) (slog.Handler, bool) {
	m.root.RLock()
	defer m.root.RUnlock()

	h, ok := m.root.handlers[name]

	return h, ok
}

// AddHandler registers handler under name, replacing any previous one.
func (m *SlogManager) AddHandler(name string, handler slog.Handler) {
	m.root.Lock()
	defer m.root.Unlock()

	m.root.handlers[name] = handler
}

// RemoveHandler unregisters the handler under name.
func (m *SlogManager) RemoveHandler(name string) {
	m.root.Lock()
	defer m.root.Unlock()

	delete(m.root.handlers, name)
}
