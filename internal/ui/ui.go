// Package ui implements a terminal monitor of the core using [tea]: block
// cache statistics, workload progress and the log stream.
package ui

import (
	"context"
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zhoujie-jay/kcore/internal/bcache"
	"github.com/zhoujie-jay/kcore/internal/queue"
)

type progressProvider interface {
	Progress() queue.Progress
}

type statsProvider interface {
	Stats() bcache.Stats
}

// Handler owns the [tea.Program] of the monitor.
type Handler struct {
	workload progressProvider
	cache    statsProvider
	program  *tea.Program

	LogWriter *TeaLogWriter

	Ready  atomic.Bool
	Failed atomic.Bool
}

// NewHandler returns a pointer to a new [Handler] watching workload and
// cache. Pressing ctrl+c in the monitor calls cancel.
func NewHandler(ctx context.Context, cancel context.CancelFunc, workload progressProvider, cache statsProvider) *Handler {
	handler := &Handler{
		workload: workload,
		cache:    cache,
	}

	model := NewTeaModel(handler, cancel)
	handler.program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	handler.LogWriter = NewTeaLogWriter(handler.program)

	return handler
}

// Launch runs the monitor until it is quit or its context ends.
func (uiHandler *Handler) Launch() error {
	defer uiHandler.LogWriter.Stop()

	if _, err := uiHandler.program.Run(); err != nil {
		uiHandler.Failed.Store(true)

		return fmt.Errorf("(ui) %w", err)
	}

	return nil
}

// Quit asks the monitor to end.
func (uiHandler *Handler) Quit() {
	uiHandler.program.Quit()
}
