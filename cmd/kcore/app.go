package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zhoujie-jay/kcore/internal/kernel"
	"github.com/zhoujie-jay/kcore/internal/ui"
	"github.com/zhoujie-jay/kcore/internal/workload"
)

// uiWaitInterval is how often [App.Launch] checks whether the monitor is up.
const uiWaitInterval = 10 * time.Millisecond

// App ties a booted kernel to the workload that exercises it and to the
// optional monitor.
type App struct {
	kernel    *kernel.Kernel
	runner    *workload.Runner
	uiHandler *ui.Handler
	logs      *SlogManager
}

// NewApp returns a pointer to a new [App]. uiHandler may be nil.
func NewApp(k *kernel.Kernel, runner *workload.Runner, uiHandler *ui.Handler, logs *SlogManager) *App {
	return &App{
		kernel:    k,
		runner:    runner,
		uiHandler: uiHandler,
		logs:      logs,
	}
}

// Launch runs the workload once the monitor, if any, is ready.
func (app *App) Launch(ctx context.Context) error {
	if app.uiHandler != nil {
		slog.Info("Waiting for UI...")

		for !app.uiHandler.Ready.Load() && !app.uiHandler.Failed.Load() {
			select {
			case <-ctx.Done():
				return fmt.Errorf("(app) %w", ctx.Err())
			case <-time.After(uiWaitInterval):
			}
		}
	}

	res, err := app.runner.Run(ctx)

	for _, job := range app.runner.Failed() {
		slog.Error("Job did not verify.",
			"job", job.ID,
			"path", job.Path(),
			"offset", job.Offset,
			"size", humanize.IBytes(uint64(job.Size)), //nolint:gosec
		)
	}

	if err != nil {
		slog.Error("Workload failed.",
			"err", err,
		)

		return fmt.Errorf("(app) %w", err)
	}

	st := app.kernel.Cache().Stats()

	slog.Info("Workload verified.",
		"jobs", res.Succeeded,
		"moved", humanize.IBytes(res.Bytes),
		"elapsed", res.Elapsed.Round(time.Millisecond),
		"areasAdded", st.AreasAdded,
		"areasUnmapped", st.AreasUnmapped,
	)

	if app.uiHandler != nil && !app.uiHandler.Failed.Load() {
		slog.Info("Press q to close the monitor.")
	}

	return nil
}

// LaunchUI runs the monitor until it is closed, with the log output
// redirected into it meanwhile. Without a monitor it returns at once.
func (app *App) LaunchUI() error {
	if app.uiHandler == nil {
		return nil
	}

	app.logs.AddHandler(handlerUI, newTintHandler(app.uiHandler.LogWriter, false))
	app.logs.RemoveHandler(handlerTerminal)

	defer func() {
		app.logs.AddHandler(handlerTerminal, newTintHandler(terminalOutput, true))
		app.logs.RemoveHandler(handlerUI)
	}()

	if err := app.uiHandler.Launch(); err != nil {
		return fmt.Errorf("(app-ui) %w", err)
	}

	return nil
}
