package main

import (
	"context"
	"log/slog"
	"os"
	"runtime/pprof"
)

// profiler runs a profile in the background for as long as its context
// lives.
type profiler struct {
	cancel   context.CancelFunc
	doneChan chan struct{}
}

func startProfiler(ctx context.Context, path string, run func(ctx context.Context, f *os.File) error) *profiler {
	prof := &profiler{doneChan: make(chan struct{})}

	var pctx context.Context
	pctx, prof.cancel = context.WithCancel(ctx)

	go func() {
		defer close(prof.doneChan)

		if path == "" {
			return
		}

		f, err := os.Create(path)
		if err != nil {
			slog.Error("Could not create profile",
				"path", path,
				"err", err,
			)

			return
		}
		defer f.Close()

		if err := run(pctx, f); err != nil {
			slog.Error("Could not write profile",
				"path", path,
				"err", err,
			)
		}
	}()

	return prof
}

// newCPUProfiler profiles the CPU into path until stopped. An empty path
// disables it.
func newCPUProfiler(ctx context.Context, path string) *profiler {
	return startProfiler(ctx, path, func(ctx context.Context, f *os.File) error {
		if err := pprof.StartCPUProfile(f); err != nil {
			return err //nolint:wrapcheck
		}
		defer pprof.StopCPUProfile()

		<-ctx.Done()

		return nil
	})
}

// newAllocProfiler writes the allocation profile to path when stopped. An
// empty path disables it.
func newAllocProfiler(ctx context.Context, path string) *profiler {
	return startProfiler(ctx, path, func(ctx context.Context, f *os.File) error {
		<-ctx.Done()

		return pprof.Lookup("allocs").WriteTo(f, 0) //nolint:wrapcheck
	})
}

// Stop ends the profile and waits for it to be written.
func (prof *profiler) Stop() {
	prof.cancel()
	<-prof.doneChan
}
