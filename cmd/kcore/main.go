// Command kcore boots the kernel core, drives it with a file workload and
// optionally shows a terminal monitor while doing so.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/zhoujie-jay/kcore/internal/configuration"
	"github.com/zhoujie-jay/kcore/internal/kernel"
	"github.com/zhoujie-jay/kcore/internal/ui"
	"github.com/zhoujie-jay/kcore/internal/workload"
)

const (
	stackTraceBufMax = 1 << 24
)

//nolint:gochecknoglobals
var (
	ExitCode = 0
	Version  string

	envFile     = flag.String("env", "kcore.env", "environment file with the boot configuration")
	jobs        = flag.Int("jobs", workload.DefaultConfig().Jobs, "number of file jobs to run")
	workers     = flag.Int("workers", workload.DefaultConfig().Workers, "jobs run at once per filesystem")
	filesystems = flag.Int("filesystems", workload.DefaultConfig().Filesystems, "filesystems mounted for the workload")
	seed        = flag.Uint64("seed", workload.DefaultConfig().Seed, "seed of payloads and offsets")
	uiEnabled   = flag.Bool("ui", false, "enable the terminal monitor")
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to this file")
)

func setupSignalHandlers(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigChan
		cancel()
	}()

	sigChan2 := make(chan os.Signal, 1)
	signal.Notify(sigChan2, syscall.SIGUSR1)
	go func() {
		for range sigChan2 {
			buf := make([]byte, stackTraceBufMax)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen]) //nolint:errcheck
		}
	}()
}

func workloadConfig() workload.Config {
	cfg := workload.DefaultConfig()
	cfg.Jobs = *jobs
	cfg.Workers = *workers
	cfg.Filesystems = *filesystems
	cfg.Seed = *seed

	return cfg
}

func main() {
	defer func() {
		os.Exit(ExitCode)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag.Parse()
	logs := setupLogging()
	setupSignalHandlers(cancel)

	if Version != "" {
		slog.Info("Starting kcore", "version", Version)
	}

	cfg, err := configuration.NewHandler(&configuration.GodotenvProvider{}).Kernel(*envFile)
	if err != nil {
		slog.Error("Failed to read the boot configuration.",
			"err", err,
		)
		ExitCode = 1

		return
	}

	k, err := kernel.Boot(ctx, cfg)
	if err != nil {
		slog.Error("Failed to boot the kernel.",
			"err", err,
		)
		ExitCode = 1

		return
	}

	memObserver := newMemoryObserver(ctx, k.Cache())
	defer memObserver.Stop()

	cpuProfiler := newCPUProfiler(ctx, *cpuprofile)
	defer cpuProfiler.Stop()

	allocProfiler := newAllocProfiler(ctx, *memprofile)
	defer allocProfiler.Stop()

	runner := workload.NewRunner(k, workloadConfig())

	var uiHandler *ui.Handler
	if *uiEnabled {
		uiHandler = ui.NewHandler(ctx, cancel, runner, k.Cache())
	}

	app := NewApp(k, runner, uiHandler, logs)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := app.LaunchUI(); err != nil {
			slog.Error("UI failure: falling back to terminal.",
				"err", err,
			)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := app.Launch(ctx); err != nil {
			ExitCode = 1
		}
	}()

	wg.Wait()

	if err := k.Shutdown(); err != nil {
		slog.Error("Failed to shut the kernel down.",
			"err", err,
		)
		ExitCode = 1
	}
}
