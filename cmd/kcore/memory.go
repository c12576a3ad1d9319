package main

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zhoujie-jay/kcore/internal/bcache"
)

const (
	// memoryMonitorInterval is the interval at which a [memoryObserver] samples.
	memoryMonitorInterval = 100 * time.Millisecond
)

type cacheStatsProvider interface {
	Stats() bcache.Stats
}

// memoryObserver tracks the peak Go heap allocation and the peak memory mapped
// by the block cache.
type memoryObserver struct {
	sync.RWMutex
	cache     cacheStatsProvider
	maxAlloc  uint64
	maxMapped uint64
	maxInUse  int
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// newMemoryObserver returns a pointer to a new [memoryObserver] already
// sampling. It runs until [memoryObserver.Stop] or the end of ctx.
func newMemoryObserver(ctx context.Context, cache cacheStatsProvider) *memoryObserver {
	obs := &memoryObserver{
		cache:    cache,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	go obs.monitor(ctx)

	return obs
}

func (o *memoryObserver) sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := o.cache.Stats()

	o.Lock()
	defer o.Unlock()

	o.maxAlloc = max(o.maxAlloc, m.Alloc)
	o.maxMapped = max(o.maxMapped, st.MappedBytes)
	o.maxInUse = max(o.maxInUse, st.InUse)
}

// Peaks returns the highest heap allocation, mapped cache memory and number
// of cache blocks in use seen so far.
func (o *memoryObserver) Peaks() (uint64, uint64, int) {
	o.RLock()
	defer o.RUnlock()

	return o.maxAlloc, o.maxMapped, o.maxInUse
}

// Stop ends sampling and logs the peaks.
func (o *memoryObserver) Stop() {
	close(o.stopChan)
	<-o.doneChan

	alloc, mapped, inUse := o.Peaks()

	slog.Info("Memory consumption peaked at:",
		"heap", humanize.IBytes(alloc),
		"blockCache", humanize.IBytes(mapped),
		"blocksInUse", inUse,
	)
}

func (o *memoryObserver) monitor(ctx context.Context) {
	defer close(o.doneChan)

	ticker := time.NewTicker(memoryMonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sample()
		}
	}
}
