package main

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// memoryMonitorInterval is the interval at which a [memoryObserver] is updated.
	memoryMonitorInterval = 250 * time.Millisecond
)

// memoryObserver tracks the peak heap allocation and goroutine count over
// the program's lifetime.
type memoryObserver struct {
	sync.RWMutex
	maxAlloc      uint64
	maxGoroutines int
	stopChan      chan struct{}
	stopOnce      sync.Once
}

func newMemoryObserver(ctx context.Context) *memoryObserver {
	obs := &memoryObserver{
		stopChan: make(chan struct{}),
	}
	go obs.monitor(ctx)

	return obs
}

// Peak returns the highest recorded allocation and goroutine count.
func (o *memoryObserver) Peak() (uint64, int) {
	o.RLock()
	defer o.RUnlock()

	return o.maxAlloc, o.maxGoroutines
}

// Stop halts the tracking and logs the peaks at debug level.
func (o *memoryObserver) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopChan)

		alloc, goroutines := o.Peak()
		slog.Debug("Resource usage peaked at:", "alloc", humanize.IBytes(alloc), "goroutines", goroutines)
	})
}

func (o *memoryObserver) sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	n := runtime.NumGoroutine()

	o.Lock()
	defer o.Unlock()

	o.maxAlloc = max(o.maxAlloc, m.Alloc)
	o.maxGoroutines = max(o.maxGoroutines, n)
}

func (o *memoryObserver) monitor(ctx context.Context) {
	ticker := time.NewTicker(memoryMonitorInterval)
	defer ticker.Stop()

	o.sample()

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
