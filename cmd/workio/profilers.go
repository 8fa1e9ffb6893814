package main

import (
	"context"
	"log/slog"
	"os"
	"runtime/pprof"
)

// profiler writes one kind of profile to a file for the lifetime of its
// context. Without a path it does nothing.
//
//nolint:containedctx
type profiler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	doneChan chan struct{}
}

func startProfiler(ctx context.Context, path string, run func(ctx context.Context, f *os.File) error) *profiler {
	p := &profiler{doneChan: make(chan struct{})}
	p.ctx, p.cancel = context.WithCancel(ctx)

	go func() {
		defer close(p.doneChan)

		if path == "" {
			return
		}

		f, err := os.Create(path)
		if err != nil {
			slog.Error("Could not create profile", "path", path, "err", err)

			return
		}
		defer f.Close()

		if err := run(p.ctx, f); err != nil {
			slog.Error("Could not write profile", "path", path, "err", err)
		}
	}()

	return p
}

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

func newAllocProfiler(ctx context.Context, path string) *profiler {
	return startProfiler(ctx, path, func(ctx context.Context, f *os.File) error {
		<-ctx.Done()

		return pprof.Lookup("allocs").WriteTo(f, 0) //nolint:wrapcheck
	})
}

// Stop ends the profile and waits until it was written.
func (p *profiler) Stop() {
	p.cancel()
	<-p.doneChan
}
