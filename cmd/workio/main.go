package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/desertwitch/workio/internal/configuration"
	"github.com/desertwitch/workio/internal/hostinfo"
	"github.com/desertwitch/workio/internal/journal"
	"github.com/desertwitch/workio/internal/scheduler"
	"github.com/desertwitch/workio/internal/ui"
	"github.com/desertwitch/workio/internal/worker"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const (
	stackTraceBufMax = 1 << 24
	shutdownTimeout  = 10 * time.Second
)

//nolint:gochecknoglobals
var (
	ExitCode = 0
	Version  string

	uiEnabled   = flag.Bool("ui", false, "enable the UI")
	configFile  = flag.String("config", "", "read settings from this env file")
	showVersion = flag.Bool("version", false, "print the version and exit")
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to this file")
)

func terminalHandler(w *os.File, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(w.Fd()),
	})
}

func setupLogging(logManager *SlogManager, level slog.Level) {
	logManager.AddHandler("terminal", terminalHandler(os.Stderr, level))
	slog.SetDefault(slog.New(logManager))
}

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
			os.Stderr.Write(buf[:stacklen])
		}
	}()
}

func usage() {
	out := flag.CommandLine.Output()

	fmt.Fprintf(out, "Usage: %s [flags] COMMAND [ARGS]\n\nCommands:\n", filepath.Base(os.Args[0]))
	table := commandTable()
	for _, name := range commandNames() {
		fmt.Fprintf(out, "  %s\n", table[name].usage)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}

func startApp(ctx context.Context, wg *sync.WaitGroup, app *App, args []string) {
	defer wg.Done()

	if app.uiHandler != nil {
		slog.Info("Waiting for UI...")
		for !app.uiHandler.Ready.Load() && !app.uiHandler.Failed.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond): //nolint:mnd
			}
		}
	}

	if err := app.Launch(ctx, args); err != nil {
		slog.Error("Command failed.", "err", err)
		ExitCode = 1

		return
	}

	if app.uiHandler != nil {
		slog.Info("Command finished, press q to leave the UI.")
	}
}

func startUI(wg *sync.WaitGroup, app *App, logManager *SlogManager, level slog.Level) {
	defer wg.Done()

	if app.uiHandler == nil {
		return
	}

	logManager.AddHandler("ui", tint.NewHandler(app.uiHandler.LogWriter, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    true,
	}))
	logManager.RemoveHandler("terminal")

	defer func() {
		logManager.RemoveHandler("ui")
		setupLogging(logManager, level)
	}()

	if err := app.LaunchUI(); err != nil {
		app.uiHandler.Failed.Store(true)
		slog.Error("UI failure: falling back to terminal.", "err", err)
	}
}

func openJournal(path string) *journal.Journal {
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil { //nolint:mnd
		slog.Warn("Job history disabled.", "path", path, "err", err)

		return nil
	}

	jr, err := journal.Open(path)
	if err != nil {
		slog.Warn("Job history disabled.", "path", path, "err", err)

		return nil
	}

	return jr
}

//nolint:funlen
func main() {
	defer func() {
		os.Exit(ExitCode)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)

		return
	}

	if flag.NArg() == 0 {
		usage()
		ExitCode = 2

		return
	}

	logManager := NewSlogManager()
	setupLogging(logManager, slog.LevelInfo)
	setupSignalHandlers(cancel)

	configProvider := &configuration.ConfigProviderImpl{GenericConfigReader: &configuration.GodotenvProvider{}}

	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}

	cfg, err := configuration.Load(configProvider, os.Environ(), files...)
	if err != nil {
		slog.Error("Failed to load the configuration.", "err", err)
		ExitCode = 1

		return
	}

	level := parseLevel(cfg.LogLevel)
	setupLogging(logManager, level)

	memObserver := newMemoryObserver(ctx)
	defer memObserver.Stop()

	cpuProfiler := newCPUProfiler(ctx, *cpuprofile)
	defer cpuProfiler.Stop()

	allocProfiler := newAllocProfiler(ctx, *memprofile)
	defer allocProfiler.Stop()

	reg, err := loadRegistry(configProvider, cfg)
	if err != nil {
		slog.Error("Failed to load the scheme descriptors.", "err", err)
		ExitCode = 1

		return
	}

	var uiHandler *ui.Handler
	var workerLogs io.Writer = os.Stderr

	jr := openJournal(cfg.JournalPath)

	var jrn scheduler.Journal
	if jr != nil {
		defer jr.Close()
		jrn = jr
	}

	spawner := &worker.ExecSpawner{
		Path:   cfg.WorkerPath,
		Env:    []string{configuration.KeyLogLevel + "=" + cfg.LogLevel},
		Stderr: workerLogs,
	}

	sched := scheduler.New(scheduler.ConfigFrom(cfg, hostinfo.NewCache(nil)), reg, spawner, jrn)
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer ccancel()

		if err := sched.Close(cctx); err != nil {
			slog.Warn("Workers did not stop in time.", "err", err)
		}
	}()

	var (
		out    io.Writer = os.Stdout
		status io.Writer
		buf    bytes.Buffer
	)

	if *uiEnabled {
		uiHandler = ui.NewHandler(ctx, cancel, sched)
		spawner.Stderr = uiHandler.LogWriter
		out = &buf
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		status = os.Stderr
	}

	confirmer := newTerminalConfirmer(os.Stdin, os.Stderr, isatty.IsTerminal(os.Stdin.Fd()))
	app := NewApp(sched, jr, uiHandler, confirmer, out, status)

	var wg sync.WaitGroup

	wg.Add(1)
	go startUI(&wg, app, logManager, level)

	wg.Add(1)
	go startApp(ctx, &wg, app, flag.Args())

	wg.Wait()

	if buf.Len() > 0 {
		_, _ = buf.WriteTo(os.Stdout)
	}
}
