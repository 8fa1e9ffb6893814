package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/journal"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/scheduler"
	"github.com/desertwitch/workio/internal/ui"
	"github.com/dustin/go-humanize"
)

type App struct {
	sched     *scheduler.Scheduler
	journal   *journal.Journal
	uiHandler *ui.Handler
	confirmer job.Confirmer

	out    io.Writer
	status io.Writer

	statusMu  sync.Mutex
	statusLen int
}

// NewApp returns a pointer to a new [App]. Command output goes to out,
// transfer progress lines to status unless it is nil.
func NewApp(sched *scheduler.Scheduler,
	jr *journal.Journal,
	uiHandler *ui.Handler,
	confirmer job.Confirmer,
	out io.Writer,
	status io.Writer,
) *App {
	if uiHandler != nil {
		confirmer = uiHandler
		status = nil
	}

	return &App{
		sched:     sched,
		journal:   jr,
		uiHandler: uiHandler,
		confirmer: confirmer,
		out:       out,
		status:    status,
	}
}

// Launch runs the command named by the first argument.
func (app *App) Launch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("(app) %w: no command given", ErrUsage)
	}

	cmd, ok := commandTable()[args[0]]
	if !ok {
		return fmt.Errorf("(app) %w: %s", ErrUnknownCommand, args[0])
	}

	if err := cmd.run(ctx, app, args[1:]); err != nil {
		return fmt.Errorf("(app) %s: %w", args[0], err)
	}

	return nil
}

func (app *App) LaunchUI() error {
	if err := app.uiHandler.Launch(); err != nil {
		return fmt.Errorf("(app-ui) %w", err)
	}

	return nil
}

// submit hands j to the scheduler and returns its event stream.
func (app *App) submit(ctx context.Context, j *job.Job) (<-chan job.Event, error) {
	j.SetConfirmer(app.confirmer)
	events := j.Events()

	if app.uiHandler != nil {
		app.uiHandler.Track(j)
	}

	if err := app.sched.Submit(ctx, j); err != nil {
		return nil, fmt.Errorf("(app-submit) %w", err)
	}

	return events, nil
}

// run submits j and feeds its events to handle until the job is done.
func (app *App) run(ctx context.Context, j *job.Job, handle func(job.Event) error) error {
	events, err := app.submit(ctx, j)
	if err != nil {
		return err
	}

	return app.drain(ctx, j, events, handle)
}

// drain consumes the events of j. A handler error kills the job and is
// returned in place of the job's own error.
func (app *App) drain(ctx context.Context, j *job.Job, events <-chan job.Event, handle func(job.Event) error) error {
	stop := context.AfterFunc(ctx, func() {
		j.Kill(schema.KillEmitResult)
	})
	defer stop()

	var herr error

	for ev := range events {
		switch ev := ev.(type) {
		case job.ProgressEvent:
			app.showProgress(j, ev)
		case job.InfoEvent:
			if ev.Warning {
				slog.Warn(ev.Text, "job", j.ID())
			} else {
				slog.Info(ev.Text, "job", j.ID())
			}
		case job.ResumeQueryEvent:
			ev.Reply(false)
		case job.RedirectionEvent:
			slog.Info("Target was redirected", "job", j.ID(), "url", ev.URL)
		}

		if handle != nil && herr == nil {
			if herr = handle(ev); herr != nil {
				j.Kill(schema.KillEmitResult)
			}
		}
	}

	app.clearProgress()

	if herr != nil {
		return herr
	}

	if err := j.Err(); err != nil {
		return fmt.Errorf("(app-run) %w", err)
	}

	return nil
}

func (app *App) showProgress(j *job.Job, ev job.ProgressEvent) {
	if app.status == nil || j.Flags()&job.HideProgressInfo != 0 {
		return
	}

	line := humanize.Bytes(ev.Processed)
	if ev.Total > 0 {
		line = fmt.Sprintf("%s / %s (%.0f%%)", line, humanize.Bytes(ev.Total),
			float64(ev.Processed)/float64(ev.Total)*100) //nolint:mnd
	}
	if ev.BytesPerSecond > 0 {
		line += " at " + humanize.Bytes(ev.BytesPerSecond) + "/s"
	}

	app.statusMu.Lock()
	defer app.statusMu.Unlock()

	pad := max(0, app.statusLen-len(line))
	fmt.Fprintf(app.status, "\r%s%s", line, strings.Repeat(" ", pad))
	app.statusLen = len(line)
}

func (app *App) clearProgress() {
	if app.status == nil {
		return
	}

	app.statusMu.Lock()
	defer app.statusMu.Unlock()

	if app.statusLen > 0 {
		fmt.Fprintf(app.status, "\r%s\r", strings.Repeat(" ", app.statusLen))
		app.statusLen = 0
	}
}

// printf writes command output.
func (app *App) printf(format string, args ...any) {
	fmt.Fprintf(app.out, format, args...)
}

// commandNames returns the sorted command names for the usage text.
func commandNames() []string {
	names := make([]string, 0)
	for name := range commandTable() {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}
