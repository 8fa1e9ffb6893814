// Package ui implements a command-line user interface using [tea].
package ui

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/scheduler"
)

// StatsSource reports the per-scheme worker and queue state, usually a
// [scheduler.Scheduler].
type StatsSource interface {
	Schemes() []string
	Stats(scheme string) scheduler.Stats
}

// Handler is the principal implementation of a user interface [Handler].
type Handler struct {
	source  StatsSource
	program *tea.Program

	mu   sync.Mutex
	jobs []*job.Job

	LogWriter *TeaLogWriter

	Initialized atomic.Bool
	Ready       atomic.Bool
	Failed      atomic.Bool
}

// NewHandler returns a pointer to a new user interface [Handler].
func NewHandler(ctx context.Context, cancel context.CancelFunc, source StatsSource) *Handler {
	handler := &Handler{
		source: source,
	}

	model := NewTeaModel(handler, cancel)
	handler.program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	handler.LogWriter = NewTeaLogWriter(handler.program)

	return handler
}

// Launch starts the command-line user interface (the [tea.Program]).
func (uiHandler *Handler) Launch() error {
	defer uiHandler.LogWriter.Stop()

	if _, err := uiHandler.program.Run(); err != nil {
		uiHandler.Failed.Store(true)

		return fmt.Errorf("(ui) %w", err)
	}

	return nil
}

// Track adds jobs to the jobs panel. Finished jobs stay listed with their
// final state.
func (uiHandler *Handler) Track(jobs ...*job.Job) {
	uiHandler.mu.Lock()
	defer uiHandler.mu.Unlock()

	uiHandler.jobs = append(uiHandler.jobs, jobs...)
}

// Confirm asks the user through a prompt panel and blocks until answered.
// It implements [job.Confirmer]; a closed or failed interface answers
// [protocol.AnswerCancel].
func (uiHandler *Handler) Confirm(ctx context.Context, req protocol.MessageBoxRequest) int {
	if uiHandler.Failed.Load() {
		return protocol.AnswerCancel
	}

	msg := promptMsg{req: req, reply: make(chan int, 1)}

	go uiHandler.program.Send(msg)

	select {
	case answer := <-msg.reply:
		return answer
	case <-ctx.Done():
		return protocol.AnswerCancel
	}
}

// snapshot collects the rendered state for one refresh of the model.
func (uiHandler *Handler) snapshot() (map[string]scheduler.Stats, []string, []jobRow) {
	stats := make(map[string]scheduler.Stats)

	var schemes []string
	if uiHandler.source != nil {
		schemes = uiHandler.source.Schemes()
		slices.Sort(schemes)

		for _, scheme := range schemes {
			stats[scheme] = uiHandler.source.Stats(scheme)
		}
	}

	uiHandler.mu.Lock()
	jobs := slices.Clone(uiHandler.jobs)
	uiHandler.mu.Unlock()

	rows := make([]jobRow, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, rowOf(j))
	}

	return stats, schemes, rows
}
