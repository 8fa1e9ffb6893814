package ui

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/queue"
	"github.com/desertwitch/workio/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a [StatsSource] whose snapshot can be changed during a test.
type fakeSource struct {
	mu    sync.Mutex
	stats map[string]scheduler.Stats
}

func (s *fakeSource) Schemes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	schemes := make([]string, 0, len(s.stats))
	for scheme := range s.stats {
		schemes = append(schemes, scheme)
	}

	return schemes
}

func (s *fakeSource) Stats(scheme string) scheduler.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats[scheme]
}

func (s *fakeSource) set(scheme string, st scheduler.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats[scheme] = st
}

func newTestHandler(ctx context.Context, cancel context.CancelFunc, src StatsSource, buf *bytes.Buffer) (*Handler, *tea.Program) {
	var in bytes.Buffer

	handler := &Handler{source: src}
	model := NewTeaModel(handler, cancel)
	program := tea.NewProgram(model, tea.WithInput(&in), tea.WithOutput(buf), tea.WithAltScreen(), tea.WithContext(ctx))

	handler.program = program
	handler.LogWriter = NewTeaLogWriter(handler.program)

	return handler, program
}

func waitReady(h *Handler) bool {
	for {
		time.Sleep(time.Millisecond)
		if h.Initialized.Load() {
			return true
		}
		if h.Failed.Load() {
			return false
		}
	}
}

// TestTeaUI is an integration test for the command-line user interface.
func TestTeaUI(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	src := &fakeSource{stats: map[string]scheduler.Stats{
		"file": {Live: 2, Leased: 1, Pending: 3, Progress: queue.Progress{HasStarted: true, ProgressPct: 25, TotalItems: 4, ProcessedItems: 1}},
	}}
	handler, program := newTestHandler(ctx, cancel, src, &buf)

	handler.Track(job.Get("file:///srv/a.bin", 0))

	go func() {
		if !waitReady(handler) {
			return
		}

		program.Send(tea.WindowSizeMsg{Width: 200, Height: 200})
		time.Sleep(time.Millisecond)

		program.Send(LogMsg("log1"))
		time.Sleep(time.Millisecond)

		_, _ = handler.LogWriter.Write([]byte("log2\n"))
		time.Sleep(50 * time.Millisecond)

		for range 150 {
			_, _ = handler.LogWriter.Write([]byte("fast logs\n"))
		}
		time.Sleep(time.Millisecond)

		program.Send(tea.WindowSizeMsg{Width: 200, Height: 250})

		time.Sleep(500 * time.Millisecond)
		src.set("file", scheduler.Stats{Live: 1, Idle: 1, Progress: queue.Progress{
			HasStarted: true, HasFinished: true, ProgressPct: 100, TotalItems: 4, ProcessedItems: 4, SuccessItems: 4,
			StartTime: time.Now(), FinishTime: time.Now(),
		}})

		time.Sleep(time.Second)
		program.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	}()

	require.NoError(t, handler.Launch())
	require.NotZero(t, buf.Len(), "UI generated no output at all")

	by := buf.Bytes()

	assert.True(t, bytes.Contains(by, []byte("log1")), "first log message (via program.Send) not shown")
	assert.True(t, bytes.Contains(by, []byte("log2")), "second log message (via LogWriter) not shown")
	assert.True(t, bytes.Contains(by, []byte("Leased=1")), "scheme panel not rendered")
	assert.True(t, bytes.Contains(by, []byte("Finished")), "scheme panel not updated")
	assert.True(t, bytes.Contains(by, []byte("file:///srv/a.bin")), "jobs panel not rendered")
}

// TestTeaUI_Ctrl_C verifies that a Ctrl+C keypress cancels the upstream
// context for signalling application teardown.
func TestTeaUI_Ctrl_C(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	handler, program := newTestHandler(ctx, cancel, nil, &buf)

	go func() {
		if waitReady(handler) {
			program.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
		}
	}()

	err := handler.Launch()

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "expected %v, got %v", context.Canceled, err)
	assert.NotZero(t, buf.Len(), "UI generated no output at all")
}

// TestTeaUI_Confirm verifies that prompts are answered by key presses in
// the order they were asked.
func TestTeaUI_Confirm(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	handler, program := newTestHandler(ctx, cancel, nil, &buf)

	answers := make(chan int, 2)

	go func() {
		if !waitReady(handler) {
			return
		}
		program.Send(tea.WindowSizeMsg{Width: 120, Height: 60})

		answers <- handler.Confirm(ctx, protocol.MessageBoxRequest{
			Kind:    protocol.BoxWarningContinueCancel,
			Title:   "Overwrite",
			Text:    "Replace /srv/a.bin?",
			Primary: "Replace",
		})
		answers <- handler.Confirm(ctx, protocol.MessageBoxRequest{Kind: protocol.BoxQuestion, Text: "Again?"})

		program.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	}()

	go func() {
		if !waitReady(handler) {
			return
		}
		time.Sleep(300 * time.Millisecond)
		program.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'y'}})
		time.Sleep(300 * time.Millisecond)
		program.Send(tea.KeyMsg{Type: tea.KeyEscape})
	}()

	require.NoError(t, handler.Launch())

	assert.Equal(t, protocol.AnswerPrimary, <-answers)
	assert.Equal(t, protocol.AnswerCancel, <-answers)
	assert.True(t, bytes.Contains(buf.Bytes(), []byte("Replace /srv/a.bin?")), "prompt not rendered")
}

// TestHandler_Confirm_Canceled verifies that a canceled context answers the
// prompt with a cancellation.
func TestHandler_Confirm_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	handler := &Handler{}
	handler.program = tea.NewProgram(nil, tea.WithContext(ctx))

	assert.Equal(t, protocol.AnswerCancel, handler.Confirm(ctx, protocol.MessageBoxRequest{Text: "?"}))
}

// TestHandler_Confirm_Failed verifies that a failed interface never blocks.
func TestHandler_Confirm_Failed(t *testing.T) {
	t.Parallel()

	handler := &Handler{}
	handler.Failed.Store(true)

	assert.Equal(t, protocol.AnswerCancel, handler.Confirm(t.Context(), protocol.MessageBoxRequest{Text: "?"}))
}

func TestFormatJobRow(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[running  ] get file:///a  50 B/100 B (50%)",
		formatJobRow(jobRow{title: "get file:///a", state: "running", processed: 50, total: 100}))
	assert.Equal(t, "[queued   ] stat file:///b  0 B",
		formatJobRow(jobRow{title: "stat file:///b", state: "queued"}))
}
