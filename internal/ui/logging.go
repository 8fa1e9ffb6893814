package ui

import (
	"bytes"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// LogMsg is one line for the log panel, including its line break.
type LogMsg string

// teaProgramProvider is the part of a [tea.Program] the [TeaLogWriter] needs.
type teaProgramProvider interface {
	Send(msg tea.Msg)
}

// TeaLogWriter is an [io.Writer] that forwards complete lines to a
// [tea.Program] as [LogMsg]. It is shared by the slog handler and the stderr
// of worker processes, so writes may arrive in arbitrary chunks; an
// unterminated tail is held back until its line break arrives.
type TeaLogWriter struct {
	program teaProgramProvider

	mu      sync.Mutex
	partial []byte

	lines    chan LogMsg
	done     chan struct{}
	stopOnce sync.Once
}

// NewTeaLogWriter returns a pointer to a new [TeaLogWriter] and starts
// forwarding. Call [TeaLogWriter.Stop] once the program has ended.
func NewTeaLogWriter(program teaProgramProvider) *TeaLogWriter {
	wr := &TeaLogWriter{
		program: program,
		lines:   make(chan LogMsg, 1000), //nolint:mnd
		done:    make(chan struct{}),
	}

	go wr.forward()

	return wr
}

// Stop ends forwarding. Later writes are accepted and dropped.
func (wr *TeaLogWriter) Stop() {
	wr.stopOnce.Do(func() { close(wr.done) })
}

func (wr *TeaLogWriter) forward() {
	for {
		select {
		case <-wr.done:
			return
		case line := <-wr.lines:
			select {
			case <-wr.done:
				return
			default:
			}
			wr.program.Send(line)
		}
	}
}

// Write splits p into lines. The bytes are copied, slog handlers reuse their
// buffers.
func (wr *TeaLogWriter) Write(p []byte) (int, error) {
	wr.mu.Lock()
	wr.partial = append(wr.partial, p...)

	var ready []LogMsg
	for {
		i := bytes.IndexByte(wr.partial, '\n')
		if i < 0 {
			break
		}
		ready = append(ready, LogMsg(wr.partial[:i+1]))
		wr.partial = wr.partial[i+1:]
	}
	wr.mu.Unlock()

	for _, line := range ready {
		select {
		case <-wr.done:
			return len(p), nil
		case wr.lines <- line:
		}
	}

	return len(p), nil
}
