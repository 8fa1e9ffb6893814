package worker

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/stretchr/testify/require"
)

type fakeLessee struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}

	req       protocol.StartRequest
	md        schema.MetaData
	resume    func(ctx context.Context, offset uint64) bool
	box       func(req protocol.MessageBoxRequest) int
	privilege schema.PrivilegeStatus
	chunks    [][]byte
}

func newFakeLessee() *fakeLessee {
	return &fakeLessee{
		notify: make(chan struct{}, 1024),
		req:    protocol.StartRequest{Kind: schema.OpGet},
	}
}

func (l *fakeLessee) LeaseID() string { return "test" }

func (l *fakeLessee) StartRequest() (protocol.StartRequest, schema.MetaData) { return l.req, l.md }

func (l *fakeLessee) HandleEvent(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.notify <- struct{}{}
}

func (l *fakeLessee) AskResume(ctx context.Context, offset uint64) bool {
	if l.resume != nil {
		return l.resume(ctx, offset)
	}

	return false
}

func (l *fakeLessee) AskMessageBox(_ context.Context, req protocol.MessageBoxRequest) int {
	if l.box != nil {
		return l.box(req)
	}

	return protocol.AnswerCancel
}

func (l *fakeLessee) AskPrivilege(context.Context) schema.PrivilegeStatus { return l.privilege }

func (l *fakeLessee) NextData(context.Context) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.chunks) == 0 {
		return nil, io.EOF
	}

	c := l.chunks[0]
	l.chunks = l.chunks[1:]

	return c, nil
}

func (l *fakeLessee) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Event(nil), l.events...)
}

// waitFor blocks until the predicate holds for the recorded events.
func (l *fakeLessee) waitFor(t *testing.T, pred func([]Event) bool) []Event {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		if evs := l.Events(); pred(evs) {
			return evs
		}
		select {
		case <-l.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for events, have %v", l.Events())
		}
	}
}

func hasTerminal(evs []Event) bool {
	for _, ev := range evs {
		switch ev.(type) {
		case FinishedEvent, ErrorEvent:
			return true
		}
	}

	return false
}

type fakeOwner struct {
	released chan *Handle
	retired  chan error
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{
		released: make(chan *Handle, 16),
		retired:  make(chan error, 16),
	}
}

func (o *fakeOwner) Released(h *Handle)          { o.released <- h }
func (o *fakeOwner) Retired(_ *Handle, err error) { o.retired <- err }

// scriptedWorker is the worker end of a pipe driven by the test.
type scriptedWorker struct {
	conn net.Conn
	enc  *protocol.Encoder
	dec  *protocol.Decoder
}

func (w *scriptedWorker) send(t *testing.T, id protocol.ID, payload []byte) {
	t.Helper()
	require.NoError(t, w.enc.WriteFrame(id, payload))
}

func (w *scriptedWorker) sendValue(t *testing.T, id protocol.ID, v any) {
	t.Helper()

	b, err := protocol.Marshal(v)
	require.NoError(t, err)
	w.send(t, id, b)
}

func (w *scriptedWorker) expect(t *testing.T, id protocol.ID) protocol.Frame {
	t.Helper()

	require.NoError(t, w.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	f, err := w.dec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, id, f.ID)

	return f
}

type nopProcess struct{}

func (nopProcess) Pid() int    { return 42 }
func (nopProcess) Kill() error { return nil }
func (nopProcess) Wait() error { return nil }

// newTestHandle returns a handshaken handle and the scripted worker behind
// it.
func newTestHandle(t *testing.T, owner Owner, opts Options) (*Handle, *scriptedWorker) {
	t.Helper()

	app, wrk := net.Pipe()
	w := &scriptedWorker{conn: wrk, enc: protocol.NewEncoder(wrk), dec: protocol.NewDecoder(wrk)}

	h := NewHandle(app, nopProcess{}, "mem", "", owner, opts)

	greeting, err := protocol.Marshal(protocol.WorkerStatus{
		PID: 42, Major: protocol.Major, Minor: protocol.Minor, Scheme: "mem",
	})
	require.NoError(t, err)

	go func() { _ = w.enc.WriteFrame(protocol.MsgWorkerStatus, greeting) }()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Handshake(ctx))

	t.Cleanup(func() {
		h.Close()
		wrk.Close()
	})

	return h, w
}
