package workerkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/worker"
)

type start struct {
	req protocol.StartRequest
	md  schema.MetaData
}

// Worker serves one connection.
type Worker struct {
	scheme  string
	host    string
	backend Backend
	conn    io.ReadWriteCloser
	enc     *protocol.Encoder
	dec     *protocol.Decoder

	starts  chan start
	replies map[protocol.ID]chan []byte
	gone    chan struct{}
	quit    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWorker returns a pointer to a new [Worker] serving b on conn.
func NewWorker(conn io.ReadWriteCloser, scheme, host string, b Backend) *Worker {
	replies := make(map[protocol.ID]chan []byte)
	for _, id := range []protocol.ID{
		protocol.CmdData,
		protocol.CmdResumeAnswer,
		protocol.CmdMessageBoxAnswer,
		protocol.CmdHostInfo,
		protocol.CmdPrivilegeAnswer,
	} {
		replies[id] = make(chan []byte, 1)
	}

	return &Worker{
		scheme:  scheme,
		host:    host,
		backend: b,
		conn:    conn,
		enc:     protocol.NewEncoder(conn),
		dec:     protocol.NewDecoder(conn),
		starts:  make(chan start),
		replies: replies,
		gone:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
}

// Serve greets the application and runs operations until ctx ends or the
// connection closes.
func Serve(ctx context.Context, conn io.ReadWriteCloser, scheme, host string, b Backend) error {
	return NewWorker(conn, scheme, host, b).Serve(ctx)
}

// ServeFunc adapts a backend factory to [worker.InProcessSpawner].
func ServeFunc(newBackend func(req worker.SpawnRequest) Backend) worker.ServeFunc {
	return func(ctx context.Context, conn net.Conn, req worker.SpawnRequest) {
		if err := Serve(ctx, conn, req.Scheme, req.Host, newBackend(req)); err != nil {
			slog.Debug("In-process worker stopped", "scheme", req.Scheme, "err", err)
		}
	}
}

// Serve runs the worker loop.
func (w *Worker) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = w.conn.Close() })
	defer stop()
	defer close(w.quit)

	status := protocol.WorkerStatus{
		PID:    os.Getpid(),
		Major:  protocol.Major,
		Minor:  protocol.Minor,
		Scheme: w.scheme,
		Host:   w.host,
	}

	if err := w.send(protocol.MsgWorkerStatus, status); err != nil {
		return fmt.Errorf("(workerkit-serve) greeting: %w", err)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- w.readLoop() }()

	for {
		select {
		case st := <-w.starts:
			if err := w.runOne(ctx, st); err != nil {
				return fmt.Errorf("(workerkit-serve) %w", err)
			}
		case err := <-readErr:
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("(workerkit-serve) %w", err)
		}
	}
}

func (w *Worker) readLoop() error {
	defer close(w.gone)

	var md schema.MetaData

	for f, err := range w.dec.Frames() {
		if err != nil {
			return err //nolint:wrapcheck
		}

		switch f.ID {
		case protocol.CmdMetaData:
			in, err := protocol.DecodeMetaData(f.Payload)
			if err != nil {
				return err //nolint:wrapcheck
			}
			md.Add(in)

		case protocol.CmdStart:
			var req protocol.StartRequest
			if err := protocol.Unmarshal(f.Payload, &req); err != nil {
				return err //nolint:wrapcheck
			}

			select {
			case w.starts <- start{req: req, md: md}:
			case <-w.quit:
				return io.EOF
			}
			md = schema.MetaData{}

		case protocol.CmdAbort:
			w.mu.Lock()
			if w.cancel != nil {
				w.cancel()
			}
			w.mu.Unlock()

		default:
			ch, ok := w.replies[f.ID]
			if !ok {
				slog.Warn("Ignored unknown application frame", "scheme", w.scheme, "id", f.ID)

				continue
			}

			// Only the newest answer is kept.
			select {
			case <-ch:
			default:
			}
			ch <- f.Payload
		}
	}

	return io.EOF
}

// runOne runs one operation and reports its result. An error is returned
// only when the result could not be sent.
func (w *Worker) runOne(ctx context.Context, st start) error {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
	}()

	for _, ch := range w.replies {
		select {
		case <-ch:
		default:
		}
	}

	s := &Session{w: w, meta: st.md, kind: st.req.Kind}

	err := protocol.Unmarshal(st.req.Args, &s.args)
	if err == nil {
		slog.Debug("Running operation", "scheme", w.scheme, "op", st.req.Kind, "url", s.args.URL)
		err = run(opCtx, w.backend, st.req.Kind, s)
	} else {
		err = fmt.Errorf("%w: %w", ErrNotStarted, err)
	}

	if err != nil {
		slog.Debug("Operation failed", "scheme", w.scheme, "op", st.req.Kind, "url", s.args.URL, "err", err)

		return w.send(protocol.MsgError, ErrorPayload(err))
	}

	return w.raw(protocol.MsgFinished, nil)
}

func (w *Worker) send(id protocol.ID, v any) error {
	payload, err := protocol.Marshal(v)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return w.raw(id, payload)
}

func (w *Worker) raw(id protocol.ID, payload []byte) error {
	if err := w.enc.WriteFrame(id, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}

	return nil
}

// await blocks until the application answered with id.
func (w *Worker) await(ctx context.Context, id protocol.ID) ([]byte, error) {
	select {
	case payload := <-w.replies[id]:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err() //nolint:wrapcheck
	case <-w.gone:
		return nil, ErrConnectionClosed
	}
}
