package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
)

// Process is the identity of a worker process.
type Process interface {
	Pid() int
	Kill() error
	Wait() error
}

type handleState uint8

const (
	stateIdle handleState = iota
	stateBusy
	stateDead
)

var handleIDs atomic.Uint64

// Handle owns one connection to one worker process.
type Handle struct {
	id     uint64
	scheme string
	host   string
	conn   net.Conn
	enc    *protocol.Encoder
	dec    *protocol.Decoder
	proc   Process
	opts   Options
	owner  Owner
	status protocol.WorkerStatus

	mu          sync.Mutex
	state       handleState
	lessee      Lessee
	leaseGen    uint64
	leaseCtx    context.Context //nolint:containedctx
	leaseCancel context.CancelFunc
	leaseMeta   schema.MetaData
	lastActive  time.Time
	speed       *speedometer
	workerSpeed bool
	gate        chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandle returns a pointer to a new [Handle] for an established
// connection. The handle is unusable until [Handle.Handshake] succeeded.
func NewHandle(conn net.Conn, proc Process, scheme, host string, owner Owner, opts Options) *Handle {
	opts = opts.withDefaults()

	gate := make(chan struct{})
	close(gate)

	return &Handle{
		id:         handleIDs.Add(1),
		scheme:     scheme,
		host:       host,
		conn:       conn,
		enc:        protocol.NewEncoder(conn),
		dec:        protocol.NewDecoder(conn),
		proc:       proc,
		opts:       opts,
		owner:      owner,
		lastActive: time.Now(),
		speed:      newSpeedometer(opts.SpeedSamples, opts.SpeedInterval),
		gate:       gate,
		done:       make(chan struct{}),
	}
}

// ID returns the process-unique handle id.
func (h *Handle) ID() uint64 { return h.id }

// Scheme returns the scheme the worker serves.
func (h *Handle) Scheme() string { return h.scheme }

// Host returns the host the worker is bound to, if any.
func (h *Handle) Host() string { return h.host }

// Status returns the greeting of the worker.
func (h *Handle) Status() protocol.WorkerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.status
}

// Pid returns the worker process id, 0 if unknown.
func (h *Handle) Pid() int {
	if h.proc != nil {
		return h.proc.Pid()
	}

	return h.Status().PID
}

// Done is closed once the handle was torn down.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Busy returns if the handle is leased.
func (h *Handle) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state == stateBusy
}

// LastActive returns when the handle last ended a lease or was created.
func (h *Handle) LastActive() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastActive
}

// Handshake reads the worker's greeting and starts servicing the
// connection. On failure the handle is torn down without notifying the
// owner.
func (h *Handle) Handshake(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = h.conn.SetReadDeadline(deadline)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = h.conn.SetReadDeadline(time.Now())
	})

	f, err := h.dec.ReadFrame()
	stop()
	_ = h.conn.SetReadDeadline(time.Time{})

	if err == nil {
		err = h.greet(f)
	}

	if err != nil {
		h.mu.Lock()
		h.state = stateDead
		h.mu.Unlock()
		h.teardown()

		return fmt.Errorf("(worker-handshake) %s: %w", h.scheme, err)
	}

	go h.readLoop()

	return nil
}

func (h *Handle) greet(f protocol.Frame) error {
	if f.ID != protocol.MsgWorkerStatus {
		return fmt.Errorf("%w: %s", ErrUnexpectedGreeting, f.ID)
	}

	if err := protocol.Unmarshal(f.Payload, &h.status); err != nil {
		return err
	}

	if !protocol.IsCompatibleVersion(h.status.Major, h.status.Minor) {
		return fmt.Errorf("%w: worker %d.%d, local %d.%d",
			ErrIncompatibleVersion, h.status.Major, h.status.Minor, protocol.Major, protocol.Minor)
	}

	return nil
}

// Assign leases the idle handle to l and sends its start request. A handle
// that was torn down meanwhile fails l with a transport error.
func (h *Handle) Assign(l Lessee) error {
	h.mu.Lock()
	if h.state == stateDead {
		h.mu.Unlock()

		l.HandleEvent(ErrorEvent{Err: schema.NewJobError(schema.CodeConnectionBroken, ErrHandleDead.Error())})

		return fmt.Errorf("(worker-assign) %w", ErrHandleDead)
	}
	if h.state != stateIdle {
		h.mu.Unlock()

		return fmt.Errorf("(worker-assign) %w", ErrHandleBusy)
	}

	h.state = stateBusy
	h.lessee = l
	h.leaseGen++
	h.leaseCtx, h.leaseCancel = context.WithCancel(context.Background())
	h.leaseMeta = schema.MetaData{}
	h.speed.reset()
	h.workerSpeed = false
	h.mu.Unlock()

	req, md := l.StartRequest()

	slog.Debug("Assigned job to worker", "job", l.LeaseID(), "scheme", h.scheme, "host", h.host, "pid", h.Pid(), "op", req.Kind)

	if md.Len() > 0 {
		payload, err := protocol.EncodeMetaData(md)
		if err != nil {
			h.fault(err)

			return fmt.Errorf("(worker-assign) %w", err)
		}

		if err := h.enc.WriteFrame(protocol.CmdMetaData, payload); err != nil {
			h.fault(err)

			return fmt.Errorf("(worker-assign) %w", err)
		}
	}

	payload, err := protocol.Marshal(req)
	if err == nil {
		err = h.enc.WriteFrame(protocol.CmdStart, payload)
	}

	if err != nil {
		h.fault(err)

		return fmt.Errorf("(worker-assign) %w", err)
	}

	return nil
}

// Cancel aborts the current lease. The lessee gets no further events and
// the handle is torn down instead of being reused.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.state == stateDead {
		h.mu.Unlock()

		return
	}

	h.state = stateDead
	h.endLeaseLocked()
	h.mu.Unlock()

	_ = h.enc.WriteFrame(protocol.CmdAbort, nil)

	h.retire(ErrCanceled)
}

// Close tears the handle down. A leased job is failed with a transport
// error.
func (h *Handle) Close() {
	h.fault(ErrHandleClosed)
}

// Suspend stops consuming frames from the worker, which then blocks once
// the connection buffers are full.
func (h *Handle) Suspend() {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.gate:
		h.gate = make(chan struct{})
	default:
	}
}

// Resume continues consuming frames after [Handle.Suspend].
func (h *Handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.gate:
	default:
		close(h.gate)
	}
}

func (h *Handle) waitGate() bool {
	h.mu.Lock()
	gate := h.gate
	h.mu.Unlock()

	select {
	case <-gate:
		return true
	case <-h.done:
		return false
	}
}

func (h *Handle) readLoop() {
	for f, err := range h.dec.Frames() {
		if err != nil {
			h.fault(err)

			return
		}

		if !h.waitGate() {
			return
		}

		if err := h.dispatch(f); err != nil {
			h.fault(err)

			return
		}
	}

	h.fault(io.EOF)
}

// current returns the lessee and its lease generation.
func (h *Handle) current() (Lessee, uint64, context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lessee, h.leaseGen, h.leaseCtx
}

// reply sends a frame on behalf of lease gen, dropping it when the lease
// ended in the meantime.
func (h *Handle) reply(gen uint64, id protocol.ID, payload []byte) {
	h.mu.Lock()
	stale := h.leaseGen != gen || h.state != stateBusy
	h.mu.Unlock()

	if stale {
		slog.Debug("Discarded stale worker reply", "scheme", h.scheme, "pid", h.Pid(), "id", id)

		return
	}

	if err := h.enc.WriteFrame(id, payload); err != nil {
		h.fault(err)
	}
}

//nolint:funlen,gocyclo,cyclop
func (h *Handle) dispatch(f protocol.Frame) error {
	l, gen, leaseCtx := h.current()

	if f.ID == protocol.MsgWorkerStatus {
		var st protocol.WorkerStatus
		if err := protocol.Unmarshal(f.Payload, &st); err != nil {
			return err
		}
		h.mu.Lock()
		h.status = st
		h.mu.Unlock()

		return nil
	}

	if l == nil {
		slog.Debug("Ignored frame outside of a lease", "scheme", h.scheme, "pid", h.Pid(), "id", f.ID)

		return nil
	}

	switch f.ID {
	case protocol.MsgData:
		l.HandleEvent(DataEvent{Data: f.Payload})

	case protocol.MsgDataReq:
		go h.serveData(l, gen, leaseCtx)

	case protocol.InfTotalSize:
		n, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		l.HandleEvent(TotalSizeEvent{Size: n})

	case protocol.InfProcessedSize:
		n, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		l.HandleEvent(ProcessedSizeEvent{Size: n})

		h.mu.Lock()
		local := !h.workerSpeed
		var bps uint64
		if local {
			bps = h.speed.add(n)
		}
		h.mu.Unlock()

		if local {
			l.HandleEvent(SpeedEvent{BytesPerSecond: bps})
		}

	case protocol.InfSpeed:
		n, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.workerSpeed = true
		h.mu.Unlock()
		l.HandleEvent(SpeedEvent{BytesPerSecond: n})

	case protocol.InfPosition:
		n, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		l.HandleEvent(PositionEvent{Offset: n})

	case protocol.InfTruncated:
		n, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		l.HandleEvent(TruncatedEvent{Length: n})

	case protocol.MsgWritten:
		n, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		l.HandleEvent(WrittenEvent{Size: n})

	case protocol.MsgCanResume:
		n, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		l.HandleEvent(CanResumeEvent{Offset: n})

	case protocol.MsgStatEntry:
		var e schema.Entry
		if err := protocol.Unmarshal(f.Payload, &e); err != nil {
			return err
		}
		l.HandleEvent(StatEvent{Entry: e})

	case protocol.MsgListEntries:
		var entries []schema.Entry
		if err := protocol.Unmarshal(f.Payload, &entries); err != nil {
			return err
		}
		l.HandleEvent(EntriesEvent{Entries: entries})

	case protocol.InfMetaData:
		md, err := protocol.DecodeMetaData(f.Payload)
		if err != nil {
			return err
		}
		h.mu.Lock()
		if h.leaseGen == gen {
			h.leaseMeta.Add(md)
		}
		h.mu.Unlock()
		l.HandleEvent(MetaDataEvent{MetaData: md})

	case protocol.InfRedirection:
		l.HandleEvent(RedirectionEvent{URL: string(f.Payload)})

	case protocol.InfMimeType:
		l.HandleEvent(MimeTypeEvent{MimeType: string(f.Payload)})

	case protocol.InfWarning:
		l.HandleEvent(WarningEvent{Text: string(f.Payload)})

	case protocol.InfInfoMessage:
		l.HandleEvent(InfoMessageEvent{Text: string(f.Payload)})

	case protocol.InfErrorPage:
		l.HandleEvent(ErrorPageEvent{})

	case protocol.MsgConnected:
		h.mu.Lock()
		h.workerSpeed = false
		h.mu.Unlock()
		l.HandleEvent(ConnectedEvent{})

	case protocol.MsgOpened:
		l.HandleEvent(OpenedEvent{})

	case protocol.MsgNeedSubURLData:
		l.HandleEvent(NeedSubURLDataEvent{})

	case protocol.MsgAck:
		l.HandleEvent(AckEvent{})

	case protocol.MsgResume:
		offset, err := protocol.DecodeSize(f.Payload)
		if err != nil {
			return err
		}
		go h.serveResume(l, gen, leaseCtx, offset)

	case protocol.InfMessageBox:
		var req protocol.MessageBoxRequest
		if err := protocol.Unmarshal(f.Payload, &req); err != nil {
			return err
		}
		h.mu.Lock()
		if req.Details == "" {
			req.Details = h.leaseMeta.Value(MetaDataDetailsKey)
		}
		h.mu.Unlock()
		go h.serveMessageBox(l, gen, leaseCtx, req)

	case protocol.MsgHostInfoReq:
		var req protocol.HostInfoRequest
		if err := protocol.Unmarshal(f.Payload, &req); err != nil {
			return err
		}
		go h.serveHostInfo(gen, req)

	case protocol.MsgPrivilegeExec:
		go h.servePrivilege(l, gen, leaseCtx)

	case protocol.MsgError:
		var ep protocol.ErrorPayload
		if err := protocol.Unmarshal(f.Payload, &ep); err != nil {
			return err
		}
		h.finishLease(gen, ErrorEvent{Err: schema.NewJobError(ep.Code, ep.Text)})

	case protocol.MsgFinished:
		h.finishLease(gen, FinishedEvent{})

	default:
		slog.Warn("Ignored unknown worker frame", "scheme", h.scheme, "pid", h.Pid(), "id", f.ID)
	}

	return nil
}

// finishLease ends lease gen cleanly, delivers the terminal event and hands
// the idle handle back to the owner.
func (h *Handle) finishLease(gen uint64, ev Event) {
	h.mu.Lock()
	if h.leaseGen != gen || h.state != stateBusy {
		h.mu.Unlock()

		return
	}

	l := h.lessee
	h.state = stateIdle
	h.endLeaseLocked()
	h.mu.Unlock()

	l.HandleEvent(ev)

	if h.owner != nil {
		h.owner.Released(h)
	}
}

func (h *Handle) endLeaseLocked() {
	h.lessee = nil
	h.leaseGen++
	h.lastActive = time.Now()

	if h.leaseCancel != nil {
		h.leaseCancel()
		h.leaseCancel = nil
	}
}

// fault tears the handle down because of a connection level error. A
// leased job is failed with a transport error.
func (h *Handle) fault(err error) {
	h.mu.Lock()
	if h.state == stateDead {
		h.mu.Unlock()
		h.teardown()

		return
	}

	l := h.lessee
	h.state = stateDead
	h.endLeaseLocked()
	h.mu.Unlock()

	if l != nil {
		text := err.Error()
		if errors.Is(err, io.EOF) {
			text = "worker closed the connection"
		}

		slog.Warn("Worker connection failed", "job", l.LeaseID(), "scheme", h.scheme, "pid", h.Pid(), "err", err)
		l.HandleEvent(ErrorEvent{Err: schema.NewJobError(schema.CodeConnectionBroken, text)})
	}

	h.retire(err)
}

func (h *Handle) retire(err error) {
	first := false

	h.closeOnce.Do(func() {
		first = true
		h.teardown()
	})

	if first && h.owner != nil {
		h.owner.Retired(h, err)
	}
}

func (h *Handle) teardown() {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()

		return
	default:
		close(h.done)
	}
	h.mu.Unlock()

	_ = h.conn.Close()

	if h.proc != nil {
		_ = h.proc.Kill()
		go func() { _ = h.proc.Wait() }()
	}
}

func (h *Handle) serveData(l Lessee, gen uint64, ctx context.Context) { //nolint:revive
	data, err := l.NextData(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Aborted upload, data source failed", "job", l.LeaseID(), "err", err)
		h.reply(gen, protocol.CmdAbort, nil)

		return
	}

	if errors.Is(err, io.EOF) {
		data = nil
	}

	h.reply(gen, protocol.CmdData, data)
}

func (h *Handle) serveResume(l Lessee, gen uint64, leaseCtx context.Context, offset uint64) { //nolint:revive
	ctx, cancel := context.WithTimeout(leaseCtx, h.opts.ResumeAnswerTimeout)
	defer cancel()

	h.reply(gen, protocol.CmdResumeAnswer, protocol.EncodeBool(l.AskResume(ctx, offset)))
}

func (h *Handle) serveMessageBox(l Lessee, gen uint64, ctx context.Context, req protocol.MessageBoxRequest) { //nolint:revive
	payload, err := protocol.Marshal(protocol.MessageBoxAnswer{Code: l.AskMessageBox(ctx, req)})
	if err != nil {
		h.fault(err)

		return
	}

	h.reply(gen, protocol.CmdMessageBoxAnswer, payload)
}

func (h *Handle) serveHostInfo(gen uint64, req protocol.HostInfoRequest) {
	resp := protocol.HostInfoResponse{Host: req.Host}

	if h.opts.Resolver == nil {
		resp.Err = ErrNoResolver.Error()
	} else {
		addrs, err := h.opts.Resolver.Lookup(context.Background(), req.Host, h.opts.DNSTimeout)
		if err != nil {
			resp.Err = err.Error()
		}
		resp.Addrs = addrs
	}

	payload, err := protocol.Marshal(resp)
	if err != nil {
		h.fault(err)

		return
	}

	h.reply(gen, protocol.CmdHostInfo, payload)
}

func (h *Handle) servePrivilege(l Lessee, gen uint64, ctx context.Context) { //nolint:revive
	payload, err := protocol.Marshal(protocol.PrivilegeAnswer{Status: l.AskPrivilege(ctx)})
	if err != nil {
		h.fault(err)

		return
	}

	h.reply(gen, protocol.CmdPrivilegeAnswer, payload)
}
