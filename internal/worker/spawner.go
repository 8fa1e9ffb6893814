package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// WorkerFD is the file descriptor number the worker connection is passed
// on to spawned worker processes.
const WorkerFD = 3

// SpawnRequest describes the worker to start.
type SpawnRequest struct {
	Scheme string
	Host   string
	Exec   string
}

// Spawner starts worker processes and returns their connection.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (net.Conn, Process, error)
}

// Launch spawns a worker, performs the handshake within timeout and
// returns its ready [Handle].
func Launch(ctx context.Context, sp Spawner, req SpawnRequest, owner Owner, opts Options, timeout time.Duration) (*Handle, error) {
	conn, proc, err := sp.Spawn(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("(worker-launch) %s: %w", req.Scheme, err)
	}

	h := NewHandle(conn, proc, req.Scheme, req.Host, owner, opts)

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := h.Handshake(hctx); err != nil {
		return nil, fmt.Errorf("(worker-launch) %w", err)
	}

	return h, nil
}

// ExecSpawner starts worker executables with one end of a socket pair
// inherited as [WorkerFD].
type ExecSpawner struct {
	// Path is used when the request names no executable.
	Path string

	// Env is appended to the environment of the worker.
	Env []string

	// Stderr receives the worker's log output.
	Stderr io.Writer
}

// Spawn starts one worker process.
func (s *ExecSpawner) Spawn(_ context.Context, req SpawnRequest) (net.Conn, Process, error) {
	path := req.Exec
	if path == "" {
		path = s.Path
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("(worker-spawn) socketpair: %w", err)
	}

	parent := os.NewFile(uintptr(fds[0]), "workio-app")
	child := os.NewFile(uintptr(fds[1]), "workio-worker")
	defer child.Close()

	conn, err := net.FileConn(parent)
	parent.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("(worker-spawn) fileconn: %w", err)
	}

	args := []string{"-scheme", req.Scheme, "-fd", strconv.Itoa(WorkerFD)}
	if req.Host != "" {
		args = append(args, "-host", req.Host)
	}

	cmd := exec.Command(path, args...)
	cmd.ExtraFiles = []*os.File{child}
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stderr = s.Stderr

	if err := cmd.Start(); err != nil {
		conn.Close()

		return nil, nil, fmt.Errorf("(worker-spawn) %s: %w", path, err)
	}

	return conn, &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

// ServeFunc serves the worker side of an in-process connection until ctx
// ends or the connection closes.
type ServeFunc func(ctx context.Context, conn net.Conn, req SpawnRequest)

// InProcessSpawner runs workers as goroutines connected through
// [net.Pipe]. It counts the workers it started.
type InProcessSpawner struct {
	Serve ServeFunc

	spawned atomic.Int64
	pids    atomic.Int64
}

// Spawn starts one in-process worker.
func (s *InProcessSpawner) Spawn(ctx context.Context, req SpawnRequest) (net.Conn, Process, error) {
	app, wrk := net.Pipe()

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &pipeProcess{
		pid:    int(s.pids.Add(1)),
		cancel: cancel,
		conn:   wrk,
		done:   make(chan struct{}),
	}

	s.spawned.Add(1)

	go func() {
		defer close(p.done)
		defer wrk.Close()
		s.Serve(wctx, wrk, req)
	}()

	return app, p, nil
}

// Spawned returns the number of workers started so far.
func (s *InProcessSpawner) Spawned() int {
	return int(s.spawned.Load())
}

type pipeProcess struct {
	pid    int
	cancel context.CancelFunc
	conn   net.Conn
	done   chan struct{}
}

func (p *pipeProcess) Pid() int { return p.pid }

func (p *pipeProcess) Kill() error {
	p.cancel()

	return p.conn.Close()
}

func (p *pipeProcess) Wait() error {
	<-p.done

	return nil
}
