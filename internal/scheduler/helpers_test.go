package scheduler

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/registry"
	"github.com/desertwitch/workio/internal/worker"
	"github.com/desertwitch/workio/internal/workerkit"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

// gatedBackend blocks every download until its gate was opened.
type gatedBackend struct {
	workerkit.Unsupported

	mu      sync.Mutex
	gates   map[string]chan struct{}
	started chan string
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 64),
	}
}

func (b *gatedBackend) gate(u string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.gates[u]
	if !ok {
		g = make(chan struct{})
		b.gates[u] = g
	}

	return g
}

func (b *gatedBackend) open(u string) {
	close(b.gate(u))
}

func (b *gatedBackend) Get(ctx context.Context, s *workerkit.Session) error {
	u := s.Args().URL
	b.started <- u

	select {
	case <-b.gate(u):
	case <-ctx.Done():
		return ctx.Err()
	}

	if strings.HasSuffix(u, "/progress") {
		if err := s.TotalSize(300); err != nil {
			return err
		}
		for _, n := range []uint64{100, 200, 300} {
			if err := s.ProcessedSize(n); err != nil {
				return err
			}
		}
	}

	return s.Data([]byte("ok"))
}

func (b *gatedBackend) Stat(context.Context, *workerkit.Session) error {
	return nil
}

func (b *gatedBackend) nextStarted(t *testing.T) string {
	t.Helper()

	select {
	case u := <-b.started:
		return u
	case <-time.After(waitFor):
		require.FailNow(t, "no job started")
	}

	return ""
}

// brokenWorker greets and then answers every start with a frame that
// cannot be decoded.
func brokenWorker(_ context.Context, conn net.Conn, req worker.SpawnRequest) {
	enc := protocol.NewEncoder(conn)
	dec := protocol.NewDecoder(conn)

	greeting, _ := protocol.Marshal(protocol.WorkerStatus{
		PID:    1,
		Major:  protocol.Major,
		Minor:  protocol.Minor,
		Scheme: req.Scheme,
	})
	if err := enc.WriteFrame(protocol.MsgWorkerStatus, greeting); err != nil {
		return
	}

	for f, err := range dec.Frames() {
		if err != nil {
			return
		}
		if f.ID == protocol.CmdStart {
			_ = enc.WriteFrame(protocol.MsgStatEntry, []byte{0xff, 0x00, 0x13})
		}
	}
}

// hangupWorker greets and hangs up right away.
func hangupWorker(_ context.Context, conn net.Conn, req worker.SpawnRequest) {
	greeting, _ := protocol.Marshal(protocol.WorkerStatus{
		PID:    1,
		Major:  protocol.Major,
		Minor:  protocol.Minor,
		Scheme: req.Scheme,
	})
	_ = protocol.NewEncoder(conn).WriteFrame(protocol.MsgWorkerStatus, greeting)
}

// hangupOnceSpawner starts a worker that hangs up after its greeting
// first, and healthy workers afterwards.
type hangupOnceSpawner struct {
	calls   atomic.Int32
	hangup  worker.InProcessSpawner
	healthy worker.Spawner
}

func newHangupOnceSpawner(healthy worker.Spawner) *hangupOnceSpawner {
	return &hangupOnceSpawner{
		hangup:  worker.InProcessSpawner{Serve: hangupWorker},
		healthy: healthy,
	}
}

func (sp *hangupOnceSpawner) Spawn(ctx context.Context, req worker.SpawnRequest) (net.Conn, worker.Process, error) {
	if sp.calls.Add(1) == 1 {
		return sp.hangup.Spawn(ctx, req) //nolint:wrapcheck
	}

	return sp.healthy.Spawn(ctx, req) //nolint:wrapcheck
}

type failingSpawner struct{}

func (failingSpawner) Spawn(context.Context, worker.SpawnRequest) (net.Conn, worker.Process, error) {
	return nil, nil, errors.New("exec: no such file")
}

func memScheme(maxWorkers, perHost int) registry.Scheme {
	return registry.Scheme{
		Name:              "mem",
		Exec:              "mem-worker",
		MaxWorkers:        maxWorkers,
		MaxWorkersPerHost: perHost,
		Reading:           true,
		Deleting:          true,
		Source:            true,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanupInterval = time.Hour

	return cfg
}

func newTestScheduler(t *testing.T, cfg Config, sc registry.Scheme, sp worker.Spawner, journal Journal) *Scheduler {
	t.Helper()

	s := New(cfg, registry.NewStatic(sc), sp, journal)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = s.Close(ctx)
	})

	return s
}

func gatedSpawner(b *gatedBackend) *worker.InProcessSpawner {
	return &worker.InProcessSpawner{
		Serve: workerkit.ServeFunc(func(worker.SpawnRequest) workerkit.Backend { return b }),
	}
}

func wait(t *testing.T, j *job.Job) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), waitFor)
	defer cancel()

	select {
	case <-j.Done():
	case <-ctx.Done():
		require.FailNow(t, "job did not finish", j.String())
	}
}
