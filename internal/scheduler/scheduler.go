// Package scheduler matches jobs to worker processes. Jobs wait in first
// in, first out queues per scheme and host; workers are reused when idle,
// spawned while the scheme's limits allow it and stopped after being idle
// for too long. A worker whose connection failed is never reused.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/queue"
	"github.com/desertwitch/workio/internal/registry"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/worker"
)

// SchemeLookup returns the metadata of a scheme.
type SchemeLookup interface {
	Lookup(name string) (registry.Scheme, bool)
}

// Journal records jobs that reached their terminal state.
type Journal interface {
	Record(j *job.Job) error
}

type key struct {
	scheme string
	host   string
}

func keyOf(j *job.Job) key {
	return key{scheme: j.Scheme(), host: j.Host()}
}

type pendingQueue = queue.GenericQueue[*job.Job]

type assignment struct {
	h *worker.Handle
	j *job.Job
}

type failure struct {
	j   *job.Job
	err error
}

// actions are collected under the scheduler lock and applied after it was
// released, as they call back into jobs and handles.
type actions struct {
	assign []assignment
	spawn  []key
	stop   []*worker.Handle
	fail   []failure
}

// Scheduler owns the worker processes and the pending jobs of all schemes.
// It is safe for concurrent use.
type Scheduler struct {
	cfg     Config
	schemes SchemeLookup
	spawner worker.Spawner
	journal Journal

	mu       sync.Mutex
	closed   bool
	seq      uint64
	order    map[*job.Job]uint64
	infos    map[string]registry.Scheme
	pending  *queue.GenericManager[key, *job.Job, *pendingQueue]
	live     map[string]int
	liveHost map[key]int
	spawning map[key]int
	idle     map[key][]*worker.Handle
	handles  map[*worker.Handle]key
	leased   map[*worker.Handle]*job.Job

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a pointer to a new running [Scheduler]. The journal is
// optional.
func New(cfg Config, schemes SchemeLookup, spawner worker.Spawner, journal Journal) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		schemes:  schemes,
		spawner:  spawner,
		journal:  journal,
		order:    make(map[*job.Job]uint64),
		infos:    make(map[string]registry.Scheme),
		pending:  queue.NewGenericManager[key, *job.Job, *pendingQueue](),
		live:     make(map[string]int),
		liveHost: make(map[key]int),
		spawning: make(map[key]int),
		idle:     make(map[key][]*worker.Handle),
		handles:  make(map[*worker.Handle]key),
		leased:   make(map[*worker.Handle]*job.Job),
		ctx:      ctx,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.janitor()

	return s
}

// Submit validates j and queues it for a worker. Jobs that cannot run are
// failed right away, without contacting a worker, and the error is
// returned as well.
func (s *Scheduler) Submit(ctx context.Context, j *job.Job) error {
	if j.State() != schema.StateQueued {
		return fmt.Errorf("(scheduler-submit) %w: %s", ErrNotQueued, j)
	}

	j.OnTerminal(s.terminated)

	sc, err := s.validate(j)
	if err != nil {
		j.Fail(err)

		return fmt.Errorf("(scheduler-submit) %w", err)
	}

	if j.Flags()&job.PrivilegeExecution != 0 {
		status := j.TryAskPrivilege(ctx)
		if jerr := job.PrivilegeError(j.Kind(), status); jerr != nil {
			j.Fail(jerr)

			return fmt.Errorf("(scheduler-submit) %w", jerr)
		}
	}

	var a actions

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		jerr := schema.NewJobError(schema.CodeCannotLaunch, ErrClosed.Error())
		j.Fail(jerr)

		return fmt.Errorf("(scheduler-submit) %w", ErrClosed)
	}

	s.seq++
	s.order[j] = s.seq
	s.infos[sc.Name] = sc
	s.pending.Enqueue(j, keyOf, queue.NewGenericQueue[*job.Job])
	s.dispatchLocked(sc.Name, &a)
	s.mu.Unlock()

	s.apply(&a)

	return nil
}

func (s *Scheduler) validate(j *job.Job) (registry.Scheme, error) {
	if err := j.URLError(); err != nil {
		return registry.Scheme{}, schema.NewJobError(schema.CodeMalformedURL, j.URL())
	}

	sc, ok := s.schemes.Lookup(j.Scheme())
	if !ok {
		return registry.Scheme{}, schema.NewJobError(schema.CodeUnknownScheme, j.Scheme())
	}

	if !sc.Supports(j.Kind()) {
		return registry.Scheme{}, schema.NewJobError(schema.CodeUnsupportedAction,
			fmt.Sprintf("%s is not supported by %s", j.Kind(), sc.Name))
	}

	return sc, nil
}

// Released takes back a handle whose lease ended cleanly.
func (s *Scheduler) Released(h *worker.Handle) {
	var a actions

	s.mu.Lock()
	k, ok := s.handles[h]
	if ok {
		delete(s.leased, h)
		s.idleLocked(h, k, &a)
	}
	s.mu.Unlock()

	s.apply(&a)
}

// Retired forgets a handle that was torn down.
func (s *Scheduler) Retired(h *worker.Handle, err error) {
	var a actions

	s.mu.Lock()
	k, ok := s.handles[h]
	if ok {
		slog.Debug("Worker retired", "scheme", k.scheme, "host", k.host, "pid", h.Pid(), "err", err)
		s.removeLocked(h)
		s.dispatchLocked(k.scheme, &a)
	}
	s.mu.Unlock()

	s.apply(&a)
}

// idleLocked hands an idle handle to the next job of its key, parks it or
// stops it.
func (s *Scheduler) idleLocked(h *worker.Handle, k key, a *actions) {
	if s.closed {
		s.removeLocked(h)
		a.stop = append(a.stop, h)

		return
	}

	if j, ok := s.popLocked(k); ok {
		s.leased[h] = j
		a.assign = append(a.assign, assignment{h: h, j: j})

		return
	}

	if len(s.idle[k]) >= s.cfg.MaxIdlePerKey {
		s.removeLocked(h)
		a.stop = append(a.stop, h)
	} else {
		s.idle[k] = append(s.idle[k], h)
	}

	s.dispatchLocked(k.scheme, a)
}

// dispatchLocked starts pending jobs of scheme in submission order, on
// idle handles or on new workers as far as the limits allow.
func (s *Scheduler) dispatchLocked(scheme string, a *actions) {
	if s.closed {
		return
	}

	sc, ok := s.infos[scheme]
	if !ok {
		return
	}

	covered := make(map[key]int)
	for k, n := range s.spawning {
		if k.scheme == scheme {
			covered[k] = n
		}
	}

	for _, j := range s.pendingLocked(scheme) {
		k := keyOf(j)

		if hs := s.idle[k]; len(hs) > 0 {
			h := hs[len(hs)-1]
			s.idle[k] = hs[:len(hs)-1]

			if q, ok := s.pending.Get(k); ok {
				q.DequeueFunc(func(other *job.Job) bool { return other == j })
				q.SetProcessing(j)
			}

			s.leased[h] = j
			a.assign = append(a.assign, assignment{h: h, j: j})

			continue
		}

		if covered[k] > 0 {
			covered[k]--

			continue
		}

		if s.liveHost[k] >= sc.HostLimit() {
			continue
		}

		if s.live[scheme] >= sc.MaxWorkers && !s.evictLocked(scheme, a) {
			continue
		}

		s.live[scheme]++
		s.liveHost[k]++
		s.spawning[k]++
		a.spawn = append(a.spawn, k)
	}
}

// pendingLocked returns the pending jobs of scheme in submission order.
func (s *Scheduler) pendingLocked(scheme string) []*job.Job {
	var jobs []*job.Job

	for k, q := range s.pending.GetQueues() {
		if k.scheme == scheme {
			jobs = append(jobs, q.Items()...)
		}
	}

	slices.SortFunc(jobs, func(x, y *job.Job) int {
		return cmp.Compare(s.order[x], s.order[y])
	})

	return jobs
}

// popLocked takes the oldest pending job of k.
func (s *Scheduler) popLocked(k key) (*job.Job, bool) {
	q, ok := s.pending.Get(k)
	if !ok {
		return nil, false
	}

	j, ok := q.Dequeue()
	if ok {
		q.SetProcessing(j)
	}

	return j, ok
}

// evictLocked stops the longest idle handle of scheme to make room.
func (s *Scheduler) evictLocked(scheme string, a *actions) bool {
	var (
		victim *worker.Handle
		oldest time.Time
	)

	for k, hs := range s.idle {
		if k.scheme != scheme {
			continue
		}
		for _, h := range hs {
			if victim == nil || h.LastActive().Before(oldest) {
				victim, oldest = h, h.LastActive()
			}
		}
	}

	if victim == nil {
		return false
	}

	s.removeLocked(victim)
	a.stop = append(a.stop, victim)

	return true
}

// removeLocked forgets h and frees its slot.
func (s *Scheduler) removeLocked(h *worker.Handle) {
	k, ok := s.handles[h]
	if !ok {
		return
	}

	delete(s.handles, h)
	delete(s.leased, h)

	if hs := s.idle[k]; len(hs) > 0 {
		s.idle[k] = slices.DeleteFunc(hs, func(other *worker.Handle) bool { return other == h })
		if len(s.idle[k]) == 0 {
			delete(s.idle, k)
		}
	}

	s.live[k.scheme]--
	s.liveHost[k]--
}

func (s *Scheduler) apply(a *actions) {
	for _, h := range a.stop {
		h.Close()
	}

	for _, f := range a.fail {
		f.j.Fail(f.err)
	}

	for _, k := range a.spawn {
		s.wg.Add(1)
		go s.spawn(k)
	}

	for _, as := range a.assign {
		s.start(as.h, as.j)
	}
}

// start runs j on the leased handle h.
func (s *Scheduler) start(h *worker.Handle, j *job.Job) {
	if !j.Started(h) {
		s.Released(h)

		return
	}

	if err := h.Assign(j); err != nil {
		slog.Warn("Failed to assign job to worker", "job", j.ID(), "scheme", h.Scheme(), "pid", h.Pid(), "err", err)
		j.Fail(schema.NewJobError(schema.CodeConnectionBroken, err.Error()))
	}
}

func (s *Scheduler) spawn(k key) {
	defer s.wg.Done()

	s.mu.Lock()
	sc := s.infos[k.scheme]
	s.mu.Unlock()

	req := worker.SpawnRequest{Scheme: k.scheme, Host: k.host, Exec: sc.Exec}
	h, err := worker.Launch(s.ctx, s.spawner, req, s, s.cfg.Worker, s.cfg.SpawnTimeout)

	var a actions

	s.mu.Lock()
	if err == nil {
		// A worker that hung up before being registered was not seen by Retired.
		select {
		case <-h.Done():
			err = fmt.Errorf("(scheduler-spawn) %w", ErrWorkerExited)
		default:
		}
	}

	s.spawning[k]--
	if s.spawning[k] <= 0 {
		delete(s.spawning, k)
	}

	if err != nil {
		s.live[k.scheme]--
		s.liveHost[k]--

		slog.Warn("Failed to start worker", "scheme", k.scheme, "host", k.host, "err", err)

		if j, ok := s.popLocked(k); ok {
			a.fail = append(a.fail, failure{j: j, err: schema.NewJobError(schema.CodeCannotLaunch, err.Error())})
		}
		s.dispatchLocked(k.scheme, &a)
	} else {
		slog.Debug("Worker started", "scheme", k.scheme, "host", k.host, "pid", h.Pid())

		s.handles[h] = k
		s.idleLocked(h, k, &a)
	}
	s.mu.Unlock()

	s.apply(&a)
}

// terminated updates the queue statistics of a finished job and records
// it in the journal.
func (s *Scheduler) terminated(j *job.Job) {
	s.mu.Lock()
	if _, ok := s.order[j]; ok {
		delete(s.order, j)

		if q, ok := s.pending.Get(keyOf(j)); ok {
			switch {
			case q.Remove(j):
			case j.Err() == nil:
				q.SetSuccess(j)
			default:
				q.SetSkipped(j)
			}
		}
	}
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.Record(j); err != nil {
			slog.Warn("Failed to record job in journal", "job", j.ID(), "err", err)
		}
	}
}

func (s *Scheduler) janitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Cleanup stops the workers that were idle for longer than the idle
// timeout. It returns how many were stopped.
func (s *Scheduler) Cleanup() int {
	var a actions

	deadline := time.Now().Add(-s.cfg.IdleTimeout)

	s.mu.Lock()
	for _, hs := range s.idle {
		for _, h := range hs {
			if h.LastActive().Before(deadline) {
				a.stop = append(a.stop, h)
			}
		}
	}
	for _, h := range a.stop {
		s.removeLocked(h)
	}
	s.mu.Unlock()

	if len(a.stop) > 0 {
		slog.Debug("Stopping idle workers", "count", len(a.stop))
	}

	s.apply(&a)

	return len(a.stop)
}

// Close stops accepting jobs, kills the pending and running ones and stops
// all workers.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return nil
	}
	s.closed = true
	s.cancel()

	teardown := queue.NewTeardown()

	for _, q := range s.pending.GetQueues() {
		for _, j := range q.Items() {
			teardown.Add("kill pending job "+j.ID(), func() { j.Kill(schema.KillEmitResult) })
		}
	}
	for _, j := range s.leased {
		teardown.Add("kill running job "+j.ID(), func() { j.Kill(schema.KillEmitResult) })
	}
	for h, k := range s.handles {
		teardown.Add(fmt.Sprintf("stop %s worker %d", k.scheme, h.ID()), h.Close)
	}
	s.mu.Unlock()

	unfinished, err := teardown.Run(ctx, 0)
	if err != nil {
		slog.Warn("Scheduler teardown incomplete", "unfinished", unfinished, "err", err)
	}

	s.wg.Wait()

	if err != nil {
		return fmt.Errorf("(scheduler-close) %w", err)
	}

	return nil
}
