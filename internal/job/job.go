// Package job implements the in-process representation of one operation.
// A [Job] moves through Queued, Running and optionally Suspended into
// exactly one terminal state. Jobs form trees: a composite job owns its
// children, forwards its outgoing metadata to them when they are added and
// aggregates their progress and errors.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/worker"
	"github.com/google/uuid"
)

// Flags modify how a job runs.
type Flags uint8

const (
	// HideProgressInfo suppresses description and progress events.
	HideProgressInfo Flags = 1 << iota

	// Overwrite allows replacing an existing target.
	Overwrite

	// Resume allows resuming a partial transfer.
	Resume

	// PrivilegeExecution allows running the operation with elevated
	// privileges after confirmation.
	PrivilegeExecution
)

// Lease is the worker connection a running job holds.
type Lease interface {
	Suspend()
	Resume()
	Cancel()
}

// Confirmer is the user interface collaborator. It shows a dialog and
// returns one of the protocol message box answers.
type Confirmer interface {
	Confirm(ctx context.Context, req protocol.MessageBoxRequest) int
}

// DataSource supplies the data of an upload chunk by chunk, io.EOF ends it.
type DataSource func(ctx context.Context) ([]byte, error)

// Capabilities are what the owner may do with a running job.
type Capabilities struct {
	Killable    bool
	Suspendable bool
}

// Job is one operation and its lifecycle. It is safe for concurrent use.
type Job struct {
	id   string
	kind schema.OpKind
	args protocol.OpArgs

	// immutable after construction
	flags  Flags
	scheme string
	host   string
	urlErr error

	mu          sync.Mutex
	state       schema.JobState
	terminating bool
	parent      *Job
	children    []*Job
	outgoing    schema.MetaData
	incoming    schema.MetaData
	caps        Capabilities
	lease       Lease
	err         *schema.JobError
	startedAt   time.Time
	finishedAt  time.Time

	processed uint64
	total     uint64
	speed     uint64
	emitted   uint64

	childStats  map[*Job]childStat
	doneBase    childStat
	ownDone     bool
	ownErr      *schema.JobError
	firstErr    *schema.JobError
	contOnError bool
	killOnError bool

	privMu     sync.Mutex
	privAsked  bool
	privStatus schema.PrivilegeStatus

	confirmer Confirmer
	source    DataSource
	resumer   func(offset uint64) bool
	listeners []func(*Job)

	events *notifier
	done   chan struct{}
}

type childStat struct {
	processed uint64
	total     uint64
}

func newJob(kind schema.OpKind, target string, flags Flags) *Job {
	j := &Job{
		id:    uuid.NewString(),
		kind:  kind,
		flags: flags,
		args: protocol.OpArgs{
			URL:          target,
			Overwrite:    flags&Overwrite != 0,
			Resume:       flags&Resume != 0,
			HideProgress: flags&HideProgressInfo != 0,
		},
		state:      schema.StateQueued,
		caps:       Capabilities{Killable: true, Suspendable: true},
		childStats: make(map[*Job]childStat),
		events:     newNotifier(),
		done:       make(chan struct{}),
	}

	u, err := url.Parse(target)
	switch {
	case err != nil:
		j.urlErr = err
	case u.Scheme == "":
		j.urlErr = fmt.Errorf("%q has no scheme", target)
	default:
		j.scheme = u.Scheme
		j.host = u.Host
	}

	return j
}

// ID returns the unique job id.
func (j *Job) ID() string { return j.id }

// LeaseID identifies the job in worker logs.
func (j *Job) LeaseID() string { return j.id }

// Kind returns the operation kind.
func (j *Job) Kind() schema.OpKind { return j.kind }

// URL returns the target of the job.
func (j *Job) URL() string { return j.args.URL }

// Dest returns the second target of two-target operations.
func (j *Job) Dest() string { return j.args.Dest }

// Scheme returns the scheme of the target.
func (j *Job) Scheme() string { return j.scheme }

// Host returns the host of the target, if any.
func (j *Job) Host() string { return j.host }

// Flags returns the job flags.
func (j *Job) Flags() Flags { return j.flags }

// URLError returns why the target could not be parsed, nil if it could.
func (j *Job) URLError() error { return j.urlErr }

// State returns the current state.
func (j *Job) State() schema.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

// Capabilities returns what may be done with the job.
func (j *Job) Capabilities() Capabilities {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.caps
}

// SetCapabilities changes what may be done with the job.
func (j *Job) SetCapabilities(c Capabilities) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.caps = c
}

// Parent returns the parent job, nil for a top-level job.
func (j *Job) Parent() *Job {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.parent
}

// Children returns the unfinished children in insertion order.
func (j *Job) Children() []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()

	return slices.Clone(j.children)
}

// Progress returns the processed and total size, aggregated over children.
func (j *Job) Progress() (processed, total uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	p, t := j.aggregateLocked()

	return max(p, j.emitted), t
}

// Times returns when the job started and finished running.
func (j *Job) Times() (started, finished time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.startedAt, j.finishedAt
}

// Events returns the notification channel of the job. Events produced
// before the first call are not delivered. The channel is closed after the
// [ResultEvent], or without one when the job was killed quietly. The owner
// has to drain it.
func (j *Job) Events() <-chan Event {
	return j.events.subscribe()
}

// Done is closed when the job reached its terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Err returns the terminal error, nil while running or on success.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.err == nil {
		return nil
	}

	return j.err
}

// Wait blocks until the job is terminal or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.Err()
	case <-ctx.Done():
		return fmt.Errorf("(job-wait) %w", ctx.Err())
	}
}

// OnTerminal registers fn to run once the job reached its terminal state.
// If it already did, fn runs immediately.
func (j *Job) OnTerminal(fn func(*Job)) {
	j.mu.Lock()
	if !j.state.IsTerminal() {
		j.listeners = append(j.listeners, fn)
		j.mu.Unlock()

		return
	}
	j.mu.Unlock()

	fn(j)
}

// SetConfirmer wires the user interface collaborator.
func (j *Job) SetConfirmer(c Confirmer) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.confirmer = c
}

// SetDataSource sets the data supplier of an upload.
func (j *Job) SetDataSource(src DataSource) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.source = src
}

// SetResumeDecider answers resume queries directly instead of asking the
// owner through a [ResumeQueryEvent].
func (j *Job) SetResumeDecider(fn func(offset uint64) bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.resumer = fn
}

// SetErrorPolicy configures how a composite job treats failing children.
// With continueOnError the job keeps accepting children and finishes with
// its own result; with killSiblings the remaining children are killed on
// the first error.
func (j *Job) SetErrorPolicy(continueOnError, killSiblings bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.contOnError = continueOnError
	j.killOnError = killSiblings
}

// AddMetaData sets one outgoing metadata key, overwriting it.
func (j *Job) AddMetaData(key, value string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.outgoing.Set(key, value)
}

// MergeMetaData inserts the keys of md that are not yet set.
func (j *Job) MergeMetaData(md schema.MetaData) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.outgoing.Merge(md)
}

// SetMetaData replaces the outgoing metadata.
func (j *Job) SetMetaData(md schema.MetaData) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.outgoing = md.Clone()
}

// OutgoingMetaData returns a copy of the metadata sent to the worker.
func (j *Job) OutgoingMetaData() schema.MetaData {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.outgoing.Clone()
}

// QueryMetaData returns one incoming metadata value.
func (j *Job) QueryMetaData(key string) string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.incoming.Value(key)
}

// IncomingMetaData returns a copy of the metadata received from the worker.
func (j *Job) IncomingMetaData() schema.MetaData {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.incoming.Clone()
}

// AddSubjob attaches child to j. The child's outgoing metadata is seeded
// from a copy of j's outgoing metadata.
func (j *Job) AddSubjob(child *Job) error {
	if child == j {
		return fmt.Errorf("(job-add) %w", ErrSelfParent)
	}

	j.mu.Lock()
	if j.state.IsTerminal() || j.terminating {
		j.mu.Unlock()

		return fmt.Errorf("(job-add) %w", ErrJobTerminated)
	}

	if j.firstErr != nil && !j.contOnError {
		j.mu.Unlock()

		return fmt.Errorf("(job-add) %w: %w", ErrCompositeFailed, j.firstErr)
	}

	child.mu.Lock()
	if child.parent != nil {
		child.mu.Unlock()
		j.mu.Unlock()

		return fmt.Errorf("(job-add) %w", ErrAlreadyAttached)
	}
	if child.state.IsTerminal() {
		child.mu.Unlock()
		j.mu.Unlock()

		return fmt.Errorf("(job-add) child: %w", ErrJobTerminated)
	}
	child.parent = j
	child.outgoing.Merge(j.outgoing)
	if child.confirmer == nil {
		child.confirmer = j.confirmer
	}
	p, t := child.aggregateLocked()
	child.mu.Unlock()

	j.children = append(j.children, child)
	j.childStats[child] = childStat{processed: p, total: t}
	j.mu.Unlock()

	return nil
}

// RemoveSubjob detaches child without killing it. If j already received
// its own terminal signal and child was the last one, j finishes.
func (j *Job) RemoveSubjob(child *Job) bool {
	j.mu.Lock()
	if !j.removeChildLocked(child) {
		j.mu.Unlock()

		return false
	}
	j.mu.Unlock()

	child.mu.Lock()
	if child.parent == j {
		child.parent = nil
	}
	child.mu.Unlock()

	j.maybeFinish()

	return true
}

func (j *Job) removeChildLocked(child *Job) bool {
	idx := slices.Index(j.children, child)
	if idx < 0 {
		return false
	}

	j.children = slices.Delete(j.children, idx, idx+1)

	st := j.childStats[child]
	delete(j.childStats, child)
	j.doneBase.processed += st.processed
	j.doneBase.total += st.total

	return true
}

// Started moves a queued job to running on lease. It returns false when the
// job was already terminated, the caller then owns the lease.
func (j *Job) Started(l Lease) bool {
	j.mu.Lock()
	if j.state.IsTerminal() || j.terminating {
		j.mu.Unlock()

		return false
	}

	j.lease = l
	if j.state == schema.StateQueued {
		j.state = schema.StateRunning
	}
	j.startedAt = time.Now()
	hide := j.flags&HideProgressInfo != 0
	j.mu.Unlock()

	if !hide {
		j.events.push(j.description())
	}

	return true
}

// Fail terminates the job with err. Errors that are not a
// [schema.JobError] are reported as [schema.CodeInternal] unless they wrap
// a known sentinel.
func (j *Job) Fail(err error) {
	j.finishOwn(schema.AsJobError(err))
}

// Finish signals the job's own success. A composite job without a worker
// finishes once all of its children are done.
func (j *Job) Finish() {
	j.finishOwn(nil)
}

// Kill terminates the job and its whole subtree. Children are always
// killed quietly; mode decides whether j itself still emits its result.
func (j *Job) Kill(mode schema.KillMode) bool {
	j.mu.Lock()
	if j.state.IsTerminal() || j.terminating {
		j.mu.Unlock()

		return false
	}

	if !j.caps.Killable {
		j.mu.Unlock()

		return false
	}

	j.terminating = true
	children := slices.Clone(j.children)
	lease := j.lease
	j.lease = nil
	j.mu.Unlock()

	for _, c := range children {
		c.Kill(schema.KillQuietly)
	}

	if lease != nil {
		lease.Cancel()
	}

	j.mu.Lock()
	j.children = nil
	clear(j.childStats)
	j.mu.Unlock()

	j.finalize(schema.StateKilled, schema.NewJobError(schema.CodeUserCanceled, j.args.URL), mode == schema.KillQuietly)

	return true
}

// Suspend suspends the job and, for composite jobs, every child. If any
// child fails to suspend, the ones already suspended are resumed again.
func (j *Job) Suspend() error {
	j.mu.Lock()
	switch {
	case j.state == schema.StateSuspended:
		j.mu.Unlock()

		return nil
	case j.state != schema.StateRunning || j.terminating:
		state := j.state
		j.mu.Unlock()

		return fmt.Errorf("(job-suspend) %w: %s", ErrNotRunning, state)
	case !j.caps.Suspendable:
		j.mu.Unlock()

		return fmt.Errorf("(job-suspend) %w", ErrNotSuspendable)
	}
	children := slices.Clone(j.children)
	j.mu.Unlock()

	for i, c := range children {
		if err := c.Suspend(); err != nil {
			for _, done := range children[:i] {
				_ = done.Resume()
			}

			return fmt.Errorf("(job-suspend) child %s: %w", c.id, err)
		}
	}

	j.mu.Lock()
	if j.state != schema.StateRunning || j.terminating {
		j.mu.Unlock()

		for _, c := range children {
			_ = c.Resume()
		}

		return fmt.Errorf("(job-suspend) %w", ErrNotRunning)
	}
	j.state = schema.StateSuspended
	lease := j.lease
	j.mu.Unlock()

	if lease != nil {
		lease.Suspend()
	}
	j.events.push(StateEvent{State: schema.StateSuspended})

	return nil
}

// Resume resumes a suspended job and its children.
func (j *Job) Resume() error {
	j.mu.Lock()
	switch {
	case j.state == schema.StateRunning:
		j.mu.Unlock()

		return nil
	case j.state != schema.StateSuspended || j.terminating:
		state := j.state
		j.mu.Unlock()

		return fmt.Errorf("(job-resume) %w: %s", ErrNotSuspended, state)
	}
	children := slices.Clone(j.children)
	j.mu.Unlock()

	for i, c := range children {
		if err := c.Resume(); err != nil {
			for _, done := range children[:i] {
				_ = done.Suspend()
			}

			return fmt.Errorf("(job-resume) child %s: %w", c.id, err)
		}
	}

	j.mu.Lock()
	if j.state != schema.StateSuspended || j.terminating {
		j.mu.Unlock()

		return fmt.Errorf("(job-resume) %w", ErrNotSuspended)
	}
	j.state = schema.StateRunning
	lease := j.lease
	j.mu.Unlock()

	if lease != nil {
		lease.Resume()
	}
	j.events.push(StateEvent{State: schema.StateRunning})

	return nil
}

// finishOwn records the job's own terminal signal. With unfinished
// children a success waits for them, an error kills them first.
func (j *Job) finishOwn(jerr *schema.JobError) {
	j.mu.Lock()
	if j.state.IsTerminal() || j.terminating || j.ownDone {
		j.mu.Unlock()

		return
	}

	j.ownDone = true
	j.ownErr = jerr
	j.lease = nil
	children := slices.Clone(j.children)
	j.mu.Unlock()

	if jerr != nil && len(children) > 0 {
		for _, c := range children {
			c.Kill(schema.KillQuietly)
		}
	}

	j.maybeFinish()
}

// maybeFinish finalizes the job once it has its own terminal signal and no
// children left.
func (j *Job) maybeFinish() {
	j.mu.Lock()
	if !j.ownDone || len(j.children) > 0 || j.terminating || j.state.IsTerminal() {
		j.mu.Unlock()

		return
	}

	jerr := j.ownErr
	if jerr == nil && !j.contOnError {
		jerr = j.firstErr
	}
	j.terminating = true
	j.mu.Unlock()

	if jerr != nil {
		j.finalize(schema.StateError, jerr, false)

		return
	}

	j.finalize(schema.StateFinished, nil, false)
}

// finalize performs the single terminal transition.
func (j *Job) finalize(state schema.JobState, jerr *schema.JobError, quiet bool) {
	j.mu.Lock()
	if j.state.IsTerminal() {
		j.mu.Unlock()

		return
	}

	j.state = state
	j.err = jerr
	j.finishedAt = time.Now()
	j.lease = nil
	parent := j.parent
	listeners := j.listeners
	j.listeners = nil
	j.mu.Unlock()

	if quiet {
		j.events.discard()
	} else {
		j.events.push(ResultEvent{State: state, Err: jerr})
		j.events.close()
	}

	close(j.done)

	if jerr != nil && state == schema.StateError {
		slog.Debug("Job failed", "job", j.id, "op", j.kind, "url", j.args.URL, "err", jerr)
	}

	if parent != nil {
		parent.childFinished(j, state, jerr, quiet)
	}

	for _, fn := range listeners {
		fn(j)
	}
}

func (j *Job) childFinished(child *Job, state schema.JobState, jerr *schema.JobError, quiet bool) {
	j.mu.Lock()
	if j.terminating || j.state.IsTerminal() {
		j.mu.Unlock()

		return
	}

	if !j.removeChildLocked(child) {
		j.mu.Unlock()

		return
	}

	var siblings []*Job

	failed := jerr != nil && !(quiet && state == schema.StateKilled)
	if failed && j.firstErr == nil {
		j.firstErr = jerr
		if j.killOnError {
			siblings = slices.Clone(j.children)
		}
	}
	j.mu.Unlock()

	for _, s := range siblings {
		s.Kill(schema.KillQuietly)
	}

	j.maybeFinish()
	j.emitProgress()
}

// HandleEvent translates worker events into job state and notifications.
func (j *Job) HandleEvent(ev worker.Event) {
	switch e := ev.(type) {
	case worker.FinishedEvent:
		j.finishOwn(nil)

	case worker.ErrorEvent:
		j.finishOwn(e.Err)

	case worker.TotalSizeEvent:
		j.mu.Lock()
		j.total = e.Size
		j.mu.Unlock()
		j.progressed()

	case worker.ProcessedSizeEvent:
		j.mu.Lock()
		j.processed = max(j.processed, e.Size)
		j.mu.Unlock()
		j.progressed()

	case worker.SpeedEvent:
		j.mu.Lock()
		j.speed = e.BytesPerSecond
		j.mu.Unlock()

	case worker.DataEvent:
		j.push(DataEvent{Data: e.Data})

	case worker.StatEvent:
		j.push(StatEvent{Entry: e.Entry})

	case worker.EntriesEvent:
		j.push(EntriesEvent{Entries: e.Entries})

	case worker.MetaDataEvent:
		j.mu.Lock()
		j.incoming.Add(e.MetaData)
		j.mu.Unlock()
		j.push(MetaDataEvent{MetaData: e.MetaData})

	case worker.RedirectionEvent:
		j.push(RedirectionEvent{URL: e.URL})

	case worker.MimeTypeEvent:
		j.push(MimeTypeEvent{MimeType: e.MimeType})

	case worker.WarningEvent:
		j.push(InfoEvent{Warning: true, Text: e.Text})

	case worker.InfoMessageEvent:
		j.push(InfoEvent{Text: e.Text})

	default:
		slog.Debug("Ignored worker event", "job", j.id, "event", fmt.Sprintf("%T", ev))
	}
}

// push emits an event unless the job is already terminal.
func (j *Job) push(ev Event) {
	j.mu.Lock()
	closed := j.state.IsTerminal() || j.terminating
	j.mu.Unlock()

	if !closed {
		j.events.push(ev)
	}
}

func (j *Job) aggregateLocked() (processed, total uint64) {
	processed = j.processed + j.doneBase.processed
	total = j.total + j.doneBase.total

	for _, st := range j.childStats {
		processed += st.processed
		total += st.total
	}

	return processed, total
}

// progressed emits the new progress and forwards it to the parent.
func (j *Job) progressed() {
	j.emitProgress()

	j.mu.Lock()
	parent := j.parent
	p, t := j.aggregateLocked()
	j.mu.Unlock()

	if parent != nil {
		parent.childProgressed(j, p, t)
	}
}

func (j *Job) childProgressed(child *Job, processed, total uint64) {
	j.mu.Lock()
	if _, ok := j.childStats[child]; !ok {
		j.mu.Unlock()

		return
	}
	j.childStats[child] = childStat{processed: processed, total: total}
	j.mu.Unlock()

	j.progressed()
}

func (j *Job) emitProgress() {
	j.mu.Lock()
	if j.state.IsTerminal() || j.terminating || j.flags&HideProgressInfo != 0 {
		j.mu.Unlock()

		return
	}

	p, t := j.aggregateLocked()
	if p < j.emitted {
		p = j.emitted
	}
	j.emitted = p
	// Pushed under j.mu so concurrent children cannot reorder the stream.
	j.events.push(ProgressEvent{Processed: p, Total: t, BytesPerSecond: j.speed})
	j.mu.Unlock()
}

// StartRequest returns the start command and outgoing metadata for the
// worker.
func (j *Job) StartRequest() (protocol.StartRequest, schema.MetaData) {
	j.mu.Lock()
	args := j.args
	md := j.outgoing.Clone()
	j.mu.Unlock()

	j.privMu.Lock()
	args.Privileged = j.privAsked && j.privStatus == schema.PrivilegeAllowed
	j.privMu.Unlock()

	payload, err := protocol.Marshal(args)
	if err != nil {
		slog.Error("Failed to pack job arguments", "job", j.id, "err", err)
	}

	return protocol.StartRequest{Kind: j.kind, Args: payload}, md
}

// AskResume asks the resume decider or the owner whether a transfer may
// resume at offset. Without an answer before ctx ends the answer is no.
func (j *Job) AskResume(ctx context.Context, offset uint64) bool {
	j.mu.Lock()
	decider := j.resumer
	j.mu.Unlock()

	if decider != nil {
		return decider(offset)
	}

	if !j.events.active() {
		return false
	}

	reply := make(chan bool, 1)
	var once sync.Once

	j.push(ResumeQueryEvent{
		Offset: offset,
		Reply: func(resume bool) {
			once.Do(func() { reply <- resume })
		},
	})

	select {
	case v := <-reply:
		return v
	case <-ctx.Done():
		return false
	case <-j.done:
		return false
	}
}

// AskMessageBox forwards a worker's message box to the confirmer.
func (j *Job) AskMessageBox(ctx context.Context, req protocol.MessageBoxRequest) int {
	j.mu.Lock()
	c := j.confirmer
	j.mu.Unlock()

	if c == nil {
		return protocol.AnswerCancel
	}

	return c.Confirm(ctx, req)
}

// AskPrivilege runs the privilege confirmation gate for a worker request.
func (j *Job) AskPrivilege(ctx context.Context) schema.PrivilegeStatus {
	return j.TryAskPrivilege(ctx)
}

// NextData returns the next upload chunk.
func (j *Job) NextData(ctx context.Context) ([]byte, error) {
	j.mu.Lock()
	src := j.source
	j.mu.Unlock()

	if src == nil {
		return nil, io.EOF
	}

	data, err := src(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("(job-data) %w", err)
	}

	return data, err //nolint:wrapcheck
}

func (j *Job) String() string {
	return fmt.Sprintf("%s %s [%s]", j.kind, j.args.URL, j.State())
}
