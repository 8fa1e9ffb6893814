package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/registry"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/scheduler/mocks"
	"github.com/desertwitch/workio/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Expectation: At most MaxWorkers jobs should be leased, the rest should
// wait and be served in submission order.
func TestScheduler_Submit_FIFO_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	sp := gatedSpawner(b)
	s := newTestScheduler(t, testConfig(), memScheme(2, 0), sp, nil)

	jobs := make([]*job.Job, 0, 5)
	for _, u := range []string{"mem:///1", "mem:///2", "mem:///3", "mem:///4", "mem:///5"} {
		j := job.Get(u, job.HideProgressInfo)
		require.NoError(t, s.Submit(t.Context(), j))
		jobs = append(jobs, j)
	}

	first := []string{b.nextStarted(t), b.nextStarted(t)}
	assert.ElementsMatch(t, []string{"mem:///1", "mem:///2"}, first)

	require.Eventually(t, func() bool {
		st := s.Stats("mem")

		return st.Leased == 2 && st.Pending == 3
	}, waitFor, 5*time.Millisecond)

	b.open("mem:///1")
	assert.Equal(t, "mem:///3", b.nextStarted(t))

	b.open("mem:///2")
	assert.Equal(t, "mem:///4", b.nextStarted(t))

	b.open("mem:///3")
	assert.Equal(t, "mem:///5", b.nextStarted(t))

	b.open("mem:///4")
	b.open("mem:///5")

	for _, j := range jobs {
		wait(t, j)
		assert.Equal(t, schema.StateFinished, j.State())
		require.NoError(t, j.Err())
	}

	assert.Equal(t, 2, sp.Spawned())
	assert.LessOrEqual(t, s.Stats("mem").Live, 2)
}

// Expectation: A download should report non-decreasing progress and end
// without an error.
func TestScheduler_Submit_Progress_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem:///data/progress")
	s := newTestScheduler(t, testConfig(), memScheme(1, 0), gatedSpawner(b), nil)

	j := job.Get("mem:///data/progress", 0)
	events := j.Events()
	require.NoError(t, s.Submit(t.Context(), j))

	var processed []uint64
	var result *job.ResultEvent

	for ev := range events {
		switch e := ev.(type) {
		case job.ProgressEvent:
			if e.Total == 300 {
				processed = append(processed, e.Processed)
			}
		case job.ResultEvent:
			result = &e
		}
	}

	require.NotNil(t, result)
	assert.Equal(t, schema.StateFinished, result.State)
	assert.Nil(t, result.Err)
	assert.Equal(t, schema.CodeNone, schema.CodeOf(j.Err()))

	require.NotEmpty(t, processed)
	assert.IsNonDecreasing(t, processed)
	assert.Equal(t, uint64(300), processed[len(processed)-1])
}

// Expectation: A privileged job without anyone to confirm it should be
// denied before a worker is started.
func TestScheduler_Submit_PrivilegeDenied_Error(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	sp := gatedSpawner(b)
	s := newTestScheduler(t, testConfig(), memScheme(1, 0), sp, nil)

	j := job.Delete("mem:///etc/secret", false, job.PrivilegeExecution)

	err := s.Submit(t.Context(), j)
	require.Error(t, err)

	wait(t, j)
	assert.Equal(t, schema.StateError, j.State())
	assert.Equal(t, schema.CodePrivilegeDenied, schema.CodeOf(j.Err()))
	assert.Equal(t, 0, sp.Spawned())
}

// Expectation: Jobs the scheduler cannot run should fail with a matching
// code and never start a worker.
func TestScheduler_Submit_Validation_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		job  *job.Job
		code schema.ErrorCode
	}{
		{"unknown scheme", job.Get("nope:///x", 0), schema.CodeUnknownScheme},
		{"unsupported action", job.Mkdir("mem:///dir", 0o755, 0), schema.CodeUnsupportedAction},
		{"malformed url", job.Get("not a url", 0), schema.CodeMalformedURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sp := gatedSpawner(newGatedBackend())
			s := newTestScheduler(t, testConfig(), memScheme(1, 0), sp, nil)

			require.Error(t, s.Submit(t.Context(), tt.job))

			wait(t, tt.job)
			assert.Equal(t, schema.StateError, tt.job.State())
			assert.Equal(t, tt.code, schema.CodeOf(tt.job.Err()))
			assert.Equal(t, 0, sp.Spawned())
		})
	}
}

// Expectation: A job that was already started should be refused.
func TestScheduler_Submit_NotQueued_Error(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, testConfig(), memScheme(1, 0), gatedSpawner(newGatedBackend()), nil)

	j := job.Get("mem:///x", 0)
	j.Fail(schema.NewJobError(schema.CodeInternal, "gone"))

	require.ErrorIs(t, s.Submit(t.Context(), j), ErrNotQueued)
}

// Expectation: A worker that breaks the protocol should fail its job and
// must not be reused.
func TestScheduler_Submit_ConnectionBroken_Error(t *testing.T) {
	t.Parallel()

	sp := &worker.InProcessSpawner{Serve: brokenWorker}
	s := newTestScheduler(t, testConfig(), memScheme(1, 0), sp, nil)

	j := job.Stat("mem:///file", false, 0)
	require.NoError(t, s.Submit(t.Context(), j))

	wait(t, j)
	assert.Equal(t, schema.StateError, j.State())
	assert.Equal(t, schema.CodeConnectionBroken, schema.CodeOf(j.Err()))

	require.Eventually(t, func() bool {
		st := s.Stats("mem")

		return st.Live == 0 && st.Idle == 0
	}, waitFor, 5*time.Millisecond)
}

// Expectation: A worker that cannot be launched should fail the job with
// CannotLaunch.
func TestScheduler_Submit_SpawnFailure_Error(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, testConfig(), memScheme(1, 0), failingSpawner{}, nil)

	j := job.Get("mem:///x", 0)
	require.NoError(t, s.Submit(t.Context(), j))

	wait(t, j)
	assert.Equal(t, schema.StateError, j.State())
	assert.Equal(t, schema.CodeCannotLaunch, schema.CodeOf(j.Err()))

	require.Eventually(t, func() bool {
		st := s.Stats("mem")

		return st.Live == 0 && st.Spawning == 0
	}, waitFor, 5*time.Millisecond)
}

// Expectation: A worker that hangs up right after its handshake should
// fail the job and free its slot, so later jobs of the scheme still run.
func TestScheduler_Submit_HangupAfterHandshake_Error(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem:///b")

	s := newTestScheduler(t, testConfig(), memScheme(1, 0), newHangupOnceSpawner(gatedSpawner(b)), nil)

	j1 := job.Get("mem:///a", job.HideProgressInfo)
	require.NoError(t, s.Submit(t.Context(), j1))

	wait(t, j1)
	assert.Equal(t, schema.StateError, j1.State())
	assert.Contains(t, []schema.ErrorCode{schema.CodeCannotLaunch, schema.CodeConnectionBroken}, schema.CodeOf(j1.Err()))

	require.Eventually(t, func() bool {
		st := s.Stats("mem")

		return st.Live == 0 && st.Idle == 0 && st.Spawning == 0
	}, waitFor, 5*time.Millisecond)

	j2 := job.Get("mem:///b", job.HideProgressInfo)
	require.NoError(t, s.Submit(t.Context(), j2))

	wait(t, j2)
	require.NoError(t, j2.Err())
}

// Expectation: A job handed to an idle worker that died in the meantime
// should fail with a transport error instead of hanging.
func TestScheduler_DeadIdleHandle_Error(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem:///a")
	b.open("mem:///c")

	s := newTestScheduler(t, testConfig(), memScheme(1, 0), gatedSpawner(b), nil)

	j1 := job.Get("mem:///a", job.HideProgressInfo)
	require.NoError(t, s.Submit(t.Context(), j1))
	wait(t, j1)

	require.Eventually(t, func() bool { return s.Stats("mem").Idle == 1 }, waitFor, 5*time.Millisecond)

	j2 := job.Get("mem:///b", job.HideProgressInfo)

	s.mu.Lock()
	k := keyOf(j2)
	h := s.idle[k][0]
	s.idle[k] = s.idle[k][1:]
	if len(s.idle[k]) == 0 {
		delete(s.idle, k)
	}
	s.leased[h] = j2
	s.mu.Unlock()

	h.Close()
	s.start(h, j2)

	wait(t, j2)
	assert.Equal(t, schema.StateError, j2.State())
	assert.Equal(t, schema.CodeConnectionBroken, schema.CodeOf(j2.Err()))

	require.Eventually(t, func() bool {
		st := s.Stats("mem")

		return st.Live == 0 && st.Leased == 0
	}, waitFor, 5*time.Millisecond)

	j3 := job.Get("mem:///c", job.HideProgressInfo)
	require.NoError(t, s.Submit(t.Context(), j3))
	wait(t, j3)
	require.NoError(t, j3.Err())
}

// Expectation: An idle worker should be reused for the next job of the
// same scheme and host.
func TestScheduler_IdleReuse_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem:///a")
	b.open("mem:///b")

	sp := gatedSpawner(b)
	s := newTestScheduler(t, testConfig(), memScheme(2, 0), sp, nil)

	j1 := job.Get("mem:///a", 0)
	require.NoError(t, s.Submit(t.Context(), j1))
	wait(t, j1)

	require.Eventually(t, func() bool { return s.Stats("mem").Idle == 1 }, waitFor, 5*time.Millisecond)

	j2 := job.Get("mem:///b", 0)
	require.NoError(t, s.Submit(t.Context(), j2))
	wait(t, j2)

	require.NoError(t, j1.Err())
	require.NoError(t, j2.Err())
	assert.Equal(t, 1, sp.Spawned())
}

// Expectation: Only the configured number of workers should talk to one
// host at a time.
func TestScheduler_HostLimit_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	s := newTestScheduler(t, testConfig(), memScheme(3, 1), gatedSpawner(b), nil)

	ja1 := job.Get("mem://a/1", job.HideProgressInfo)
	ja2 := job.Get("mem://a/2", job.HideProgressInfo)
	jb3 := job.Get("mem://b/3", job.HideProgressInfo)

	for _, j := range []*job.Job{ja1, ja2, jb3} {
		require.NoError(t, s.Submit(t.Context(), j))
	}

	first := []string{b.nextStarted(t), b.nextStarted(t)}
	assert.ElementsMatch(t, []string{"mem://a/1", "mem://b/3"}, first)

	require.Eventually(t, func() bool {
		st := s.Stats("mem")

		return st.Live == 2 && st.Pending == 1
	}, waitFor, 5*time.Millisecond)

	b.open("mem://a/1")
	assert.Equal(t, "mem://a/2", b.nextStarted(t))

	b.open("mem://a/2")
	b.open("mem://b/3")

	for _, j := range []*job.Job{ja1, ja2, jb3} {
		wait(t, j)
		require.NoError(t, j.Err())
	}
}

// Expectation: A full scheme should stop an idle worker of another host
// to serve a waiting job.
func TestScheduler_Evict_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem://a/1")
	b.open("mem://b/2")

	sp := gatedSpawner(b)
	s := newTestScheduler(t, testConfig(), memScheme(1, 0), sp, nil)

	ja := job.Get("mem://a/1", 0)
	require.NoError(t, s.Submit(t.Context(), ja))
	wait(t, ja)

	require.Eventually(t, func() bool { return s.Stats("mem").Idle == 1 }, waitFor, 5*time.Millisecond)

	jb := job.Get("mem://b/2", 0)
	require.NoError(t, s.Submit(t.Context(), jb))
	wait(t, jb)

	require.NoError(t, jb.Err())
	assert.Equal(t, 2, sp.Spawned())

	require.Eventually(t, func() bool {
		st := s.Stats("mem")

		return st.Live == 1 && st.Idle == 1
	}, waitFor, 5*time.Millisecond)
}

// Expectation: Workers idle for longer than the timeout should be stopped.
func TestScheduler_Cleanup_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem:///x")

	cfg := testConfig()
	cfg.IdleTimeout = time.Nanosecond

	s := newTestScheduler(t, cfg, memScheme(1, 0), gatedSpawner(b), nil)

	j := job.Get("mem:///x", 0)
	require.NoError(t, s.Submit(t.Context(), j))
	wait(t, j)

	require.Eventually(t, func() bool { return s.Stats("mem").Idle == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(time.Millisecond)

	assert.Equal(t, 1, s.Cleanup())

	st := s.Stats("mem")
	assert.Equal(t, 0, st.Live)
	assert.Equal(t, 0, st.Idle)
}

// Expectation: Killing a waiting job should drop it from the queue and
// killing a running one should stop its worker.
func TestScheduler_Kill_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	sp := gatedSpawner(b)
	s := newTestScheduler(t, testConfig(), memScheme(1, 0), sp, nil)

	j1 := job.Get("mem:///1", job.HideProgressInfo)
	j2 := job.Get("mem:///2", job.HideProgressInfo)
	require.NoError(t, s.Submit(t.Context(), j1))
	require.NoError(t, s.Submit(t.Context(), j2))

	assert.Equal(t, "mem:///1", b.nextStarted(t))
	require.Eventually(t, func() bool { return s.Stats("mem").Pending == 1 }, waitFor, 5*time.Millisecond)

	require.True(t, j2.Kill(schema.KillEmitResult))
	assert.Equal(t, 0, s.Stats("mem").Pending)

	require.True(t, j1.Kill(schema.KillEmitResult))
	assert.Equal(t, schema.StateKilled, j1.State())
	assert.Equal(t, schema.CodeUserCanceled, schema.CodeOf(j1.Err()))

	require.Eventually(t, func() bool { return s.Stats("mem").Live == 0 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, sp.Spawned())
}

// Expectation: Closing should kill running jobs and refuse new ones.
func TestScheduler_Close_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	s := New(testConfig(), registry.NewStatic(memScheme(1, 0)), gatedSpawner(b), nil)

	j := job.Get("mem:///1", job.HideProgressInfo)
	require.NoError(t, s.Submit(t.Context(), j))
	b.nextStarted(t)

	ctx, cancel := context.WithTimeout(t.Context(), waitFor)
	defer cancel()

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	wait(t, j)
	assert.Equal(t, schema.StateKilled, j.State())

	late := job.Get("mem:///2", 0)
	require.ErrorIs(t, s.Submit(t.Context(), late), ErrClosed)
	assert.Equal(t, schema.CodeCannotLaunch, schema.CodeOf(late.Err()))
}

// Expectation: Every terminal job should be recorded in the journal.
func TestScheduler_Journal_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem:///x")

	j := job.Get("mem:///x", 0)
	recorded := make(chan struct{})

	journal := mocks.NewJournal(t)
	journal.On("Record", j).Return(nil).Once().Run(func(mock.Arguments) { close(recorded) })

	s := newTestScheduler(t, testConfig(), memScheme(1, 0), gatedSpawner(b), journal)
	require.NoError(t, s.Submit(t.Context(), j))

	select {
	case <-recorded:
	case <-time.After(waitFor):
		require.FailNow(t, "job was not recorded")
	}

	assert.Equal(t, []string{"mem"}, s.Schemes())
	assert.Equal(t, 1, s.Progress().SuccessItems)
}

// Expectation: A sequence should run its steps one after another through
// the scheduler.
func TestScheduler_Sequence_Success(t *testing.T) {
	t.Parallel()

	b := newGatedBackend()
	b.open("mem:///1")
	b.open("mem:///2")

	s := newTestScheduler(t, testConfig(), memScheme(1, 0), gatedSpawner(b), nil)

	seq := job.NewSequence(t.Context(), schema.OpGet, "mem:///", s, job.HideProgressInfo)
	require.NoError(t, seq.Add(job.Get("mem:///1", job.HideProgressInfo)))
	require.NoError(t, seq.Add(job.Get("mem:///2", job.HideProgressInfo)))
	seq.Start()

	wait(t, seq.Job)
	assert.Equal(t, schema.StateFinished, seq.State())
	assert.Equal(t, "mem:///1", b.nextStarted(t))
	assert.Equal(t, "mem:///2", b.nextStarted(t))
}
