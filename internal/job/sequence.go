package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/desertwitch/workio/internal/schema"
)

// Submitter hands a job to a scheduler.
type Submitter interface {
	Submit(ctx context.Context, j *Job) error
}

// Sequence runs the children of a composite job one at a time, in the
// order they were added, stopping at the first failure.
type Sequence struct {
	*Job

	ctx   context.Context //nolint:containedctx
	sub   Submitter
	mu    sync.Mutex
	steps []*Job
	next  int
}

// NewSequence returns a composite job of kind that submits its steps
// through sub.
func NewSequence(ctx context.Context, kind schema.OpKind, target string, sub Submitter, flags Flags) *Sequence {
	s := &Sequence{
		Job: NewComposite(kind, target, flags),
		ctx: ctx,
		sub: sub,
	}
	s.SetErrorPolicy(false, true)

	return s
}

// Add appends a step. Steps added while an earlier step is running still
// run.
func (s *Sequence) Add(step *Job) error {
	if err := s.AddSubjob(step); err != nil {
		return fmt.Errorf("(sequence-add) %w", err)
	}

	s.mu.Lock()
	s.steps = append(s.steps, step)
	s.mu.Unlock()

	return nil
}

// Start submits the first step. The sequence finishes after its last step.
func (s *Sequence) Start() {
	s.advance()
}

func (s *Sequence) advance() {
	s.mu.Lock()
	if s.next >= len(s.steps) {
		s.mu.Unlock()
		s.Finish()

		return
	}

	step := s.steps[s.next]
	s.next++
	s.mu.Unlock()

	step.OnTerminal(func(done *Job) {
		if err := done.Err(); err != nil {
			s.Fail(err)

			return
		}
		s.advance()
	})

	if s.State().IsTerminal() {
		return
	}

	if err := s.sub.Submit(s.ctx, step); err != nil {
		slog.Debug("Failed to submit sequence step", "job", s.ID(), "step", step.ID(), "err", err)
		step.Fail(err)
	}
}
