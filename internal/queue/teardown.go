package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type teardownTask struct {
	name string
	fn   func()
}

// Teardown collects shutdown work while a lock is held, to be run after
// the lock was released.
type Teardown struct {
	sync.Mutex
	tasks []teardownTask
}

// NewTeardown returns a pointer to a new, empty [Teardown].
func NewTeardown() *Teardown {
	return &Teardown{}
}

// Add appends a named task.
func (t *Teardown) Add(name string, fn func()) {
	t.Lock()
	defer t.Unlock()

	t.tasks = append(t.tasks, teardownTask{name: name, fn: fn})
}

// Len returns the number of collected tasks.
func (t *Teardown) Len() int {
	t.Lock()
	defer t.Unlock()

	return len(t.tasks)
}

// Run runs the tasks with at most limit of them at a time, all at once for
// a limit below one. If ctx ends first, Run returns without waiting for the
// running tasks, together with the sorted names of all tasks that did not
// complete.
func (t *Teardown) Run(ctx context.Context, limit int) ([]string, error) {
	t.Lock()
	tasks := slices.Clone(t.tasks)
	t.Unlock()

	if limit < 1 {
		limit = max(1, len(tasks))
	}

	var (
		mu      sync.Mutex
		pending = make(map[int]string, len(tasks))
		wg      sync.WaitGroup
		sem     = make(chan struct{}, limit)
	)

	for i, task := range tasks {
		pending[i] = task.name
	}

	finished := make(chan struct{})

	go func() {
		defer close(finished)

		for i, task := range tasks {
			select {
			case <-ctx.Done():
				wg.Wait()

				return
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				task.fn()

				mu.Lock()
				delete(pending, i)
				mu.Unlock()
			}()
		}

		wg.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	if len(pending) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(pending))
	for _, name := range pending {
		names = append(names, name)
	}
	slices.Sort(names)

	return names, fmt.Errorf("(queue-teardown) %w", context.Cause(ctx))
}
