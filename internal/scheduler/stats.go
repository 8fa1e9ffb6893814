package scheduler

import (
	"github.com/desertwitch/workio/internal/queue"
)

// Stats is a snapshot of one scheme.
type Stats struct {
	Live     int
	Idle     int
	Leased   int
	Spawning int
	Pending  int

	// Progress covers every job submitted for the scheme.
	Progress queue.Progress
}

// Stats returns a snapshot of scheme.
func (s *Scheduler) Stats(scheme string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Live: s.live[scheme]}

	for k, hs := range s.idle {
		if k.scheme == scheme {
			st.Idle += len(hs)
		}
	}

	for h := range s.leased {
		if s.handles[h].scheme == scheme {
			st.Leased++
		}
	}

	for k, n := range s.spawning {
		if k.scheme == scheme {
			st.Spawning += n
		}
	}

	st.Progress = s.pending.ProgressFunc(func(k key) bool { return k.scheme == scheme })
	st.Pending = st.Progress.PendingItems

	return st
}

// Progress returns the queue statistics over all schemes.
func (s *Scheduler) Progress() queue.Progress {
	return s.pending.Progress()
}

// Schemes returns the schemes that jobs were submitted for.
func (s *Scheduler) Schemes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.infos))
	for name := range s.infos {
		names = append(names, name)
	}

	return names
}
