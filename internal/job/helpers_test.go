package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLease struct {
	mu        sync.Mutex
	suspended int
	resumed   int
	canceled  int
}

func (l *fakeLease) Suspend() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.suspended++
}

func (l *fakeLease) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resumed++
}

func (l *fakeLease) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.canceled++
}

func (l *fakeLease) counts() (suspended, resumed, canceled int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.suspended, l.resumed, l.canceled
}

// collect drains the event channel until it is closed.
func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()

	var out []Event

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			require.FailNow(t, "event channel was not closed")
		}
	}
}

func results(events []Event) []ResultEvent {
	var out []ResultEvent

	for _, ev := range events {
		if r, ok := ev.(ResultEvent); ok {
			out = append(out, r)
		}
	}

	return out
}

func progress(events []Event) []ProgressEvent {
	var out []ProgressEvent

	for _, ev := range events {
		if p, ok := ev.(ProgressEvent); ok {
			out = append(out, p)
		}
	}

	return out
}
