package job

import (
	"sync"

	"github.com/desertwitch/workio/internal/schema"
)

// Event is a notification of a job to its owner.
type Event interface {
	isEvent()
}

type (
	// ProgressEvent reports the processed and total size. For composite
	// jobs the sizes are summed over the job and all of its children. The
	// processed size never decreases.
	ProgressEvent struct {
		Processed      uint64
		Total          uint64
		BytesPerSecond uint64
	}

	// DataEvent is a chunk of downloaded data.
	DataEvent struct{ Data []byte }

	// StatEvent carries the result of a stat job.
	StatEvent struct{ Entry schema.Entry }

	// EntriesEvent carries a batch of directory entries.
	EntriesEvent struct{ Entries []schema.Entry }

	// MetaDataEvent carries metadata received from the worker.
	MetaDataEvent struct{ MetaData schema.MetaData }

	// RedirectionEvent tells that the target moved.
	RedirectionEvent struct{ URL string }

	// MimeTypeEvent announces the content type.
	MimeTypeEvent struct{ MimeType string }

	// InfoEvent is a warning or status message of the worker.
	InfoEvent struct {
		Warning bool
		Text    string
	}

	// DescriptionEvent describes the job when it starts running.
	DescriptionEvent struct {
		Title  string
		Source string
		Dest   string
	}

	// ResumeQueryEvent asks whether a transfer may resume at Offset. The
	// owner answers through Reply; without an answer the transfer restarts.
	ResumeQueryEvent struct {
		Offset uint64
		Reply  func(resume bool)
	}

	// StateEvent reports a suspend or resume.
	StateEvent struct{ State schema.JobState }

	// ResultEvent is the last event of a job. Err is nil on success.
	ResultEvent struct {
		State schema.JobState
		Err   *schema.JobError
	}
)

func (ProgressEvent) isEvent()    {}
func (DataEvent) isEvent()        {}
func (StatEvent) isEvent()        {}
func (EntriesEvent) isEvent()     {}
func (MetaDataEvent) isEvent()    {}
func (RedirectionEvent) isEvent() {}
func (MimeTypeEvent) isEvent()    {}
func (InfoEvent) isEvent()        {}
func (DescriptionEvent) isEvent() {}
func (ResumeQueryEvent) isEvent() {}
func (StateEvent) isEvent()       {}
func (ResultEvent) isEvent()      {}

// notifier is an unbounded, ordered event queue in front of a channel.
// Pushing never blocks the producer. Nothing is queued until a consumer
// subscribed.
type notifier struct {
	mu         sync.Mutex
	queue      []Event
	subscribed bool
	closed     bool
	wake       chan struct{}
	dropped    chan struct{}
	finished   chan struct{}
	out        chan Event
}

func newNotifier() *notifier {
	return &notifier{
		wake:     make(chan struct{}, 1),
		dropped:  make(chan struct{}),
		finished: make(chan struct{}),
		out:      make(chan Event),
	}
}

func (n *notifier) subscribe() <-chan Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.subscribed && !n.closed {
		n.subscribed = true
		go n.run()
	}

	return n.out
}

func (n *notifier) active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.subscribed && !n.closed
}

func (n *notifier) push(ev Event) {
	n.mu.Lock()
	if !n.subscribed || n.closed {
		n.mu.Unlock()

		return
	}
	n.queue = append(n.queue, ev)
	n.mu.Unlock()

	n.signal()
}

// close ends the stream after the queued events were delivered.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()

		return
	}
	n.closed = true
	subscribed := n.subscribed
	n.mu.Unlock()

	if !subscribed {
		close(n.out)

		return
	}

	n.signal()
}

// discard ends the stream dropping everything not yet delivered. It
// returns once the stream is closed.
func (n *notifier) discard() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()

		return
	}
	n.closed = true
	n.queue = nil
	subscribed := n.subscribed
	close(n.dropped)
	n.mu.Unlock()

	if !subscribed {
		close(n.out)

		return
	}

	<-n.finished
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.finished)
	defer close(n.out)

	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			closed := n.closed
			n.mu.Unlock()

			if closed {
				return
			}

			select {
			case <-n.wake:
			case <-n.dropped:
				return
			}

			continue
		}

		ev := n.queue[0]
		n.queue[0] = nil
		n.queue = n.queue[1:]
		n.mu.Unlock()

		select {
		case <-n.dropped:
			return
		default:
		}

		select {
		case n.out <- ev:
		case <-n.dropped:
			return
		}
	}
}
