package session

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/wippyai/interop-bridge/errors"
)

type message struct {
	run   func() error
	done  chan error
	phase errors.Phase
}

func (m *message) exec() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Recovered(m.phase, r)
		}
	}()
	return m.run()
}

// inbox runs the callbacks of one session one at a time in arrival order.
// There is no dedicated goroutine: the first poster to find the inbox idle
// drains it, running messages posted by others until the queue is empty.
// A message must not post to its own inbox.
type inbox struct {
	q        *queue.Queue
	mu       sync.Mutex
	draining bool
}

func newInbox() *inbox {
	return &inbox{q: queue.New()}
}

// post enqueues fn and waits for its result.
func (b *inbox) post(phase errors.Phase, fn func() error) error {
	m := &message{run: fn, phase: phase, done: make(chan error, 1)}

	b.mu.Lock()
	b.q.Add(m)
	if b.draining {
		b.mu.Unlock()
		return <-m.done
	}
	b.draining = true
	b.mu.Unlock()

	b.drain()
	return <-m.done
}

func (b *inbox) drain() {
	for {
		b.mu.Lock()
		if b.q.Length() == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		m := b.q.Remove().(*message)
		b.mu.Unlock()

		m.done <- m.exec()
	}
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}
