package realtime

import "time"

// commandQueue hands commands from connection readers to the dispatcher.
// Readers never wait longer than the handoff timeout.
type commandQueue struct {
	ch      chan command
	handoff time.Duration
}

func newCommandQueue(size int, handoff time.Duration) *commandQueue {
	if size <= 0 {
		size = 1
	}
	return &commandQueue{ch: make(chan command, size), handoff: handoff}
}

// trySend enqueues cmd, waiting up to the handoff timeout for capacity. It
// reports false when the queue stayed full.
func (q *commandQueue) trySend(cmd command) bool {
	if trySendNonBlocking(q.ch, cmd) {
		return true
	}
	if q.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(q.handoff)
	defer timer.Stop()

	return sendWithTimer(q.ch, cmd, timer.C)
}

func (q *commandQueue) len() int { return len(q.ch) }

func trySendNonBlocking(ch chan<- command, cmd command) bool {
	select {
	case ch <- cmd:
		return true
	default:
		return false
	}
}

func sendWithTimer(ch chan<- command, cmd command, timer <-chan time.Time) bool {
	select {
	case ch <- cmd:
		return true
	case <-timer:
		return false
	}
}
