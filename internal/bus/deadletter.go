package bus

import (
	"sync"
	"time"
)

// DeadLetter is a message that exhausted its retry budget without a
// successful delivery. It keeps the full envelope so the causality of the
// failed run can be reconstructed.
type DeadLetter struct {
	Envelope Envelope
	Attempts int
	Cause    string
	At       time.Time
}

// DeadLetterQueue retains dead letters for operator inspection.
type DeadLetterQueue struct {
	mu      sync.Mutex
	letters []DeadLetter
}

// NewDeadLetterQueue creates an empty queue.
func NewDeadLetterQueue() *DeadLetterQueue {
	return &DeadLetterQueue{}
}

// Push appends a dead letter.
func (q *DeadLetterQueue) Push(env Envelope, attempts int, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.letters = append(q.letters, DeadLetter{
		Envelope: env,
		Attempts: attempts,
		Cause:    msg,
		At:       time.Now().UTC(),
	})
}

// List returns a copy of the retained dead letters.
func (q *DeadLetterQueue) List() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.letters))
	copy(out, q.letters)
	return out
}

// Len returns the number of retained dead letters.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.letters)
}
