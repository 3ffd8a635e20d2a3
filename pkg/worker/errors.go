package worker

import "errors"

// Sentinel errors returned by pool operations. They are never wrapped, so
// callers can compare with errors.Is or plain equality.
var (
	// ErrPoolNotStarted is returned by Submit before Start
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted is returned by a second Start
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull is returned by Submit when the queue is at capacity;
	// callers decide whether that drops the item or applies backpressure
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor is the panic value when NewPool gets a nil processor
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout is returned by Stop when workers outlive the timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
