package worker

import "errors"

var (
	// ErrNotRunning is returned by Submit before Start or after Stop.
	ErrNotRunning = errors.New("worker: pool not running")
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	// The job is not run.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrStopTimeout is returned by Stop when jobs are still running at
	// the deadline. They keep running until their context is cancelled.
	ErrStopTimeout = errors.New("worker: jobs still running after stop timeout")
)
