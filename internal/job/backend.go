package job

import "context"

// Result is a backend's view of a job at one poll.
type Result struct {
	Status   Status
	ExitCode int
	Err      error
}

// Backend executes jobs. The scheduler drives it by polling: Submit returns
// immediately and Status never blocks on process completion.
type Backend interface {
	// Submit starts or enqueues j. A *core.ResourceError means the backend
	// refused the job; its Permanent flag says whether retrying can help.
	Submit(ctx context.Context, j *Job) (Handle, error)

	// Status reports the current state of a submitted job.
	Status(ctx context.Context, h Handle) (Result, error)

	// Cancel terminates a submitted job. Cancelling a finished job is a no-op.
	Cancel(h Handle) error

	// Capacity is the total number of cores the backend may run at once.
	Capacity() int
}
