package worker

import "errors"

// ErrJobPanic wraps a panic recovered from a job.
var ErrJobPanic = errors.New("job panicked")
