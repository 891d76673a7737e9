package app

import "errors"

// Sentinel errors of the pipeline stages.
var (
	ErrNoTrials       = errors.New("no trial could be read")
	ErrTensorTooLarge = errors.New("source tensor exceeds max_tensor_size")
	ErrUnitsFailed    = errors.New("one or more units failed")
	ErrNoAnswer       = errors.New("no usable answer to prompt")
	ErrNotStarted     = errors.New("service not started")
)
