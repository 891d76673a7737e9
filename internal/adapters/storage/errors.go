package storage

import "errors"

// Sentinel errors for on-disk formats.
var (
	ErrBadFormat = errors.New("bad file format")
)
