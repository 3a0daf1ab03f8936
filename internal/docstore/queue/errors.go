package queue

import "errors"

var (
	// ErrRemoteCallFailed wraps any error returned by Remote.Apply.
	ErrRemoteCallFailed = errors.New("remote call failed")

	// ErrNoRemote is returned by New when no remote is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrNoBacking is returned by New when no backing is configured.
	ErrNoBacking = errors.New("no queue backing configured")
)
