package agent

import "errors"

var (
	// ErrFatal is returned by Start when the worker hit an unrecoverable oracle error
	ErrFatal = errors.New("agent: fatal oracle error")

	// ErrAlreadyStarted is returned when Start is called on a running worker
	ErrAlreadyStarted = errors.New("agent already started")
)
