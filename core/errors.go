package core

import "errors"

var (
	// ErrConfiguration marks a malformed network or parameter set. It is
	// returned at construction time and is never recovered.
	ErrConfiguration = errors.New("configuration error")
	// ErrTerminated is returned when stepping an engine past its horizon.
	ErrTerminated = errors.New("simulation terminated")
	// ErrUnknownNode is returned by lookups for IDs that are not flow nodes.
	ErrUnknownNode = errors.New("unknown flow node")
	// ErrNoSnapshot is returned when no hour has been recorded for a request.
	ErrNoSnapshot = errors.New("no snapshot recorded")
)
