package core

import "errors"

var (
	// ErrConnectionUnknown is returned when a conn_id is not registered.
	ErrConnectionUnknown = errors.New("connection unknown")
	// ErrCallUnknown is returned when a call_id is not in any history.
	ErrCallUnknown = errors.New("call unknown")
	// ErrCacheWrite wraps a failure to persist drained rows.
	ErrCacheWrite = errors.New("cache write failed")
	// ErrDrain wraps a driver failure while pulling rows.
	ErrDrain = errors.New("drain failed")
)
