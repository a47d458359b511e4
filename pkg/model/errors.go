package model

import "errors"

var (
	// ErrSessionBusy is returned when a sync session is already running
	// for the requested transport class.
	ErrSessionBusy = errors.New("sync session already running")
	// ErrNoTransport is returned when no transport is registered for the
	// requested kind.
	ErrNoTransport = errors.New("no transport registered")
	// ErrUnreachable is returned when a transport reports no connectivity.
	ErrUnreachable = errors.New("transport unreachable")
	// ErrDeclined is returned when a transport refuses the payload, e.g.
	// the SMS channel for non-emergency documents.
	ErrDeclined = errors.New("transport declined payload")
	// ErrNotFound is returned when a persisted record does not exist.
	ErrNotFound = errors.New("record not found")
)
