package es

import (
	"context"
	"errors"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrUnknownStateType    = errors.New("unknown state type")
	ErrNoHandler           = errors.New("no command handler registered")
	ErrStoreNoEvents       = errors.New("no events to store")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrUnknownContentType  = errors.New("unknown content type")
)

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
