package es

import "context"

type (
	// CursorReader reports the latest position of an entity stream. It may
	// lag behind Append; the processor caches its own post-write position.
	CursorReader interface {
		GetLatestPosition(ctx context.Context, key EntityKey) (Position, error)
	}

	// StreamAppender appends records to an entity stream. When expected is
	// non-nil the append is a compare-and-append: it fails with
	// ErrConcurrencyConflict unless the stream is exactly at *expected.
	// Records of one call are stored all-or-nothing as a contiguous range.
	StreamAppender interface {
		Append(ctx context.Context, key EntityKey, records []Envelope, expected *Position) (Position, error)
	}

	// StreamReader reads records in [from, to] by position.
	StreamReader interface {
		ReadRange(ctx context.Context, key EntityKey, from, to Position) ([]Envelope, error)
	}

	// EventStore bundles the stream collaborators.
	EventStore interface {
		CursorReader
		StreamAppender
		StreamReader
	}
)
