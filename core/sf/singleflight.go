package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Singleflight deduplicates concurrent function calls with the same key.
// Only the first caller executes the function; others wait and receive
// the same result.
type Singleflight[T any] struct {
	group singleflight.Group
}

// Do executes fn for the given key, deduplicating concurrent calls.
//
// fn runs on a context detached from the caller's cancellation, since its
// result is shared. Each caller stops waiting when its own ctx is done; fn
// keeps running for the others.
func (s *Singleflight[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (out T, err error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return out, r.Err
		}
		return r.Val.(T), nil
	}
}

// Forget drops the in-flight call for key; the next Do starts a new one.
func (s *Singleflight[T]) Forget(key string) {
	s.group.Forget(key)
}

// New creates a new Singleflight instance for type T.
func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}
