package cache

import "time"

type putOpts struct {
	ttl time.Duration
}

// PutOption configures a single Put.
type PutOption func(*putOpts)

// WithTTL expires the entry after ttl. Zero keeps it until evicted.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *putOpts) { o.ttl = ttl }
}

func applyPut(opts []PutOption) putOpts {
	var o putOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Cache is an untyped key/value cache.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
	Len() int
}

// TypedCache is a Cache view restricted to values of type T.
type TypedCache[T any] interface {
	Get(key string) (T, bool)
	Put(key string, val T, opts ...PutOption)
	Delete(key string)
	Len() int
}

type typed[T any] struct {
	Cache
}

// NewTyped wraps c. Values of another type stored under the same key read
// as misses.
func NewTyped[T any](c Cache) TypedCache[T] { return typed[T]{Cache: c} }

func (t typed[T]) Get(key string) (out T, ok bool) {
	v, found := t.Cache.Get(key)
	if !found {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t typed[T]) Put(key string, val T, opts ...PutOption) {
	t.Cache.Put(key, val, opts...)
}

var _ TypedCache[any] = typed[any]{}
