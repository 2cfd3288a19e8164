package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Gibbs-Morris/mississippi-sub002/core/cache"
	"github.com/Gibbs-Morris/mississippi-sub002/core/sf"
	"github.com/Gibbs-Morris/mississippi-sub002/ports/kv"
)

// SnapshotKey identifies one reconstruction of an entity state.
type SnapshotKey struct {
	Stream      string   `json:"stream"`
	StateType   string   `json:"state_type"`
	EntityID    string   `json:"entity_id"`
	ReducerHash string   `json:"reducer_hash"`
	Position    Position `json:"position"`
}

func (k SnapshotKey) Entity() EntityKey { return EntityKey{Stream: k.Stream, ID: k.EntityID} }

// At returns the same key at another position.
func (k SnapshotKey) At(p Position) SnapshotKey {
	k.Position = p
	return k
}

// String is the storage key of the snapshot.
func (k SnapshotKey) String() string {
	return strings.Join([]string{
		"snapshot", k.Stream, k.StateType, k.EntityID, k.ReducerHash, strconv.FormatInt(k.Position.Int64(), 10),
	}, ".")
}

func (k SnapshotKey) SlogAttr() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("stream", k.Stream),
		slog.String("state_type", k.StateType),
		slog.String("id", k.EntityID),
		slog.String("reducer_hash", k.ReducerHash),
		k.Position.SlogAttr(),
	)
}

// SnapshotCache returns the entity state as of a snapshot key.
type SnapshotCache[S any] interface {
	GetState(ctx context.Context, key SnapshotKey) (S, error)
}

// SnapshotPrimer is implemented by caches that accept a state computed by
// the write path, saving a replay on the next read.
type SnapshotPrimer[S any] interface {
	Prime(ctx context.Context, key SnapshotKey, state S)
}

// snapshotRecord is the persisted form of a retained snapshot.
type snapshotRecord struct {
	StateType   string    `json:"state_type"`
	ReducerHash string    `json:"reducer_hash"`
	Position    Position  `json:"position"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	Data        []byte    `json:"data"`
}

type snapshotCacheOpts struct {
	log         *slog.Logger
	metrics     ESMetrics
	store       kv.Store
	retainEvery int
	hotSize     int
	maxLookback int
	codecs      *Codecs
	ttl         time.Duration
}

// SnapshotCacheOption configures a RetainedSnapshotCache.
type SnapshotCacheOption interface {
	applyToSnapshotCache(*snapshotCacheOpts)
}

type snapshotCacheOptionFunc func(*snapshotCacheOpts)

func (f snapshotCacheOptionFunc) applyToSnapshotCache(o *snapshotCacheOpts) { f(o) }

// WithSnapshotStore sets where retained snapshots are persisted.
func WithSnapshotStore(s kv.Store) SnapshotCacheOption {
	return snapshotCacheOptionFunc(func(o *snapshotCacheOpts) { o.store = s })
}

// WithRetainEvery sets the retention interval: a snapshot is persisted for
// every position p where (p+1) is a multiple of n.
func WithRetainEvery(n int) SnapshotCacheOption {
	return snapshotCacheOptionFunc(func(o *snapshotCacheOpts) { o.retainEvery = n })
}

// WithHotCacheSize sets the number of in-memory states kept. Zero disables
// the in-memory layer.
func WithHotCacheSize(n int) SnapshotCacheOption {
	return snapshotCacheOptionFunc(func(o *snapshotCacheOpts) { o.hotSize = n })
}

// WithSnapshotTTL expires persisted snapshots after ttl.
func WithSnapshotTTL(ttl time.Duration) SnapshotCacheOption {
	return snapshotCacheOptionFunc(func(o *snapshotCacheOpts) { o.ttl = ttl })
}

// WithStateCodecs sets the codecs used for persisted states.
func WithStateCodecs(c *Codecs) SnapshotCacheOption {
	return snapshotCacheOptionFunc(func(o *snapshotCacheOpts) { o.codecs = c })
}

// RetainedSnapshotCache rebuilds states from the nearest retained snapshot
// plus the delta of events read from the stream.
type RetainedSnapshotCache[S any] struct {
	log         *slog.Logger
	metrics     ESMetrics
	reader      StreamReader
	converter   *Converter
	reducer     *RootReducer[S]
	initial     func() S
	store       kv.Store
	hot         cache.TypedCache[S]
	closeHot    func()
	flight      *sf.Singleflight[S]
	codecs      *Codecs
	retainEvery int
	maxLookback int
	ttl         time.Duration
}

func NewRetainedSnapshotCache[S any](
	reader StreamReader,
	converter *Converter,
	reducer *RootReducer[S],
	initial func() S,
	opts ...SnapshotCacheOption,
) *RetainedSnapshotCache[S] {
	o := snapshotCacheOpts{
		log:         slog.Default(),
		metrics:     NopESMetrics(),
		retainEvery: 100,
		hotSize:     1024,
		maxLookback: 4,
	}
	for _, opt := range opts {
		opt.applyToSnapshotCache(&o)
	}
	if o.store == nil {
		o.store = kv.NewMemStore()
	}
	if o.codecs == nil {
		o.codecs = converter.Codecs()
	}
	if o.retainEvery <= 0 {
		o.retainEvery = 100
	}
	if initial == nil {
		initial = func() (s S) { return }
	}
	var (
		hot      cache.Cache = cache.NewNop()
		closeHot             = func() {}
	)
	if o.hotSize > 0 {
		lru := cache.NewLRU(cache.LRUOpts{Size: o.hotSize})
		hot, closeHot = lru, lru.Close
	}
	return &RetainedSnapshotCache[S]{
		log:         o.log.With(slog.String("component", "snapshot_cache")),
		metrics:     o.metrics,
		reader:      reader,
		converter:   converter,
		reducer:     reducer,
		initial:     initial,
		store:       o.store,
		hot:         cache.NewTyped[S](hot),
		closeHot:    closeHot,
		flight:      sf.New[S](),
		codecs:      o.codecs,
		retainEvery: o.retainEvery,
		maxLookback: o.maxLookback,
		ttl:         o.ttl,
	}
}

// Close releases the in-memory layer. States are still served afterwards,
// rebuilt from persisted snapshots and the stream.
func (c *RetainedSnapshotCache[S]) Close() { c.closeHot() }

// Retained reports whether snapshots at p are persisted.
func (c *RetainedSnapshotCache[S]) Retained(p Position) bool {
	return p.IsSet() && (int64(p)+1)%int64(c.retainEvery) == 0
}

// lastRetained is the greatest retained position <= p, or NoPosition.
func (c *RetainedSnapshotCache[S]) lastRetained(p Position) Position {
	n := int64(c.retainEvery)
	r := ((int64(p)+1)/n)*n - 1
	if r < 0 {
		return NoPosition
	}
	return Position(r)
}

func (c *RetainedSnapshotCache[S]) GetState(ctx context.Context, key SnapshotKey) (S, error) {
	if !key.Position.IsSet() {
		return c.initial(), nil
	}
	if s, ok := c.hot.Get(key.String()); ok {
		c.metrics.SnapshotCacheHit(key.StateType)
		return s, nil
	}
	c.metrics.SnapshotCacheMiss(key.StateType)

	defer c.metrics.SnapshotLoadDuration(key.StateType).ObserveDuration()

	return c.flight.Do(ctx, key.String(), func(ctx context.Context) (S, error) {
		state, err := c.rebuild(ctx, key)
		if err != nil {
			return state, err
		}
		c.hot.Put(key.String(), state)
		return state, nil
	})
}

// Prime stores a state computed by the write path.
func (c *RetainedSnapshotCache[S]) Prime(ctx context.Context, key SnapshotKey, state S) {
	c.hot.Put(key.String(), state)
	if c.Retained(key.Position) {
		c.save(ctx, key, state)
	}
}

func (c *RetainedSnapshotCache[S]) rebuild(ctx context.Context, key SnapshotKey) (S, error) {
	log := c.log.With(key.SlogAttr())

	state, base, err := c.loadBase(ctx, key)
	if err != nil {
		return state, err
	}
	if base == key.Position {
		return state, nil
	}

	envs, err := c.reader.ReadRange(ctx, key.Entity(), base.Next(), key.Position)
	if err != nil {
		return state, fmt.Errorf("failed to read %s (%s..%s): %w", key.Entity(), base.Next(), key.Position, err)
	}
	if want := int(key.Position - base); len(envs) != want {
		return state, fmt.Errorf(
			"%w: stream %s returned %d events after %s, want %d",
			ErrSnapshotNotFound, key.Entity(), len(envs), base, want,
		)
	}

	for i, env := range envs {
		if exp := base.Add(i + 1); env.Position != exp {
			return state, fmt.Errorf("stream %s out of order: got %s, want %s", key.Entity(), env.Position, exp)
		}
		ev, err := c.converter.FromEnvelope(env)
		if err != nil {
			return state, err
		}
		if state, err = c.reducer.Reduce(state, ev); err != nil {
			return state, fmt.Errorf("failed to reduce %s at %s: %w", env.Type, env.Position, err)
		}
		if c.Retained(env.Position) {
			c.save(ctx, key.At(env.Position), state)
		}
	}

	log.Debug("state rebuilt", base.SlogAttrWithKey("base"), slog.Int("replayed", len(envs)))
	return state, nil
}

// loadBase finds the nearest persisted snapshot at or before key.Position.
func (c *RetainedSnapshotCache[S]) loadBase(ctx context.Context, key SnapshotKey) (S, Position, error) {
	p := c.lastRetained(key.Position)
	for i := 0; i < c.maxLookback && p.IsSet(); i++ {
		state, err := c.load(ctx, key.At(p))
		switch {
		case err == nil:
			return state, p, nil
		case errors.Is(err, ErrSnapshotNotFound):
		default:
			// a broken snapshot is replaced by replay
			c.log.Warn("failed to load snapshot", key.At(p).SlogAttr(), slog.Any("error", err))
		}
		p = p.Add(-c.retainEvery)
	}
	return c.initial(), NoPosition, nil
}

func (c *RetainedSnapshotCache[S]) load(ctx context.Context, key SnapshotKey) (S, error) {
	var state S
	rec, err := kv.Get[snapshotRecord](ctx, c.store, key.String())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return state, ErrSnapshotNotFound
		}
		return state, err
	}
	if rec.StateType != key.StateType || rec.ReducerHash != key.ReducerHash || rec.Position != key.Position {
		return state, fmt.Errorf("snapshot %s does not match its key", key)
	}
	codec, err := c.codecs.For(rec.ContentType)
	if err != nil {
		return state, err
	}
	if err := codec.Unmarshal(rec.Data, &state); err != nil {
		return state, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return state, nil
}

func (c *RetainedSnapshotCache[S]) save(ctx context.Context, key SnapshotKey, state S) {
	codec := c.codecs.Default()
	data, err := codec.Marshal(state)
	if err == nil {
		err = kv.Put(ctx, c.store, key.String(), snapshotRecord{
			StateType:   key.StateType,
			ReducerHash: key.ReducerHash,
			Position:    key.Position,
			ContentType: codec.ContentType(),
			CreatedAt:   time.Now(),
			Data:        data,
		}, kv.PutOptions{TTL: c.ttl})
	}
	if err != nil {
		c.log.Warn("failed to save snapshot", key.SlogAttr(), slog.Any("error", err))
		return
	}
	c.metrics.SnapshotSaved(key.StateType)
}

var (
	_ SnapshotCache[any]  = (*RetainedSnapshotCache[any])(nil)
	_ SnapshotPrimer[any] = (*RetainedSnapshotCache[any])(nil)
)
