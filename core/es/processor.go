package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// errReducedAfterAppend marks a reducer failure on events that are already persisted.
var errReducedAfterAppend = errors.New("events persisted but not reduced")

type executeOpts struct {
	expected *Position
}

// ExecuteOption configures a single Execute call.
type ExecuteOption func(*executeOpts)

// ExpectPosition fails the command with a concurrency conflict unless the
// entity is at p. Pass NoPosition to require an empty stream.
func ExpectPosition(p Position) ExecuteOption {
	return func(o *executeOpts) { o.expected = p.Ptr() }
}

// Processor executes commands for a single entity. Calls are serialized.
// It caches the stream position it last read or wrote so that the cursor
// service is only consulted once per activation.
type Processor[S any] struct {
	entity *Entity[S]
	key    EntityKey
	log    *slog.Logger

	mu    sync.Mutex
	pos   Position
	known bool
}

// applied is an event together with the state right after it.
type applied[S any] struct {
	event    any
	envelope Envelope
	state    S
}

func (p *Processor[S]) Key() EntityKey { return p.key }

// Position returns the cached position and whether one is cached.
func (p *Processor[S]) Position() (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos, p.known
}

// Reset discards the cached position; the next command re-reads the cursor.
func (p *Processor[S]) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

func (p *Processor[S]) reset() {
	p.pos, p.known = NoPosition, false
}

// Execute runs cmd against the current state of the entity, appends the
// produced events and triggers the effects of the new events.
func (p *Processor[S]) Execute(ctx context.Context, cmd any, opts ...ExecuteOption) (res OperationResult) {
	var o executeOpts
	for _, opt := range opts {
		opt(&o)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entity
	timer := e.metrics.CommandDuration(e.stream)
	defer func() {
		timer.ObserveDuration()
		e.metrics.CommandExecuted(e.stream, res.ErrorCode)
	}()

	log := p.log.With(slog.String("command", commandName(cmd)))

	if err := ctx.Err(); err != nil {
		return FailErr(err)
	}

	cur, err := p.currentPosition(ctx)
	if err != nil {
		if isCanceled(err) {
			return FailErr(err)
		}
		return Fail(ErrorCodeCursorUnavailable, fmt.Sprintf("failed to read position of %s: %s", p.key, err))
	}

	if o.expected != nil && *o.expected != cur {
		e.metrics.ConcurrencyConflict(e.stream)
		log.Debug("stale expected position", o.expected.SlogAttrWithKey("expected"), cur.SlogAttr())
		return Fail(
			ErrorCodeConcurrencyConflict,
			fmt.Sprintf("%s: expected position %s, current %s", p.key, *o.expected, cur),
		)
	}

	state, err := p.stateAt(ctx, cur)
	if err != nil {
		if isCanceled(err) {
			return FailErr(err)
		}
		return Fail(ErrorCodeStateUnavailable, fmt.Sprintf("failed to load state of %s at %s: %s", p.key, cur, err))
	}

	handled := e.handlers.Handle(ctx, cmd, state)
	if !handled.Success {
		log.Debug("command failed", slog.String("code", handled.ErrorCode), slog.String("error", handled.ErrorMessage))
		return handled.OperationResult
	}
	if len(handled.Value) == 0 {
		return Ok()
	}

	if err := ctx.Err(); err != nil {
		return FailErr(err)
	}

	batch, err := p.persist(ctx, cur, state, handled.Value)
	if errors.Is(err, errReducedAfterAppend) {
		log.Error("skipping effects", slog.Any("error", err))
		return Ok()
	}
	if err != nil {
		return p.appendFailure(log, err)
	}
	log.Debug("command executed", p.pos.SlogAttr(), slog.Int("num_events", len(batch)))

	p.propagate(context.WithoutCancel(ctx), log, batch)
	return Ok()
}

func (p *Processor[S]) currentPosition(ctx context.Context) (Position, error) {
	e := p.entity
	if p.known {
		e.metrics.CursorCacheHit(e.stream)
		return p.pos, nil
	}
	e.metrics.CursorCacheMiss(e.stream)
	pos, err := e.cursor.GetLatestPosition(ctx, p.key)
	if err != nil {
		return NoPosition, err
	}
	p.pos, p.known = pos, true
	return pos, nil
}

func (p *Processor[S]) stateAt(ctx context.Context, pos Position) (S, error) {
	if !pos.IsSet() {
		return p.entity.initial(), nil
	}
	return p.entity.snapshots.GetState(ctx, p.entity.SnapshotKey(p.key.ID, pos))
}

// persist appends events after pre and advances the cached position.
// It returns every persisted event with the state right after it.
func (p *Processor[S]) persist(ctx context.Context, pre Position, state S, events []any) ([]applied[S], error) {
	e := p.entity

	envs, err := e.converter.ToEnvelopes(p.key, pre, events)
	if err != nil {
		return nil, err
	}

	var expected *Position
	if pre.IsSet() {
		expected = pre.Ptr()
	}

	timer := e.metrics.StoreAppendDuration(e.stream)
	last, err := e.appender.Append(ctx, p.key, envs, expected)
	timer.ObserveDuration()
	if err != nil {
		// the stream may have moved, or the append may have landed
		p.reset()
		return nil, err
	}
	e.metrics.EventsAppended(e.stream, len(envs))

	next := pre.Add(len(envs))
	if last != next {
		// the store placed the batch after events this processor has not seen
		p.log.Warn("store reported unexpected position", next.SlogAttrWithKey("want"), last.SlogAttrWithKey("got"))
		base := last.Add(-len(envs))
		for i := range envs {
			envs[i].Position = base.Add(i + 1)
		}
		if state, err = p.stateAt(ctx, base); err != nil {
			p.reset()
			return nil, fmt.Errorf("%w: failed to load state at %s: %w", errReducedAfterAppend, base, err)
		}
		next = last
	}
	p.pos, p.known = next, true

	out := make([]applied[S], 0, len(events))
	for i, ev := range events {
		if state, err = e.reducer.Reduce(state, ev); err != nil {
			return nil, fmt.Errorf("%w: %T at %s: %w", errReducedAfterAppend, ev, envs[i].Position, err)
		}
		out = append(out, applied[S]{event: ev, envelope: envs[i], state: state})
	}

	if primer, ok := e.snapshots.(SnapshotPrimer[S]); ok {
		primer.Prime(ctx, e.SnapshotKey(p.key.ID, next), state)
	}
	return out, nil
}

func (p *Processor[S]) appendFailure(log *slog.Logger, err error) OperationResult {
	e := p.entity
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		e.metrics.ConcurrencyConflict(e.stream)
		log.Debug("append conflict", slog.Any("error", err))
		return Fail(ErrorCodeConcurrencyConflict, err.Error())
	case errors.Is(err, ErrUnknownEventType):
		log.Error("event type not registered", slog.Any("error", err))
		return Fail(ErrorCodeConversionFailed, err.Error())
	case isCanceled(err):
		return FailErr(err)
	}
	log.Error("append failed", slog.Any("error", err))
	return Fail(ErrorCodeStorageFailure, err.Error())
}

// propagate runs the effects of a persisted batch. Nothing here changes
// the outcome of the command.
func (p *Processor[S]) propagate(ctx context.Context, log *slog.Logger, batch []applied[S]) {
	e := p.entity
	p.dispatchAsync(batch)

	if e.effects.Len() == 0 {
		return
	}

	pending := batch
	rounds := 0
	for len(pending) > 0 {
		yields := p.dispatchSync(ctx, log, pending)
		if len(yields) == 0 {
			break
		}
		if rounds >= e.maxEffectIterations {
			e.metrics.EffectIterationLimit(e.stream)
			e.metrics.EffectYieldsDropped(e.stream, len(yields))
			log.Warn(
				"effect iteration limit reached, dropping yielded events",
				slog.Int("max_iterations", e.maxEffectIterations),
				slog.Int("dropped", len(yields)),
			)
			break
		}
		rounds++

		last := pending[len(pending)-1]
		next, err := p.persist(ctx, last.envelope.Position, last.state, yields)
		if err != nil {
			log.Error("failed to persist effect events", slog.Int("round", rounds), slog.Any("error", err))
			break
		}
		p.dispatchAsync(next)
		pending = next
	}
	e.metrics.EffectIterations(e.stream, rounds)
}

func (p *Processor[S]) dispatchSync(ctx context.Context, log *slog.Logger, pending []applied[S]) []any {
	var yields []any
	for _, ap := range pending {
		for ev, err := range p.entity.effects.Dispatch(ctx, ap.event, ap.state) {
			if err != nil {
				log.Error("effect failed", ap.envelope.logAttrs(), slog.Any("error", err))
				continue
			}
			if ev != nil {
				yields = append(yields, ev)
			}
		}
	}
	return yields
}

func (p *Processor[S]) dispatchAsync(batch []applied[S]) {
	e := p.entity
	if len(e.async) == 0 {
		return
	}
	codec := e.converter.Codecs().Default()
	for _, ap := range batch {
		names := e.async[reflect.TypeOf(ap.event)]
		if len(names) == 0 {
			continue
		}
		state, err := codec.Marshal(ap.state)
		if err != nil {
			p.log.Error("failed to encode state for effects", ap.envelope.logAttrs(), slog.Any("error", err))
			continue
		}
		for _, name := range names {
			event := ap.envelope
			e.dispatcher.Dispatch(EffectEnvelope{
				Effect:           name,
				Key:              p.key,
				Position:         ap.envelope.Position,
				Event:            &event,
				StateType:        e.stateType,
				StateContentType: codec.ContentType(),
				State:            state,
				CreatedAt:        time.Now(),
			})
		}
	}
}
