package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// FireAndForgetEffect runs detached from the write path. Its outcome is only
// observable through logs and metrics.
type FireAndForgetEffect[S any] interface {
	// Name is the exact name the effect is registered and resolved under.
	Name() string
	HandleAsync(ctx context.Context, event any, state S, key EntityKey, pos Position) error
}

type asyncEffectFunc[E any, S any] struct {
	name string
	fn   func(ctx context.Context, event E, state S, key EntityKey, pos Position) error
}

func (f asyncEffectFunc[E, S]) Name() string { return f.name }

func (f asyncEffectFunc[E, S]) HandleAsync(ctx context.Context, event any, state S, key EntityKey, pos Position) error {
	e, ok := event.(E)
	if !ok {
		return fmt.Errorf("effect %s got %T, want %s", f.name, event, reflect.TypeFor[E]())
	}
	return f.fn(ctx, e, state, key, pos)
}

// AsyncEffectFunc wraps a function as a fire-and-forget effect for events of type E.
func AsyncEffectFunc[E any, S any](
	name string,
	fn func(ctx context.Context, event E, state S, key EntityKey, pos Position) error,
) FireAndForgetEffect[S] {
	return asyncEffectFunc[E, S]{name: name, fn: fn}
}

// FireAndForget binds a fire-and-forget effect name to an exact event type.
type FireAndForget struct {
	EventType reflect.Type
	Effect    string
}

// OnEvent registers effect to run for every persisted event of type E.
func OnEvent[E any](effect string) FireAndForget {
	return FireAndForget{EventType: reflect.TypeFor[E](), Effect: effect}
}

// EffectEnvelope is the unit of work handed to an effect worker: the event,
// the state as of that event and the name of the effect to run.
type EffectEnvelope struct {
	Effect           string    `json:"effect"`
	Key              EntityKey `json:"key"`
	Position         Position  `json:"position"`
	Event            *Envelope `json:"event,omitempty"`
	StateType        string    `json:"state_type"`
	StateContentType string    `json:"state_content_type,omitempty"`
	State            []byte    `json:"state,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (e EffectEnvelope) logAttrs() slog.Attr {
	return slog.Group(
		"effect",
		slog.String("name", e.Effect),
		slog.String("state_type", e.StateType),
		slog.String("entity", e.Key.String()),
		e.Position.SlogAttr(),
	)
}

// EffectDispatcher hands envelopes to workers. Dispatch must not block the
// caller and never reports consumer failures.
type EffectDispatcher interface {
	Dispatch(env EffectEnvelope)
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(EffectEnvelope) {}

func NopEffectDispatcher() EffectDispatcher { return nopDispatcher{} }

// EffectOutcome categorizes the result of running one envelope.
type EffectOutcome string

const (
	EffectSucceeded   EffectOutcome = "success"
	EffectNotFound    EffectOutcome = "not_found"
	EffectMissingData EffectOutcome = "missing_data"
	EffectDecodeError EffectOutcome = "decode"
	EffectCanceled    EffectOutcome = "canceled"
	EffectTimeout     EffectOutcome = "timeout"
	EffectError       EffectOutcome = "error"
	EffectPanic       EffectOutcome = "panic"
)

// EffectRunner executes envelopes of a single state type.
type EffectRunner interface {
	StateType() string
	Run(ctx context.Context, env EffectEnvelope) EffectOutcome
}

type effectWorkerOpts struct {
	log     *slog.Logger
	metrics EffectMetrics
	timeout time.Duration
}

// EffectWorkerOption configures an EffectWorker.
type EffectWorkerOption interface {
	applyToEffectWorker(*effectWorkerOpts)
}

type effectTimeoutOption time.Duration

func (o effectTimeoutOption) applyToEffectWorker(w *effectWorkerOpts) { w.timeout = time.Duration(o) }

// WithEffectTimeout bounds a single HandleAsync call. Zero disables the bound.
func WithEffectTimeout(d time.Duration) EffectWorkerOption { return effectTimeoutOption(d) }

// EffectWorker resolves and runs the fire-and-forget effects of one state type.
type EffectWorker[S any] struct {
	stateType string
	log       *slog.Logger
	metrics   EffectMetrics
	converter *Converter
	effects   map[string]FireAndForgetEffect[S]
	timeout   time.Duration
}

func NewEffectWorker[S any](
	stateType string,
	converter *Converter,
	effects []FireAndForgetEffect[S],
	opts ...EffectWorkerOption,
) *EffectWorker[S] {
	o := effectWorkerOpts{
		log:     slog.Default(),
		metrics: NopEffectMetrics(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt.applyToEffectWorker(&o)
	}
	byName := make(map[string]FireAndForgetEffect[S], len(effects))
	for _, eff := range effects {
		if eff == nil {
			continue
		}
		if _, ok := byName[eff.Name()]; !ok {
			byName[eff.Name()] = eff
		}
	}
	return &EffectWorker[S]{
		stateType: stateType,
		log:       o.log.With(slog.String("component", "effect_worker"), slog.String("state_type", stateType)),
		metrics:   o.metrics,
		converter: converter,
		effects:   byName,
		timeout:   o.timeout,
	}
}

func (w *EffectWorker[S]) StateType() string { return w.stateType }

// Run executes env. It never panics on effect failures and never returns them;
// the outcome is recorded in metrics and returned for inspection.
func (w *EffectWorker[S]) Run(ctx context.Context, env EffectEnvelope) EffectOutcome {
	log := w.log.With(env.logAttrs())

	eff, ok := w.effects[env.Effect]
	if !ok {
		log.Error("effect not registered")
		return w.fail(env, EffectNotFound)
	}
	if env.Event == nil || len(env.State) == 0 {
		log.Error("effect envelope is missing event or state data")
		return w.fail(env, EffectMissingData)
	}

	event, err := w.converter.FromEnvelope(*env.Event)
	if err != nil {
		log.Error("failed to decode event", slog.Any("error", err))
		return w.fail(env, EffectDecodeError)
	}
	codec, err := w.converter.Codecs().For(env.StateContentType)
	if err != nil {
		log.Error("failed to decode state", slog.Any("error", err))
		return w.fail(env, EffectDecodeError)
	}
	var state S
	if err := codec.Unmarshal(env.State, &state); err != nil {
		log.Error("failed to decode state", slog.Any("error", err))
		return w.fail(env, EffectDecodeError)
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	timer := w.metrics.EffectDuration(w.stateType, env.Effect)
	err = w.invoke(ctx, eff, event, state, env)
	timer.ObserveDuration()

	if err == nil {
		w.metrics.EffectSucceeded(w.stateType, env.Effect)
		log.Debug("effect done")
		return EffectSucceeded
	}

	outcome := classifyEffectError(err)
	log.Error("effect failed", slog.String("category", string(outcome)), slog.Any("error", err))
	return w.fail(env, outcome)
}

func (w *EffectWorker[S]) fail(env EffectEnvelope, outcome EffectOutcome) EffectOutcome {
	w.metrics.EffectFailed(w.stateType, env.Effect, string(outcome))
	return outcome
}

func (w *EffectWorker[S]) invoke(
	ctx context.Context,
	eff FireAndForgetEffect[S],
	event any,
	state S,
	env EffectEnvelope,
) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if isFatal(rec) {
				panic(rec)
			}
			err = &effectPanic{value: rec}
		}
	}()
	return eff.HandleAsync(ctx, event, state, env.Key, env.Position)
}

type effectPanic struct{ value any }

func (p *effectPanic) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func classifyEffectError(err error) EffectOutcome {
	var p *effectPanic
	switch {
	case errors.As(err, &p):
		return EffectPanic
	case errors.Is(err, context.DeadlineExceeded):
		return EffectTimeout
	case errors.Is(err, context.Canceled):
		return EffectCanceled
	}
	return EffectError
}

var _ EffectRunner = (*EffectWorker[any])(nil)
