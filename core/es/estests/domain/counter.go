package domain

import (
	"context"
	"sync"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
)

const (
	Stream    = "counter"
	StateType = "counter_state"

	ErrCodeNotInitialized = "NOT_INITIALIZED"
	ErrCodeAlreadyExists  = "ALREADY_INITIALIZED"
	ErrCodeLimitExceeded  = "LIMIT_EXCEEDED"
)

type (
	Counter struct {
		Initialized bool `json:"initialized"`
		Count       int  `json:"count"`
		Increments  int  `json:"increments"`
		Milestones  int  `json:"milestones"`
	}

	// Commands

	Initialize struct{ Value int }
	Increment  struct{}
	Add        struct{ By int }
	Touch      struct{}
	Explode    struct{}

	// Events

	Initialized struct {
		Value int `json:"value"`
	}
	Incremented struct {
		By int `json:"by"`
	}
	MilestoneReached struct {
		At int `json:"at"`
	}
)

func (Initialized) EventType() string      { return "counter.initialized" }
func (Incremented) EventType() string      { return "counter.incremented" }
func (MilestoneReached) EventType() string { return "counter.milestone_reached" }

// Limit is the largest count Add accepts.
const Limit = 1000

func initialize(_ context.Context, cmd Initialize, s Counter) ([]any, error) {
	if s.Initialized {
		return nil, es.Reject(ErrCodeAlreadyExists, "counter already initialized at %d", s.Count)
	}
	return []any{Initialized{Value: cmd.Value}}, nil
}

func increment(_ context.Context, _ Increment, s Counter) ([]any, error) {
	if !s.Initialized {
		return nil, es.Reject(ErrCodeNotInitialized, "counter is not initialized")
	}
	return []any{Incremented{By: 1}}, nil
}

func add(_ context.Context, cmd Add, s Counter) ([]any, error) {
	if !s.Initialized {
		return nil, es.Reject(ErrCodeNotInitialized, "counter is not initialized")
	}
	if s.Count+cmd.By > Limit {
		return nil, es.Reject(ErrCodeLimitExceeded, "count would exceed %d", Limit)
	}
	events := make([]any, 0, cmd.By)
	for i := 0; i < cmd.By; i++ {
		events = append(events, Incremented{By: 1})
	}
	return events, nil
}

// touch accepts the command without producing events.
func touch(context.Context, Touch, Counter) ([]any, error) { return nil, nil }

func explode(context.Context, Explode, Counter) ([]any, error) { panic("boom") }

func Handlers() []es.CommandHandler[Counter] {
	return []es.CommandHandler[Counter]{
		es.HandleCommand(initialize),
		es.HandleCommand(increment),
		es.HandleCommand(add),
		es.HandleCommand(touch),
		es.HandleCommand(explode),
	}
}

func Reducers() []es.Reducer[Counter] {
	return []es.Reducer[Counter]{
		es.ReduceEvent(func(s Counter, e Initialized) Counter {
			s.Initialized = true
			s.Count = e.Value
			return s
		}),
		es.ReduceEvent(func(s Counter, e Incremented) Counter {
			s.Count += e.By
			s.Increments++
			return s
		}),
		es.ReduceEvent(func(s Counter, _ MilestoneReached) Counter {
			s.Milestones++
			return s
		}),
	}
}

func Events() []es.EventRegistration {
	return []es.EventRegistration{
		es.Event[Initialized](),
		es.Event[Incremented](),
		es.Event[MilestoneReached](),
	}
}

// Definition returns the counter entity. extend may add effects.
func Definition(extend ...func(*es.Definition[Counter])) es.Definition[Counter] {
	d := es.Definition[Counter]{
		Stream:    Stream,
		StateType: StateType,
		Initial:   func() Counter { return Counter{} },
		Events:    Events(),
		Handlers:  Handlers(),
		Reducers:  Reducers(),
	}
	for _, fn := range extend {
		fn(&d)
	}
	return d
}

// MilestoneEvery yields a MilestoneReached event whenever the count reaches a multiple of n.
func MilestoneEvery(n int) es.EventEffect[Counter] {
	return es.EffectSlice("milestone", func(_ context.Context, _ Incremented, s Counter) ([]any, error) {
		if s.Count%n != 0 {
			return nil, nil
		}
		return []any{MilestoneReached{At: s.Count}}, nil
	})
}

// Recorder is a fire-and-forget effect remembering what it saw.
type Recorder struct {
	name string

	mu   sync.Mutex
	seen []Seen
	fn   func(ctx context.Context) error
	done chan Seen
}

type Seen struct {
	Key      es.EntityKey
	Position es.Position
	Event    any
	State    Counter
}

func NewRecorder(name string, fn func(ctx context.Context) error) *Recorder {
	return &Recorder{name: name, fn: fn, done: make(chan Seen, 1024)}
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) HandleAsync(ctx context.Context, event any, state Counter, key es.EntityKey, pos es.Position) error {
	s := Seen{Key: key, Position: pos, Event: event, State: state}
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
	defer func() { r.done <- s }()
	if r.fn != nil {
		return r.fn(ctx)
	}
	return nil
}

func (r *Recorder) Done() <-chan Seen { return r.done }

func (r *Recorder) Seen() []Seen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Seen(nil), r.seen...)
}
