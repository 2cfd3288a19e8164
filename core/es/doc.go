// Package es implements the write side of an event-sourced entity runtime.
//
// # Overview
//
// An entity is addressed by an [EntityKey] (stream name + id) and its history
// is an append-only stream of events. Commands are executed by a [Processor],
// one per entity, which:
//
//  1. resolves the current stream [Position] (cached after the first read),
//  2. rejects stale [ExpectPosition] expectations,
//  3. loads the state from a [SnapshotCache],
//  4. dispatches the command to the [RootCommandHandler],
//  5. appends the produced events with a compare-and-append,
//  6. runs the synchronous [EventEffect] chain and hands the events to the
//     fire-and-forget [EffectDispatcher].
//
// Every outcome is an [OperationResult] carrying a stable error code.
//
// # Defining an entity
//
//	def := es.Definition[Counter]{
//	    Stream:    "counter",
//	    StateType: "counter_state",
//	    Initial:   func() Counter { return Counter{} },
//	    Events:    []es.EventRegistration{es.Event[Incremented]()},
//	    Handlers: []es.CommandHandler[Counter]{
//	        es.HandleCommand(func(ctx context.Context, c Increment, s Counter) ([]any, error) {
//	            return []any{Incremented{By: 1}}, nil
//	        }),
//	    },
//	    Reducers: []es.Reducer[Counter]{
//	        es.ReduceEvent(func(s Counter, e Incremented) Counter { s.Count += e.By; return s }),
//	    },
//	}
//
// # Hosting
//
// [Register] binds a definition to an [Env] (store, registries, converter,
// effect pool). A [Host] activates processors on demand, runs commands for
// one id strictly in order and deactivates idle entities:
//
//	env, _ := es.NewEnv(es.WithStore(store), es.WithLog(log))
//	entity, _ := es.Register(env, def)
//	host := es.NewHost(entity, es.WithIdleTimeout(time.Minute))
//	res := host.Execute(ctx, "counter-1", Increment{})
//
// # Effects
//
// Synchronous effects may yield further events. Yields are persisted as an
// additional batch after the events that triggered them and fed back into
// the chain, at most [WithMaxEffectIterations] times per command.
// Fire-and-forget effects are bound with [OnEvent] and run by an
// [EffectWorker] inside an [EffectPool], or remotely behind a transport such
// as the NATS effect publisher.
package es
