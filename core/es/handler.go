package es

import (
	"context"
	"fmt"
	"reflect"
)

// CommandHandler decides which events a command produces for a state.
type CommandHandler[S any] interface {
	// CanHandle reports whether the handler claims cmd.
	CanHandle(cmd any) bool
	// Handle returns the events produced by cmd. A non-nil error rejects the
	// command; return a *CommandError to choose the failure code.
	Handle(ctx context.Context, cmd any, state S) ([]any, error)
}

type commandFunc[C any, S any] struct {
	fn func(ctx context.Context, cmd C, state S) ([]any, error)
}

func (h commandFunc[C, S]) CanHandle(cmd any) bool {
	_, ok := cmd.(C)
	return ok
}

func (h commandFunc[C, S]) Handle(ctx context.Context, cmd any, state S) ([]any, error) {
	c, ok := cmd.(C)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNoHandler, cmd)
	}
	return h.fn(ctx, c, state)
}

// HandleCommand wraps a plain function handling commands of exactly type C.
func HandleCommand[C any, S any](fn func(ctx context.Context, cmd C, state S) ([]any, error)) CommandHandler[S] {
	return commandFunc[C, S]{fn: fn}
}

// RootCommandHandler dispatches a command to the first handler that claims it.
// It is built once and read-only afterwards.
type RootCommandHandler[S any] struct {
	handlers []CommandHandler[S]
}

func NewRootCommandHandler[S any](handlers ...CommandHandler[S]) *RootCommandHandler[S] {
	hs := make([]CommandHandler[S], 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			hs = append(hs, h)
		}
	}
	return &RootCommandHandler[S]{handlers: hs}
}

func (r *RootCommandHandler[S]) Len() int { return len(r.handlers) }

// Handle runs cmd through the first accepting handler.
func (r *RootCommandHandler[S]) Handle(ctx context.Context, cmd any, state S) Result[[]any] {
	for _, h := range r.handlers {
		if !h.CanHandle(cmd) {
			continue
		}
		events, err := r.invoke(ctx, h, cmd, state)
		if err != nil {
			return FailValue[[]any](FailErr(err))
		}
		return OkValue(events)
	}
	return FailValue[[]any](FailErr(fmt.Errorf("%w for command %s", ErrNoHandler, commandName(cmd))))
}

func (r *RootCommandHandler[S]) invoke(ctx context.Context, h CommandHandler[S], cmd any, state S) (events []any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if isFatal(rec) {
				panic(rec)
			}
			err = &CommandError{
				Code:    ErrorCodeHandlerPanic,
				Message: fmt.Sprintf("handler for %s panicked: %v", commandName(cmd), rec),
			}
		}
	}()
	return h.Handle(ctx, cmd, state)
}

func commandName(cmd any) string {
	if cmd == nil {
		return "<nil>"
	}
	return reflect.TypeOf(cmd).String()
}

// fatalError is implemented by panic values that must never be recovered.
type fatalError interface {
	Fatal() bool
}

func isFatal(v any) bool {
	f, ok := v.(fatalError)
	return ok && f.Fatal()
}
