package es

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Gibbs-Morris/mississippi-sub002/core/perkey"
)

type hostOpts struct {
	log         *slog.Logger
	idleTimeout time.Duration
	bufferSize  int
}

// HostOption configures a Host.
type HostOption interface {
	applyToHost(*hostOpts)
}

type hostOptionFunc func(*hostOpts)

func (f hostOptionFunc) applyToHost(o *hostOpts) { f(o) }

// WithIdleTimeout deactivates entities that received no command for d.
func WithIdleTimeout(d time.Duration) HostOption {
	return hostOptionFunc(func(o *hostOpts) { o.idleTimeout = d })
}

// WithMailboxSize sets how many commands may queue per entity.
func WithMailboxSize(n int) HostOption {
	return hostOptionFunc(func(o *hostOpts) { o.bufferSize = n })
}

// Host activates entities on demand: commands for one entity id run one at
// a time, in arrival order, while different ids run in parallel. Idle
// entities are deactivated and lose their cached position.
type Host[S any] struct {
	entity *Entity[S]
	log    *slog.Logger
	sched  *perkey.Scheduler[string]

	mu         sync.Mutex
	processors map[string]*Processor[S]
}

func NewHost[S any](entity *Entity[S], opts ...HostOption) *Host[S] {
	o := hostOpts{
		log:         entity.log,
		idleTimeout: 5 * time.Minute,
		bufferSize:  64,
	}
	for _, opt := range opts {
		opt.applyToHost(&o)
	}

	h := &Host[S]{
		entity:     entity,
		log:        o.log.With(slog.String("host", entity.stream)),
		processors: make(map[string]*Processor[S]),
	}
	h.sched = perkey.New[string](
		perkey.WithBufferSize(o.bufferSize),
		perkey.WithIdleTimeout(o.idleTimeout),
		perkey.WithOnEvict(h.deactivate),
	)
	return h
}

func (h *Host[S]) Entity() *Entity[S] { return h.entity }

// Execute runs cmd on the entity id. ctx bounds the wait for a mailbox
// slot; once queued, Execute returns the command's own result, which is
// CANCELED only if nothing was appended.
func (h *Host[S]) Execute(ctx context.Context, id string, cmd any, opts ...ExecuteOption) OperationResult {
	var res OperationResult
	err := h.sched.DoQueued(ctx, id, func() error {
		p, err := h.activate(id)
		if err != nil {
			res = FailErr(err)
			return nil
		}
		res = p.Execute(ctx, cmd, opts...)
		return nil
	})
	if err != nil {
		if errors.Is(err, perkey.ErrSchedulerClosed) {
			return Fail(ErrorCodeCanceled, "host is closed")
		}
		return FailErr(err)
	}
	return res
}

// Active returns the number of activated entities.
func (h *Host[S]) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.processors)
}

// Close stops accepting commands and waits for queued ones.
func (h *Host[S]) Close() {
	h.sched.Close()
}

func (h *Host[S]) activate(id string) (*Processor[S], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.processors[id]; ok {
		return p, nil
	}
	p, err := h.entity.NewProcessor(id)
	if err != nil {
		return nil, err
	}
	h.processors[id] = p
	h.log.Debug("activated", p.key.SlogAttr())
	return p, nil
}

// deactivate runs under the scheduler lock, after the last command of id.
func (h *Host[S]) deactivate(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.processors[id]; ok {
		delete(h.processors, id)
		h.log.Debug("deactivated", slog.String("id", id))
	}
}
