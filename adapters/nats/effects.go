package nats

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
)

const (
	defaultEffectPrefix = "mississippi.effects"
	defaultEffectQueue  = "effect-workers"
)

type EffectTransportConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for effect subjects, <prefix>.<stateType>
	Queue         string       // Queue group shared by subscribers; each envelope reaches one of them
}

func (c EffectTransportConfig) prefix() string {
	if c.SubjectPrefix == "" {
		return defaultEffectPrefix
	}
	return c.SubjectPrefix
}

// EffectPublisher is an es.EffectDispatcher that publishes envelopes on core
// NATS. Publishing is buffered by the client and never waits for workers.
type EffectPublisher struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	prefix  string
}

func NewEffectPublisher(cfg EffectTransportConfig) (*EffectPublisher, error) {
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}
	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &EffectPublisher{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("effects", "nats_publisher")),
		prefix:  cfg.prefix(),
	}, nil
}

func (p *EffectPublisher) Dispatch(env es.EffectEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.log.Error("failed to encode effect envelope", slog.String("effect", env.Effect), slog.Any("error", err))
		return
	}
	subject := joinSubject(p.prefix, subjectToken(env.StateType))
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn(
			"effect dropped",
			slog.String("effect", env.Effect),
			slog.String("subject", subject),
			slog.Any("error", err),
		)
	}
}

// Close flushes pending publishes and releases the connection.
func (p *EffectPublisher) Close() {
	if err := p.nc.Flush(); err != nil {
		p.log.Debug("flush failed", slog.Any("error", err))
	}
	p.closeNc()
}

var _ es.EffectDispatcher = (*EffectPublisher)(nil)

// EffectSubscriber feeds envelopes published by an EffectPublisher into a
// local dispatcher, typically an *es.EffectPool. Subscribers share a queue
// group so every envelope runs once across processes.
type EffectSubscriber struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	log     *slog.Logger
	sub     *natsgo.Subscription
	target  es.EffectDispatcher

	closeOnce sync.Once
}

func NewEffectSubscriber(cfg EffectTransportConfig, target es.EffectDispatcher) (*EffectSubscriber, error) {
	if target == nil {
		return nil, errors.New("effect subscriber needs a target dispatcher")
	}
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}
	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultEffectQueue
	}

	s := &EffectSubscriber{
		nc:      nc,
		closeNc: closeNc,
		log:     log.With(slog.String("effects", "nats_subscriber"), slog.String("queue", queue)),
		target:  target,
	}

	s.sub, err = nc.QueueSubscribe(cfg.prefix()+".*", queue, s.handle)
	if err != nil {
		closeNc()
		return nil, err
	}
	// subscription must be registered with the server before publishers rely on it
	if err := nc.Flush(); err != nil {
		_ = s.sub.Unsubscribe()
		closeNc()
		return nil, err
	}
	s.log.Debug("subscribed", slog.String("subject", s.sub.Subject))
	return s, nil
}

func (s *EffectSubscriber) handle(msg *natsgo.Msg) {
	var env es.EffectEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		s.log.Error("failed to decode effect envelope", slog.String("subject", msg.Subject), slog.Any("error", err))
		return
	}
	s.target.Dispatch(env)
}

// Close drains the subscription so in-flight messages reach the target.
func (s *EffectSubscriber) Close() {
	s.closeOnce.Do(func() {
		if err := s.sub.Drain(); err != nil {
			s.log.Debug("drain failed", slog.Any("error", err))
		}
		s.closeNc()
	})
}
