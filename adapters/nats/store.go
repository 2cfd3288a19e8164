package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Gibbs-Morris/mississippi-sub002/core/es"
)

const (
	defaultSubjectPrefix = "mississippi.es"
	defaultStreamName    = "MISSISSIPPI_ES"

	hdrFirstPosition = "Es-First-Position"
	hdrLastPosition  = "Es-Last-Position"
	hdrStream        = "Es-Stream"
	hdrEntityID      = "Es-Entity-Id"

	fetchBatch   = 100
	fetchMaxWait = 2 * time.Second

	// appends without an expected position retry this often when another
	// writer got in between reading the cursor and publishing.
	maxAppendRetries = 3
)

// RetentionPolicy defines how messages are retained in the stream.
type RetentionPolicy int

const (
	// RetentionLimits keeps messages until MaxAge, MaxBytes or MaxMsgs is reached.
	RetentionLimits RetentionPolicy = iota
	// RetentionInterest keeps messages only while consumers have interest.
	RetentionInterest
)

func (r RetentionPolicy) toJetStream() jetstream.RetentionPolicy {
	if r == RetentionInterest {
		return jetstream.InterestPolicy
	}
	return jetstream.LimitsPolicy
}

type EventStoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is the prefix of entity subjects, <prefix>.<stream>.<id>
	StreamName    string
	Retention     RetentionPolicy
	MaxAge        time.Duration
	MaxBytes      int64
	Storage       jetstream.StorageType
}

// EventStore keeps entity streams in a JetStream stream. Each append batch
// is one message on the entity's subject, so a batch is stored
// all-or-nothing and compare-and-append maps onto the per-subject last
// sequence check.
type EventStore struct {
	js            jetstream.JetStream
	stream        jetstream.Stream
	closeNc       closeFunc
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  cfg.Retention.toJetStream(),
		Storage:    cfg.Storage,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   maxBytes,
		FirstSeq:   1,
		Duplicates: time.Minute,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensured", slog.Any("stream", streamInfo.Config.Name), slog.Uint64("messages", streamInfo.State.Msgs))

	return &EventStore{
		js:            js,
		stream:        stream,
		closeNc:       closeNatsCon,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) subject(key es.EntityKey) string {
	return joinSubject(e.subjectPrefix, subjectToken(key.Stream), subjectToken(key.ID))
}

// tail is the last stored batch of an entity: its stream sequence and the
// position of its last record. An empty entity has seq 0 and NoPosition.
type tail struct {
	seq uint64
	pos es.Position
}

func (e *EventStore) tail(ctx context.Context, key es.EntityKey) (tail, error) {
	subject := e.subject(key)
	msg, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return tail{pos: es.NoPosition}, nil
		}
		return tail{}, fmt.Errorf("failed to get last message for subject %q: %w", subject, err)
	}
	pos, err := headerPosition(msg.Header, hdrLastPosition)
	if err != nil {
		return tail{}, fmt.Errorf("message %d on %q: %w", msg.Sequence, subject, err)
	}
	return tail{seq: msg.Sequence, pos: pos}, nil
}

func (e *EventStore) GetLatestPosition(ctx context.Context, key es.EntityKey) (es.Position, error) {
	if err := key.Validate(); err != nil {
		return es.NoPosition, err
	}
	t, err := e.tail(ctx, key)
	if err != nil {
		return es.NoPosition, err
	}
	return t.pos, nil
}

func (e *EventStore) Append(
	ctx context.Context,
	key es.EntityKey,
	records []es.Envelope,
	expected *es.Position,
) (last es.Position, err error) {
	if len(records) == 0 {
		return es.NoPosition, es.ErrStoreNoEvents
	}
	if err = key.Validate(); err != nil {
		return es.NoPosition, err
	}

	for attempt := 0; ; attempt++ {
		last, err = e.append(ctx, key, records, expected)
		if err == nil || expected != nil || !errors.Is(err, es.ErrConcurrencyConflict) || attempt >= maxAppendRetries {
			return last, err
		}
		e.log.Debug("append raced, retrying", key.SlogAttr(), slog.Int("attempt", attempt+1))
	}
}

func (e *EventStore) append(
	ctx context.Context,
	key es.EntityKey,
	records []es.Envelope,
	expected *es.Position,
) (es.Position, error) {
	t, err := e.tail(ctx, key)
	if err != nil {
		return es.NoPosition, err
	}
	if expected != nil && *expected != t.pos {
		return t.pos, fmt.Errorf("%w: expected position %s, got %s (%s)", es.ErrConcurrencyConflict, *expected, t.pos, key)
	}

	batch := make([]es.Envelope, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return t.pos, fmt.Errorf("failed to validate event: %w", err)
		}
		if r.Key() != key {
			return t.pos, fmt.Errorf("record %s belongs to %s, not %s", r.ID, r.Key(), key)
		}
		r.Position = t.pos.Add(i + 1)
		batch[i] = r
	}
	first, last := batch[0].Position, batch[len(batch)-1].Position

	subject := e.subject(key)
	msg := natsgo.NewMsg(subject)
	msg.Header.Set(hdrStream, key.Stream)
	msg.Header.Set(hdrEntityID, key.ID)
	msg.Header.Set(hdrFirstPosition, first.String())
	msg.Header.Set(hdrLastPosition, last.String())
	msg.Data, err = json.Marshal(batch)
	if err != nil {
		return t.pos, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithExpectLastSequencePerSubject(t.seq),
		jetstream.WithMsgID(batch[0].ID),
	)
	if err != nil {
		var apiErr *jetstream.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
			return t.pos, fmt.Errorf("%w: stream moved past position %s (%s)", es.ErrConcurrencyConflict, t.pos, key)
		}
		return t.pos, fmt.Errorf("failed to append to subject %s: %w", subject, err)
	}
	if ack.Duplicate {
		return t.pos, fmt.Errorf("%w: batch %s already stored (%s)", es.ErrConcurrencyConflict, batch[0].ID, key)
	}

	e.log.Debug(
		"append",
		key.SlogAttr(),
		last.SlogAttrWithKey("last_position"),
		slog.Int("num_events", len(batch)),
		slog.Uint64("seq", ack.Sequence),
	)
	return last, nil
}

// ReadRange returns the records of key with positions in [from, to].
func (e *EventStore) ReadRange(ctx context.Context, key es.EntityKey, from, to es.Position) (out []es.Envelope, err error) {
	if err = key.Validate(); err != nil {
		return nil, err
	}
	if from < 0 {
		from = 0
	}
	if to < from {
		return nil, nil
	}

	startAt := time.Now()
	defer func() {
		if err == nil {
			e.log.Debug(
				"read range",
				key.SlogAttr(),
				from.SlogAttrWithKey("from"),
				to.SlogAttrWithKey("to"),
				slog.Int("num_events", len(out)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	t, err := e.tail(ctx, key)
	if err != nil {
		return nil, err
	}
	if !t.pos.IsSet() || t.pos < from {
		return nil, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{e.subject(key)},
	})
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mb, err := cc.Fetch(fetchBatch, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return nil, err
			}

			// batches entirely before the range are skipped without decoding
			lastPos, err := headerPosition(msg.Headers(), hdrLastPosition)
			if err != nil {
				return nil, err
			}
			if lastPos >= from {
				var batch []es.Envelope
				if err := json.Unmarshal(msg.Data(), &batch); err != nil {
					return nil, fmt.Errorf("failed to decode batch %d: %w", md.Sequence.Stream, err)
				}
				for _, env := range batch {
					if env.Position >= from && env.Position <= to {
						out = append(out, env)
					}
				}
			}

			if lastPos >= to || md.Sequence.Stream >= t.seq {
				return out, nil
			}
		}
		if mb.Error() != nil {
			return nil, mb.Error()
		}
		if empty {
			return nil, fmt.Errorf("stream %s ended before sequence %d (%s)", e.streamName, t.seq, key)
		}
	}
}

func headerPosition(h natsgo.Header, name string) (es.Position, error) {
	v := h.Get(name)
	if v == "" {
		return es.NoPosition, fmt.Errorf("missing header %s", name)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return es.NoPosition, fmt.Errorf("invalid header %s=%q: %w", name, v, err)
	}
	return es.Position(n), nil
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

var _ es.EventStore = (*EventStore)(nil)
