package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Gibbs-Morris/mississippi-sub002/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Log     *slog.Logger
	Bucket  string
	// TTL applies to every key of the bucket. JetStream has no per-put TTL
	// for plain Put, so kv.PutOptions.TTL is ignored.
	TTL      time.Duration
	MaxBytes int64
	Storage  jetstream.StorageType
}

// KvStore is a kv.Store on a JetStream key-value bucket. Keys are base64url
// encoded since kv keys may contain characters the bucket rejects.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
	log     *slog.Logger
}

type kvValue struct {
	Data []byte         `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  cfg.Storage,
		TTL:      cfg.TTL,
		MaxBytes: maxBytes,
	})
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &KvStore{
		kv:      bucket,
		closeNc: closeNc,
		log:     log.With(slog.String("kv", cfg.Bucket)),
	}, nil
}

func encodeKey(key string) string { return base64.RawURLEncoding.EncodeToString([]byte(key)) }

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, _ kv.PutOptions) error {
	data, err := json.Marshal(kvValue{Data: entry.Data, Meta: entry.Meta})
	if err != nil {
		return err
	}
	if _, err = k.kv.Put(ctx, encodeKey(key), data); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (entry kv.Entry, err error) {
	v, err := k.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return entry, kv.ErrNotFound
		}
		return entry, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var val kvValue
	if err = json.Unmarshal(v.Value(), &val); err != nil {
		return entry, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return kv.Entry{Data: val.Data, Meta: val.Meta}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, encodeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Close() {
	k.closeNc()
	k.log.Debug("closed kv store")
}

var _ kv.Store = (*KvStore)(nil)
