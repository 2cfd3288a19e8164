// Package kv is the key/value port used for snapshot persistence.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var ErrNotFound = errors.New("not found")

// MetaContentType is the Entry.Meta key naming the encoding of Data.
const MetaContentType = "content-type"

const (
	contentTypeJSON = "application/json"
	contentTypeCBOR = "application/cbor"
)

type Entry struct {
	Data []byte
	Meta map[string]any
}

func (e Entry) contentType() string {
	if ct, ok := e.Meta[MetaContentType].(string); ok {
		return ct
	}
	return contentTypeJSON
}

type PutOptions struct {
	// TTL expires the entry. Stores with bucket-wide expiry may ignore it.
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (entry Entry, err error)
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
}

// Put stores v CBOR-encoded under key.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.Put(ctx, key, Entry{
		Data: data,
		Meta: map[string]any{MetaContentType: contentTypeCBOR},
	}, opts)
}

// Get loads and decodes the value at key. Entries without a content type
// are read as JSON.
func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	switch ct := entry.contentType(); ct {
	case contentTypeCBOR:
		err = cbor.Unmarshal(entry.Data, &out)
	case contentTypeJSON:
		err = json.Unmarshal(entry.Data, &out)
	default:
		return out, fmt.Errorf("%s: unsupported content type %q", key, ct)
	}
	if err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return out, nil
}
