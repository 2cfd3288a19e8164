package es

import (
	"errors"
	"log/slog"
	"strings"
)

var ErrInvalidKey = errors.New("invalid entity key")

// EntityKey addresses exactly one entity and its event stream.
type EntityKey struct {
	Stream string `json:"stream"`
	ID     string `json:"id"`
}

func NewEntityKey(stream, id string) EntityKey { return EntityKey{Stream: stream, ID: id} }

func (k EntityKey) String() string { return k.Stream + "/" + k.ID }

func (k EntityKey) Validate() error {
	if k.Stream == "" {
		return errors.Join(ErrInvalidKey, errors.New("stream is empty"))
	}
	if k.ID == "" {
		return errors.Join(ErrInvalidKey, errors.New("id is empty"))
	}
	if strings.ContainsAny(k.Stream, "/ ") {
		return errors.Join(ErrInvalidKey, errors.New("stream must not contain '/' or spaces"))
	}
	return nil
}

func (k EntityKey) SlogAttr() slog.Attr {
	return slog.Group("entity", slog.String("stream", k.Stream), slog.String("id", k.ID))
}
