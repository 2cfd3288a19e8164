package es

import (
	"fmt"
	"log/slog"
	"time"
)

// Envelope is the stored form of a domain event. It is the unit of storage in
// the EventStore and contains everything needed to decode the event during
// replay. Envelopes are produced by the Converter only.
type Envelope struct {
	// ID is the unique identifier of this envelope.
	ID string `json:"id"`
	// Type is the registered event type name.
	Type string `json:"type"`
	// Stream and EntityID form the key of the source entity.
	Stream   string `json:"stream"`
	EntityID string `json:"entity_id"`
	// Position of the event within the entity stream, starting at 0.
	Position Position `json:"position"`
	// OccurredAt is when the event was created.
	OccurredAt time.Time `json:"occurred_at"`
	// ContentType names the codec used for Data.
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

func (e Envelope) Key() EntityKey { return EntityKey{Stream: e.Stream, ID: e.EntityID} }

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.EntityID == "" {
		return fmt.Errorf("envelope entity id is empty")
	}
	if e.Stream == "" {
		return fmt.Errorf("envelope stream is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if !e.Position.IsSet() {
		return fmt.Errorf("envelope position is not set")
	}
	return nil
}

func (e Envelope) logAttrs() slog.Attr {
	return slog.Group(
		"envelope",
		slog.String("id", e.ID),
		slog.String("type", e.Type),
		e.Position.SlogAttr(),
		slog.Int("size", len(e.Data)),
	)
}
