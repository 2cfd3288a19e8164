package es

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	itemAdded struct {
		SKU   string    `json:"sku"`
		Qty   int       `json:"qty"`
		At    time.Time `json:"at"`
		Notes []string  `json:"notes,omitempty"`
	}
	itemRemoved struct {
		SKU string `json:"sku"`
	}
	named struct{}
)

func (named) EventType() string { return "custom.named" }

func TestTypeRegistry_FirstRegistrationWins(t *testing.T) {
	r := NewEventRegistry()

	require.True(t, r.Register("item_added", reflect.TypeFor[itemAdded]()))
	// same name, other type
	require.False(t, r.Register("item_added", reflect.TypeFor[itemRemoved]()))
	// same type, other name
	require.False(t, r.Register("item_added_v2", reflect.TypeFor[itemAdded]()))

	typ, ok := r.ResolveType("item_added")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[itemAdded](), typ)

	name, ok := r.ResolveName(reflect.TypeFor[itemAdded]())
	require.True(t, ok)
	assert.Equal(t, "item_added", name)

	_, ok = r.ResolveType("item_added_v2")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestTypeRegistry_Names(t *testing.T) {
	r := NewEventRegistry()
	RegisterEvent[itemRemoved](r)
	RegisterEvent[itemAdded](r, "added")
	RegisterEvent[named](r)

	assert.Equal(t, []string{"added", "custom.named", "es.itemRemoved"}, r.Names())

	_, err := r.NameOf(struct{}{})
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, _, err = r.New("nope")
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, _, err = NewSnapshotRegistry().New("nope")
	require.ErrorIs(t, err, ErrUnknownStateType)
}

func TestConverter_RoundTrip(t *testing.T) {
	r := NewEventRegistry()
	RegisterEvent[itemAdded](r)
	RegisterEvent[itemRemoved](r)
	RegisterEvent[named](r)

	key := NewEntityKey("cart", "c-1")
	events := []any{
		itemAdded{SKU: "a", Qty: 2, At: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Notes: []string{"gift"}},
		itemRemoved{SKU: "a"},
		named{},
	}

	for _, codecs := range []*Codecs{DefaultCodecs(), NewCodecs(CBORCodec{}, JSONCodec{})} {
		t.Run(codecs.Default().ContentType(), func(t *testing.T) {
			c := NewConverter(r, codecs)
			envs, err := c.ToEnvelopes(key, NoPosition, events)
			require.NoError(t, err)
			require.Len(t, envs, 3)

			for i, env := range envs {
				assert.Equal(t, Position(i), env.Position)
				assert.Equal(t, key, env.Key())
				assert.Equal(t, codecs.Default().ContentType(), env.ContentType)
				assert.NotEmpty(t, env.ID)
			}
			assert.Equal(t, "custom.named", envs[2].Type)

			decoded, err := c.FromEnvelopes(envs)
			require.NoError(t, err)
			assert.Equal(t, events, decoded)
		})
	}
}

func TestConverter_Positions(t *testing.T) {
	r := NewEventRegistry()
	RegisterEvent[itemRemoved](r)
	c := NewConverter(r, nil).WithIDGenerator(func() string { return "fixed" })

	envs, err := c.ToEnvelopes(NewEntityKey("cart", "c-1"), 6, []any{itemRemoved{}, itemRemoved{}})
	require.NoError(t, err)
	assert.Equal(t, Position(7), envs[0].Position)
	assert.Equal(t, Position(8), envs[1].Position)
	assert.Equal(t, "fixed", envs[0].ID)
}

func TestConverter_UnknownType(t *testing.T) {
	c := NewConverter(NewEventRegistry(), nil)

	_, err := c.ToEnvelopes(NewEntityKey("cart", "c-1"), NoPosition, []any{itemAdded{}})
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, err = c.FromEnvelope(Envelope{Type: "item_added", ContentType: ContentTypeJSON, Data: []byte(`{}`)})
	require.ErrorIs(t, err, ErrUnknownEventType)
}

func TestConverter_UnknownContentType(t *testing.T) {
	r := NewEventRegistry()
	RegisterEvent[itemRemoved](r)
	c := NewConverter(r, nil)

	_, err := c.FromEnvelope(Envelope{Type: "es.itemRemoved", ContentType: "text/xml", Data: []byte(`<x/>`)})
	require.ErrorIs(t, err, ErrUnknownContentType)
}

func TestEntityKey(t *testing.T) {
	require.NoError(t, NewEntityKey("cart", "c-1").Validate())
	assert.Equal(t, "cart/c-1", NewEntityKey("cart", "c-1").String())
	for _, k := range []EntityKey{{}, {Stream: "cart"}, {ID: "x"}, {Stream: "a/b", ID: "x"}} {
		require.ErrorIs(t, k.Validate(), ErrInvalidKey, k.String())
	}
}
