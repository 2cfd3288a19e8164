package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Memory(t *testing.T) {
	type Foo struct {
		Name string
		Age  int
	}
	s := NewMemStore()

	_, err := Get[Foo](t.Context(), s, "foobar")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Put[Foo](t.Context(), s, "p1", Foo{Name: "P1", Age: 10}, PutOptions{}))
	require.NoError(t, Put[Foo](t.Context(), s, "p2", Foo{Name: "P2", Age: 20}, PutOptions{}))

	loaded, err := Get[Foo](t.Context(), s, "p1")
	require.NoError(t, err)
	require.Equal(t, Foo{Name: "P1", Age: 10}, loaded)

	require.NoError(t, s.Delete(t.Context(), "p1"))
	_, err = Get[Foo](t.Context(), s, "p1")
	require.ErrorIs(t, err, ErrNotFound)
}

func Test_Memory_TTL(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemStore()
	s.now = func() time.Time { return now }

	require.NoError(t, Put(t.Context(), s, "short", "v", PutOptions{TTL: time.Second}))
	require.NoError(t, Put(t.Context(), s, "forever", "v", PutOptions{}))

	v, err := Get[string](t.Context(), s, "short")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	now = now.Add(2 * time.Second)
	_, err = Get[string](t.Context(), s, "short")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, s.Len())

	_, err = Get[string](t.Context(), s, "forever")
	require.NoError(t, err)
}

func Test_Get_ContentTypes(t *testing.T) {
	s := NewMemStore()

	require.NoError(t, Put(t.Context(), s, "cbor", map[string]int{"a": 1}, PutOptions{}))
	e, err := s.Get(t.Context(), "cbor")
	require.NoError(t, err)
	require.Equal(t, "application/cbor", e.Meta[MetaContentType])

	require.NoError(t, s.Put(t.Context(), "json", Entry{Data: []byte(`{"a":2}`)}, PutOptions{}))
	v, err := Get[map[string]int](t.Context(), s, "json")
	require.NoError(t, err)
	require.Equal(t, 2, v["a"])

	require.NoError(t, s.Put(t.Context(), "xml", Entry{
		Data: []byte("<a/>"),
		Meta: map[string]any{MetaContentType: "application/xml"},
	}, PutOptions{}))
	_, err = Get[map[string]int](t.Context(), s, "xml")
	require.ErrorContains(t, err, "unsupported content type")
}
