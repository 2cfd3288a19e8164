package es

import (
	"log/slog"
	"strconv"
)

// Position is the version of an entity stream after N events have been
// appended. The first event of a stream has position 0; an empty stream has
// no position at all, represented by NoPosition.
// Position is used for optimistic concurrency control - when appending, the
// expected position must match the current position in the store.
type Position int64

// NoPosition marks an empty stream.
const NoPosition Position = -1

func (p Position) IsSet() bool                          { return p >= 0 }
func (p Position) Int64() int64                         { return int64(p) }
func (p Position) Add(n int) Position                   { return p + Position(n) }
func (p Position) Next() Position                       { return p + 1 }
func (p Position) Ptr() *Position                       { return &p }
func (p Position) SlogAttr() slog.Attr                  { return newSlogPositionAttr("position", p) }
func (p Position) SlogAttrWithKey(key string) slog.Attr { return newSlogPositionAttr(key, p) }

func (p Position) String() string {
	if !p.IsSet() {
		return "none"
	}
	return strconv.FormatInt(int64(p), 10)
}

func newSlogPositionAttr(key string, p Position) slog.Attr { return slog.Int64(key, int64(p)) }
