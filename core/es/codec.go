package es

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Codec encodes event and state payloads. The content type is stored next to
// every payload so records written with one codec stay readable after the
// default changes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) ContentType() string                { return ContentTypeJSON }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBORCodec encodes payloads as CBOR. Times are written as RFC 3339 strings
// so that they decode to the same instant and location as with JSON.
type CBORCodec struct{}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano, Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func (CBORCodec) ContentType() string                { return ContentTypeCBOR }
func (CBORCodec) Marshal(v any) ([]byte, error)      { return cborEnc.Marshal(v) }
func (CBORCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// Codecs resolves codecs by content type. The first codec is the default used for writing.
type Codecs struct {
	def    Codec
	byType map[string]Codec
}

func NewCodecs(def Codec, more ...Codec) *Codecs {
	if def == nil {
		def = JSONCodec{}
	}
	c := &Codecs{def: def, byType: map[string]Codec{def.ContentType(): def}}
	for _, m := range more {
		if _, ok := c.byType[m.ContentType()]; !ok {
			c.byType[m.ContentType()] = m
		}
	}
	return c
}

// DefaultCodecs writes JSON and reads JSON and CBOR.
func DefaultCodecs() *Codecs { return NewCodecs(JSONCodec{}, CBORCodec{}) }

func (c *Codecs) Default() Codec { return c.def }

func (c *Codecs) For(contentType string) (Codec, error) {
	if contentType == "" {
		return c.def, nil
	}
	codec, ok := c.byType[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}
	return codec, nil
}
