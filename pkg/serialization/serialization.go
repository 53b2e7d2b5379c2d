// Package serialization provides the codecs the persistence sinks use
// to encode pattern batches. Sinks accept a Codec so callers can pick
// the format without the sink knowing about it.
package serialization

import "bytes"

const (
	// JSONType selects the JSON codec.
	JSONType = "json"

	// GobType selects the Gob codec.
	GobType = "gob"
)

// Decoder decodes a value from an underlying stream.
type Decoder interface {
	Decode(v any) error
}

// Encoder encodes a value onto an underlying stream.
type Encoder interface {
	Encode(v any) error
}

// Codec is a symmetric pair of byte-level marshal functions built on an
// Encoder/Decoder pair.
type Codec struct {
	name string
	enc  func(*bytes.Buffer) Encoder
	dec  func(*bytes.Reader) Decoder
}

// Name returns the codec's type name.
func (c Codec) Name() string { return c.name }

// Marshal encodes v to bytes.
func (c Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.enc(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	return c.dec(bytes.NewReader(data)).Decode(v)
}
