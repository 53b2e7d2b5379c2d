package serialization

import (
	"bytes"
	"encoding/gob"
)

// Gob returns the Gob codec, for sinks that stay inside Go and want the
// denser binary form.
func Gob() Codec {
	return Codec{
		name: GobType,
		enc:  func(b *bytes.Buffer) Encoder { return gob.NewEncoder(b) },
		dec:  func(r *bytes.Reader) Decoder { return gob.NewDecoder(r) },
	}
}
