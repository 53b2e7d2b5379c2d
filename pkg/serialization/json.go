package serialization

import (
	"bytes"
	"encoding/json"
)

// JSON returns the JSON codec. It is the default for every shipped sink
// because the pattern model carries JSON tags throughout.
func JSON() Codec {
	return Codec{
		name: JSONType,
		enc:  func(b *bytes.Buffer) Encoder { return json.NewEncoder(b) },
		dec:  func(r *bytes.Reader) Decoder { return json.NewDecoder(r) },
	}
}
