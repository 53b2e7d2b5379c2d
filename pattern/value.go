package pattern

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindSequence
	KindMapping
)

// String returns the kind name for logging and error messages.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "invalid"
	}
}

// Value is a closed tagged variant holding one feature value: a string,
// a number, an ordered sequence of values, or a nested mapping. The zero
// Value is invalid and fails validation.
type Value struct {
	kind Kind
	str  string
	num  float64
	seq  []Value
	obj  map[string]Value
}

// String returns a Value holding s.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a Value holding n.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Sequence returns a Value holding the given elements in order.
func Sequence(elems ...Value) Value {
	return Value{kind: KindSequence, seq: elems}
}

// Mapping returns a Value holding the given nested mapping.
func Mapping(m map[string]Value) Value {
	return Value{kind: KindMapping, obj: m}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value holds one of the four variants.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Str returns the string variant, or "" if the value is not a string.
func (v Value) Str() string { return v.str }

// Num returns the number variant, or 0 if the value is not a number.
func (v Value) Num() float64 { return v.num }

// Seq returns the sequence variant, or nil if the value is not a sequence.
func (v Value) Seq() []Value { return v.seq }

// Obj returns the mapping variant, or nil if the value is not a mapping.
func (v Value) Obj() map[string]Value { return v.obj }

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindSequence:
		seq := make([]Value, len(v.seq))
		for i, e := range v.seq {
			seq[i] = e.Clone()
		}
		return Value{kind: KindSequence, seq: seq}
	case KindMapping:
		obj := make(map[string]Value, len(v.obj))
		for k, e := range v.obj {
			obj[k] = e.Clone()
		}
		return Value{kind: KindMapping, obj: obj}
	default:
		return v
	}
}

// Equal reports exact equality of two values, recursing into sequences
// and mappings. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	return v.equal(o, false)
}

func (v Value) equal(o Value, foldCase bool) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		if foldCase {
			return strings.EqualFold(v.str, o.str)
		}
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].equal(o.seq[i], foldCase) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.equal(oe, foldCase) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Signature returns a canonical string form of the value, stable across
// insertion order. It is the value half of the "key:signature" entries
// the inverted index is keyed by; two values share a signature iff they
// are Equal.
func (v Value) Signature() string {
	var b strings.Builder
	v.writeSignature(&b)
	return b.String()
}

func (v Value) writeSignature(b *strings.Builder) {
	switch v.kind {
	case KindString:
		b.WriteString("s:")
		b.WriteString(v.str)
	case KindNumber:
		b.WriteString("n:")
		b.WriteString(strconv.FormatFloat(v.num, 'g', -1, 64))
	case KindSequence:
		b.WriteString("a:[")
		for i, e := range v.seq {
			if i > 0 {
				b.WriteByte(',')
			}
			e.writeSignature(b)
		}
		b.WriteByte(']')
	case KindMapping:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("o:{")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			e := v.obj[k]
			e.writeSignature(b)
		}
		b.WriteByte('}')
	default:
		b.WriteString("invalid")
	}
}

// MarshalJSON encodes the value as its natural JSON form: strings as
// JSON strings, numbers as JSON numbers, sequences as arrays, mappings
// as objects.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindSequence:
		if v.seq == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.seq)
	case KindMapping:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("cannot marshal invalid feature value")
	}
}

// GobEncode encodes the value through its JSON form, since the variant
// fields are unexported and carry no gob-visible structure of their own.
func (v Value) GobEncode() ([]byte, error) {
	return v.MarshalJSON()
}

// GobDecode decodes a value previously encoded by GobEncode.
func (v *Value) GobDecode(data []byte) error {
	return v.UnmarshalJSON(data)
}

// UnmarshalJSON decodes any of the four natural JSON forms. Booleans and
// nulls have no variant and are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if trimmed == "" {
		return fmt.Errorf("empty feature value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case '[':
		var seq []Value
		if err := json.Unmarshal(data, &seq); err != nil {
			return err
		}
		*v = Value{kind: KindSequence, seq: seq}
		return nil
	case '{':
		var obj map[string]Value
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*v = Value{kind: KindMapping, obj: obj}
		return nil
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported feature value %q", trimmed)
		}
		*v = Number(n)
		return nil
	}
}
