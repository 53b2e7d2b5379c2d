package pattern

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSignatureDeterministic(t *testing.T) {
	a := Mapping(map[string]Value{"x": Number(1), "y": String("two"), "z": Sequence(Number(3))})
	b := Mapping(map[string]Value{"z": Sequence(Number(3)), "y": String("two"), "x": Number(1)})

	if a.Signature() != b.Signature() {
		t.Fatalf("signatures differ for equal mappings: %q vs %q", a.Signature(), b.Signature())
	}

	c := Mapping(map[string]Value{"x": Number(1), "y": String("two"), "z": Sequence(Number(4))})
	if a.Signature() == c.Signature() {
		t.Fatal("signatures collide for different mappings")
	}
}

func TestValueEqual(t *testing.T) {
	if !Sequence(String("a"), Number(2)).Equal(Sequence(String("a"), Number(2))) {
		t.Fatal("equal sequences reported unequal")
	}
	if Sequence(String("a")).Equal(Sequence(String("a"), Number(2))) {
		t.Fatal("sequences of different length reported equal")
	}
	if String("5").Equal(Number(5)) {
		t.Fatal("cross-kind values reported equal")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	orig := Mapping(map[string]Value{
		"name":  String("drum-loop"),
		"bpm":   Number(128),
		"steps": Sequence(Number(1), Number(0), Number(1)),
	})

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Value
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !orig.Equal(got) {
		t.Fatalf("round trip changed value: %s vs %s", orig.Signature(), got.Signature())
	}
}

func TestValueJSONRejectsUnsupported(t *testing.T) {
	for _, raw := range []string{"true", "null"} {
		var v Value
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			t.Errorf("unmarshal %s succeeded, want error", raw)
		}
	}
}

func TestPatternClone(t *testing.T) {
	p := &Pattern{
		ID:         "pat-9",
		Features:   map[string]Value{"tags": Sequence(String("a"))},
		Confidence: 0.5,
		Timestamp:  time.Now(),
		Metadata:   Metadata{Source: "s", Category: "c", Frequency: 2},
	}

	clone := p.Clone()
	clone.Features["tags"] = String("mutated")
	clone.Metadata.Frequency = 99

	if p.Features["tags"].Kind() != KindSequence {
		t.Fatal("mutating the clone's features leaked into the original")
	}
	if p.Metadata.Frequency != 2 {
		t.Fatal("mutating the clone's metadata leaked into the original")
	}
}

func TestFingerprintIgnoresIdentity(t *testing.T) {
	a := validPattern()
	b := a.Clone()
	b.ID = "different-id"
	b.Timestamp = b.Timestamp.Add(time.Hour)

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("fingerprint depends on id or timestamp")
	}

	c := a.Clone()
	c.Confidence = 0.1
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("fingerprint ignores confidence")
	}
}
