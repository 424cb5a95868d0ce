package sandbox

import (
	"math"
	"testing"
	"time"

	"github.com/cepheid-ml/cepheid/pkg/feature"
)

func TestPayloadRoundTrip(t *testing.T) {
	in := Payload{
		Script: "def f(t, m): pass",
		Known: []feature.Set{
			{"t": []float64{1, 2, 3}, "m": []float64{1, 23, 2}, "coords": []float64{22, 33}},
			{"t": []float64{4, 5}, "m": []float64{6, 7}},
		},
		Timeout: 90 * time.Second,
	}

	data, err := EncodePayload(in)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	out, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	if out.Script != in.Script {
		t.Errorf("script = %q, want %q", out.Script, in.Script)
	}
	if out.Timeout != in.Timeout {
		t.Errorf("timeout = %v, want %v", out.Timeout, in.Timeout)
	}
	if len(out.Known) != 2 {
		t.Fatalf("expected 2 known sets, got %d", len(out.Known))
	}

	m, err := feature.Floats(out.Known[0]["m"])
	if err != nil {
		t.Fatalf("coercing m after roundtrip: %v", err)
	}
	want := []float64{1, 23, 2}
	for i, v := range want {
		if math.Abs(m[i]-v) > 1e-12 {
			t.Errorf("m[%d] = %v, want %v", i, m[i], v)
		}
	}
}

// Decoded sets must be addressable by string key regardless of how the
// encoder spelled the map, otherwise downstream feature.Set lookups miss.
func TestDecodePayloadMapKeysAreStrings(t *testing.T) {
	data, err := EncodePayload(Payload{
		Script: "pass",
		Known:  []feature.Set{{"t": []float64{1}, "m": []float64{2}, "nested": map[string]any{"a": 1}}},
	})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}

	out, err := DecodePayload(data)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	nested, ok := out.Known[0]["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested value decoded as %T, want map[string]any", out.Known[0]["nested"])
	}
	if _, ok := nested["a"]; !ok {
		t.Error("nested map lost its key after roundtrip")
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload([]byte("not cbor at all")); err == nil {
		t.Fatal("expected error decoding garbage payload")
	}
}

func TestResultsRoundTrip(t *testing.T) {
	in := []feature.Set{
		{"avg_m": 8.666666666666666},
		{"avg_m": 51.0, "spread": 1.0},
	}

	data, err := EncodeSets(in)
	if err != nil {
		t.Fatalf("encode results: %v", err)
	}

	out, err := DecodeSets(data)
	if err != nil {
		t.Fatalf("decode results: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("expected 2 result sets, got %d", len(out))
	}
	avg, err := feature.Float(out[0]["avg_m"])
	if err != nil {
		t.Fatalf("coercing avg_m: %v", err)
	}
	if math.Abs(avg-8.666666666666666) > 1e-9 {
		t.Errorf("avg_m = %v, want 8.666666666666666", avg)
	}
	if _, ok := out[1]["spread"]; !ok {
		t.Error("second result set lost a feature after roundtrip")
	}
}

func TestDecodeSetsRejectsGarbage(t *testing.T) {
	if _, err := DecodeSets([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Fatal("expected error decoding garbage results")
	}
}
