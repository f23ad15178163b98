package versioning

import "testing"

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := Fingerprint(map[string]any{"b": 2, "a": 1})
	b := Fingerprint(map[string]any{"a": 1, "b": 2})
	if a != b {
		t.Errorf("expected identical fingerprints, got %s and %s", a, b)
	}
}

func TestFingerprintDetectsDifference(t *testing.T) {
	a := Fingerprint(map[string]any{"email": "a@x.com"})
	b := Fingerprint(map[string]any{"email": "b@x.com"})
	if a == b {
		t.Errorf("expected different fingerprints for different values")
	}
}

func TestFingerprintUnwrapsValueEnvelope(t *testing.T) {
	wrapped := Fingerprint(map[string]any{"value": "a@x.com"})
	bare := Fingerprint("a@x.com")
	if wrapped != bare {
		t.Errorf("wrapper alone must not change the fingerprint: %s vs %s", wrapped, bare)
	}
}

func TestFingerprintKeepsMultiKeyMapsIntact(t *testing.T) {
	multi := Fingerprint(map[string]any{"value": "a@x.com", "verified": true})
	bare := Fingerprint("a@x.com")
	if multi == bare {
		t.Errorf("maps with keys beyond the envelope must fingerprint as a whole")
	}
}

func TestFingerprintNestedStructures(t *testing.T) {
	a := Fingerprint(map[string]any{
		"address": map[string]any{"city": "Berlin", "zip": "10117"},
		"tags":    []any{"x", "y"},
	})
	b := Fingerprint(map[string]any{
		"tags":    []any{"x", "y"},
		"address": map[string]any{"zip": "10117", "city": "Berlin"},
	})
	if a != b {
		t.Errorf("nested key order must not affect fingerprints")
	}

	c := Fingerprint(map[string]any{
		"address": map[string]any{"city": "Berlin", "zip": "10117"},
		"tags":    []any{"y", "x"},
	})
	if a == c {
		t.Errorf("list order is semantic and must affect fingerprints")
	}
}
