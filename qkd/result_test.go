package qkd

import (
	"testing"

	"github.com/quantumshield/qkdsim/qkd/bitarray"
)

func TestResultProto(t *testing.T) {
	res := Result{
		FinalKey:       bitarray.NewDense([]byte{0xAB, 0xCD}, 16),
		KeyFingerprint: "deadbeef",
		QBER:           0.02,
		RawQubitsSent:  2048,
		SiftedBits:     900,
		SampledBits:    225,
		FinalKeyBits:   16,
		SecureKeyRate:  16.0 / 2048,
	}

	pb, err := res.Proto()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := pb.AsMap()
	if m["qber"] != 0.02 {
		t.Errorf("qber == %v, want 0.02", m["qber"])
	}
	if m["keyFingerprint"] != "deadbeef" {
		t.Errorf("keyFingerprint == %v, want deadbeef", m["keyFingerprint"])
	}
	if m["finalKeyBits"] != float64(16) {
		t.Errorf("finalKeyBits == %v, want 16", m["finalKeyBits"])
	}
	if m["aborted"] != false {
		t.Errorf("aborted == %v, want false", m["aborted"])
	}
	if _, ok := m["finalKey"]; ok {
		t.Errorf("serialized result exposes the key itself")
	}
}

func TestFingerprint(t *testing.T) {
	if got := fingerprint(bitarray.Empty()); got != "" {
		t.Errorf("fingerprint of empty key == %q, want empty", got)
	}
	a := fingerprint(bitarray.NewDense([]byte{1, 2, 3}, 24))
	b := fingerprint(bitarray.NewDense([]byte{1, 2, 3}, 24))
	c := fingerprint(bitarray.NewDense([]byte{1, 2, 4}, 24))
	if a != b {
		t.Errorf("equal keys fingerprint differently")
	}
	if a == c {
		t.Errorf("different keys share a fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length == %d, want 64 hex chars", len(a))
	}
}
