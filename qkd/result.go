package qkd

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/quantumshield/qkdsim/qkd/bitarray"
)

// Abort reasons surfaced in Result.AbortReason. Aborts are designed protocol
// outcomes, not faults: callers branch on them like any other result.
const (
	// AbortQBERThreshold means the estimated QBER exceeded the configured
	// threshold, the protocol's signature for an eavesdropper or an
	// unusably noisy channel.
	AbortQBERThreshold = "QBER exceeds threshold"

	// AbortChannelExhausted means the sifted key was still too short after
	// MaxRounds batches.
	AbortChannelExhausted = "channel exhausted before sufficient sifted bits"

	// AbortInsufficientKey means privacy amplification would have yielded a
	// non-positive key length.
	AbortInsufficientKey = "insufficient secure key material"
)

// A Result describes the outcome of one protocol run. It is immutable once
// returned and owned by the caller.
type Result struct {
	// FinalKey is the negotiated secret. Empty on abort.
	FinalKey bitarray.Dense

	// KeyFingerprint is the lowercase hex SHA3-256 of the final key bytes,
	// for display layers that must not see the key itself. Empty when the
	// key is empty.
	KeyFingerprint string

	// QBER is the error rate estimated from the disclosed sample.
	QBER float64

	// EavesdroppingDetected is true iff the run aborted because QBER
	// exceeded the threshold.
	EavesdroppingDetected bool

	// Aborted is true for any terminal outcome without a key; AbortReason
	// then holds one of the Abort* constants.
	Aborted     bool
	AbortReason string

	RawQubitsSent int
	Rounds        int
	SiftedBits    int
	SampledBits   int

	// LeakedBits counts the parity bits disclosed during error correction.
	LeakedBits int

	FinalKeyBits int

	// SecureKeyRate is FinalKeyBits / RawQubitsSent.
	SecureKeyRate float64

	// Announcements and DisclosedBits tally the public classical traffic
	// the run would have put on the wire: basis announcements, the QBER
	// sample, block parities, and the extractor seed.
	Announcements int
	DisclosedBits int
}

// Proto renders r as a key-value structure suitable for JSON export. The key
// itself is deliberately omitted; only its fingerprint is included.
func (r Result) Proto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"keyFingerprint":        r.KeyFingerprint,
		"qber":                  r.QBER,
		"eavesdroppingDetected": r.EavesdroppingDetected,
		"aborted":               r.Aborted,
		"abortReason":           r.AbortReason,
		"rawQubitsSent":         r.RawQubitsSent,
		"rounds":                r.Rounds,
		"siftedBits":            r.SiftedBits,
		"sampledBits":           r.SampledBits,
		"leakedBits":            r.LeakedBits,
		"finalKeyBits":          r.FinalKeyBits,
		"secureKeyRate":         r.SecureKeyRate,
		"announcements":         r.Announcements,
		"disclosedBits":         r.DisclosedBits,
	})
}

// fingerprint returns the lowercase hex SHA3-256 of key's bytes, or "" for an
// empty key.
func fingerprint(key bitarray.Dense) string {
	if key.Size() == 0 {
		return ""
	}
	sum := sha3.Sum256(key.Data())
	return hex.EncodeToString(sum[:])
}
