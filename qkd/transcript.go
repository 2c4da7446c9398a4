package qkd

import "github.com/quantumshield/qkdsim/telemetry"

// A transcript tallies the public classical announcements a run makes: basis
// comparisons, the disclosed QBER sample, block parities, and the extractor
// seed. A real deployment would frame these onto an authenticated wire; the
// simulator only needs their accounting, which surfaces in Result.
type transcript struct {
	log           *telemetry.Logger
	announcements int
	bits          int
}

func (t *transcript) record(kind string, bits int) {
	t.announcements++
	t.bits += bits
	t.log.Debug("classical announcement", telemetry.Fields{"kind": kind, "bits": bits})
}
