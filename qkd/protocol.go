package qkd

import (
	"context"
	"math"
	"time"

	"github.com/quantumshield/qkdsim/qkd/bitarray"
	"github.com/quantumshield/qkdsim/qkd/photon"
	"github.com/quantumshield/qkdsim/telemetry"
)

const (
	// maxBatch caps a single generation batch so a near-dead channel cannot
	// balloon memory while chasing its sifted-length goal.
	maxBatch = 1 << 20

	// extractorSeedBytes is the size of the announced privacy-amplification
	// seed, expanded into the full extractor matrix via SHAKE256.
	extractorSeedBytes = 32

	// cascadePasses bounds error correction; runs whose strings still
	// disagree afterwards abort for insufficient key material.
	cascadePasses = 16
)

// Run executes one BB84 negotiation and returns its Result. Aborts -- QBER
// above threshold, an exhausted channel, too little secure material -- are
// normal outcomes described by the Result, not errors; the error return is
// reserved for internal invariant violations and is nil in ordinary use.
func (p *Protocol) Run(ctx context.Context) (Result, error) {
	ctx, end := p.tracer.StartSpan(ctx, "qkd.run")
	defer end(nil)
	start := time.Now()
	tr := &transcript{log: p.log}

	var res Result
	aSift, bSift := p.exchange(ctx, tr, &res)
	minSifted := int(math.Ceil(float64(p.cfg.TargetKeyLength) / (1 - p.cfg.SampleFraction)))
	if aSift.Size() < minSifted {
		p.logOutcome(p.abort(&res, tr, AbortChannelExhausted, false), start)
		return res, nil
	}

	qber, aRem, bRem := p.estimateQBER(ctx, tr, aSift, bSift, &res)
	if qber > p.cfg.QBERThreshold {
		p.logOutcome(p.abort(&res, tr, AbortQBERThreshold, true), start)
		return res, nil
	}

	rec := p.reconcile(ctx, tr, aRem, bRem, qber, &res)
	if !rec.converged {
		p.logOutcome(p.abort(&res, tr, AbortInsufficientKey, false), start)
		return res, nil
	}

	key, ok, err := p.extractKey(ctx, tr, rec, qber)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		p.logOutcome(p.abort(&res, tr, AbortInsufficientKey, false), start)
		return res, nil
	}

	res.FinalKey = key
	res.KeyFingerprint = fingerprint(key)
	res.FinalKeyBits = key.Size()
	res.SecureKeyRate = float64(key.Size()) / float64(res.RawQubitsSent)
	res.Announcements = tr.announcements
	res.DisclosedBits = tr.bits
	p.logOutcome(res, start)
	return res, nil
}

// exchange runs the raw-generation and transmission phases: adaptive batches
// of qubits flow Alice -> Eve -> Channel -> Bob until the sifted key reaches
// its goal or MaxRounds batches have been spent. Returns the two sides'
// sifted bits.
func (p *Protocol) exchange(ctx context.Context, tr *transcript, res *Result) (aSift, bSift bitarray.Dense) {
	_, end := p.tracer.StartSpan(ctx, "qkd.exchange")
	defer end(nil)

	need := p.siftedGoal()
	// Prior expected yield: half delivery times half basis match. Updated
	// from observation after each batch.
	yield := 0.25
	for res.Rounds = 0; res.Rounds < p.cfg.MaxRounds && aSift.Size() < need; res.Rounds++ {
		batch := int(math.Ceil(float64(need-aSift.Size()) / yield))
		if batch > maxBatch {
			batch = maxBatch
		}
		a, b := p.transmitBatch(batch, tr)
		aSift.Append(a)
		bSift.Append(b)
		res.RawQubitsSent += batch
		yield = math.Max(0.01, float64(aSift.Size())/float64(res.RawQubitsSent))
		p.log.Debug("batch transmitted", telemetry.Fields{
			"round":  res.Rounds,
			"batch":  batch,
			"sifted": aSift.Size(),
			"goal":   need,
		})
	}
	res.SiftedBits = aSift.Size()
	return aSift, bSift
}

// siftedGoal is the sifted length to aim for: enough that, after the QBER
// sample is removed, target plus the security parameter remain, with margin.
func (p *Protocol) siftedGoal() int {
	need := float64(p.cfg.TargetKeyLength+p.cfg.SecurityParameter) / (1 - p.cfg.SampleFraction)
	return int(math.Ceil(need)) + 64
}

// transmitBatch sends n qubits and sifts the outcomes down to the positions
// where Bob detected the photon and the two basis choices agree.
func (p *Protocol) transmitBatch(n int, tr *transcript) (aSift, bSift bitarray.Dense) {
	var aBits, aBases, bBits, bBases, detected bitarray.Dense
	for i := 0; i < n; i++ {
		q := photon.RandomQubit(p.rand)
		aBits.AppendBit(q.Bit == 1)
		aBases.AppendBit(q.Basis == photon.Diagonal)

		arrived, ok := p.channel.Transmit(p.eve.Intercept(q, p.rand), p.rand)
		detected.AppendBit(ok)

		basis := photon.RandomBasis(p.rand)
		bBases.AppendBit(basis == photon.Diagonal)
		bit := 0
		if ok {
			bit = photon.Measure(arrived, basis, p.rand)
		}
		bBits.AppendBit(bit == 1)
	}
	tr.record("bob bases and detections", 2*n)
	tr.record("alice bases", n)

	mask := aBases.XNor(bBases).And(detected)
	return aBits.Select(mask), bBits.Select(mask)
}

// estimateQBER discloses a uniformly random sample of the sifted bits,
// estimates the error rate from it, and removes the sampled positions from
// both sides; disclosed bits must never be part of the secret.
func (p *Protocol) estimateQBER(ctx context.Context, tr *transcript, a, b bitarray.Dense, res *Result) (qber float64, aRem, bRem bitarray.Dense) {
	_, end := p.tracer.StartSpan(ctx, "qkd.estimate")
	defer end(nil)

	n := a.Size()
	k := int(math.Round(p.cfg.SampleFraction * float64(n)))
	if k < 1 {
		k = 1
	}
	perm := p.rand.Perm(n)
	sampled := make([]bool, n)
	for _, idx := range perm[:k] {
		sampled[idx] = true
	}

	var keep bitarray.Dense
	mismatches := 0
	for i := 0; i < n; i++ {
		keep.AppendBit(!sampled[i])
		if sampled[i] && a.Get(i) != b.Get(i) {
			mismatches++
		}
	}
	tr.record("sampled bits", 2*k)

	qber = float64(mismatches) / float64(k)
	res.QBER = qber
	res.SampledBits = k
	p.log.Debug("qber estimated", telemetry.Fields{
		"sample":     k,
		"mismatches": mismatches,
		"qber":       qber,
	})
	return qber, a.Select(keep), b.Select(keep)
}

// reconcile corrects Bob's remaining bits onto Alice's, charging every
// disclosed parity as leakage.
func (p *Protocol) reconcile(ctx context.Context, tr *transcript, a, b bitarray.Dense, qber float64, res *Result) reconcileResult {
	_, end := p.tracer.StartSpan(ctx, "qkd.reconcile")
	defer end(nil)

	rec := cascade{rand: p.rand, maxPasses: cascadePasses}.reconcile(a, b, qber, tr)
	res.LeakedBits = rec.leakedBits
	p.log.Debug("error correction finished", telemetry.Fields{
		"leaked":    rec.leakedBits,
		"converged": rec.converged,
	})
	return rec
}

// extractKey performs privacy amplification: the corrected key is compressed
// through a seeded Toeplitz extractor to a length that discounts
// reconciliation leakage, Eve's information bound, and the security
// parameter. ok is false when no positive length survives.
func (p *Protocol) extractKey(ctx context.Context, tr *transcript, rec reconcileResult, qber float64) (key bitarray.Dense, ok bool, err error) {
	_, end := p.tracer.StartSpan(ctx, "qkd.amplify")
	defer end(nil)

	n := rec.alice.Size()
	eveBits := calcMaxEveInfo(qber, n)
	m := n - int(math.Ceil(float64(rec.leakedBits)+eveBits)) - p.cfg.SecurityParameter
	if m > p.cfg.TargetKeyLength {
		m = p.cfg.TargetKeyLength
	}
	p.log.Debug("privacy amplification", telemetry.Fields{
		"corrected": n,
		"eveBits":   eveBits,
		"output":    m,
	})
	if m <= 0 {
		return bitarray.Empty(), false, nil
	}

	seed := make([]byte, extractorSeedBytes)
	p.rand.Read(seed)
	tr.record("extractor seed", extractorSeedBytes*8)
	t := toeplitz{diags: expandDiags(seed, m+n-1), m: m, n: n}
	key, err = t.Mul(rec.alice)
	if err != nil {
		return bitarray.Empty(), false, err
	}
	return key, true, nil
}

// calcMaxEveInfo bounds the bits of information an eavesdropper could have
// gained about an n-bit key that exhibited the given error rate.
//
// See https://link.springer.com/article/10.1007/BF00191318.
func calcMaxEveInfo(qber float64, n int) float64 {
	return 2 * math.Sqrt2 * qber * float64(n)
}

func (p *Protocol) abort(res *Result, tr *transcript, reason string, detected bool) Result {
	res.Aborted = true
	res.AbortReason = reason
	res.EavesdroppingDetected = detected
	res.FinalKey = bitarray.Empty()
	res.Announcements = tr.announcements
	res.DisclosedBits = tr.bits
	return *res
}

func (p *Protocol) logOutcome(res Result, start time.Time) {
	fields := telemetry.Fields{
		"qber":     res.QBER,
		"raw":      res.RawQubitsSent,
		"sifted":   res.SiftedBits,
		"keyBits":  res.FinalKeyBits,
		"elapsed":  time.Since(start),
		"aborted":  res.Aborted,
		"detected": res.EavesdroppingDetected,
	}
	if res.Aborted {
		fields["reason"] = res.AbortReason
		p.log.Info("negotiation aborted", fields)
		return
	}
	p.log.Info("negotiation complete", fields)
}
