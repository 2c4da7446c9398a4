package qkd

import (
	"math"

	"github.com/quantumshield/qkdsim/qkd/bitarray"
	"github.com/quantumshield/qkdsim/qkd/rng"
)

// minBlockSize keeps the first-pass blocks large enough that a high QBER does
// not degenerate into per-bit disclosure.
const minBlockSize = 8

// A cascade reconciles Bob's sifted bits onto Alice's by iterated binary
// parity disclosure: partition into blocks, publicly compare block parities,
// and bisect each mismatched block down to the offending bit. Passes repeat
// with doubled block sizes and a fresh synchronized shuffle until the strings
// agree, so that errors masked by even-parity cancellation get separated.
// Every compared parity is a disclosed bit and is charged as leakage.
type cascade struct {
	rand      rng.Rand
	maxPasses int
}

type reconcileResult struct {
	// alice and bob hold the (identically permuted) strings after
	// correction; when converged is true they are equal.
	alice, bob bitarray.Dense

	// leakedBits counts the parities disclosed across all passes.
	leakedBits int

	converged bool
}

// reconcile corrects bob onto alice. qber tunes the first-pass block size;
// both strings must have equal length.
func (c cascade) reconcile(alice, bob bitarray.Dense, qber float64, tr *transcript) reconcileResult {
	n := alice.Size()
	res := reconcileResult{alice: alice, bob: bob}
	if n == 0 {
		res.converged = true
		return res
	}

	block := initialBlockSize(qber, n)
	for pass := 0; pass < c.maxPasses; pass++ {
		if bitarray.Equal(res.alice, res.bob) {
			res.converged = true
			return res
		}
		if pass > 0 {
			perm := c.rand.Perm(n)
			res.alice = res.alice.Permute(perm)
			res.bob = res.bob.Permute(perm)
			block *= 2
			if block > n {
				block = n
			}
		}
		disclosed := 0
		for start := 0; start < n; start += block {
			end := start + block
			if end > n {
				end = n
			}
			disclosed += c.correctBlock(res.alice, &res.bob, start, end)
		}
		res.leakedBits += disclosed
		tr.record("block parities", 2*disclosed)
	}
	res.converged = bitarray.Equal(res.alice, res.bob)
	return res
}

// correctBlock compares the parities of alice[start:end) and bob[start:end)
// and, on mismatch, bisects down to a single differing bit and flips it in
// bob. Returns the number of parity bits disclosed.
func (c cascade) correctBlock(alice bitarray.Dense, bob *bitarray.Dense, start, end int) int {
	disclosed := 1
	if parity(alice, start, end) == parity(*bob, start, end) {
		return disclosed
	}
	for end-start > 1 {
		mid := (start + end) / 2
		disclosed++
		if parity(alice, start, mid) != parity(*bob, start, mid) {
			end = mid
		} else {
			start = mid
		}
	}
	bob.Flip(start)
	return disclosed
}

// initialBlockSize follows the usual Cascade heuristic of ~0.73/QBER bits per
// first-pass block, clamped to [minBlockSize, n]. A zero QBER yields a single
// whole-string block.
func initialBlockSize(qber float64, n int) int {
	if qber <= 0 {
		return n
	}
	block := int(math.Ceil(0.73 / qber))
	if block < minBlockSize {
		block = minBlockSize
	}
	if block > n {
		block = n
	}
	return block
}

func parity(d bitarray.Dense, start, end int) bool {
	p := false
	for i := start; i < end; i++ {
		if d.Get(i) {
			p = !p
		}
	}
	return p
}
