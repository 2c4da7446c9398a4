// Package photon models photon-encoded qubits and their transmission through
// an imperfect quantum channel.
package photon

import "github.com/quantumshield/qkdsim/qkd/rng"

// A Basis identifies the polarization basis a qubit is prepared or measured
// in.
type Basis int

const (
	// Rectilinear is the 0/90 degree polarization basis.
	Rectilinear Basis = iota
	// Diagonal is the 45/135 degree polarization basis.
	Diagonal
)

// String returns the conventional symbol for b.
func (b Basis) String() string {
	if b == Diagonal {
		return "x"
	}
	return "+"
}

// RandomBasis draws a uniform basis choice from r.
func RandomBasis(r rng.Rand) Basis {
	return Basis(r.Intn(2))
}

// A Qubit is a photon prepared with a bit value in a polarization basis. It is
// immutable once created: a measurement or channel perturbation yields a new
// Qubit rather than modifying one in flight.
type Qubit struct {
	Bit   int
	Basis Basis
}

// RandomQubit draws a uniform bit and basis from r.
func RandomQubit(r rng.Rand) Qubit {
	return Qubit{Bit: r.Intn(2), Basis: Basis(r.Intn(2))}
}

// Measure reads q in basis b. A matching basis yields the prepared bit; a
// mismatched basis collapses the state to a fresh coin flip drawn from r.
func Measure(q Qubit, b Basis, r rng.Rand) int {
	if q.Basis == b {
		return q.Bit
	}
	return r.Intn(2)
}

// A Channel carries qubits from Alice's side of the wire to Bob's. Transmit
// reports the qubit as it arrives and whether it registered at all; a false
// second return means the photon was lost in flight or missed by the
// detector. Implementations draw all randomness from r and hold no mutable
// state, so a single Channel may serve many concurrent runs.
type Channel interface {
	Transmit(q Qubit, r rng.Rand) (Qubit, bool)
}
