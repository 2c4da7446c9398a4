// Package eve models eavesdropping strategies against a BB84 exchange. The
// strategy set is closed: variants are dispatched when an Eavesdropper is
// constructed, never by inspecting types at run time.
package eve

import (
	"fmt"

	"github.com/quantumshield/qkdsim/qkd/photon"
	"github.com/quantumshield/qkdsim/qkd/rng"
)

// A Strategy selects one of the supported eavesdropping behaviors.
type Strategy int

const (
	// None leaves the wire untouched.
	None Strategy = iota

	// InterceptResend measures every qubit in a uniformly random basis and
	// forwards a fresh qubit prepared from the measured value. In the sifted
	// key this induces an expected 25% error rate, the artifact QBER
	// estimation exists to surface.
	InterceptResend

	// PartialIntercept applies InterceptResend to a Bernoulli(Fraction)
	// subset of qubits and forwards the rest unmodified.
	PartialIntercept

	// BiasedIntercept measures every qubit in one fixed basis. Half the
	// interceptions use the correct basis, so the induced sifted error rate
	// is only 12.5%, making this the harder attacker to detect.
	BiasedIntercept
)

// String returns a short name for s.
func (s Strategy) String() string {
	switch s {
	case None:
		return "none"
	case InterceptResend:
		return "intercept-resend"
	case PartialIntercept:
		return "partial-intercept"
	case BiasedIntercept:
		return "biased-intercept"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Config selects and parameterizes an eavesdropping strategy.
type Config struct {
	Strategy Strategy

	// Fraction is the interception probability for PartialIntercept.
	// Ignored by the other strategies.
	Fraction float64

	// Basis is the fixed measurement basis for BiasedIntercept. Ignored by
	// the other strategies.
	Basis photon.Basis
}

// An Eavesdropper sits on the wire between Alice and the channel. Intercept
// returns the qubit forwarded onward to Bob, drawing any randomness it needs
// from r. Implementations hold no mutable state.
type Eavesdropper interface {
	Intercept(q photon.Qubit, r rng.Rand) photon.Qubit
}

// New returns the Eavesdropper cfg describes, or an error if cfg is
// nonsensical.
func New(cfg Config) (Eavesdropper, error) {
	switch cfg.Strategy {
	case None:
		return passive{}, nil
	case InterceptResend:
		return interceptResend{}, nil
	case PartialIntercept:
		if cfg.Fraction < 0 || cfg.Fraction > 1 {
			return nil, fmt.Errorf("Fraction: must be in [0, 1], got %v", cfg.Fraction)
		}
		return partialIntercept{fraction: cfg.Fraction}, nil
	case BiasedIntercept:
		return biasedIntercept{basis: cfg.Basis}, nil
	default:
		return nil, fmt.Errorf("unknown eavesdropper strategy: %v", cfg.Strategy)
	}
}

// Passive returns the do-nothing eavesdropper, equivalent to New with the
// None strategy.
func Passive() Eavesdropper {
	return passive{}
}

type passive struct{}

func (passive) Intercept(q photon.Qubit, r rng.Rand) photon.Qubit {
	return q
}

type interceptResend struct{}

func (interceptResend) Intercept(q photon.Qubit, r rng.Rand) photon.Qubit {
	basis := photon.RandomBasis(r)
	return photon.Qubit{
		Bit:   photon.Measure(q, basis, r),
		Basis: basis,
	}
}

type partialIntercept struct {
	fraction float64
}

func (p partialIntercept) Intercept(q photon.Qubit, r rng.Rand) photon.Qubit {
	if r.Float64() >= p.fraction {
		return q
	}
	return interceptResend{}.Intercept(q, r)
}

type biasedIntercept struct {
	basis photon.Basis
}

func (b biasedIntercept) Intercept(q photon.Qubit, r rng.Rand) photon.Qubit {
	return photon.Qubit{
		Bit:   photon.Measure(q, b.basis, r),
		Basis: b.basis,
	}
}
