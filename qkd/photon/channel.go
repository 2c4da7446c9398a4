package photon

import (
	"fmt"
	"math"

	"github.com/quantumshield/qkdsim/qkd/rng"
)

// DefaultAttenuationDbPerKm is the fiber loss assumed when a distance-derived
// channel does not specify its own attenuation. 0.2 dB/km is typical for
// telecom fiber at 1550nm.
const DefaultAttenuationDbPerKm = 0.2

// Params describes the imperfections of a simulated quantum channel.
type Params struct {
	// LossProbability is the chance that a photon is absorbed in flight.
	// Ignored when DistanceKm is positive, in which case loss is derived
	// from fiber attenuation instead.
	LossProbability float64

	// NoiseProbability is the chance that a delivered photon's bit value is
	// flipped by depolarizing noise. The basis is unaffected: noise corrupts
	// the measurement outcome, not Bob's choice of measurement basis.
	NoiseProbability float64

	// DetectorEfficiency is the chance that an arriving photon actually
	// registers. Defaults to 1.
	DetectorEfficiency float64

	// DarkCountRate is the chance that a detection window fires on its own,
	// replacing the arriving photon with a uniformly random one.
	DarkCountRate float64

	// DistanceKm, when positive, derives LossProbability from fiber
	// attenuation: loss = 1 - 10^(-dB/km * km / 10).
	DistanceKm float64

	// AttenuationDbPerKm tunes the distance-derived loss model. Defaults to
	// DefaultAttenuationDbPerKm.
	AttenuationDbPerKm float64
}

// Validate returns an error naming the first nonsensical field of p, if any.
func (p Params) Validate() error {
	probs := []struct {
		name string
		v    float64
	}{
		{"LossProbability", p.LossProbability},
		{"NoiseProbability", p.NoiseProbability},
		{"DetectorEfficiency", p.DetectorEfficiency},
		{"DarkCountRate", p.DarkCountRate},
	}
	for _, pr := range probs {
		if pr.v < 0 || pr.v > 1 {
			return fmt.Errorf("%s: must be in [0, 1], got %v", pr.name, pr.v)
		}
	}
	if p.DistanceKm < 0 {
		return fmt.Errorf("DistanceKm: must be non-negative, got %v", p.DistanceKm)
	}
	if p.AttenuationDbPerKm < 0 {
		return fmt.Errorf("AttenuationDbPerKm: must be non-negative, got %v", p.AttenuationDbPerKm)
	}
	return nil
}

// Loss returns the per-photon in-flight loss probability p describes, deriving
// it from distance when DistanceKm is positive.
func (p Params) Loss() float64 {
	if p.DistanceKm <= 0 {
		return p.LossProbability
	}
	att := p.AttenuationDbPerKm
	if att == 0 {
		att = DefaultAttenuationDbPerKm
	}
	return 1 - math.Pow(10, -att*p.DistanceKm/10)
}

// A Simulated is a Channel with fiber loss, detector inefficiency, dark
// counts, and depolarizing noise. It is stateless after construction; all
// randomness comes from the Rand passed to Transmit.
type Simulated struct {
	loss       float64
	efficiency float64
	dark       float64
	noise      float64
}

// NewSimulated returns a Channel behaving per params, or an error if params
// is nonsensical. A zero DetectorEfficiency is interpreted as a perfect
// detector.
func NewSimulated(params Params) (*Simulated, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	eff := params.DetectorEfficiency
	if eff == 0 {
		eff = 1
	}
	return &Simulated{
		loss:       params.Loss(),
		efficiency: eff,
		dark:       params.DarkCountRate,
		noise:      params.NoiseProbability,
	}, nil
}

// Transmit implements the Channel interface. The draw order is fixed: loss,
// detector, dark count, then noise. Changing it changes which keys a given
// seed produces.
func (s *Simulated) Transmit(q Qubit, r rng.Rand) (Qubit, bool) {
	if r.Float64() < s.loss {
		return Qubit{}, false
	}
	if r.Float64() >= s.efficiency {
		return Qubit{}, false
	}
	if s.dark > 0 && r.Float64() < s.dark {
		// The detector fired on its own; what registers is unrelated to
		// what was sent.
		return RandomQubit(r), true
	}
	if s.noise > 0 && r.Float64() < s.noise {
		q.Bit ^= 1
	}
	return q, true
}
