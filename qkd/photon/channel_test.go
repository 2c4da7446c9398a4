package photon

import (
	"math"
	"testing"

	"github.com/quantumshield/qkdsim/qkd/rng"
)

func TestParamsValidate(t *testing.T) {
	tcs := []struct {
		name   string
		params Params
		eErr   bool
	}{{
		name:   "zero value",
		params: Params{},
	}, {
		name: "all in range",
		params: Params{
			LossProbability:    0.1,
			NoiseProbability:   0.02,
			DetectorEfficiency: 0.8,
			DarkCountRate:      1e-6,
			DistanceKm:         50,
		},
	}, {
		name:   "loss above one",
		params: Params{LossProbability: 1.01},
		eErr:   true,
	}, {
		name:   "negative noise",
		params: Params{NoiseProbability: -0.1},
		eErr:   true,
	}, {
		name:   "efficiency above one",
		params: Params{DetectorEfficiency: 2},
		eErr:   true,
	}, {
		name:   "negative distance",
		params: Params{DistanceKm: -1},
		eErr:   true,
	}, {
		name:   "negative attenuation",
		params: Params{AttenuationDbPerKm: -0.2},
		eErr:   true,
	}}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.params.Validate()
			if tc.eErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tc.eErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDistanceLoss(t *testing.T) {
	tcs := []struct {
		name   string
		params Params
		eLoss  float64
	}{{
		name:   "explicit loss",
		params: Params{LossProbability: 0.25},
		eLoss:  0.25,
	}, {
		name:   "distance overrides explicit loss",
		params: Params{LossProbability: 0.25, DistanceKm: 50},
		eLoss:  1 - math.Pow(10, -0.2*50/10),
	}, {
		name:   "custom attenuation",
		params: Params{DistanceKm: 10, AttenuationDbPerKm: 0.5},
		eLoss:  1 - math.Pow(10, -0.5*10/10),
	}, {
		name:  "zero distance zero loss",
		eLoss: 0,
	}}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.params.Loss(); math.Abs(got-tc.eLoss) > 1e-12 {
				t.Errorf("Loss() == %v, want %v", got, tc.eLoss)
			}
		})
	}
}

func TestIdealChannelIsTransparent(t *testing.T) {
	ch, err := NewSimulated(Params{})
	if err != nil {
		t.Fatalf("building channel: %v", err)
	}
	r := rng.Seeded(1)
	for i := 0; i < 1000; i++ {
		sent := RandomQubit(r)
		got, ok := ch.Transmit(sent, r)
		if !ok {
			t.Fatalf("ideal channel dropped qubit %d", i)
		}
		if got != sent {
			t.Fatalf("ideal channel perturbed qubit %d: sent %v, got %v", i, sent, got)
		}
	}
}

func TestChannelLossRate(t *testing.T) {
	ch, err := NewSimulated(Params{LossProbability: 0.3, DetectorEfficiency: 0.5})
	if err != nil {
		t.Fatalf("building channel: %v", err)
	}
	r := rng.Seeded(2)
	const n = 20000
	delivered := 0
	for i := 0; i < n; i++ {
		if _, ok := ch.Transmit(Qubit{Bit: 1}, r); ok {
			delivered++
		}
	}
	// E[delivery] = (1-0.3)*0.5 = 0.35.
	rate := float64(delivered) / n
	if rate < 0.32 || rate > 0.38 {
		t.Errorf("delivery rate == %v, want ~0.35", rate)
	}
}

func TestChannelNoiseRate(t *testing.T) {
	ch, err := NewSimulated(Params{NoiseProbability: 0.1})
	if err != nil {
		t.Fatalf("building channel: %v", err)
	}
	r := rng.Seeded(3)
	const n = 20000
	flips := 0
	for i := 0; i < n; i++ {
		got, ok := ch.Transmit(Qubit{Bit: 0, Basis: Diagonal}, r)
		if !ok {
			t.Fatalf("lossless channel dropped qubit %d", i)
		}
		if got.Basis != Diagonal {
			t.Fatalf("depolarizing noise changed basis on qubit %d", i)
		}
		if got.Bit == 1 {
			flips++
		}
	}
	rate := float64(flips) / n
	if rate < 0.08 || rate > 0.12 {
		t.Errorf("flip rate == %v, want ~0.1", rate)
	}
}

func TestMeasure(t *testing.T) {
	r := rng.Seeded(4)
	q := Qubit{Bit: 1, Basis: Rectilinear}
	for i := 0; i < 100; i++ {
		if got := Measure(q, Rectilinear, r); got != 1 {
			t.Fatalf("matched-basis measurement == %d, want 1", got)
		}
	}
	// Mismatched basis collapses to a coin flip.
	ones := 0
	const n = 20000
	for i := 0; i < n; i++ {
		ones += Measure(q, Diagonal, r)
	}
	rate := float64(ones) / n
	if rate < 0.46 || rate > 0.54 {
		t.Errorf("mismatched-basis ones rate == %v, want ~0.5", rate)
	}
}
