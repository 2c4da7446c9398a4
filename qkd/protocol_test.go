package qkd

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/quantumshield/qkdsim/qkd/eve"
	"github.com/quantumshield/qkdsim/qkd/photon"
	"github.com/quantumshield/qkdsim/qkd/rng"
)

func mustChannel(t *testing.T, params photon.Params) photon.Channel {
	t.Helper()
	ch, err := photon.NewSimulated(params)
	if err != nil {
		t.Fatalf("building channel: %v", err)
	}
	return ch
}

func mustEve(t *testing.T, cfg eve.Config) eve.Eavesdropper {
	t.Helper()
	e, err := eve.New(cfg)
	if err != nil {
		t.Fatalf("building eavesdropper: %v", err)
	}
	return e
}

func mustRun(t *testing.T, opts Opts) Result {
	t.Helper()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("building protocol: %v", err)
	}
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("running protocol: %v", err)
	}
	return res
}

func TestIdealChannelZeroQBER(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 1337, 99999} {
		res := mustRun(t, Opts{
			Rand:    rng.Seeded(seed),
			Channel: mustChannel(t, photon.Params{}),
			Config:  Config{TargetKeyLength: 256},
		})
		if res.QBER != 0 {
			t.Errorf("seed %d: QBER == %v, want exactly 0", seed, res.QBER)
		}
		if res.Aborted {
			t.Errorf("seed %d: aborted (%s), want success", seed, res.AbortReason)
		}
		if res.FinalKeyBits == 0 {
			t.Errorf("seed %d: empty final key", seed)
		}
		if res.FinalKeyBits > 256 {
			t.Errorf("seed %d: final key of %d bits, want <= 256", seed, res.FinalKeyBits)
		}
		if res.FinalKey.Size() != res.FinalKeyBits {
			t.Errorf("seed %d: key size %d disagrees with FinalKeyBits %d", seed, res.FinalKey.Size(), res.FinalKeyBits)
		}
		if res.KeyFingerprint == "" {
			t.Errorf("seed %d: missing key fingerprint", seed)
		}
		if res.LeakedBits != 0 {
			t.Errorf("seed %d: leaked %d parity bits on an error-free exchange", seed, res.LeakedBits)
		}
	}
}

func TestInterceptResendDetection(t *testing.T) {
	// A large target forces a sifted length in the thousands, so the sample
	// estimate concentrates tightly around the strategy's 25% error rate.
	res := mustRun(t, Opts{
		Rand:    rng.Seeded(2),
		Channel: mustChannel(t, photon.Params{}),
		Eve:     mustEve(t, eve.Config{Strategy: eve.InterceptResend}),
		Config:  Config{TargetKeyLength: 4096},
	})
	if res.QBER < 0.20 || res.QBER > 0.30 {
		t.Errorf("QBER == %v, want ~0.25", res.QBER)
	}
	if !res.Aborted || !res.EavesdroppingDetected {
		t.Errorf("aborted == %v, detected == %v, want both true", res.Aborted, res.EavesdroppingDetected)
	}
	if res.AbortReason != AbortQBERThreshold {
		t.Errorf("abort reason == %q, want %q", res.AbortReason, AbortQBERThreshold)
	}
	if res.FinalKey.Size() != 0 {
		t.Errorf("aborted run produced a %d-bit key", res.FinalKey.Size())
	}
}

func TestNoiseMonotonicity(t *testing.T) {
	meanQBER := func(noise float64) float64 {
		opts := Opts{
			Channel: mustChannel(t, photon.Params{NoiseProbability: noise}),
			// Keep every run below the abort threshold so each one yields
			// an estimate.
			Config: Config{TargetKeyLength: 512, QBERThreshold: 1},
		}
		results, err := RunTrials(context.Background(), opts, 16, 1234, 4)
		if err != nil {
			t.Fatalf("noise %v: %v", noise, err)
		}
		sum := 0.0
		for _, r := range results {
			sum += r.QBER
		}
		return sum / float64(len(results))
	}

	noises := []float64{0, 0.04, 0.08, 0.12}
	prev := -1.0
	for _, noise := range noises {
		got := meanQBER(noise)
		if got < prev {
			t.Errorf("mean QBER dropped from %v to %v as noise rose to %v", prev, got, noise)
		}
		prev = got
	}
}

func TestLengthInvariant(t *testing.T) {
	res := mustRun(t, Opts{
		Rand: rng.Seeded(3),
		Channel: mustChannel(t, photon.Params{
			LossProbability:  0.1,
			NoiseProbability: 0.02,
		}),
		Config: Config{TargetKeyLength: 256},
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.AbortReason)
	}
	if res.FinalKeyBits < 0 ||
		res.FinalKeyBits > res.SiftedBits-res.SampledBits ||
		res.SiftedBits-res.SampledBits > res.RawQubitsSent {
		t.Errorf("length invariant violated: key %d, sifted %d, sampled %d, raw %d",
			res.FinalKeyBits, res.SiftedBits, res.SampledBits, res.RawQubitsSent)
	}
}

func TestReproducibility(t *testing.T) {
	run := func() Result {
		return mustRun(t, Opts{
			Rand: rng.Seeded(4),
			Channel: mustChannel(t, photon.Params{
				LossProbability:  0.05,
				NoiseProbability: 0.01,
			}),
			Eve:    mustEve(t, eve.Config{Strategy: eve.PartialIntercept, Fraction: 0.1}),
			Config: Config{TargetKeyLength: 128},
		})
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical configs and seeds produced different results:\n%+v\n%+v", a, b)
	}
}

func TestScenarioNoisyChannel(t *testing.T) {
	res := mustRun(t, Opts{
		Rand: rng.Seeded(5),
		Channel: mustChannel(t, photon.Params{
			LossProbability:  0.1,
			NoiseProbability: 0.02,
		}),
		Config: Config{TargetKeyLength: 256, QBERThreshold: 0.11},
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.AbortReason)
	}
	if res.QBER > 0.08 {
		t.Errorf("QBER == %v, want ~0.02", res.QBER)
	}
	if res.FinalKeyBits <= 0 || res.FinalKeyBits > 256 {
		t.Errorf("final key of %d bits, want in (0, 256]", res.FinalKeyBits)
	}
	if res.SecureKeyRate <= 0 || res.SecureKeyRate >= 1 {
		t.Errorf("secure key rate == %v, want in (0, 1)", res.SecureKeyRate)
	}
}

func TestScenarioFullIntercept(t *testing.T) {
	res := mustRun(t, Opts{
		Rand:    rng.Seeded(6),
		Channel: mustChannel(t, photon.Params{}),
		Eve:     mustEve(t, eve.Config{Strategy: eve.InterceptResend}),
		Config:  Config{TargetKeyLength: 256, QBERThreshold: 0.11},
	})
	if !res.EavesdroppingDetected {
		t.Errorf("full intercept-resend went undetected (QBER %v)", res.QBER)
	}
	if res.FinalKey.Size() != 0 {
		t.Errorf("detected run produced a %d-bit key", res.FinalKey.Size())
	}
}

func TestChannelExhausted(t *testing.T) {
	res := mustRun(t, Opts{
		Rand:    rng.Seeded(7),
		Channel: mustChannel(t, photon.Params{LossProbability: 1}),
		Config:  Config{TargetKeyLength: 256, MaxRounds: 2},
	})
	if !res.Aborted || res.AbortReason != AbortChannelExhausted {
		t.Errorf("aborted == %v, reason == %q, want exhausted abort", res.Aborted, res.AbortReason)
	}
	if res.EavesdroppingDetected {
		t.Errorf("an exhausted channel is not eavesdropping")
	}
	if res.Rounds != 2 {
		t.Errorf("used %d rounds, want the full 2", res.Rounds)
	}
	if res.RawQubitsSent == 0 {
		t.Errorf("no qubits sent before exhaustion")
	}
}

func TestInsufficientSecureMaterial(t *testing.T) {
	// The loss rate leaves enough sifted bits to pass the exhaustion check
	// but far fewer than the security parameter demands.
	res := mustRun(t, Opts{
		Rand:    rng.Seeded(8),
		Channel: mustChannel(t, photon.Params{LossProbability: 0.99}),
		Config: Config{
			TargetKeyLength:   8,
			SampleFraction:    0.5,
			SecurityParameter: 5000,
			MaxRounds:         1,
		},
	})
	if !res.Aborted || res.AbortReason != AbortInsufficientKey {
		t.Errorf("aborted == %v, reason == %q, want insufficient-material abort", res.Aborted, res.AbortReason)
	}
	if res.EavesdroppingDetected {
		t.Errorf("insufficient material is not eavesdropping")
	}
}

func TestTranscriptAccounting(t *testing.T) {
	res := mustRun(t, Opts{
		Rand:    rng.Seeded(9),
		Channel: mustChannel(t, photon.Params{}),
		Config:  Config{TargetKeyLength: 64},
	})
	if res.Announcements == 0 || res.DisclosedBits == 0 {
		t.Errorf("expected classical traffic accounting, got %d announcements / %d bits",
			res.Announcements, res.DisclosedBits)
	}
	// Bases and the QBER sample alone disclose more than the raw count.
	if res.DisclosedBits < res.RawQubitsSent {
		t.Errorf("disclosed %d bits over %d raw qubits, want at least 3 per qubit plus sample",
			res.DisclosedBits, res.RawQubitsSent)
	}
}

func TestNewValidation(t *testing.T) {
	validOpts := func() Opts {
		return Opts{
			Rand:    rng.Seeded(1),
			Channel: &photon.Simulated{},
			Config:  Config{TargetKeyLength: 64},
		}
	}

	tcs := []struct {
		name   string
		mutate func(*Opts)
		eField string
	}{{
		name:   "nil rand",
		mutate: func(o *Opts) { o.Rand = nil },
		eField: "Rand",
	}, {
		name:   "nil channel",
		mutate: func(o *Opts) { o.Channel = nil },
		eField: "Channel",
	}, {
		name:   "zero target",
		mutate: func(o *Opts) { o.Config.TargetKeyLength = 0 },
		eField: "TargetKeyLength",
	}, {
		name:   "negative target",
		mutate: func(o *Opts) { o.Config.TargetKeyLength = -5 },
		eField: "TargetKeyLength",
	}, {
		name:   "sample fraction too high",
		mutate: func(o *Opts) { o.Config.SampleFraction = 1 },
		eField: "SampleFraction",
	}, {
		name:   "negative sample fraction",
		mutate: func(o *Opts) { o.Config.SampleFraction = -0.1 },
		eField: "SampleFraction",
	}, {
		name:   "threshold above one",
		mutate: func(o *Opts) { o.Config.QBERThreshold = 1.5 },
		eField: "QBERThreshold",
	}, {
		name:   "negative rounds",
		mutate: func(o *Opts) { o.Config.MaxRounds = -1 },
		eField: "MaxRounds",
	}, {
		name:   "negative security parameter",
		mutate: func(o *Opts) { o.Config.SecurityParameter = -1 },
		eField: "SecurityParameter",
	}}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			opts := validOpts()
			tc.mutate(&opts)
			_, err := New(opts)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("error %v is not a ConfigError", err)
			}
			if cerr.Field != tc.eField {
				t.Errorf("offending field == %q, want %q", cerr.Field, tc.eField)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	p, err := New(Opts{
		Rand:    rng.Seeded(1),
		Channel: &photon.Simulated{},
		Config:  Config{TargetKeyLength: 64},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.cfg.SampleFraction != DefaultSampleFraction {
		t.Errorf("SampleFraction == %v, want default %v", p.cfg.SampleFraction, DefaultSampleFraction)
	}
	if p.cfg.QBERThreshold != DefaultQBERThreshold {
		t.Errorf("QBERThreshold == %v, want default %v", p.cfg.QBERThreshold, DefaultQBERThreshold)
	}
	if p.cfg.MaxRounds != DefaultMaxRounds {
		t.Errorf("MaxRounds == %d, want default %d", p.cfg.MaxRounds, DefaultMaxRounds)
	}
	if p.cfg.SecurityParameter != DefaultSecurityParameter {
		t.Errorf("SecurityParameter == %d, want default %d", p.cfg.SecurityParameter, DefaultSecurityParameter)
	}
}
