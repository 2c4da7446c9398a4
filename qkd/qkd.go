// Package qkd simulates BB84 quantum key distribution: the physical exchange
// of qubits over a noisy, lossy channel, the classical post-processing that
// turns the raw exchange into a shared secret, and the statistical detection
// of an eavesdropper. A single Protocol owns both ends of the exchange; all
// randomness flows from an injected source, so a run is a deterministic
// function of its configuration and seed.
package qkd

import (
	"fmt"

	"github.com/quantumshield/qkdsim/qkd/eve"
	"github.com/quantumshield/qkdsim/qkd/photon"
	"github.com/quantumshield/qkdsim/qkd/rng"
	"github.com/quantumshield/qkdsim/telemetry"
)

var (
	// DefaultSampleFraction is the proportion of sifted bits disclosed for
	// QBER estimation.
	DefaultSampleFraction = 0.25

	// DefaultQBERThreshold is the BB84 security bound: an estimated QBER
	// above it aborts the run.
	DefaultQBERThreshold = 0.11

	// DefaultMaxRounds bounds the adaptive batch-regeneration loop.
	DefaultMaxRounds = 16

	// DefaultSecurityParameter is the extra bit count subtracted during
	// privacy amplification.
	DefaultSecurityParameter = 32
)

// A ConfigError reports a configuration rejected before any randomness is
// consumed, naming the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Config holds the tunable parameters of a protocol run. The zero value of
// every field except TargetKeyLength selects its default.
type Config struct {
	// TargetKeyLength is the number of secret bits the run aims to produce.
	// Must be positive.
	TargetKeyLength int

	// SampleFraction is the proportion of sifted bits disclosed for QBER
	// estimation. Must be in (0, 1). Defaults to DefaultSampleFraction.
	SampleFraction float64

	// QBERThreshold is the estimated QBER above which the run aborts and
	// reports eavesdropping. Must be in (0, 1]. Defaults to
	// DefaultQBERThreshold.
	QBERThreshold float64

	// MaxRounds bounds how many qubit batches the run may generate while
	// chasing its sifted-length goal. Defaults to DefaultMaxRounds.
	MaxRounds int

	// SecurityParameter is subtracted from the final key length during
	// privacy amplification. Defaults to DefaultSecurityParameter.
	SecurityParameter int
}

// withDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.SampleFraction == 0 {
		c.SampleFraction = DefaultSampleFraction
	}
	if c.QBERThreshold == 0 {
		c.QBERThreshold = DefaultQBERThreshold
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.SecurityParameter == 0 {
		c.SecurityParameter = DefaultSecurityParameter
	}
	return c
}

// validate rejects a defaulted config whose fields are nonsensical.
func (c Config) validate() error {
	if c.TargetKeyLength <= 0 {
		return &ConfigError{"TargetKeyLength", fmt.Sprintf("must be positive, got %d", c.TargetKeyLength)}
	}
	if c.SampleFraction <= 0 || c.SampleFraction >= 1 {
		return &ConfigError{"SampleFraction", fmt.Sprintf("must be in (0, 1), got %v", c.SampleFraction)}
	}
	if c.QBERThreshold <= 0 || c.QBERThreshold > 1 {
		return &ConfigError{"QBERThreshold", fmt.Sprintf("must be in (0, 1], got %v", c.QBERThreshold)}
	}
	if c.MaxRounds < 0 {
		return &ConfigError{"MaxRounds", fmt.Sprintf("must be non-negative, got %d", c.MaxRounds)}
	}
	if c.SecurityParameter < 0 {
		return &ConfigError{"SecurityParameter", fmt.Sprintf("must be non-negative, got %d", c.SecurityParameter)}
	}
	return nil
}

// Opts packages together the collaborators and parameters for a Protocol.
// Rand and Channel have no reasonable defaults; leaving them nil results in
// New returning an error.
type Opts struct {
	// Rand supplies all randomness consumed during a run. May use pRNG for
	// experiments; nothing here upgrades a weak source into a secure one.
	// Must be non-nil.
	Rand rng.Rand

	// Channel carries qubits from Alice to Bob. Must be non-nil.
	Channel photon.Channel

	// Eve sits on the wire between Alice and the channel. Defaults to the
	// passive eavesdropper.
	Eve eve.Eavesdropper

	// Logger receives per-phase progress at debug level and the run outcome
	// at info. Defaults to a silent logger.
	Logger *telemetry.Logger

	// Tracer observes the run's phases as spans. Defaults to a no-op.
	Tracer telemetry.Tracer

	Config Config
}

// A Protocol executes BB84 runs. It is safe for concurrent use only when each
// concurrent run has its own Protocol, because the injected Rand is consumed
// statefully.
type Protocol struct {
	rand    rng.Rand
	channel photon.Channel
	eve     eve.Eavesdropper
	log     *telemetry.Logger
	tracer  telemetry.Tracer
	cfg     Config
}

// New returns a Protocol configured in accordance with opts, or an error if
// the options are nonsensical. All validation happens here, before any
// randomness is drawn.
func New(opts Opts) (*Protocol, error) {
	if opts.Rand == nil {
		return nil, &ConfigError{"Rand", "must be non-nil"}
	}
	if opts.Channel == nil {
		return nil, &ConfigError{"Channel", "must be non-nil"}
	}
	cfg := opts.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := opts.Eve
	if e == nil {
		e = eve.Passive()
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NullLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	return &Protocol{
		rand:    opts.Rand,
		channel: opts.Channel,
		eve:     e,
		log:     log.Named("qkd"),
		tracer:  tracer,
		cfg:     cfg,
	}, nil
}
