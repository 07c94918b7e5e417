// Package qrand produces random bits from a simulated quantum circuit.
//
// Each measurement round prepares a register of qubits in |0...0>, applies a
// Hadamard gate to every qubit and measures the register once:
//
//	|0> --H--> (|0> + |1>)/sqrt(2) --M--> 0 or 1, each with probability 1/2
//
// Requests larger than the register width are split into rounds whose
// outcomes are concatenated in request order.
//
// When the circuit backend cannot be brought up, New substitutes a
// cryptographically strong generator with the same contract. The active
// backend is reported by Source.Mode; callers never need to branch on it.
package qrand

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
)

// Source produces random bits.
type Source interface {
	// Bits returns exactly count values, each 0 or 1.
	Bits(count int) ([]uint8, error)

	// Mode reports which backend produces the bits.
	Mode() Mode
}

// Mode identifies a randomness backend.
type Mode uint8

const (
	// ModeCircuit is the simulated superposition-and-measurement backend.
	ModeCircuit Mode = iota + 1

	// ModeFallback is the SHAKE-256 DRBG or OS CSPRNG backend.
	ModeFallback
)

// String returns the backend name.
func (m Mode) String() string {
	switch m {
	case ModeCircuit:
		return "circuit"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// errCircuitDisabled is reported when the caller asked for the fallback directly.
var errCircuitDisabled = errors.New("circuit backend disabled")

type options struct {
	seed           []byte
	maxQubits      int
	disableCircuit bool
	logger         *metrics.Logger
	collector      *metrics.Collector
	entropy        func([]byte) error
}

// Option configures New.
type Option func(*options)

// WithSeed makes the source deterministic: every Bits call with the same
// count returns the same bits, on this source or any other built with the
// same seed.
func WithSeed(seed []byte) Option {
	return func(o *options) {
		if seed != nil {
			o.seed = append([]byte{}, seed...)
		}
	}
}

// WithMaxQubits sets the register width of one measurement round.
// Values outside [1, constants.MaxQubitsPerRound] make the circuit backend
// fail to initialize, which selects the fallback.
func WithMaxQubits(n int) Option {
	return func(o *options) {
		o.maxQubits = n
	}
}

// WithoutCircuit selects the fallback backend unconditionally.
func WithoutCircuit() Option {
	return func(o *options) {
		o.disableCircuit = true
	}
}

// WithLogger sets the logger used to report backend selection.
func WithLogger(l *metrics.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCollector sets the metrics collector. The default is metrics.Global().
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) {
		o.collector = c
	}
}

// withEntropy replaces the OS entropy used by unseeded backends.
func withEntropy(fill func([]byte) error) Option {
	return func(o *options) {
		o.entropy = fill
	}
}

// New constructs a Source, preferring the circuit backend.
//
// It returns ErrRandomnessUnavailable only when neither the circuit backend
// nor the fallback can be constructed.
func New(opts ...Option) (Source, error) {
	o := &options{
		maxQubits: constants.DefaultQubitsPerRound,
		entropy:   crypto.SecureRandom,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = metrics.GetLogger()
	}
	if o.collector == nil {
		o.collector = metrics.Global()
	}
	log := o.logger.Named("qrand")

	_, end := metrics.StartSpan(context.Background(), metrics.SpanRandomnessInit)

	circuitErr := errCircuitDisabled
	if !o.disableCircuit {
		var c *Circuit
		c, circuitErr = newCircuit(o.maxQubits, o.seed, o.entropy, o.collector)
		if circuitErr == nil && o.seed == nil {
			circuitErr = HealthCheck(c)
		}
		if circuitErr == nil {
			log.Debug("circuit backend ready", metrics.Fields{
				"qubits": o.maxQubits,
				"seeded": o.seed != nil,
			})
			end(nil)
			return c, nil
		}
	}

	fb, err := newFallback(o.seed, o.entropy, o.collector)
	if err != nil {
		err = qerrors.NewCryptoError("qrand.New", fmt.Errorf("%w: circuit: %v; fallback: %v",
			qerrors.ErrRandomnessUnavailable, circuitErr, err))
		log.Error("no randomness backend available", metrics.ErrFields(err))
		end(err)
		return nil, err
	}

	if !errors.Is(circuitErr, errCircuitDisabled) {
		o.collector.RecordFallback()
		log.Warn("circuit randomness unavailable, using fallback source",
			metrics.ErrFields(circuitErr), metrics.Fields{"seeded": o.seed != nil})
	} else {
		log.Debug("fallback backend selected", metrics.Fields{"seeded": o.seed != nil})
	}
	end(nil)
	return fb, nil
}

// HealthCheck draws several samples from src and verifies they are non-zero,
// varied and pairwise distinct.
func HealthCheck(src Source) error {
	sample := func(b []byte) error {
		bits, err := src.Bits(len(b) * 8)
		if err != nil {
			return err
		}
		copy(b, PackBits(bits))
		return nil
	}
	result := crypto.HealthCheck(sample, constants.HealthCheckSamples, constants.HealthCheckSampleBits/8)
	if err := result.Enforce("qrand health check"); err != nil {
		return qerrors.NewCryptoError("qrand.HealthCheck", fmt.Errorf("%w: %v", qerrors.ErrRandomnessUnavailable, err))
	}
	return nil
}

// Derive returns the source to use for one labelled draw. A seeded source
// yields a new seeded source keyed by (seed, label, index), so draws made
// for different purposes never share bits while staying reproducible.
// Unseeded sources are returned unchanged.
func Derive(src Source, label string, index uint64) Source {
	if d, ok := src.(deriver); ok {
		return d.derive(label, index)
	}
	return src
}

type deriver interface {
	derive(label string, index uint64) Source
}

func deriveSeed(seed []byte, label string, index uint64) []byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	out, _ := crypto.DeriveStream(constants.DomainSeparatorDerive, 32, seed, []byte(label), idx[:])
	return out
}

// PackBits packs bits MSB-first into bytes. A trailing partial byte is
// padded with zero bits.
func PackBits(bits []uint8) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		out[i>>3] |= (b & 1) << (7 - uint(i&7))
	}
	return out
}

// UnpackBits expands the first count bits of data, MSB-first.
func UnpackBits(data []byte, count int) []uint8 {
	bits := make([]uint8, count)
	for i := range bits {
		bits[i] = (data[i>>3] >> (7 - uint(i&7))) & 1
	}
	return bits
}

func checkCount(op string, count int) error {
	if count < 0 {
		return qerrors.Invalid(op, "negative bit count %d", count)
	}
	// One bit per uint8 sample: bound requests by the largest keystream.
	if count > constants.MaxPixels*4*8 {
		return qerrors.Invalid(op, "bit count %d too large", count)
	}
	return nil
}
