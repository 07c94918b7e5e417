package qrand

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
)

// qubit holds the amplitudes of alpha|0> + beta|1>.
type qubit struct {
	alpha, beta complex128
}

// register is a product state of independent qubits.
type register []qubit

var invSqrt2 = complex(1/math.Sqrt2, 0)

func newRegister(n int) register {
	r := make(register, n)
	for i := range r {
		r[i] = qubit{alpha: 1}
	}
	return r
}

// hadamard applies H to every qubit.
func (r register) hadamard() {
	for i, q := range r {
		r[i] = qubit{
			alpha: (q.alpha + q.beta) * invSqrt2,
			beta:  (q.alpha - q.beta) * invSqrt2,
		}
	}
}

// measure collapses every qubit, drawing one uniform variate per qubit from
// entropy. Outcome 1 occurs with probability |beta|^2.
func (r register) measure(entropy io.Reader) ([]uint8, error) {
	raw := make([]byte, 8*len(r))
	if _, err := io.ReadFull(entropy, raw); err != nil {
		return nil, err
	}

	bits := make([]uint8, len(r))
	for i, q := range r {
		u := float64(binary.BigEndian.Uint64(raw[8*i:])>>11) / (1 << 53)
		p1 := real(q.beta)*real(q.beta) + imag(q.beta)*imag(q.beta)
		if u < p1 {
			bits[i] = 1
			r[i] = qubit{beta: 1}
		} else {
			r[i] = qubit{alpha: 1}
		}
	}
	crypto.Zeroize(raw)
	return bits, nil
}

// Circuit is the simulated-circuit backend. Shots are serialized: a Circuit
// may be shared, but concurrent callers are run one round at a time.
//
// A seeded Circuit restarts its round counter on every Bits call, so equal
// requests return equal bits. Use Derive to obtain independent streams.
type Circuit struct {
	mu        sync.Mutex
	qubits    int
	seed      []byte
	round     uint64
	entropy   func([]byte) error
	collector *metrics.Collector
}

// NewCircuit constructs a circuit backend with the given register width.
// A nil seed draws measurement entropy from the OS CSPRNG.
func NewCircuit(qubits int, seed []byte) (*Circuit, error) {
	return newCircuit(qubits, seed, crypto.SecureRandom, metrics.Global())
}

func newCircuit(qubits int, seed []byte, entropy func([]byte) error, collector *metrics.Collector) (*Circuit, error) {
	if qubits < 1 || qubits > constants.MaxQubitsPerRound {
		return nil, qerrors.Invalid("qrand.NewCircuit", "register width %d outside [1, %d]",
			qubits, constants.MaxQubitsPerRound)
	}
	return &Circuit{
		qubits:    qubits,
		seed:      seed,
		entropy:   entropy,
		collector: collector,
	}, nil
}

// Mode returns ModeCircuit.
func (c *Circuit) Mode() Mode {
	return ModeCircuit
}

// Qubits returns the register width of one round.
func (c *Circuit) Qubits() int {
	return c.qubits
}

// Bits runs ceil(count/qubits) measurement rounds and returns their outcomes.
// The last round measures only as many qubits as are still needed.
func (c *Circuit) Bits(count int) ([]uint8, error) {
	if err := checkCount("Circuit.Bits", count); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.round = 0
	out := make([]uint8, 0, count)
	for remaining := count; remaining > 0; {
		n := min(remaining, c.qubits)
		bits, err := c.shot(n)
		if err != nil {
			return nil, err
		}
		out = append(out, bits...)
		remaining -= n
	}
	c.collector.RecordBits(uint64(count))
	return out, nil
}

// shot prepares, transforms and measures one register of n qubits.
func (c *Circuit) shot(n int) ([]uint8, error) {
	reg := newRegister(n)
	reg.hadamard()

	bits, err := reg.measure(c.roundEntropy())
	c.round++
	if err != nil {
		return nil, qerrors.NewCryptoError("Circuit.shot", fmt.Errorf("%w: %v", qerrors.ErrRandomnessUnavailable, err))
	}
	c.collector.RecordRound()
	return bits, nil
}

// roundEntropy returns the measurement entropy for the current round.
// Seeded circuits derive it from SHAKE-256(domain, seed, round).
func (c *Circuit) roundEntropy() io.Reader {
	if c.seed == nil {
		return fillReader(c.entropy)
	}
	var r [8]byte
	binary.BigEndian.PutUint64(r[:], c.round)
	return crypto.NewStream(constants.DomainSeparatorMeasurement, c.seed, r[:])
}

func (c *Circuit) derive(label string, index uint64) Source {
	if c.seed == nil {
		return c
	}
	return &Circuit{
		qubits:    c.qubits,
		seed:      deriveSeed(c.seed, label, index),
		entropy:   c.entropy,
		collector: c.collector,
	}
}

// fillReader adapts a fill function to io.Reader.
type fillReader func([]byte) error

func (f fillReader) Read(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
