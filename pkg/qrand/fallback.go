package qrand

import (
	"fmt"
	"sync"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
)

// Fallback is the non-circuit backend: a SHAKE-256 DRBG when seeded,
// otherwise the OS CSPRNG guarded by a continuous repetition test.
// The seeded DRBG is rewound on every Bits call.
type Fallback struct {
	mu         sync.Mutex
	seed       []byte
	entropy    func([]byte) error
	continuous crypto.ContinuousTest
	collector  *metrics.Collector
}

// NewFallback constructs the fallback backend directly.
func NewFallback(seed []byte) (*Fallback, error) {
	return newFallback(seed, crypto.SecureRandom, metrics.Global())
}

func newFallback(seed []byte, entropy func([]byte) error, collector *metrics.Collector) (*Fallback, error) {
	f := &Fallback{entropy: entropy, collector: collector}
	if seed != nil {
		f.seed = seed
		return f, nil
	}
	if err := crypto.HealthCheck(entropy, 2, 32).Enforce("fallback entropy"); err != nil {
		return nil, err
	}
	return f, nil
}

// Mode returns ModeFallback.
func (f *Fallback) Mode() Mode {
	return ModeFallback
}

// Bits returns count bits unpacked MSB-first from ceil(count/8) generator bytes.
func (f *Fallback) Bits(count int) ([]uint8, error) {
	if err := checkCount("Fallback.Bits", count); err != nil {
		return nil, err
	}
	if count == 0 {
		return []uint8{}, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	raw := make([]byte, (count+7)/8)
	if f.seed != nil {
		_, _ = crypto.NewStream(constants.DomainSeparatorFallback, f.seed).Read(raw)
	} else {
		if err := f.entropy(raw); err != nil {
			return nil, qerrors.NewCryptoError("Fallback.Bits", fmt.Errorf("%w: %v", qerrors.ErrRandomnessUnavailable, err))
		}
		if len(raw) >= 16 {
			if err := f.continuous.Check(raw).Enforce("fallback continuous test"); err != nil {
				return nil, qerrors.NewCryptoError("Fallback.Bits", fmt.Errorf("%w: %v", qerrors.ErrRandomnessUnavailable, err))
			}
		}
	}

	bits := UnpackBits(raw, count)
	crypto.Zeroize(raw)
	f.collector.RecordBits(uint64(count))
	return bits, nil
}

func (f *Fallback) derive(label string, index uint64) Source {
	if f.seed == nil {
		return f
	}
	return &Fallback{
		seed:      deriveSeed(f.seed, label, index),
		entropy:   f.entropy,
		collector: f.collector,
	}
}
