// Package keygen builds keystreams and permutations from a randomness source.
//
// Three permutation strategies are available:
//
//   - maximum: Fisher-Yates where every swap index is drawn from fresh source
//     bits with rejection sampling. Uniform, slow, not batchable.
//   - balanced: one 256-bit seed from the source keys a SHAKE-256 stream,
//     which drives an unbiased shuffle.
//   - fast: as balanced with a 128-bit seed.
//
// Every strategy returns a bijection on [0, size).
package keygen

import (
	"context"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/qrand"
)

// keystreamChunk bounds the bits materialized per source call while
// building a keystream.
const keystreamChunk = 1 << 16

// maximumBatchBits is the source batch size used by the maximum strategy.
const maximumBatchBits = 1 << 12

// Labels passed to qrand.Derive. Seeded sources repeat themselves on every
// call, so each draw names its purpose and position.
const (
	labelKeystream       = "keystream"
	labelShuffle         = "shuffle"
	labelPermutationSeed = "permutation-seed"
)

// maxSize is the largest keystream or permutation accepted.
const maxSize = constants.MaxPixels * 4

// Generator produces key material from an injected randomness source.
type Generator struct {
	src      qrand.Source
	observer *metrics.Observer
}

// Option configures a Generator.
type Option func(*Generator)

// WithObserver routes metrics, spans and logs through o.
func WithObserver(o *metrics.Observer) Option {
	return func(g *Generator) {
		g.observer = o
	}
}

// NewGenerator returns a Generator drawing from src.
func NewGenerator(src qrand.Source, opts ...Option) (*Generator, error) {
	if src == nil {
		return nil, qerrors.Invalid("keygen.NewGenerator", "nil randomness source")
	}
	g := &Generator{src: src}
	for _, opt := range opts {
		opt(g)
	}
	if g.observer == nil {
		g.observer = metrics.NewObserver(metrics.ObserverConfig{})
	}
	return g, nil
}

// Source returns the generator's randomness source.
func (g *Generator) Source() qrand.Source {
	return g.src
}

// Keystream returns length bytes packed MSB-first from length*8 source bits.
func (g *Generator) Keystream(length int) (Keystream, error) {
	if length < 0 || length > maxSize {
		return nil, qerrors.Invalid("Generator.Keystream", "length %d out of range", length)
	}
	_, done := g.observer.OnKeystream(context.Background(), length)

	ks := make(Keystream, 0, length)
	for chunk, remaining := uint64(0), length; remaining > 0; chunk++ {
		n := min(remaining, keystreamChunk)
		bits, err := qrand.Derive(g.src, labelKeystream, chunk).Bits(n * 8)
		if err != nil {
			crypto.Zeroize(ks)
			done(err)
			return nil, err
		}
		ks = append(ks, qrand.PackBits(bits)...)
		crypto.Zeroize(bits)
		remaining -= n
	}

	done(nil)
	return ks, nil
}

// Permutation returns a bijection on [0, size) using the given strategy.
func (g *Generator) Permutation(size int, purity Purity) (Permutation, error) {
	if size < 0 || size > maxSize {
		return nil, qerrors.Invalid("Generator.Permutation", "size %d out of range", size)
	}
	if !purity.IsSupported() {
		return nil, qerrors.Invalid("Generator.Permutation", "unknown purity 0x%02x", uint8(purity))
	}
	_, done := g.observer.OnPermutation(context.Background(), purity.String(), size)

	var (
		p   Permutation
		err error
	)
	switch purity {
	case PurityMaximum:
		var redraws, batch uint64
		d := newBufferedDrawer(func(n int) ([]uint8, error) {
			src := qrand.Derive(g.src, labelShuffle, batch)
			batch++
			return src.Bits(n)
		}, maximumBatchBits)
		p, redraws, err = shuffleMaximum(size, d.draw)
		g.observer.Collector().RecordRejections(redraws)
	default:
		var seedBits []uint8
		seedBits, err = qrand.Derive(g.src, labelPermutationSeed, 0).Bits(purity.SeedBits())
		if err == nil {
			seed := qrand.PackBits(seedBits)
			p = shuffleSeeded(size, seed)
			crypto.Zeroize(seed)
		}
	}

	done(err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Generate returns a keystream and permutation for a buffer of size bytes.
// The keystream is drawn before the permutation.
func (g *Generator) Generate(size int, purity Purity) (*KeyMaterial, error) {
	if !purity.IsSupported() {
		return nil, qerrors.Invalid("Generator.Generate", "unknown purity 0x%02x", uint8(purity))
	}
	ks, err := g.Keystream(size)
	if err != nil {
		return nil, err
	}
	p, err := g.Permutation(size, purity)
	if err != nil {
		crypto.Zeroize(ks)
		return nil, err
	}
	return &KeyMaterial{Keystream: ks, Permutation: p, Purity: purity}, nil
}
