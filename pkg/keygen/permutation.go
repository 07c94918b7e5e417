package keygen

import (
	"encoding/binary"
	"strings"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
)

// Purity selects the permutation generation strategy.
type Purity = constants.Purity

// Purity settings.
const (
	PurityMaximum  = constants.PurityMaximum
	PurityBalanced = constants.PurityBalanced
	PurityFast     = constants.PurityFast
)

// DefaultPurity is used when no purity is configured.
const DefaultPurity = PurityBalanced

// ParsePurity parses a purity label ("maximum", "balanced" or "fast").
func ParsePurity(s string) (Purity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "maximum":
		return PurityMaximum, nil
	case "balanced":
		return PurityBalanced, nil
	case "fast":
		return PurityFast, nil
	default:
		return 0, qerrors.Invalid("ParsePurity", "unknown purity %q", s)
	}
}

// Keystream is the byte sequence XORed against a buffer.
type Keystream []byte

// Permutation maps output positions to input positions: out[k] = in[p[k]].
type Permutation []uint32

// Identity returns the identity permutation of the given size.
func Identity(size int) Permutation {
	p := make(Permutation, size)
	for i := range p {
		p[i] = uint32(i)
	}
	return p
}

// Validate checks that p is a bijection on [0, len(p)).
func (p Permutation) Validate() error {
	seen := make([]bool, len(p))
	for k, v := range p {
		if int64(v) >= int64(len(p)) {
			return qerrors.Invalid("Permutation.Validate", "index %d at position %d out of range", v, k)
		}
		if seen[v] {
			return qerrors.Invalid("Permutation.Validate", "index %d repeated at position %d", v, k)
		}
		seen[v] = true
	}
	return nil
}

// Inverse returns inv such that inv[p[k]] = k. p must be valid.
func (p Permutation) Inverse() Permutation {
	inv := make(Permutation, len(p))
	for k, v := range p {
		inv[v] = uint32(k)
	}
	return inv
}

// AppendLE appends the indices to dst as little-endian uint32 values.
func (p Permutation) AppendLE(dst []byte) []byte {
	for _, v := range p {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

// KeyMaterial is the keystream and permutation for one encryption.
type KeyMaterial struct {
	Keystream   Keystream
	Permutation Permutation
	Purity      Purity
}

// Len returns the buffer length the material applies to.
func (k *KeyMaterial) Len() int {
	return len(k.Keystream)
}

// Validate checks the keystream and permutation agree in length, the
// permutation is a bijection and the purity is known.
func (k *KeyMaterial) Validate() error {
	if k == nil {
		return qerrors.Invalid("KeyMaterial.Validate", "nil key material")
	}
	if len(k.Keystream) != len(k.Permutation) {
		return qerrors.NewCryptoError("KeyMaterial.Validate", qerrors.ErrKeyLengthMismatch)
	}
	if !k.Purity.IsSupported() {
		return qerrors.Invalid("KeyMaterial.Validate", "unknown purity 0x%02x", uint8(k.Purity))
	}
	return k.Permutation.Validate()
}
