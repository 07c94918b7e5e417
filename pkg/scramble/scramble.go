// Package scramble applies and reverses the two-stage image cipher.
//
// Encryption XORs every byte of the flattened buffer with the keystream and
// then moves bytes to new positions:
//
//	xored[i] = buf[i] ^ ks[i]
//	out[k]   = xored[perm[k]]
//
// Decryption undoes the permutation first and the XOR second. Inputs are
// never modified; every call returns a freshly allocated result.
package scramble

import (
	"crypto/subtle"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
)

// Encrypt returns the XOR-then-permute transform of buf.
func Encrypt(buf []byte, ks keygen.Keystream, perm keygen.Permutation) ([]byte, error) {
	if err := checkKey("scramble.Encrypt", len(buf), ks, perm); err != nil {
		return nil, err
	}

	out := make([]byte, len(buf))
	if len(buf) == 0 {
		return out, nil
	}

	xored := scratch.get(len(buf))
	defer scratch.put(xored)
	subtle.XORBytes(xored, buf, ks)

	for k, src := range perm {
		out[k] = xored[src]
	}
	return out, nil
}

// Decrypt reverses Encrypt given the same keystream and permutation.
func Decrypt(buf []byte, ks keygen.Keystream, perm keygen.Permutation) ([]byte, error) {
	if err := checkKey("scramble.Decrypt", len(buf), ks, perm); err != nil {
		return nil, err
	}

	out := make([]byte, len(buf))
	if len(buf) == 0 {
		return out, nil
	}

	unpermuted := scratch.get(len(buf))
	defer scratch.put(unpermuted)

	// Scattering through perm is applying the inverse: unpermuted[i] = buf[inv[i]].
	for k, dst := range perm {
		unpermuted[dst] = buf[k]
	}
	subtle.XORBytes(out, unpermuted, ks)
	return out, nil
}

// EncryptBuffer encrypts b's samples into a new buffer with the same shape and mode.
func EncryptBuffer(b *pixel.Buffer, km *keygen.KeyMaterial) (*pixel.Buffer, error) {
	return transformBuffer(b, km, Encrypt)
}

// DecryptBuffer decrypts b's samples into a new buffer with the same shape and mode.
func DecryptBuffer(b *pixel.Buffer, km *keygen.KeyMaterial) (*pixel.Buffer, error) {
	return transformBuffer(b, km, Decrypt)
}

func transformBuffer(b *pixel.Buffer, km *keygen.KeyMaterial,
	fn func([]byte, keygen.Keystream, keygen.Permutation) ([]byte, error)) (*pixel.Buffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if km == nil {
		return nil, qerrors.Invalid("scramble", "nil key material")
	}
	pix, err := fn(b.Pix, km.Keystream, km.Permutation)
	if err != nil {
		return nil, err
	}
	return b.WithPix(pix), nil
}

// checkKey verifies the keystream and permutation fit a buffer of n bytes.
func checkKey(op string, n int, ks keygen.Keystream, perm keygen.Permutation) error {
	if len(ks) != n {
		return qerrors.NewCryptoError(op, qerrors.ErrKeyLengthMismatch)
	}
	if len(perm) != n {
		return qerrors.Invalid(op, "permutation length %d does not match buffer length %d", len(perm), n)
	}
	return perm.Validate()
}
