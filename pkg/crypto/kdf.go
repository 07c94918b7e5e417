// Package crypto implements the key derivation functions used by Quantum-Shield.
//
// This file (kdf.go) provides three constructions:
//
//   - PBKDF2-HMAC-SHA256 for turning a master password into a 32-byte key.
//   - SHA-256 chaining for stretching a derived key to the keystream length:
//     S_0 = K, S_{i+1} = S_i || SHA-256(S_i), truncated to the target length.
//   - SHAKE-256 (FIPS 202) streams with length-prefixed domain separation, used
//     for seeded measurement entropy and the balanced/fast shuffle streams.
//
// Length prefixes are 4-byte big-endian integers to ensure unambiguous parsing:
//
//	stream = SHAKE-256(
//	    len(domain) || domain || count ||
//	    len(input_1) || input_1 || ... || len(input_n) || input_n
//	)
package crypto

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/cloudflare/circl/xof"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
)

// maxStretchLen bounds StretchKey output; it matches the largest keystream
// that can be produced for a MaxPixels RGBA image.
const maxStretchLen = constants.MaxPixels * 4

// PBKDF2 derives keyLen bytes from password and salt using PBKDF2-HMAC-SHA256.
//
// Parameters:
//   - password: Master password, must be non-empty
//   - salt: Random salt, must be non-empty
//   - iterations: Iteration count, must be at least 1
//   - keyLen: Desired output length in bytes
func PBKDF2(password, salt []byte, iterations, keyLen int) ([]byte, error) {
	if len(password) == 0 {
		return nil, qerrors.Invalid("PBKDF2", "empty password")
	}
	if len(salt) == 0 {
		return nil, qerrors.Invalid("PBKDF2", "empty salt")
	}
	if iterations < 1 {
		return nil, qerrors.Invalid("PBKDF2", "iterations %d < 1", iterations)
	}
	if keyLen <= 0 || keyLen > 1<<10 {
		return nil, qerrors.Invalid("PBKDF2", "key length %d out of range", keyLen)
	}
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New), nil
}

// StretchKey expands key to exactly length bytes by SHA-256 chaining.
// The output begins with key itself; a key already long enough is truncated.
func StretchKey(key []byte, length int) ([]byte, error) {
	if len(key) == 0 {
		return nil, qerrors.Invalid("StretchKey", "empty key")
	}
	if length < 0 || length > maxStretchLen {
		return nil, qerrors.Invalid("StretchKey", "length %d out of range", length)
	}

	stretched := make([]byte, len(key), max(length, len(key))+sha256.Size)
	copy(stretched, key)
	for len(stretched) < length {
		sum := sha256.Sum256(stretched)
		stretched = append(stretched, sum[:]...)
	}

	out := make([]byte, length)
	copy(out, stretched)
	Zeroize(stretched)
	return out, nil
}

// NewStream returns a SHAKE-256 stream keyed by domain and inputs.
// Reads from the returned XOF never fail.
func NewStream(domain string, inputs ...[]byte) xof.XOF {
	h := xof.SHAKE256.New()
	lenBuf := make([]byte, 4)

	domainBytes := []byte(domain)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(domainBytes)))
	_, _ = h.Write(lenBuf)
	_, _ = h.Write(domainBytes)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(inputs)))
	_, _ = h.Write(lenBuf)

	for _, input := range inputs {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(input)))
		_, _ = h.Write(lenBuf)
		_, _ = h.Write(input)
	}
	return h
}

// DeriveStream reads outputLen bytes from NewStream(domain, inputs...).
func DeriveStream(domain string, outputLen int, inputs ...[]byte) ([]byte, error) {
	if outputLen <= 0 || outputLen > 1<<20 {
		return nil, qerrors.Invalid("DeriveStream", "output length %d out of range", outputLen)
	}
	out := make([]byte, outputLen)
	_, _ = NewStream(domain, inputs...).Read(out) // SHAKE256.Read never fails
	return out, nil
}

// ContentHash computes a SHA3-256 digest over length-prefixed components.
//
// It is recorded in key blobs for auditing; integrity is enforced by the
// HMAC tag, not by this hash.
func ContentHash(components ...[]byte) []byte {
	h := sha3.New256()
	lenBuf := make([]byte, 4)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(components)))
	h.Write(lenBuf)

	for _, component := range components {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(component)))
		h.Write(lenBuf)
		h.Write(component)
	}

	return h.Sum(nil)
}
