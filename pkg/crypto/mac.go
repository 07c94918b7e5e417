package crypto

import (
	"crypto/hmac"
	"crypto/sha256"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
)

// ComputeTag returns HMAC-SHA256(key, parts[0] || parts[1] || ...).
func ComputeTag(key []byte, parts ...[]byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, qerrors.Invalid("ComputeTag", "empty key")
	}
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil), nil
}

// VerifyTag recomputes the tag over parts and compares it to tag in constant time.
// It returns ErrIntegrityViolation on mismatch.
func VerifyTag(key, tag []byte, parts ...[]byte) error {
	expected, err := ComputeTag(key, parts...)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, tag) {
		return qerrors.NewCryptoError("VerifyTag", qerrors.ErrIntegrityViolation)
	}
	return nil
}
