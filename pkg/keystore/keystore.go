// Package keystore seals key material into authenticated, optionally
// password-encrypted blobs and opens them again.
//
// A blob carries the keystream, the permutation and the image metadata
// needed to decrypt. Integrity is enforced by an HMAC-SHA256 tag over
//
//	storedKeystream || permutation (little-endian uint32 per index)
//
// where storedKeystream is the keystream XORed with the password-derived
// key stretched to the keystream length, or the raw keystream when no
// password is used.
//
// The HMAC key is stored inside the blob, so the tag detects accidental
// corruption and naive tampering only; an attacker able to rewrite the blob
// can recompute it.
package keystore

import (
	"context"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
)

// KDFParams records how the password key of an encrypted blob was derived.
type KDFParams struct {
	Iterations uint64
	KeyLen     uint8
}

// DefaultKDFParams returns the parameters used by DeriveKey callers that
// do not choose their own.
func DefaultKDFParams() KDFParams {
	return KDFParams{Iterations: constants.KDFIterations, KeyLen: constants.KDFKeySize}
}

// Blob is a sealed key record. Blobs are immutable once wrapped. Only the
// keystream and permutation are covered by the integrity tag.
type Blob struct {
	Keystream    []byte // possibly encrypted
	Permutation  keygen.Permutation
	Shape        pixel.Shape
	Mode         pixel.Mode
	Purity       string
	Version      string
	Salt         []byte
	HMACKey      []byte
	IntegrityTag []byte
	ContentHash  []byte
	Encrypted    bool
	KDF          KDFParams
}

// Metadata describes the image a blob's key material applies to.
type Metadata struct {
	Shape     pixel.Shape
	Mode      pixel.Mode
	Purity    keygen.Purity
	Version   string
	Encrypted bool
}

// DeriveKey derives a KDFKeySize-byte key from password with
// PBKDF2-HMAC-SHA256. A nil salt is replaced by KDFSaltSize random bytes.
// The salt actually used is returned with the key.
func DeriveKey(password, salt []byte, iterations int) (key, usedSalt []byte, err error) {
	return deriveKey(context.Background(), metrics.NewObserver(metrics.ObserverConfig{}), password, salt, iterations)
}

func deriveKey(ctx context.Context, obs *metrics.Observer, password, salt []byte, iterations int) ([]byte, []byte, error) {
	if len(password) == 0 {
		return nil, nil, qerrors.Invalid("DeriveKey", "empty password")
	}
	if iterations < 1 {
		return nil, nil, qerrors.Invalid("DeriveKey", "iterations %d < 1", iterations)
	}

	_, done := obs.OnDeriveKey(ctx, iterations)
	if salt == nil {
		var err error
		if salt, err = crypto.SecureRandomBytes(constants.KDFSaltSize); err != nil {
			done(err)
			return nil, nil, err
		}
	}
	key, err := crypto.PBKDF2(password, salt, iterations, constants.KDFKeySize)
	done(err)
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}

// Wrap seals km and meta into a blob. If derivedKey is non-empty the
// keystream is encrypted with it and salt must be the salt it was derived
// with. The blob records the default KDF parameters; use a Wrapper to
// record others.
func Wrap(km *keygen.KeyMaterial, meta Metadata, derivedKey, salt []byte) (*Blob, error) {
	return wrap(context.Background(), metrics.NewObserver(metrics.ObserverConfig{}), km, meta, derivedKey, salt, DefaultKDFParams())
}

func wrap(ctx context.Context, obs *metrics.Observer, km *keygen.KeyMaterial, meta Metadata,
	derivedKey, salt []byte, kdf KDFParams) (_ *Blob, err error) {
	const op = "keystore.Wrap"

	if err := km.Validate(); err != nil {
		return nil, err
	}
	if len(derivedKey) > 0 && len(salt) == 0 {
		return nil, qerrors.Invalid(op, "derived key supplied without salt")
	}
	if meta.Shape.Len() != km.Len() {
		return nil, qerrors.Invalid(op, "shape %s does not match key length %d", meta.Shape, km.Len())
	}

	encrypted := len(derivedKey) > 0
	_, done := obs.OnWrap(ctx, metrics.SpanAttributes{
		Purity:    km.Purity.String(),
		Bytes:     km.Len(),
		Encrypted: encrypted,
	})
	defer func() { done(err) }()

	stored, err := sealKeystream(km.Keystream, derivedKey)
	if err != nil {
		return nil, err
	}

	hmacKey, err := crypto.SecureRandomBytes(constants.HMACKeySize)
	if err != nil {
		return nil, err
	}
	permBytes := km.Permutation.AppendLE(nil)
	tag, err := crypto.ComputeTag(hmacKey, stored, permBytes)
	if err != nil {
		return nil, err
	}

	b := &Blob{
		Keystream:    stored,
		Permutation:  append(keygen.Permutation(nil), km.Permutation...),
		Shape:        meta.Shape,
		Mode:         meta.Mode,
		Purity:       km.Purity.String(),
		Version:      constants.BlobVersion,
		HMACKey:      hmacKey,
		IntegrityTag: tag,
		ContentHash:  crypto.ContentHash(stored, permBytes),
		Encrypted:    encrypted,
	}
	if encrypted {
		b.Salt = append([]byte(nil), salt...)
		b.KDF = kdf
	}
	return b, nil
}

// sealKeystream XORs ks with key stretched to len(ks). With no key it
// returns a copy of ks.
func sealKeystream(ks, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return append([]byte{}, ks...), nil
	}
	stretched, err := crypto.StretchKey(key, len(ks))
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(stretched)
	return crypto.XORBytes(ks, stretched), nil
}

// Verify checks the blob's integrity tag. It does not modify the blob and
// needs no password.
func Verify(b *Blob) error {
	if b == nil {
		return qerrors.Invalid("keystore.Verify", "nil blob")
	}
	if len(b.HMACKey) == 0 || len(b.IntegrityTag) == 0 {
		return qerrors.Malformed("keystore.Verify", "blob has no integrity tag")
	}
	return crypto.VerifyTag(b.HMACKey, b.IntegrityTag, b.Keystream, b.Permutation.AppendLE(nil))
}

// Unwrap verifies b and recovers its key material. Encrypted blobs need the
// password they were wrapped with.
func Unwrap(b *Blob, password []byte) (*keygen.KeyMaterial, Metadata, error) {
	return unwrap(context.Background(), metrics.NewObserver(metrics.ObserverConfig{}), b, password)
}

func unwrap(ctx context.Context, obs *metrics.Observer, b *Blob, password []byte) (_ *keygen.KeyMaterial, _ Metadata, err error) {
	const op = "keystore.Unwrap"

	if b == nil {
		return nil, Metadata{}, qerrors.Invalid(op, "nil blob")
	}
	_, done := obs.OnUnwrap(ctx, metrics.SpanAttributes{Bytes: len(b.Keystream), Encrypted: b.Encrypted})
	defer func() { done(err) }()

	if err := Verify(b); err != nil {
		return nil, Metadata{}, err
	}

	ks := append(keygen.Keystream{}, b.Keystream...)
	if b.Encrypted {
		if len(password) == 0 {
			return nil, Metadata{}, qerrors.NewCryptoError(op, qerrors.ErrMissingCredential)
		}
		if len(b.Salt) == 0 {
			return nil, Metadata{}, qerrors.Malformed(op, "encrypted blob has no salt")
		}
		kdf := b.KDF
		if kdf.Iterations == 0 {
			kdf = DefaultKDFParams()
		}
		if kdf.KeyLen != constants.KDFKeySize || kdf.Iterations > 1<<31 {
			return nil, Metadata{}, qerrors.Malformed(op, "unsupported KDF parameters %d/%d", kdf.Iterations, kdf.KeyLen)
		}
		key, _, err := deriveKey(ctx, obs, password, b.Salt, int(kdf.Iterations))
		if err != nil {
			return nil, Metadata{}, err
		}
		opened, err := sealKeystream(ks, key)
		crypto.Zeroize(key)
		if err != nil {
			return nil, Metadata{}, err
		}
		ks = opened
	}

	purity, err := keygen.ParsePurity(b.Purity)
	if err != nil {
		return nil, Metadata{}, qerrors.Malformed(op, "unknown purity %q", b.Purity)
	}
	km := &keygen.KeyMaterial{
		Keystream:   ks,
		Permutation: append(keygen.Permutation(nil), b.Permutation...),
		Purity:      purity,
	}
	if err := km.Validate(); err != nil {
		return nil, Metadata{}, qerrors.Malformed(op, "invalid key material: %v", err)
	}
	if b.Shape.Len() != km.Len() {
		return nil, Metadata{}, qerrors.Malformed(op, "shape %s does not match key length %d", b.Shape, km.Len())
	}

	return km, Metadata{
		Shape:     b.Shape,
		Mode:      b.Mode,
		Purity:    purity,
		Version:   b.Version,
		Encrypted: b.Encrypted,
	}, nil
}

// Wrapper wraps and unwraps blobs under a fixed password.
// The zero password produces unencrypted blobs.
type Wrapper struct {
	password []byte
	kdf      KDFParams
	observer *metrics.Observer
}

// WrapperOption configures a Wrapper.
type WrapperOption func(*Wrapper)

// WithIterations overrides the PBKDF2 iteration count for new blobs.
func WithIterations(n int) WrapperOption {
	return func(w *Wrapper) {
		if n > 0 {
			w.kdf.Iterations = uint64(n)
		}
	}
}

// WithObserver routes metrics, spans and logs through o.
func WithObserver(o *metrics.Observer) WrapperOption {
	return func(w *Wrapper) {
		w.observer = o
	}
}

// NewWrapper returns a Wrapper bound to password, which is copied.
func NewWrapper(password []byte, opts ...WrapperOption) *Wrapper {
	w := &Wrapper{
		password: append([]byte(nil), password...),
		kdf:      DefaultKDFParams(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.observer == nil {
		w.observer = metrics.NewObserver(metrics.ObserverConfig{})
	}
	return w
}

// Encrypts reports whether blobs from this wrapper are password-encrypted.
func (w *Wrapper) Encrypts() bool {
	return len(w.password) > 0
}

// Wrap seals km with a freshly salted key derived from the wrapper's password.
func (w *Wrapper) Wrap(ctx context.Context, km *keygen.KeyMaterial, meta Metadata) (*Blob, error) {
	if !w.Encrypts() {
		return wrap(ctx, w.observer, km, meta, nil, nil, KDFParams{})
	}
	key, salt, err := deriveKey(ctx, w.observer, w.password, nil, int(w.kdf.Iterations))
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(key)
	return wrap(ctx, w.observer, km, meta, key, salt, w.kdf)
}

// Unwrap verifies and opens b with the wrapper's password.
func (w *Wrapper) Unwrap(ctx context.Context, b *Blob) (*keygen.KeyMaterial, Metadata, error) {
	return unwrap(ctx, w.observer, b, w.password)
}

// Close wipes the stored password.
func (w *Wrapper) Close() {
	crypto.Zeroize(w.password)
	w.password = nil
}
