package keystore_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/keystore"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
	"github.com/pzverkov/quantum-shield/pkg/qrand"
)

// testIterations keeps PBKDF2 cheap in tests that do not exercise the default.
const testIterations = 1000

func testMaterial(t *testing.T, h, w int, mode pixel.Mode, purity keygen.Purity) (*keygen.KeyMaterial, keystore.Metadata) {
	t.Helper()
	src, err := qrand.New(qrand.WithSeed([]byte(t.Name())), qrand.WithLogger(metrics.NullLogger()),
		qrand.WithCollector(metrics.NewCollector(nil)))
	require.NoError(t, err)
	g, err := keygen.NewGenerator(src, keygen.WithObserver(testObserver(metrics.NewCollector(nil))))
	require.NoError(t, err)

	shape := pixel.Shape{Height: h, Width: w, Channels: mode.Channels()}
	km, err := g.Generate(shape.Len(), purity)
	require.NoError(t, err)
	return km, keystore.Metadata{Shape: shape, Mode: mode, Purity: purity}
}

func testObserver(c *metrics.Collector) *metrics.Observer {
	return metrics.NewObserver(metrics.ObserverConfig{Collector: c, Tracer: metrics.NoOpTracer{}, Logger: metrics.NullLogger()})
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x5a}, 32)

	k1, s1, err := keystore.DeriveKey([]byte("password123"), salt, 100000)
	require.NoError(t, err)
	k2, _, err := keystore.DeriveKey([]byte("password123"), salt, 100000)
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.Equal(t, salt, s1)

	otherPassword, _, err := keystore.DeriveKey([]byte("password124"), salt, 100000)
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherPassword)

	otherSalt, _, err := keystore.DeriveKey([]byte("password123"), bytes.Repeat([]byte{0x5b}, 32), 100000)
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherSalt)

	otherIterations, _, err := keystore.DeriveKey([]byte("password123"), salt, 100001)
	require.NoError(t, err)
	assert.NotEqual(t, k1, otherIterations)
}

func TestDeriveKeyRandomSalt(t *testing.T) {
	k1, s1, err := keystore.DeriveKey([]byte("pw"), nil, testIterations)
	require.NoError(t, err)
	k2, s2, err := keystore.DeriveKey([]byte("pw"), nil, testIterations)
	require.NoError(t, err)

	assert.Len(t, s1, 32)
	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, k1, k2)
}

func TestDeriveKeyInvalid(t *testing.T) {
	_, _, err := keystore.DeriveKey(nil, nil, testIterations)
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameter)

	_, _, err = keystore.DeriveKey([]byte("pw"), nil, 0)
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameter)
}

func TestWrapUnwrapPlain(t *testing.T) {
	km, meta := testMaterial(t, 4, 5, pixel.ModeRGB, keygen.PurityBalanced)

	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)
	assert.False(t, blob.Encrypted)
	assert.Equal(t, "2.0", blob.Version)
	assert.Equal(t, "balanced", blob.Purity)
	assert.Equal(t, []byte(km.Keystream), blob.Keystream)
	assert.Len(t, blob.HMACKey, 32)
	assert.Len(t, blob.IntegrityTag, 32)
	assert.Len(t, blob.ContentHash, 32)
	assert.Nil(t, blob.Salt)

	got, gotMeta, err := keystore.Unwrap(blob, nil)
	require.NoError(t, err)
	assert.Equal(t, km.Keystream, got.Keystream)
	assert.Equal(t, km.Permutation, got.Permutation)
	assert.Equal(t, km.Purity, got.Purity)
	assert.Equal(t, meta.Shape, gotMeta.Shape)
	assert.Equal(t, meta.Mode, gotMeta.Mode)
	assert.False(t, gotMeta.Encrypted)
}

func TestWrapUnwrapEncrypted(t *testing.T) {
	km, meta := testMaterial(t, 8, 8, pixel.ModeRGBA, keygen.PurityMaximum)
	w := keystore.NewWrapper([]byte("Secret123"), keystore.WithIterations(testIterations))
	defer w.Close()

	blob, err := w.Wrap(context.Background(), km, meta)
	require.NoError(t, err)
	assert.True(t, blob.Encrypted)
	assert.Len(t, blob.Salt, 32)
	assert.Equal(t, keystore.KDFParams{Iterations: testIterations, KeyLen: 32}, blob.KDF)
	assert.NotEqual(t, []byte(km.Keystream), blob.Keystream)

	got, gotMeta, err := keystore.Unwrap(blob, []byte("Secret123"))
	require.NoError(t, err)
	assert.Equal(t, km.Keystream, got.Keystream)
	assert.True(t, gotMeta.Encrypted)

	got, _, err = w.Unwrap(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, km.Keystream, got.Keystream)
}

func TestUnwrapWrongPassword(t *testing.T) {
	km, meta := testMaterial(t, 3, 3, pixel.ModeL, keygen.PurityFast)
	blob, err := keystore.NewWrapper([]byte("Secret123"), keystore.WithIterations(testIterations)).
		Wrap(context.Background(), km, meta)
	require.NoError(t, err)

	// The tag covers the stored keystream, so a wrong password still
	// verifies and yields different key material.
	got, _, err := keystore.Unwrap(blob, []byte("Wrong1234"))
	require.NoError(t, err)
	assert.NotEqual(t, km.Keystream, got.Keystream)
}

func TestUnwrapMissingCredential(t *testing.T) {
	km, meta := testMaterial(t, 3, 3, pixel.ModeL, keygen.PurityFast)
	blob, err := keystore.NewWrapper([]byte("Secret123"), keystore.WithIterations(testIterations)).
		Wrap(context.Background(), km, meta)
	require.NoError(t, err)

	collector := metrics.NewCollector(nil)
	_, _, err = keystore.NewWrapper(nil, keystore.WithObserver(testObserver(collector))).Unwrap(context.Background(), blob)
	assert.ErrorIs(t, err, qerrors.ErrMissingCredential)
	assert.Equal(t, uint64(1), collector.Snapshot().CredentialFailures)
}

func TestUnwrapMissingSalt(t *testing.T) {
	km, meta := testMaterial(t, 3, 3, pixel.ModeL, keygen.PurityFast)
	blob, err := keystore.NewWrapper([]byte("Secret123"), keystore.WithIterations(testIterations)).
		Wrap(context.Background(), km, meta)
	require.NoError(t, err)

	blob.Salt = nil
	_, _, err = keystore.Unwrap(blob, []byte("Secret123"))
	assert.ErrorIs(t, err, qerrors.ErrSerialization)
}

func TestIntegrityEveryByte(t *testing.T) {
	km, meta := testMaterial(t, 2, 3, pixel.ModeL, keygen.PurityBalanced)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)
	require.NoError(t, keystore.Verify(blob))

	for i := range blob.Keystream {
		tampered := *blob
		tampered.Keystream = bytes.Clone(blob.Keystream)
		tampered.Keystream[i] ^= 0x01
		_, _, err := keystore.Unwrap(&tampered, nil)
		assert.ErrorIs(t, err, qerrors.ErrIntegrityViolation, "keystream byte %d", i)
	}

	for i := range blob.Permutation {
		for _, flip := range []uint32{0x01, 0x100} {
			tampered := *blob
			tampered.Permutation = append(keygen.Permutation(nil), blob.Permutation...)
			tampered.Permutation[i] ^= flip
			_, _, err := keystore.Unwrap(&tampered, nil)
			assert.ErrorIs(t, err, qerrors.ErrIntegrityViolation, "permutation %d flip %#x", i, flip)
		}
	}

	tampered := *blob
	tampered.IntegrityTag = bytes.Clone(blob.IntegrityTag)
	tampered.IntegrityTag[0] ^= 0xff
	assert.ErrorIs(t, keystore.Verify(&tampered), qerrors.ErrIntegrityViolation)
}

func TestIntegrityFailureCounted(t *testing.T) {
	km, meta := testMaterial(t, 2, 2, pixel.ModeL, keygen.PurityFast)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)
	blob.Keystream[0] ^= 0x80

	collector := metrics.NewCollector(nil)
	w := keystore.NewWrapper(nil, keystore.WithObserver(testObserver(collector)))
	_, _, err = w.Unwrap(context.Background(), blob)
	assert.ErrorIs(t, err, qerrors.ErrIntegrityViolation)

	snap := collector.Snapshot()
	assert.Equal(t, uint64(1), snap.IntegrityFailures)
	assert.Zero(t, snap.BlobsUnwrapped)
}

func TestVerifyIdempotent(t *testing.T) {
	km, meta := testMaterial(t, 2, 2, pixel.ModeLA, keygen.PurityFast)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)

	before, err := keystore.Marshal(blob)
	require.NoError(t, err)
	for range 3 {
		require.NoError(t, keystore.Verify(blob))
	}
	after, err := keystore.Marshal(blob)
	require.NoError(t, err)

	beforeBlob, err := keystore.Unmarshal(before)
	require.NoError(t, err)
	afterBlob, err := keystore.Unmarshal(after)
	require.NoError(t, err)
	assert.Equal(t, beforeBlob, afterBlob)
}

func TestVerifyMissingTag(t *testing.T) {
	assert.ErrorIs(t, keystore.Verify(&keystore.Blob{}), qerrors.ErrSerialization)
	assert.ErrorIs(t, keystore.Verify(nil), qerrors.ErrInvalidParameter)
}

func TestUnwrapUnknownPurity(t *testing.T) {
	km, meta := testMaterial(t, 2, 2, pixel.ModeL, keygen.PurityFast)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)

	// The purity label is not covered by the tag.
	blob.Purity = "unknown"
	_, _, err = keystore.Unwrap(blob, nil)
	assert.ErrorIs(t, err, qerrors.ErrSerialization)
}

func TestWrapRejectsBadInput(t *testing.T) {
	km, meta := testMaterial(t, 2, 2, pixel.ModeL, keygen.PurityFast)

	_, err := keystore.Wrap(nil, meta, nil, nil)
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameter)

	_, err = keystore.Wrap(km, meta, []byte("key"), nil)
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameter)

	badMeta := meta
	badMeta.Shape.Width = 3
	_, err = keystore.Wrap(km, badMeta, nil, nil)
	assert.ErrorIs(t, err, qerrors.ErrInvalidParameter)

	short := &keygen.KeyMaterial{Keystream: km.Keystream[:2], Permutation: km.Permutation, Purity: km.Purity}
	_, err = keystore.Wrap(short, meta, nil, nil)
	assert.ErrorIs(t, err, qerrors.ErrKeyLengthMismatch)
}

func TestWrapCountsMetrics(t *testing.T) {
	km, meta := testMaterial(t, 2, 2, pixel.ModeL, keygen.PurityFast)
	collector := metrics.NewCollector(nil)
	w := keystore.NewWrapper([]byte("Secret123"), keystore.WithIterations(testIterations),
		keystore.WithObserver(testObserver(collector)))

	blob, err := w.Wrap(context.Background(), km, meta)
	require.NoError(t, err)
	_, _, err = w.Unwrap(context.Background(), blob)
	require.NoError(t, err)

	snap := collector.Snapshot()
	assert.Equal(t, uint64(1), snap.BlobsWrapped)
	assert.Equal(t, uint64(1), snap.BlobsUnwrapped)
	assert.Equal(t, uint64(2), snap.KDFLatency.Count)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Secret123", true},
		{"Abcdefg1", true},
		{"Short1A", false},
		{"alllower123", false},
		{"ALLUPPER123", false},
		{"NoDigitsHere", false},
		{"", false},
	}
	for _, tt := range tests {
		err := keystore.ValidatePassword(tt.password)
		if tt.ok {
			assert.NoError(t, err, tt.password)
		} else {
			assert.ErrorIs(t, err, qerrors.ErrInvalidParameter, tt.password)
		}
	}
}
