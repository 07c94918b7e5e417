package keystore_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/keystore"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
)

func openStores(t *testing.T) map[string]keystore.Store {
	t.Helper()
	opt := keystore.WithStoreObserver(testObserver(metrics.NewCollector(nil)))

	fs, err := keystore.NewFileStore(filepath.Join(t.TempDir(), "blobs"), opt)
	require.NoError(t, err)
	bs, err := keystore.OpenBadgerStore(filepath.Join(t.TempDir(), "badger"), opt)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = fs.Close()
		_ = bs.Close()
	})
	return map[string]keystore.Store{"file": fs, "badger": bs}
}

func TestStorePutGet(t *testing.T) {
	km, meta := testMaterial(t, 3, 4, pixel.ModeRGB, keygen.PurityBalanced)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := s.Put(ctx, "", blob)
			require.NoError(t, err)
			_, err = uuid.Parse(id)
			assert.NoError(t, err, "generated id should be a UUID")

			got, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, blob, got)

			gotKM, _, err := keystore.Unwrap(got, nil)
			require.NoError(t, err)
			assert.Equal(t, km.Keystream, gotKM.Keystream)

			named, err := s.Put(ctx, "holiday-photo", blob)
			require.NoError(t, err)
			assert.Equal(t, "holiday-photo", named)

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{id, "holiday-photo"}, ids)

			require.NoError(t, s.Delete(ctx, id))
			_, err = s.Get(ctx, id)
			assert.ErrorIs(t, err, qerrors.ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, id), qerrors.ErrNotFound)
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	km1, meta := testMaterial(t, 2, 2, pixel.ModeL, keygen.PurityFast)
	b1, err := keystore.Wrap(km1, meta, nil, nil)
	require.NoError(t, err)
	b2, err := keystore.Wrap(km1, meta, nil, nil)
	require.NoError(t, err)

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Put(ctx, "k", b1)
			require.NoError(t, err)
			_, err = s.Put(ctx, "k", b2)
			require.NoError(t, err)

			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, b2.HMACKey, got.HMACKey)
		})
	}
}

func TestStoreRejectsBadID(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "../escape")
			assert.ErrorIs(t, err, qerrors.ErrInvalidParameter)
			_, err = s.Put(context.Background(), "a/b", &keystore.Blob{})
			assert.ErrorIs(t, err, qerrors.ErrInvalidParameter)
		})
	}
}

func TestStoreConcurrentPut(t *testing.T) {
	km, meta := testMaterial(t, 2, 2, pixel.ModeL, keygen.PurityFast)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Put(context.Background(), "", blob)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			ids, err := s.List(context.Background())
			require.NoError(t, err)
			assert.Len(t, ids, 16)
		})
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := keystore.NewFileStore(dir)
	require.NoError(t, err)

	km, meta := testMaterial(t, 2, 2, pixel.ModeL, keygen.PurityFast)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "one", blob)
	require.NoError(t, err)

	// A blob that cannot be encoded leaves nothing behind.
	_, err = s.Put(context.Background(), "two", nil)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "one.qskb", entries[0].Name())
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := keystore.NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.qskb"), []byte("QSKBnot lzma"), 0o600))
	_, err = s.Get(context.Background(), "bad")
	assert.ErrorIs(t, err, qerrors.ErrSerialization)
}

func TestReadWriteFile(t *testing.T) {
	km, meta := testMaterial(t, 5, 5, pixel.ModeLA, keygen.PurityMaximum)
	blob, err := keystore.Wrap(km, meta, nil, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "image.key")
	require.NoError(t, keystore.WriteFile(path, blob))

	got, err := keystore.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	_, err = keystore.ReadFile(filepath.Join(t.TempDir(), "missing.key"))
	assert.Error(t, err)
}
