package keystore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
)

// Store persists serialized key blobs by ID. Implementations are safe for
// concurrent use and write each blob all-or-nothing.
type Store interface {
	// Put stores b under id and returns the ID used. An empty id is
	// replaced by a random UUID.
	Put(ctx context.Context, id string, b *Blob) (string, error)

	// Get returns the blob stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Blob, error)

	// Delete removes the blob stored under id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns all stored IDs in lexical order.
	List(ctx context.Context) ([]string, error)

	// Close releases the store's resources.
	Close() error
}

// NewID returns a fresh random blob ID.
func NewID() string {
	return uuid.NewString()
}

// validateID rejects IDs that could escape a store's namespace.
func validateID(id string) error {
	if id == "" || len(id) > 128 || strings.HasPrefix(id, ".") {
		return qerrors.Invalid("keystore", "invalid blob id %q", id)
	}
	for _, r := range id {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			r == '-' || r == '_' || r == '.'
		if !ok {
			return qerrors.Invalid("keystore", "invalid blob id %q", id)
		}
	}
	return nil
}

// blobExt is the file extension used by FileStore.
const blobExt = ".qskb"

// FileStore keeps one file per blob in a directory.
type FileStore struct {
	dir      string
	observer *metrics.Observer
}

// StoreOption configures a store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	observer *metrics.Observer
}

// WithStoreObserver routes store spans and logs through o.
func WithStoreObserver(o *metrics.Observer) StoreOption {
	return func(so *storeOptions) {
		so.observer = o
	}
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	var so storeOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.observer == nil {
		so.observer = metrics.NewObserver(metrics.ObserverConfig{})
	}
	return so
}

// NewFileStore opens, creating if needed, a file store rooted at dir.
func NewFileStore(dir string, opts ...StoreOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, qerrors.NewStorageError(dir, err)
	}
	so := applyStoreOptions(opts)
	return &FileStore{dir: dir, observer: so.observer}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+blobExt)
}

// Put writes b to a temporary file, syncs it and renames it into place, so
// readers see either the previous blob or the complete new one.
func (s *FileStore) Put(ctx context.Context, id string, b *Blob) (_ string, err error) {
	if id == "" {
		id = NewID()
	}
	if err := validateID(id); err != nil {
		return "", err
	}
	_, done := s.observer.OnStore(ctx, metrics.SpanStorePut, id)
	defer func() { done(err) }()

	data, err := Marshal(b)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+id+"-*")
	if err != nil {
		return "", qerrors.NewStorageError(s.dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", qerrors.NewStorageError(tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", qerrors.NewStorageError(tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return "", qerrors.NewStorageError(tmpName, err)
	}
	if err = os.Rename(tmpName, s.path(id)); err != nil {
		return "", qerrors.NewStorageError(s.path(id), err)
	}
	return id, nil
}

// Get reads and decodes the blob stored under id.
func (s *FileStore) Get(ctx context.Context, id string) (_ *Blob, err error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	_, done := s.observer.OnStore(ctx, metrics.SpanStoreGet, id)
	defer func() { done(err) }()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, qerrors.NewStorageError(id, qerrors.ErrNotFound)
	}
	if err != nil {
		return nil, qerrors.NewStorageError(s.path(id), err)
	}
	return Unmarshal(data)
}

// Delete removes the blob stored under id.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return qerrors.NewStorageError(id, qerrors.ErrNotFound)
	}
	if err != nil {
		return qerrors.NewStorageError(s.path(id), err)
	}
	return nil
}

// List returns the IDs of all stored blobs.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, qerrors.NewStorageError(s.dir, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, blobExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, blobExt))
	}
	slices.Sort(ids)
	return ids, nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

// ReadFile decodes a blob from a standalone key file.
func ReadFile(path string) (*Blob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, qerrors.NewStorageError(path, err)
	}
	if info.Size() > constants.MaxBlobSize {
		return nil, qerrors.NewStorageError(path, qerrors.Malformed("keystore.ReadFile", "file of %d bytes exceeds limit", info.Size()))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.NewStorageError(path, err)
	}
	return Unmarshal(data)
}

// WriteFile encodes b to a standalone key file, atomically replacing any
// existing file.
func WriteFile(path string, b *Blob) error {
	data, err := Marshal(b)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return qerrors.NewStorageError(dir, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, path)
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return qerrors.NewStorageError(path, werr)
	}
	return nil
}
