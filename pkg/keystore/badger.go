package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/metrics"
)

// blobKeyPrefix namespaces blob records inside the database.
const blobKeyPrefix = "blob:"

// BadgerStore keeps blobs in an embedded badger database. Each Put is a
// single serializable transaction.
type BadgerStore struct {
	db       *badger.DB
	path     string
	observer *metrics.Observer
}

// OpenBadgerStore opens, creating if needed, a badger store at dir.
func OpenBadgerStore(dir string, opts ...StoreOption) (*BadgerStore, error) {
	so := applyStoreOptions(opts)

	bopts := badger.DefaultOptions(dir)
	bopts.Logger = badgerLogger{so.observer.Logger().Named("badger")}
	bopts.SyncWrites = true

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, qerrors.NewStorageError(dir, err)
	}
	return &BadgerStore{db: db, path: dir, observer: so.observer}, nil
}

func blobKey(id string) []byte {
	return []byte(blobKeyPrefix + id)
}

// Put stores b under id in one transaction.
func (s *BadgerStore) Put(ctx context.Context, id string, b *Blob) (_ string, err error) {
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
	if err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(id), data)
	}); err != nil {
		return "", qerrors.NewStorageError(s.path, err)
	}
	return id, nil
}

// Get reads and decodes the blob stored under id.
func (s *BadgerStore) Get(ctx context.Context, id string) (_ *Blob, err error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	_, done := s.observer.OnStore(ctx, metrics.SpanStoreGet, id)
	defer func() { done(err) }()

	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, qerrors.NewStorageError(id, qerrors.ErrNotFound)
	}
	if err != nil {
		return nil, qerrors.NewStorageError(s.path, err)
	}
	return Unmarshal(data)
}

// Delete removes the blob stored under id.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(blobKey(id)); err != nil {
			return err
		}
		return txn.Delete(blobKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return qerrors.NewStorageError(id, qerrors.ErrNotFound)
	}
	if err != nil {
		return qerrors.NewStorageError(s.path, err)
	}
	return nil
}

// List returns the IDs of all stored blobs in key order.
func (s *BadgerStore) List(_ context.Context) ([]string, error) {
	var ids []string
	prefix := []byte(blobKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), blobKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, qerrors.NewStorageError(s.path, err)
	}
	return ids, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts a metrics.Logger to badger's logging interface.
// Badger's info chatter is demoted to debug.
type badgerLogger struct {
	l *metrics.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*BadgerStore)(nil)
)
