package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

const (
	objectPrefix  = "obj/"
	bindingPrefix = "idx/"

	// maxConflictRetries bounds retries of a transaction that lost a
	// write-write race. The retry re-reads and applies the collision rule.
	maxConflictRetries = 3
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// BadgerStore implements Store on an embedded BadgerDB.
//
// Objects live under "obj/{key}", bindings under "idx/{sha256(name,id)}".
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (or creates) a BadgerStore.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Put(key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.putIfAbsent([]byte(objectPrefix+key), data, func(existing []byte) error {
		return checkSameContent(key, existing, data)
	})
}

func (b *BadgerStore) Get(key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return b.read([]byte(objectPrefix + key))
}

func (b *BadgerStore) Has(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(objectPrefix + key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking object %s: %w", key, err)
	}
	return true, nil
}

func (b *BadgerStore) Bind(name, id, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.putIfAbsent(bindingDBKey(name, id), []byte(key), func(existing []byte) error {
		return checkSameBinding(name, id, string(existing), key)
	})
}

func (b *BadgerStore) Lookup(name, id string) (string, error) {
	data, err := b.read(bindingDBKey(name, id))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) read(dbKey []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dbKey, err)
	}
	return out, nil
}

// putIfAbsent writes value at dbKey unless it exists, in which case onExisting
// decides whether the existing value is acceptable.
func (b *BadgerStore) putIfAbsent(dbKey, value []byte, onExisting func([]byte) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(dbKey)
			switch {
			case err == nil:
				existing, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				return onExisting(existing)
			case errors.Is(err, badger.ErrKeyNotFound):
				return txn.Set(dbKey, value)
			default:
				return err
			}
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("writing %s: %w", dbKey, err)
}

func bindingDBKey(name, id string) []byte {
	return []byte(bindingPrefix + bindingHash(name, id))
}
