package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerConfig configures a BadgerBackend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *zap.Logger
}

// maxDirectKeySize keeps stored keys under badger's 65000 byte key limit.
const maxDirectKeySize = 60000

// hashedKeyPrefix marks entries addressed by a digest of their key. Canonical
// keys are JSON objects and never start with it.
const hashedKeyPrefix = "sha256:"

// BadgerBackend stores values in an embedded badger database. Keys up to
// maxDirectKeySize are stored as they are. Longer keys are stored under their
// SHA-256 digest, with the full key kept next to the value and compared on
// every read, so a digest collision reads as a miss.
type BadgerBackend struct {
	db *badger.DB
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// OpenBadger opens (creating if needed) a badger database.
func OpenBadger(cfg BadgerConfig) (*BadgerBackend, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: badger path is required", ErrInvalidBackend)
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	stored, hashed := storageKey(key)
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stored)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapBadgerErr(err)
	}
	if hashed {
		return openEnvelope(key, value)
	}
	return value, true, nil
}

func (b *BadgerBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, hashed := storageKey(key)
	if hashed {
		value = sealEnvelope(key, value)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(stored)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(stored, value)
	})
	// Two writers racing on the same key conflict; the loser's value is
	// identical by construction, so the conflict is a successful no-op.
	if errors.Is(err, badger.ErrConflict) {
		return nil
	}
	return mapBadgerErr(err)
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func mapBadgerErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// storageKey returns the badger key for key and whether it is a digest.
func storageKey(key string) ([]byte, bool) {
	if len(key) <= maxDirectKeySize {
		return []byte(key), false
	}
	sum := sha256.Sum256([]byte(key))
	return []byte(hashedKeyPrefix + hex.EncodeToString(sum[:])), true
}

// sealEnvelope prefixes value with the length-prefixed full key.
func sealEnvelope(key string, value []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(key)+len(value))
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	return append(buf, value...)
}

// openEnvelope returns the value sealed under key. An entry sealed under a
// different key is a miss.
func openEnvelope(key string, envelope []byte) ([]byte, bool, error) {
	n, w := binary.Uvarint(envelope)
	if w <= 0 || uint64(len(envelope)-w) < n {
		return nil, false, fmt.Errorf("%w: corrupt badger entry", ErrSerialization)
	}
	stored := envelope[w : w+int(n)]
	if !bytes.Equal(stored, []byte(key)) {
		return nil, false, nil
	}
	return envelope[w+int(n):], true, nil
}
