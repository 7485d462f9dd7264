package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by an embedded BadgerDB. Badger's serializable
// snapshot isolation supplies the conflict detection the Store contract
// requires: a read-write transaction fails its commit with ErrConflict
// when another transaction wrote a key it read.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens the database at path. An empty path selects in-memory
// mode, which keeps no state across restarts and is intended for tests
// and local development.
func OpenBadger(path string, logger *slog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &Badger{db: db}, nil
}

func docKey(collection, key string) []byte {
	return []byte(collection + "/" + key)
}

type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) Get(collection, key string, out any) error {
	item, err := t.txn.Get(docKey(collection, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNoDocument
	}
	if err != nil {
		return err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (t *badgerTx) Set(collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return t.txn.Set(docKey(collection, key), raw)
}

func (t *badgerTx) Query(collection, field, value string, limit int) ([]json.RawMessage, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(collection + "/")

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []json.RawMessage
	for it.Rewind(); it.Valid(); it.Next() {
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		if fieldEquals(raw, field, value) {
			out = append(out, json.RawMessage(raw))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Badger) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn := s.db.NewTransaction(true)
		if err := fn(&badgerTx{txn: txn}); err != nil {
			txn.Discard()
			return err
		}
		err := txn.Commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return ErrTxnRetriesExhausted
}

func (s *Badger) Create(ctx context.Context, collection, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(collection, key), raw)
	})
}

func (s *Badger) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
