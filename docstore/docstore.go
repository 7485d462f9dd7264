// Package docstore provides a keyed document store with optimistic
// transactions. A transaction body is re-executed when a concurrent
// write invalidates any document it read, up to a bounded number of
// attempts. All writes of a body become visible atomically on commit.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNoDocument          = errors.New("document not found")
	ErrConflict            = errors.New("transaction conflict")
	ErrTxnRetriesExhausted = errors.New("transaction retries exhausted")
)

// maxTxnAttempts bounds re-execution under perpetual conflict.
const maxTxnAttempts = 5

// Tx is the view a transaction body has of the store. Reads observe a
// snapshot taken when the transaction began plus the body's own writes.
type Tx interface {
	// Get unmarshals the document at (collection, key) into out.
	// Returns ErrNoDocument if it does not exist.
	Get(collection, key string, out any) error

	// Set stages a write of doc at (collection, key).
	Set(collection, key string, doc any) error

	// Query returns up to limit documents in collection whose named
	// top-level string field equals value.
	Query(collection, field, value string, limit int) ([]json.RawMessage, error)
}

// Store is a document store honoring the optimistic-transaction contract.
type Store interface {
	// RunTransaction executes fn atomically. On write conflict the body
	// is re-executed from scratch; a non-conflict error returned by fn
	// aborts immediately, discarding all staged writes. Exhausted
	// retries surface ErrTxnRetriesExhausted.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Create writes a single document outside of any caller transaction.
	Create(ctx context.Context, collection, key string, doc any) error

	Close() error
}
