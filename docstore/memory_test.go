package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Count int    `json:"count"`
}

func TestMemory_GetSetRoundtrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(tx Tx) error {
		return tx.Set("docs", "a", testDoc{ID: "a", Owner: "u1", Count: 3})
	})
	require.NoError(t, err)

	var got testDoc
	err = s.RunTransaction(ctx, func(tx Tx) error {
		return tx.Get("docs", "a", &got)
	})
	require.NoError(t, err)
	assert.Equal(t, testDoc{ID: "a", Owner: "u1", Count: 3}, got)
}

func TestMemory_GetMissing(t *testing.T) {
	s := NewMemory()

	var got testDoc
	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		return tx.Get("docs", "nope", &got)
	})
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestMemory_QueryByField(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "docs", "a", testDoc{ID: "a", Owner: "u1"}))
	require.NoError(t, s.Create(ctx, "docs", "b", testDoc{ID: "b", Owner: "u2"}))
	require.NoError(t, s.Create(ctx, "docs", "c", testDoc{ID: "c", Owner: "u1"}))
	require.NoError(t, s.Create(ctx, "other", "d", testDoc{ID: "d", Owner: "u1"}))

	err := s.RunTransaction(ctx, func(tx Tx) error {
		all, err := tx.Query("docs", "owner", "u1", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		limited, err := tx.Query("docs", "owner", "u1", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		none, err := tx.Query("docs", "owner", "u9", 0)
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_QuerySeesOwnWrites(t *testing.T) {
	s := NewMemory()

	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		if err := tx.Set("docs", "a", testDoc{ID: "a", Owner: "u1"}); err != nil {
			return err
		}
		found, err := tx.Query("docs", "owner", "u1", 0)
		require.NoError(t, err)
		assert.Len(t, found, 1)
		return nil
	})
	require.NoError(t, err)
}

// TestMemory_ConflictRetry forces a conflicting write between a body's
// read and its commit: the body must re-execute and converge on the
// interfering write's state.
func TestMemory_ConflictRetry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "docs", "a", testDoc{ID: "a", Count: 0}))

	attempts := 0
	err := s.RunTransaction(ctx, func(tx Tx) error {
		attempts++
		var doc testDoc
		if err := tx.Get("docs", "a", &doc); err != nil {
			return err
		}
		if attempts == 1 {
			// Interfering write lands after the read, before commit.
			require.NoError(t, s.Create(ctx, "docs", "a", testDoc{ID: "a", Count: 100}))
		}
		doc.Count++
		return tx.Set("docs", "a", doc)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts, "body must re-execute once after the conflict")

	var final testDoc
	err = s.RunTransaction(ctx, func(tx Tx) error {
		return tx.Get("docs", "a", &final)
	})
	require.NoError(t, err)
	assert.Equal(t, 101, final.Count, "retry must build on the interfering write")
}

// TestMemory_BodyErrorAborts checks that a body error discards staged
// writes without retrying.
func TestMemory_BodyErrorAborts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	attempts := 0
	err := s.RunTransaction(ctx, func(tx Tx) error {
		attempts++
		if err := tx.Set("docs", "a", testDoc{ID: "a"}); err != nil {
			return err
		}
		return ErrNoDocument
	})
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.Equal(t, 1, attempts)

	var got testDoc
	err = s.RunTransaction(ctx, func(tx Tx) error {
		return tx.Get("docs", "a", &got)
	})
	assert.ErrorIs(t, err, ErrNoDocument, "staged write must not have committed")
}

func TestMemory_RetriesExhausted(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "docs", "a", testDoc{ID: "a"}))

	attempts := 0
	err := s.RunTransaction(ctx, func(tx Tx) error {
		attempts++
		var doc testDoc
		if err := tx.Get("docs", "a", &doc); err != nil {
			return err
		}
		// Every attempt collides with a fresh committed write.
		require.NoError(t, s.Create(ctx, "docs", "a", testDoc{ID: "a", Count: attempts}))
		return tx.Set("docs", "a", doc)
	})
	assert.ErrorIs(t, err, ErrTxnRetriesExhausted)
	assert.Equal(t, 5, attempts)
}
