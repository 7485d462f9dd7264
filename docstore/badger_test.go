package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T) *Badger {
	t.Helper()
	s, err := OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadger_GetSetRoundtrip(t *testing.T) {
	s := openTestBadger(t)
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

func TestBadger_GetMissing(t *testing.T) {
	s := openTestBadger(t)

	var got testDoc
	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		return tx.Get("docs", "nope", &got)
	})
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestBadger_QueryByField(t *testing.T) {
	s := openTestBadger(t)
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
		return nil
	})
	require.NoError(t, err)
}

// TestBadger_ConflictRetry exercises badger's conflict detection: a
// committed write to a key the body already read must force the body to
// re-execute against the new state.
func TestBadger_ConflictRetry(t *testing.T) {
	s := openTestBadger(t)
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
			require.NoError(t, s.Create(ctx, "docs", "a", testDoc{ID: "a", Count: 100}))
		}
		doc.Count++
		return tx.Set("docs", "a", doc)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var final testDoc
	err = s.RunTransaction(ctx, func(tx Tx) error {
		return tx.Get("docs", "a", &final)
	})
	require.NoError(t, err)
	assert.Equal(t, 101, final.Count)
}
