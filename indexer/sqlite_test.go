package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradesee/native/escrow"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	return store
}

func TestEmitAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	contractA := [20]byte{0x0A}
	contractB := [20]byte{0x0B}

	store.Emit(escrow.PayinDeposited{Contract: contractA, Buyer: [20]byte{1}, Amount: 100})
	store.Emit(escrow.PayinDeposited{Contract: contractB, Buyer: [20]byte{1}, Amount: 200})
	store.Emit(escrow.PayoutReleased{Contract: contractA, Seller: [20]byte{2}, Amount: 100})
	store.Emit(escrow.TrustScoreAnchored{Authority: [20]byte{1}, Counterparty: [20]byte{2}, Score: 850})

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, escrow.EventTypePayinDeposited, all[0].Type)
	require.Equal(t, "100", all[0].Attributes["amount"])
	require.Empty(t, all[3].Contract)
	require.True(t, all[0].Sequence < all[1].Sequence)

	byContract, err := store.List(ctx, Filter{Contract: escrow.PayinDeposited{Contract: contractA}.Event().Attr("contract")})
	require.NoError(t, err)
	require.Len(t, byContract, 2)
	require.Equal(t, escrow.EventTypePayoutReleased, byContract[1].Type)

	byType, err := store.List(ctx, Filter{Type: escrow.EventTypePayinDeposited})
	require.NoError(t, err)
	require.Len(t, byType, 2)

	page, err := store.List(ctx, Filter{After: all[1].Sequence, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, all[2].Sequence, page[0].Sequence)
}

func TestNewSQLiteStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewSQLiteStore(" ")
	require.Error(t, err)
}

func TestAppendNil(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Append(context.Background(), nil)
	require.Error(t, err)
}
