package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"walletledger/internal/ledger"
	"walletledger/internal/storage"
	"walletledger/internal/storage/memory"
	"walletledger/internal/storage/models"
)

func TestReconstructor_RebuildRestoresState(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	live := newTestService(t, store)
	script := []ledger.Event{
		testEvent("a-1", "w1", "tokenA", ledger.DirectionBuy, "100", "1", base),
		testEvent("a-2", "w1", "tokenA", ledger.DirectionBuy, "50", "2", base.Add(time.Minute)),
		testEvent("a-3", "w1", "tokenA", ledger.DirectionSell, "120", "3", base.Add(2*time.Minute)),
		testEvent("b-1", "w2", "tokenB", ledger.DirectionBuy, "10", "5", base.Add(3*time.Minute)),
	}
	for _, ev := range script {
		_, _, err := live.ProcessEvent(ctx, ev)
		require.NoError(t, err)
	}

	keyA := ledger.PositionKey{WalletID: "w1", TokenAddress: "tokenA"}
	keyB := ledger.PositionKey{WalletID: "w2", TokenAddress: "tokenB"}
	wantA, ok := live.Position(keyA)
	require.True(t, ok)
	wantB, ok := live.Position(keyB)
	require.True(t, ok)
	wantLotsA := live.OpenLots(keyA)

	// a fresh process against the same persistence
	restored := newTestService(t, store)
	rec := NewReconstructor(store, zaptest.NewLogger(t), 4)
	require.NoError(t, rec.Rebuild(ctx, restored))

	gotA, ok := restored.Position(keyA)
	require.True(t, ok)
	assert.True(t, gotA.CurrentBalance.Equal(wantA.CurrentBalance))
	assert.True(t, gotA.TotalCost.Equal(wantA.TotalCost))
	assert.True(t, gotA.AverageCostBasis.Equal(wantA.AverageCostBasis))
	assert.True(t, gotA.RealizedPnL.Equal(wantA.RealizedPnL))
	assert.True(t, gotA.UnrealizedPnL.Equal(wantA.UnrealizedPnL))
	assert.Equal(t, wantA.TransactionCount, gotA.TransactionCount)
	assert.Equal(t, wantA.FirstPurchaseAt, gotA.FirstPurchaseAt)
	assert.Equal(t, wantA.LastTransactionAt, gotA.LastTransactionAt)

	gotB, ok := restored.Position(keyB)
	require.True(t, ok)
	assert.True(t, gotB.CurrentBalance.Equal(wantB.CurrentBalance))
	assert.True(t, gotB.RealizedPnL.Equal(wantB.RealizedPnL))

	gotLotsA := restored.OpenLots(keyA)
	require.Len(t, gotLotsA, len(wantLotsA))
	for i, want := range wantLotsA {
		assert.Equal(t, want.LotID, gotLotsA[i].LotID)
		assert.True(t, gotLotsA[i].RemainingQuantity.Equal(want.RemainingQuantity))
		assert.True(t, gotLotsA[i].UnitCost.Equal(want.UnitCost))
	}

	// processed source tx ids stay deduplicated across the restart
	_, _, err := restored.ProcessEvent(ctx, script[0])
	require.ErrorIs(t, err, ledger.ErrDuplicateTransaction)
}

func TestReconstructor_EmptyStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newTestService(t, store)

	rec := NewReconstructor(store, zaptest.NewLogger(t), 4)
	require.NoError(t, rec.Rebuild(ctx, svc))
	assert.Empty(t, svc.Keys())
}

// keyFailStorage fails lot listings for a single key.
type keyFailStorage struct {
	storage.Storage
	failKey ledger.PositionKey
}

func (s *keyFailStorage) ListLotsByKey(ctx context.Context, key ledger.PositionKey) ([]*models.Lot, error) {
	if key == s.failKey {
		return nil, errors.New("corrupt lot page")
	}
	return s.Storage.ListLotsByKey(ctx, key)
}

func TestReconstructor_FailedKeyIsolated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	live := newTestService(t, store)
	_, _, err := live.ProcessEvent(ctx, testEvent("a-1", "w1", "tokenA", ledger.DirectionBuy, "100", "1", base))
	require.NoError(t, err)
	_, _, err = live.ProcessEvent(ctx, testEvent("b-1", "w2", "tokenB", ledger.DirectionBuy, "10", "5", base))
	require.NoError(t, err)

	keyA := ledger.PositionKey{WalletID: "w1", TokenAddress: "tokenA"}
	keyB := ledger.PositionKey{WalletID: "w2", TokenAddress: "tokenB"}

	broken := &keyFailStorage{Storage: store, failKey: keyA}
	restored := newTestService(t, broken)
	rec := NewReconstructor(broken, zaptest.NewLogger(t), 2)
	require.NoError(t, rec.Rebuild(ctx, restored), "one bad key must not fail the rebuild")

	_, ok := restored.Position(keyA)
	assert.False(t, ok, "failed key starts empty")
	gotB, ok := restored.Position(keyB)
	require.True(t, ok)
	assert.True(t, gotB.CurrentBalance.Equal(dec(t, "10")))
}
