package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"walletledger/internal/ledger"
	"walletledger/internal/portfolio"
	"walletledger/internal/pricing"
	"walletledger/internal/storage/memory"
)

func TestIngester_Run(t *testing.T) {
	ctx := context.Background()
	svc := portfolio.NewService(
		ledger.DefaultAccountingConfig(),
		memory.New(),
		nil,
		pricing.NewCache(time.Hour),
		zaptest.NewLogger(t),
		2,
	)

	stream := strings.Join([]string{
		`{"source_tx_id":"tx-1","wallet_id":"w1","token_address":"tokenA","direction":"buy","quantity":"100","price":"1","timestamp":"2025-06-01T12:00:00Z"}`,
		`not json at all`,
		`{"source_tx_id":"tx-1","wallet_id":"w1","token_address":"tokenA","direction":"buy","quantity":"100","price":"1","timestamp":"2025-06-01T12:00:00Z"}`,
		`{"source_tx_id":"tx-2","wallet_id":"w1","token_address":"tokenA","direction":"sell","quantity":"40","price":"2","timestamp":"2025-06-01T12:01:00Z"}`,
		`{"source_tx_id":"tx-3","wallet_id":"w1","token_address":"tokenA","direction":"sell","quantity":"999","price":"2","timestamp":"2025-06-01T12:02:00Z"}`,
	}, "\n")

	ingester := NewIngester(svc, zaptest.NewLogger(t))
	require.NoError(t, ingester.Run(ctx, strings.NewReader(stream)))

	pos, ok := svc.Position(ledger.PositionKey{WalletID: "w1", TokenAddress: "tokenA"})
	require.True(t, ok)
	assert.True(t, pos.CurrentBalance.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, int64(2), pos.TransactionCount, "duplicate and oversell must not count")

	stats := svc.Stats()
	assert.Equal(t, uint64(2), stats.EventsProcessed)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, uint64(1), stats.EventsRejected)
}
