package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"walletledger/internal/ledger"
	"walletledger/internal/portfolio"
	"walletledger/internal/utils"
)

// wireEvent is one NDJSON line from the execution layer.
type wireEvent struct {
	SourceTxID   string          `json:"source_tx_id"`
	WalletID     string          `json:"wallet_id"`
	TokenAddress string          `json:"token_address"`
	Direction    string          `json:"direction"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Fees         decimal.Decimal `json:"fees"`
	GasUsed      decimal.Decimal `json:"gas_used"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (w wireEvent) ledgerEvent() ledger.Event {
	return ledger.Event{
		SourceTxID:   w.SourceTxID,
		WalletID:     w.WalletID,
		TokenAddress: w.TokenAddress,
		Direction:    ledger.Direction(w.Direction),
		Quantity:     w.Quantity,
		Price:        w.Price,
		Fees:         w.Fees,
		GasUsed:      w.GasUsed,
		Timestamp:    w.Timestamp,
	}
}

// Ingester reads newline-delimited JSON events and feeds them to the
// ledger service. Bad lines and rejected events are logged and skipped;
// the stream keeps flowing.
type Ingester struct {
	svc    *portfolio.Service
	logger *zap.Logger
}

// NewIngester creates an NDJSON event ingester.
func NewIngester(svc *portfolio.Service, logger *zap.Logger) *Ingester {
	return &Ingester{svc: svc, logger: logger.Named("ingest")}
}

// Run consumes the stream until EOF or context cancellation.
func (in *Ingester) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines, applied, skipped int
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		lines++

		var we wireEvent
		if err := json.Unmarshal(line, &we); err != nil {
			skipped++
			in.logger.Warn("malformed event line",
				zap.Int("line", lines), zap.Error(err))
			continue
		}

		_, _, err := in.svc.ProcessEvent(ctx, we.ledgerEvent())
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ledger.ErrDuplicateTransaction):
			skipped++
		default:
			// already audited and published by the service
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return utils.WrapError(err, "read event stream")
	}

	in.logger.Info("event stream drained",
		zap.Int("lines", lines),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped))
	return nil
}
