// Package portfolio serializes transaction events into the accounting
// ledger: one in-flight mutation per (wallet, token) key, persistence with
// retry, and publication of the resulting position updates.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"walletledger/internal/events"
	"walletledger/internal/ledger"
	"walletledger/internal/pricing"
	"walletledger/internal/storage"
	"walletledger/internal/storage/models"
	"walletledger/internal/utils/metrics"
)

// positionState is everything one key owns. Its mutex is the per-key
// serialization point: engine, aggregator and persistence all run under it.
type positionState struct {
	mu   sync.Mutex
	lots *ledger.LotStore
	acc  ledger.Accumulator
	pos  ledger.Position
}

// pendingWrite is a durable write that exhausted its retries. The
// in-memory ledger stays authoritative; the write waits for replay.
type pendingWrite struct {
	description string
	attempt     func(ctx context.Context) error
}

// Stats are the service counters.
type Stats struct {
	EventsProcessed  uint64
	EventsRejected   uint64
	Duplicates       uint64
	PendingWrites    int
	OpenPositions    int
	TotalRealizedPnL decimal.Decimal
}

// Service coordinates the accounting engine, the position aggregator,
// persistence and the event bus.
type Service struct {
	accounting ledger.AccountingConfig
	engine     *ledger.Engine
	store      storage.Storage
	bus        *events.Bus
	prices     *pricing.Cache
	logger     *zap.Logger
	maxRetries uint

	mu     sync.RWMutex
	states map[ledger.PositionKey]*positionState

	// seenTx spans every key: a source tx id is consumed once, no matter
	// which (wallet, token) pair it arrives under
	txMu   sync.Mutex
	seenTx map[string]struct{}

	pendingMu sync.Mutex
	pending   []pendingWrite

	statsMu       sync.Mutex
	processed     uint64
	rejected      uint64
	duplicates    uint64
	realizedTotal decimal.Decimal
}

// NewService creates the ledger service. maxRetries bounds the durable
// write attempts before an event's writes go to the replay queue.
func NewService(
	accounting ledger.AccountingConfig,
	store storage.Storage,
	bus *events.Bus,
	prices *pricing.Cache,
	logger *zap.Logger,
	maxRetries uint,
) *Service {
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Service{
		accounting: accounting,
		engine:     ledger.NewEngine(logger),
		store:      store,
		bus:        bus,
		prices:     prices,
		logger:     logger.Named("portfolio"),
		maxRetries: maxRetries,
		states:     make(map[ledger.PositionKey]*positionState),
		seenTx:     make(map[string]struct{}),
	}
}

// state returns the per-key state, creating it on first touch.
func (s *Service) state(key ledger.PositionKey) *positionState {
	s.mu.RLock()
	st, ok := s.states[key]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[key]; ok {
		return st
	}
	st = &positionState{lots: ledger.NewLotStore()}
	s.states[key] = st
	metrics.SetOpenPositions(len(s.states))
	return st
}

// ProcessEvent applies one transaction event. Events for the same key are
// strictly serialized; distinct keys proceed in parallel. On success the
// record and the refreshed position are persisted and published.
func (s *Service) ProcessEvent(ctx context.Context, ev ledger.Event) (ledger.TransactionPnL, ledger.Position, error) {
	start := time.Now()
	direction := string(ev.Direction)

	if err := ev.Validate(); err != nil {
		s.rejectEvent(ctx, ev, err)
		metrics.RecordEvent(metrics.StatusRejected, direction, time.Since(start))
		return ledger.TransactionPnL{}, ledger.Position{}, err
	}

	key := ev.Key()
	st := s.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !s.reserveTx(ev.SourceTxID) {
		err := fmt.Errorf("%w: %s", ledger.ErrDuplicateTransaction, ev.SourceTxID)
		s.markDuplicate(ctx, ev)
		metrics.RecordEvent(metrics.StatusDuplicate, direction, time.Since(start))
		return ledger.TransactionPnL{}, st.pos, err
	}

	rec, err := s.engine.Apply(ev, s.accounting, st.lots)
	if err != nil {
		// state is unchanged; release the id so a corrected resubmission
		// under the same source tx can go through
		s.releaseTx(ev.SourceTxID)
		s.rejectEvent(ctx, ev, err)
		metrics.RecordEvent(metrics.StatusRejected, direction, time.Since(start))
		return ledger.TransactionPnL{}, st.pos, err
	}

	st.acc.Record(rec)

	if ev.Price.IsPositive() {
		// the fill price is itself a market observation
		s.prices.Observe(ev.TokenAddress, ev.Price, ev.Timestamp)
	}
	obs := s.observation(key, st)
	st.pos = ledger.RecomputePosition(key, st.lots, st.acc, obs)

	s.persistMutation(ctx, key, st, rec)
	s.publishUpdated(key, rec, st.pos)

	s.statsMu.Lock()
	s.processed++
	s.realizedTotal = s.realizedTotal.Add(rec.RealizedPnL)
	s.statsMu.Unlock()
	metrics.RecordEvent(metrics.StatusConfirmed, direction, time.Since(start))

	return rec, st.pos, nil
}

// OnPriceTick recomputes the unrealized side of every position holding the
// token. Lots, realized P&L and counters are untouched.
func (s *Service) OnPriceTick(ctx context.Context, tokenAddress string, quote pricing.Quote) {
	s.prices.Observe(tokenAddress, quote.Price, quote.AsOf)

	s.mu.RLock()
	var touched []ledger.PositionKey
	for key := range s.states {
		if key.TokenAddress == tokenAddress {
			touched = append(touched, key)
		}
	}
	s.mu.RUnlock()

	for _, key := range touched {
		st := s.state(key)
		st.mu.Lock()
		if st.acc.TransactionCount == 0 {
			st.mu.Unlock()
			continue
		}
		obs := ledger.PriceObservation{Price: quote.Price, AsOf: quote.AsOf}
		st.pos = ledger.RecomputePosition(key, st.lots, st.acc, obs)
		pos := st.pos

		// best effort: a failed snapshot write is overwritten by the
		// next tick, so no replay queue here
		if err := s.store.UpsertPosition(ctx, models.NewPosition(pos)); err != nil {
			s.logger.Warn("failed to persist priced position",
				zap.String("key", key.String()), zap.Error(err))
		}
		st.mu.Unlock()

		metrics.RecordPriceTick()
		s.publish(&events.PositionPricedEvent{
			BaseEvent: events.BaseEvent{EventType: events.PositionPriced, EventTime: time.Now()},
			Key:       key,
			Position:  pos,
		})
	}
}

// Position returns the current snapshot for a key.
func (s *Service) Position(key ledger.PositionKey) (ledger.Position, bool) {
	s.mu.RLock()
	st, ok := s.states[key]
	s.mu.RUnlock()
	if !ok {
		return ledger.Position{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.acc.TransactionCount == 0 {
		return ledger.Position{}, false
	}
	return st.pos, true
}

// Keys returns every key the service currently tracks.
func (s *Service) Keys() []ledger.PositionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.PositionKey, 0, len(s.states))
	for key := range s.states {
		out = append(out, key)
	}
	return out
}

// OpenLots returns a copy of the open lots for a key, oldest first.
func (s *Service) OpenLots(key ledger.PositionKey) []ledger.Lot {
	s.mu.RLock()
	st, ok := s.states[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	open := st.lots.Open()
	out := make([]ledger.Lot, 0, len(open))
	for _, lot := range open {
		out = append(out, *lot)
	}
	return out
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	stats := Stats{
		EventsProcessed:  s.processed,
		EventsRejected:   s.rejected,
		Duplicates:       s.duplicates,
		TotalRealizedPnL: s.realizedTotal,
	}
	s.statsMu.Unlock()

	s.pendingMu.Lock()
	stats.PendingWrites = len(s.pending)
	s.pendingMu.Unlock()

	s.mu.RLock()
	stats.OpenPositions = len(s.states)
	s.mu.RUnlock()
	return stats
}

// reserveTx claims a source tx id. Returns false when the id was already
// consumed, by any key.
func (s *Service) reserveTx(sourceTxID string) bool {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if _, dup := s.seenTx[sourceTxID]; dup {
		return false
	}
	s.seenTx[sourceTxID] = struct{}{}
	return true
}

func (s *Service) releaseTx(sourceTxID string) {
	s.txMu.Lock()
	delete(s.seenTx, sourceTxID)
	s.txMu.Unlock()
}

// restore installs reconstructed state for a key. Called by the
// reconstructor before live events flow; it does not publish anything.
func (s *Service) restore(key ledger.PositionKey, lots *ledger.LotStore, acc ledger.Accumulator, seen map[string]struct{}, pos ledger.Position) {
	s.mu.Lock()
	s.states[key] = &positionState{lots: lots, acc: acc, pos: pos}
	s.mu.Unlock()

	s.txMu.Lock()
	for id := range seen {
		s.seenTx[id] = struct{}{}
	}
	s.txMu.Unlock()

	if pos.CurrentPrice.IsPositive() {
		s.prices.Observe(key.TokenAddress, pos.CurrentPrice, pos.PriceAsOf)
	}
}

// observation picks the price used for the unrealized side: the freshest
// cached quote, falling back to the last price the position saw. Fallbacks
// are marked stale.
func (s *Service) observation(key ledger.PositionKey, st *positionState) ledger.PriceObservation {
	if q, ok := s.prices.Quote(key.TokenAddress); ok {
		return ledger.PriceObservation{Price: q.Price, AsOf: q.AsOf, Stale: s.prices.Stale(q)}
	}
	return ledger.PriceObservation{
		Price: st.pos.CurrentPrice,
		AsOf:  st.pos.PriceAsOf,
		Stale: true,
	}
}

// persistMutation writes the record, the open lots and the position
// snapshot, retrying with exponential backoff. When retries are exhausted
// the write is parked for replay; the in-memory ledger keeps serving.
func (s *Service) persistMutation(ctx context.Context, key ledger.PositionKey, st *positionState, rec ledger.TransactionPnL) {
	recRow := models.NewTransactionPnL(rec)
	activity := s.activityFor(rec)

	write := func(ctx context.Context, lotRows []*models.Lot, posRow *models.Position) error {
		if err := s.store.SaveTransactionPnL(ctx, recRow); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("save transaction pnl: %w", err)
		}
		if err := s.store.ReplaceLots(ctx, key, lotRows); err != nil {
			return fmt.Errorf("replace lots: %w", err)
		}
		if err := s.store.UpsertPosition(ctx, posRow); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
		if err := s.store.SaveActivity(ctx, activity); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			// audit write failures must not undo an applied mutation
			s.logger.Warn("failed to write audit activity",
				zap.String("tx", rec.SourceTxID), zap.Error(err))
		}
		return nil
	}

	// caller holds st.mu, snapshot is consistent
	lotRows := lotRowsFor(key, st)
	posRow := models.NewPosition(st.pos)
	attempt := func(ctx context.Context) error {
		return write(ctx, lotRows, posRow)
	}

	if err := s.retryWrite(ctx, attempt); err != nil {
		s.logger.Error("durable write exhausted retries, queueing for replay",
			zap.String("tx", rec.SourceTxID),
			zap.String("key", key.String()),
			zap.Error(err))
		s.pendingMu.Lock()
		s.pending = append(s.pending, pendingWrite{
			description: "mutation " + rec.SourceTxID,
			// replay re-snapshots so it cannot roll lots or the position
			// back behind writes that landed after this one
			attempt: func(ctx context.Context) error {
				st.mu.Lock()
				lotRows := lotRowsFor(key, st)
				posRow := models.NewPosition(st.pos)
				st.mu.Unlock()
				return write(ctx, lotRows, posRow)
			},
		})
		metrics.SetPendingWrites(len(s.pending))
		s.pendingMu.Unlock()
	}
}

func lotRowsFor(key ledger.PositionKey, st *positionState) []*models.Lot {
	rows := make([]*models.Lot, 0, st.lots.Len())
	for _, lot := range st.lots.Open() {
		rows = append(rows, models.NewLot(key, lot))
	}
	return rows
}

// retryWrite runs a durable write with exponential backoff.
func (s *Service) retryWrite(ctx context.Context, attempt func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	op := func() (struct{}, error) {
		return struct{}{}, attempt(ctx)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxRetries))
	return err
}

// FlushPending replays parked durable writes. Writes that fail again stay
// queued; nothing is ever discarded.
func (s *Service) FlushPending(ctx context.Context) int {
	s.pendingMu.Lock()
	queued := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	flushed := 0
	var remaining []pendingWrite
	for _, w := range queued {
		if err := w.attempt(ctx); err != nil {
			s.logger.Warn("pending write still failing",
				zap.String("write", w.description), zap.Error(err))
			remaining = append(remaining, w)
			continue
		}
		flushed++
	}

	s.pendingMu.Lock()
	if len(remaining) > 0 {
		s.pending = append(remaining, s.pending...)
	}
	metrics.SetPendingWrites(len(s.pending))
	s.pendingMu.Unlock()
	return flushed
}

// rejectEvent records and publishes a refused event.
func (s *Service) rejectEvent(ctx context.Context, ev ledger.Event, cause error) {
	s.statsMu.Lock()
	s.rejected++
	s.statsMu.Unlock()

	reason := "invalid event"
	if errors.Is(cause, ledger.ErrInsufficientLots) {
		reason = "insufficient lots"
	}

	s.logger.Warn("event rejected",
		zap.String("tx", ev.SourceTxID),
		zap.String("wallet", ev.WalletID),
		zap.String("token", ev.TokenAddress),
		zap.String("direction", string(ev.Direction)),
		zap.Error(cause))

	s.audit(ctx, &models.Activity{
		ActivityID:   uuid.New().String(),
		Type:         "event_rejected",
		Description:  fmt.Sprintf("%s event rejected: %v", ev.Direction, cause),
		WalletID:     ev.WalletID,
		TokenAddress: ev.TokenAddress,
		SourceTxID:   ev.SourceTxID,
		Status:       "rejected",
		Amount:       ev.Quantity,
	})

	s.publish(&events.TransactionRejectedEvent{
		BaseEvent:  events.BaseEvent{EventType: events.TransactionRejected, EventTime: time.Now()},
		Key:        ev.Key(),
		SourceTxID: ev.SourceTxID,
		Reason:     reason,
	})
}

// markDuplicate audits a replayed source tx id without touching state.
func (s *Service) markDuplicate(ctx context.Context, ev ledger.Event) {
	s.statsMu.Lock()
	s.duplicates++
	s.statsMu.Unlock()

	s.logger.Debug("duplicate transaction ignored",
		zap.String("tx", ev.SourceTxID),
		zap.String("wallet", ev.WalletID),
		zap.String("token", ev.TokenAddress))

	s.audit(ctx, &models.Activity{
		ActivityID:   uuid.New().String(),
		Type:         "duplicate_transaction",
		Description:  fmt.Sprintf("duplicate %s event ignored", ev.Direction),
		WalletID:     ev.WalletID,
		TokenAddress: ev.TokenAddress,
		SourceTxID:   ev.SourceTxID,
		Status:       "ignored",
		Amount:       ev.Quantity,
	})
}

// activityFor builds the audit entry for a processed event.
func (s *Service) activityFor(rec ledger.TransactionPnL) *models.Activity {
	return &models.Activity{
		ActivityID:   uuid.New().String(),
		Type:         "event_processed",
		Description:  fmt.Sprintf("%s %s @ %s", rec.Direction, rec.Quantity, rec.Price),
		WalletID:     rec.WalletID,
		TokenAddress: rec.TokenAddress,
		SourceTxID:   rec.SourceTxID,
		Status:       "confirmed",
		Amount:       rec.Quantity,
	}
}

func (s *Service) audit(ctx context.Context, activity *models.Activity) {
	if err := s.store.SaveActivity(ctx, activity); err != nil {
		s.logger.Warn("failed to write audit activity",
			zap.String("activity", activity.Type), zap.Error(err))
	}
}

func (s *Service) publishUpdated(key ledger.PositionKey, rec ledger.TransactionPnL, pos ledger.Position) {
	s.publish(&events.PositionUpdatedEvent{
		BaseEvent:   events.BaseEvent{EventType: events.PositionUpdated, EventTime: time.Now()},
		Key:         key,
		Transaction: rec,
		Position:    pos,
	})
}

func (s *Service) publish(event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", string(event.Type())), zap.Error(err))
	}
}
