// Package memory is an in-memory implementation of the storage contract,
// used in tests and when the process runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"walletledger/internal/ledger"
	"walletledger/internal/storage"
	"walletledger/internal/storage/models"
)

// Storage keeps everything in maps guarded by one RWMutex.
type Storage struct {
	mu           sync.RWMutex
	transactions map[string]*models.TransactionPnL          // by SourceTxID
	lots         map[ledger.PositionKey][]*models.Lot       // open lots per key
	positions    map[ledger.PositionKey]*models.Position    // snapshot per key
	activities   []*models.Activity
	keys         map[ledger.PositionKey]struct{}
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		transactions: make(map[string]*models.TransactionPnL),
		lots:         make(map[ledger.PositionKey][]*models.Lot),
		positions:    make(map[ledger.PositionKey]*models.Position),
		keys:         make(map[ledger.PositionKey]struct{}),
	}
}

func (s *Storage) SaveTransactionPnL(_ context.Context, rec *models.TransactionPnL) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[rec.SourceTxID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *rec
	s.transactions[rec.SourceTxID] = &cp
	s.keys[ledger.PositionKey{WalletID: rec.WalletID, TokenAddress: rec.TokenAddress}] = struct{}{}
	return nil
}

func (s *Storage) ListTransactionsByKey(_ context.Context, key ledger.PositionKey) ([]*models.TransactionPnL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.TransactionPnL
	for _, rec := range s.transactions {
		if rec.WalletID == key.WalletID && rec.TokenAddress == key.TokenAddress {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventTime.Equal(out[j].EventTime) {
			return out[i].EventTime.Before(out[j].EventTime)
		}
		return out[i].SourceTxID < out[j].SourceTxID
	})
	return out, nil
}

func (s *Storage) ReplaceLots(_ context.Context, key ledger.PositionKey, lots []*models.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]*models.Lot, 0, len(lots))
	for _, lot := range lots {
		l := *lot
		cp = append(cp, &l)
	}
	s.lots[key] = cp
	s.keys[key] = struct{}{}
	return nil
}

func (s *Storage) ListLotsByKey(_ context.Context, key ledger.PositionKey) ([]*models.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.lots[key]
	out := make([]*models.Lot, 0, len(stored))
	for _, lot := range stored {
		cp := *lot
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].LotID < out[j].LotID
	})
	return out, nil
}

func (s *Storage) UpsertPosition(_ context.Context, pos *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledger.PositionKey{WalletID: pos.WalletID, TokenAddress: pos.TokenAddress}
	cp := *pos
	s.positions[key] = &cp
	s.keys[key] = struct{}{}
	return nil
}

func (s *Storage) GetPosition(_ context.Context, key ledger.PositionKey) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

func (s *Storage) ListPositionKeys(_ context.Context) ([]ledger.PositionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.PositionKey, 0, len(s.keys))
	for key := range s.keys {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WalletID != out[j].WalletID {
			return out[i].WalletID < out[j].WalletID
		}
		return out[i].TokenAddress < out[j].TokenAddress
	})
	return out, nil
}

func (s *Storage) SaveActivity(_ context.Context, activity *models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *activity
	s.activities = append(s.activities, &cp)
	return nil
}

func (s *Storage) ListActivities(_ context.Context, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.activities)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.Activity, 0, n)
	for i := len(s.activities) - 1; i >= 0 && len(out) < n; i-- {
		cp := *s.activities[i]
		out = append(out, &cp)
	}
	return out, nil
}

// RunMigrations is a no-op for the in-memory store.
func (s *Storage) RunMigrations() error {
	return nil
}
