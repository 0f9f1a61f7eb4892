package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickCallback is invoked for every fresh observation the monitor pulls.
type TickCallback func(tokenAddress string, quote Quote)

// Monitor polls a price source for a set of tracked tokens and pushes
// fresh observations into the cache and the callback.
type Monitor struct {
	source   Source
	cache    *Cache
	interval time.Duration
	logger   *zap.Logger
	callback TickCallback

	mu      sync.Mutex
	tracked map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a price monitor. The callback may be nil.
func NewMonitor(source Source, cache *Cache, interval time.Duration, logger *zap.Logger, callback TickCallback) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		source:   source,
		cache:    cache,
		interval: interval,
		logger:   logger.Named("price_monitor"),
		callback: callback,
		tracked:  make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Track adds a token to the polling set.
func (m *Monitor) Track(tokenAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[tokenAddress] = struct{}{}
}

// Untrack removes a token from the polling set.
func (m *Monitor) Untrack(tokenAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracked, tokenAddress)
}

// Start begins polling. It blocks until Stop is called, so callers run it
// in its own goroutine.
func (m *Monitor) Start() {
	defer close(m.done)

	m.logger.Info("starting price monitor", zap.Duration("interval", m.interval))

	m.poll()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.poll()
		case <-m.ctx.Done():
			m.logger.Debug("price monitor stopped")
			return
		}
	}
}

// Stop stops polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
}

func (m *Monitor) poll() {
	m.mu.Lock()
	tokens := make([]string, 0, len(m.tracked))
	for token := range m.tracked {
		tokens = append(tokens, token)
	}
	m.mu.Unlock()

	for _, token := range tokens {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		quote, err := m.source.GetPrice(ctx, token)
		cancel()
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				// non-fatal: consumers fall back to the last-known price
				m.logger.Debug("price unavailable", zap.String("token", token))
			} else {
				m.logger.Warn("failed to get token price",
					zap.String("token", token), zap.Error(err))
			}
			continue
		}

		m.cache.Observe(token, quote.Price, quote.AsOf)
		if m.callback != nil {
			m.callback(token, quote)
		}
	}
}
