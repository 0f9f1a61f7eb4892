// internal/app/runner.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"walletledger/internal/config"
	"walletledger/internal/events"
	"walletledger/internal/portfolio"
	"walletledger/internal/pricing"
	"walletledger/internal/storage"
	"walletledger/internal/storage/memory"
	"walletledger/internal/storage/postgres"
	"walletledger/internal/utils"
)

// Runner wires the ledger daemon together: storage, reconstruction, the
// serialized service, the price monitor and the inbound event stream.
type Runner struct {
	logger     *zap.Logger
	cfg        *config.Config
	store      storage.Storage
	bus        *events.Bus
	svc        *portfolio.Service
	monitor    *pricing.Monitor
	shutdownCh chan os.Signal
}

// NewRunner builds the runner from configuration.
func NewRunner(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	accounting, err := cfg.Accounting()
	if err != nil {
		return nil, err
	}

	var store storage.Storage
	if cfg.PostgresURL != "" {
		store, err = postgres.NewStorage(cfg.PostgresURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect storage: %w", err)
		}
	} else {
		logger.Warn("no postgres_url configured, using in-memory storage")
		store = memory.New()
	}

	bus := events.NewBus(logger, cfg.EventBufferSize)
	prices := pricing.NewCache(time.Duration(cfg.PriceMaxAge) * time.Millisecond)
	svc := portfolio.NewService(accounting, store, bus, prices, logger, uint(cfg.Retries))

	var monitor *pricing.Monitor
	if cfg.PriceFeedURL != "" {
		source := pricing.NewHTTPSource(cfg.PriceFeedURL, uint(cfg.Retries))
		monitor = pricing.NewMonitor(source, prices,
			time.Duration(cfg.PriceDelay)*time.Millisecond, logger,
			func(token string, quote pricing.Quote) {
				svc.OnPriceTick(context.Background(), token, quote)
			})
	}

	return &Runner{
		logger:     logger,
		cfg:        cfg,
		store:      store,
		bus:        bus,
		svc:        svc,
		monitor:    monitor,
		shutdownCh: make(chan os.Signal, 1),
	}, nil
}

// Service exposes the ledger service for embedding callers.
func (r *Runner) Service() *portfolio.Service {
	return r.svc
}

// Run migrates, reconstructs, then consumes the event stream until EOF or
// a shutdown signal.
func (r *Runner) Run(ctx context.Context, stream io.Reader) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.logger.Info("📡 Signal received: " + sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := r.store.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	reconstructor := portfolio.NewReconstructor(r.store, r.logger, r.cfg.Workers)
	if err := reconstructor.Rebuild(runCtx, r.svc); err != nil {
		return fmt.Errorf("reconstruct ledger: %w", err)
	}
	for _, key := range r.svc.Keys() {
		if r.monitor != nil {
			r.monitor.Track(key.TokenAddress)
		}
	}

	if r.monitor != nil {
		go r.monitor.Start()
	}

	var metricsSrv *http.Server
	if r.cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: r.cfg.MetricsListen, Handler: mux}
		go func() {
			r.logger.Info("metrics endpoint listening", zap.String("addr", r.cfg.MetricsListen))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				utils.HandleError(r.logger, err, "metrics server failed")
			}
		}()
	}

	// parked writes are retried in the background until storage recovers
	go r.flushLoop(runCtx)

	// track tokens as positions appear
	sub := r.bus.SubscribeFunc(events.PositionUpdated, func(_ context.Context, e events.Event) error {
		if r.monitor == nil {
			return nil
		}
		if updated, ok := e.(*events.PositionUpdatedEvent); ok {
			r.monitor.Track(updated.Key.TokenAddress)
		}
		return nil
	})
	defer sub.Unsubscribe()

	r.logger.Info("🚀 Ledger running",
		zap.String("method", r.cfg.AccountingMethod),
		zap.Int("positions", len(r.svc.Keys())))

	ingester := NewIngester(r.svc, r.logger)
	if err := ingester.Run(runCtx, stream); err != nil && runCtx.Err() == nil {
		return fmt.Errorf("ingest stream: %w", err)
	}

	r.shutdown(metricsSrv)
	return nil
}

func (r *Runner) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if flushed := r.svc.FlushPending(ctx); flushed > 0 {
				r.logger.Info("replayed pending writes", zap.Int("count", flushed))
			}
		}
	}
}

func (r *Runner) shutdown(metricsSrv *http.Server) {
	sh := NewShutdownHandler(r.logger, 30*time.Second)
	sh.AddFunc("metrics_server", func() error {
		if metricsSrv == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(ctx)
	})
	sh.AddFunc("price_monitor", func() error {
		if r.monitor != nil {
			r.monitor.Stop()
		}
		return nil
	})
	sh.AddFunc("pending_writes", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.svc.FlushPending(ctx)
		return nil
	})
	sh.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.bus.Shutdown(ctx)
	})
	sh.Shutdown()

	stats := r.svc.Stats()
	r.logger.Info("👋 Ledger shut down",
		zap.Uint64("processed", stats.EventsProcessed),
		zap.Uint64("rejected", stats.EventsRejected),
		zap.Int("pending_writes", stats.PendingWrites),
		zap.String("realized_pnl", stats.TotalRealizedPnL.String()))
}
