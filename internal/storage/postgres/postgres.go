// Package postgres implements the storage contract on PostgreSQL via GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"walletledger/internal/ledger"
	"walletledger/internal/storage"
	"walletledger/internal/storage/models"
)

// gormLogger adapts zap to GORM's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresStorage implements the Storage interface.
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStorage opens a connection pool against the given DSN.
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

// RunMigrations applies the schema under an advisory lock so concurrent
// instances do not race each other.
func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(214)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(214)")

	err = p.db.AutoMigrate(
		&models.TransactionPnL{},
		&models.Lot{},
		&models.Position{},
		&models.Activity{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (p *postgresStorage) SaveTransactionPnL(ctx context.Context, rec *models.TransactionPnL) error {
	err := p.db.WithContext(ctx).Create(rec).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, rec.SourceTxID)
	}
	return err
}

func (p *postgresStorage) ListTransactionsByKey(ctx context.Context, key ledger.PositionKey) ([]*models.TransactionPnL, error) {
	var recs []*models.TransactionPnL
	err := p.db.WithContext(ctx).
		Where("wallet_id = ? AND token_address = ?", key.WalletID, key.TokenAddress).
		Order("event_time asc, id asc").
		Find(&recs).Error
	return recs, err
}

// ReplaceLots swaps the whole open-lot set for a key in one transaction.
// Fully consumed lots simply stop existing here.
func (p *postgresStorage) ReplaceLots(ctx context.Context, key ledger.PositionKey, lots []*models.Lot) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("wallet_id = ? AND token_address = ?", key.WalletID, key.TokenAddress).
			Delete(&models.Lot{}).Error
		if err != nil {
			return err
		}
		if len(lots) == 0 {
			return nil
		}
		return tx.Create(lots).Error
	})
}

func (p *postgresStorage) ListLotsByKey(ctx context.Context, key ledger.PositionKey) ([]*models.Lot, error) {
	var lots []*models.Lot
	err := p.db.WithContext(ctx).
		Where("wallet_id = ? AND token_address = ?", key.WalletID, key.TokenAddress).
		Order("opened_at asc, lot_id asc").
		Find(&lots).Error
	return lots, err
}

func (p *postgresStorage) UpsertPosition(ctx context.Context, pos *models.Position) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "wallet_id"}, {Name: "token_address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"current_balance", "total_cost", "average_cost_basis",
			"realized_pnl", "unrealized_pnl", "roi",
			"current_price", "price_stale", "price_as_of",
			"transaction_count", "first_purchase_at", "last_transaction_at",
			"updated_at",
		}),
	}).Create(pos).Error
}

func (p *postgresStorage) GetPosition(ctx context.Context, key ledger.PositionKey) (*models.Position, error) {
	var pos models.Position
	err := p.db.WithContext(ctx).
		Where("wallet_id = ? AND token_address = ?", key.WalletID, key.TokenAddress).
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (p *postgresStorage) ListPositionKeys(ctx context.Context) ([]ledger.PositionKey, error) {
	type row struct {
		WalletID     string
		TokenAddress string
	}
	var rows []row
	err := p.db.WithContext(ctx).
		Model(&models.TransactionPnL{}).
		Distinct("wallet_id", "token_address").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	keys := make([]ledger.PositionKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, ledger.PositionKey{WalletID: r.WalletID, TokenAddress: r.TokenAddress})
	}
	return keys, nil
}

func (p *postgresStorage) SaveActivity(ctx context.Context, activity *models.Activity) error {
	err := p.db.WithContext(ctx).Create(activity).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, activity.ActivityID)
	}
	return err
}

func (p *postgresStorage) ListActivities(ctx context.Context, limit int) ([]*models.Activity, error) {
	var activities []*models.Activity
	err := p.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}
