package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func fieldMap(entry observer.LoggedEntry) map[string]zapcore.Field {
	out := make(map[string]zapcore.Field, len(entry.Context))
	for _, f := range entry.Context {
		out[f.Key] = f
	}
	return out
}

func TestNew_WritesToConfiguredFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "ledger.log")

	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("daemon starting")
	_ = log.Sync()
}

func TestLogger_WithTransaction(t *testing.T) {
	log, logs := newObservedLogger()

	log.WithTransaction("tx-abc").Info("event applied")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := fieldMap(entries[0])
	assert.Equal(t, "tx-abc", fields["source_tx_id"].String)
	assert.Contains(t, fields, "tx_time")
}

func TestLogger_WithPosition(t *testing.T) {
	log, logs := newObservedLogger()

	log.WithPosition("w1", "tokenA").Warn("oversell refused")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := fieldMap(entries[0])
	assert.Equal(t, "w1", fields["wallet_id"].String)
	assert.Equal(t, "tokenA", fields["token_address"].String)
}

func TestLogger_WithOperation(t *testing.T) {
	log, logs := newObservedLogger()

	log.WithOperation("reconstruct").Info("starting")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := fieldMap(entries[0])
	assert.Equal(t, "reconstruct", fields["operation"].String)
	_, err := uuid.Parse(fields["correlation_id"].String)
	assert.NoError(t, err, "correlation id must be a uuid")
}

func TestLogger_WithComponent(t *testing.T) {
	log, logs := newObservedLogger()

	log.WithComponent("portfolio").Info("ready")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "portfolio", fieldMap(entries[0])["component"].String)
}

func TestLogger_LogError(t *testing.T) {
	log, logs := newObservedLogger()

	log.LogError("write failed", errors.New("storage offline"), zap.String("tx", "tx-1"))
	log.LogError("nothing wrong", nil)

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := fieldMap(entries[0])
	assert.Equal(t, "tx-1", fields["tx"].String)
	require.Contains(t, fields, "error")

	assert.NotContains(t, fieldMap(entries[1]), "error")
}

func TestLogger_TrackPerformance(t *testing.T) {
	log, logs := newObservedLogger()

	end := log.TrackPerformance("flush_pending")
	end()

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Starting operation", entries[0].Message)
	assert.Equal(t, "Operation completed", entries[1].Message)
	assert.Contains(t, fieldMap(entries[1]), "duration")
}
