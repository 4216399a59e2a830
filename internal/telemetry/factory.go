package telemetry

import (
	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/config"
)

// New builds the recorder described by cfg. When telemetry is enabled, events
// are written to the SQLite ledger through an Async queue; otherwise they are
// only logged.
func New(cfg config.TelemetryConfig, logger *zap.Logger) (Recorder, error) {
	rec, _, err := NewWithLedger(cfg, logger)
	return rec, err
}

// NewWithLedger is New that also returns the ledger for usage queries. The
// ledger is nil when telemetry is disabled. Closing the recorder closes it.
func NewWithLedger(cfg config.TelemetryConfig, logger *zap.Logger) (Recorder, *SQLiteLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logRec := NewLogRecorder(logger)
	if !cfg.Enabled {
		return logRec, nil, nil
	}
	ledger, err := NewSQLiteLedger(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return NewAsync(Multi{ledger, logRec}, cfg.QueueSize, WithAsyncLogger(logger)), ledger, nil
}
