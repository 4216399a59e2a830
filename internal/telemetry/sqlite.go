package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteLedger stores one row per event in a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// UsageSummary aggregates events for one provider and model.
type UsageSummary struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Calls        int64  `json:"calls"`
	Errors       int64  `json:"errors"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	AvgLatencyMS int64  `json:"avgLatencyMs"`
}

// NewSQLiteLedger opens or creates the ledger at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		step TEXT,
		provider TEXT NOT NULL,
		model TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_created_at ON usage_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_provider_model ON usage_events(provider, model);
	`
	_, err := db.Exec(schema)
	return err
}

// Record inserts ev.
func (s *SQLiteLedger) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = NewEvent(ev.Name).ID
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, name, step, provider, model, input_tokens, output_tokens, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Name, ev.Step, ev.Provider, ev.Model, ev.InputTokens, ev.OutputTokens,
		ev.Latency.Milliseconds(), ev.Err, ev.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

// Summary aggregates all events by provider and model.
func (s *SQLiteLedger) Summary(ctx context.Context) ([]UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, COALESCE(model, ''), COUNT(*),
		       SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END),
		       SUM(input_tokens), SUM(output_tokens), CAST(AVG(latency_ms) AS INTEGER)
		FROM usage_events
		GROUP BY provider, model
		ORDER BY provider, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.Provider, &u.Model, &u.Calls, &u.Errors, &u.InputTokens, &u.OutputTokens, &u.AvgLatencyMS); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}
