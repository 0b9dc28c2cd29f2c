package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultTable receives result rows when no table is configured.
const DefaultTable = "mcubench_results"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresConfig addresses the results database.
type PostgresConfig struct {
	URL         string
	Table       string
	PingTimeout time.Duration
}

// Validate checks the configuration. The table name is interpolated into
// SQL, so only plain identifiers are accepted.
func (c PostgresConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	if c.Table != "" && !tableName.MatchString(c.Table) {
		return fmt.Errorf("invalid table name %q", c.Table)
	}
	return nil
}

// PostgresExporter upserts one row per run, keyed by session and run index.
type PostgresExporter struct {
	cfg PostgresConfig
}

// NewPostgresExporter validates cfg. The connection is opened by Export.
func NewPostgresExporter(cfg PostgresConfig) (*PostgresExporter, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PostgresExporter{cfg: cfg}, nil
}

// Name implements Exporter.
func (e *PostgresExporter) Name() string { return "postgres" }

// Export implements Exporter.
func (e *PostgresExporter) Export(ctx context.Context, rep *Report) error {
	db, err := sql.Open("pgx", e.cfg.URL)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, e.cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL(e.cfg.Table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertSQL(e.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, row := range rep.Rows {
		args, err := rowArgs(rep.SessionID, row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert run %d: %w", row.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	session_id TEXT NOT NULL,
	run_index INTEGER NOT NULL,
	model TEXT NOT NULL,
	frontend TEXT NOT NULL,
	backend TEXT NOT NULL,
	compiler TEXT NOT NULL,
	target TEXT NOT NULL,
	features TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL,
	metrics JSONB NOT NULL,
	exported_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, run_index)
)`, table)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s
	(session_id, run_index, model, frontend, backend, compiler, target, features, stage, status, error, metrics)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id, run_index) DO UPDATE SET
	stage = EXCLUDED.stage,
	status = EXCLUDED.status,
	error = EXCLUDED.error,
	metrics = EXCLUDED.metrics,
	exported_at = now()`, table)
}

// rowArgs returns the upsert parameters of row in column order.
func rowArgs(sessionID string, row Row) ([]any, error) {
	values, err := metricsJSON(row)
	if err != nil {
		return nil, err
	}
	return []any{
		sessionID, row.Index, row.Model, row.Frontend, row.Backend, row.Compiler, row.Target,
		strings.Join(row.Features, " "), row.Stage, row.Status, row.Error, values,
	}, nil
}

func metricsJSON(row Row) (string, error) {
	values := map[string]float64{}
	if row.Metrics != nil {
		for _, m := range row.Metrics.Entries() {
			values[m.Name] = m.Value
		}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encoding metrics of run %d: %w", row.Index, err)
	}
	return string(data), nil
}
