package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/common"
	"github.com/joseph-ayodele/doc-digitizer/internal/pipeline"
)

// timestamps are stored as fixed-width UTC text so both dialects round-trip
// them and lexical order is chronological
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RunRecord is one row of runs.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    *pipeline.BatchSummary
}

// DocumentRecord is the latest state of one document within a run.
type DocumentRecord struct {
	RunID     string
	Name      string
	SHA256    string
	State     constants.DocState
	Method    string
	Error     string
	UpdatedAt time.Time
}

// Ledger implements pipeline.Ledger on top of DB.
type Ledger struct {
	db     *DB
	logger *slog.Logger
}

var _ pipeline.Ledger = (*Ledger)(nil)

func NewLedger(db *DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: db, logger: logger}
}

func (l *Ledger) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := l.db.SQL.ExecContext(ctx, l.db.rebind(
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`),
		runID, startedAt.UTC().Format(timeLayout))
	if err != nil {
		l.logger.Error("ledger run start failed", "run_id", runID, "err", err)
		return err
	}
	l.logger.Info("ledger run started", "run_id", runID)
	return nil
}

// RecordState upserts the document row; the last transition wins. The
// extraction method is kept once known.
func (l *Ledger) RecordState(ctx context.Context, runID string, doc pipeline.Document, state constants.DocState, method, errMsg string) error {
	_, err := l.db.SQL.ExecContext(ctx, l.db.rebind(`
		INSERT INTO documents (run_id, name, sha256, state, method, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET
			sha256 = excluded.sha256,
			state = excluded.state,
			method = CASE WHEN excluded.method = '' THEN documents.method ELSE excluded.method END,
			error = excluded.error,
			updated_at = excluded.updated_at`),
		runID, doc.Name, doc.SHA256, string(state), method, errMsg, time.Now().UTC().Format(timeLayout))
	if err != nil {
		l.logger.Error("ledger state write failed", "run_id", runID, "doc", doc.Name, "state", state, "err", err)
		return err
	}
	return nil
}

func (l *Ledger) FinishRun(ctx context.Context, runID string, summary pipeline.BatchSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	res, err := l.db.SQL.ExecContext(ctx, l.db.rebind(
		`UPDATE runs SET finished_at = ?, summary_json = ? WHERE id = ?`),
		finished.UTC().Format(timeLayout), string(raw), runID)
	if err != nil {
		l.logger.Error("ledger run finish failed", "run_id", runID, "err", err)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	l.logger.Info("ledger run finished", "run_id", runID)
	return nil
}

// ListDocuments returns every document of a run ordered by name.
func (l *Ledger) ListDocuments(ctx context.Context, runID string) ([]DocumentRecord, error) {
	rows, err := l.db.SQL.QueryContext(ctx, l.db.rebind(`
		SELECT run_id, name, sha256, state, method, error, updated_at
		FROM documents WHERE run_id = ? ORDER BY name`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocumentRecord
	for rows.Next() {
		var (
			r       DocumentRecord
			state   string
			updated string
		)
		if err := rows.Scan(&r.RunID, &r.Name, &r.SHA256, &state, &r.Method, &r.Error, &updated); err != nil {
			return nil, err
		}
		r.State = constants.DocState(state)
		r.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun loads one run; an unknown id is common.ErrNotFound.
func (l *Ledger) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := l.db.SQL.QueryRowContext(ctx, l.db.rebind(
		`SELECT id, started_at, finished_at, summary_json FROM runs WHERE id = ?`), runID)
	return scanRun(row)
}

// LatestRun returns the most recently started run.
func (l *Ledger) LatestRun(ctx context.Context) (RunRecord, error) {
	row := l.db.SQL.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, summary_json FROM runs ORDER BY started_at DESC LIMIT 1`)
	return scanRun(row)
}

func scanRun(row *sql.Row) (RunRecord, error) {
	var (
		r        RunRecord
		started  string
		finished sql.NullString
		summary  sql.NullString
	)
	if err := row.Scan(&r.ID, &started, &finished, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, common.ErrNotFound
		}
		return r, err
	}
	r.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(timeLayout, finished.String)
	}
	if summary.Valid && summary.String != "" {
		var s pipeline.BatchSummary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return r, fmt.Errorf("decode summary of run %s: %w", r.ID, err)
		}
		r.Summary = &s
	}
	return r, nil
}
