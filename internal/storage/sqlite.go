package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS drafts (
			session_id TEXT PRIMARY KEY,
			variant TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '{}',
			step INTEGER NOT NULL DEFAULT 1,
			last_partial_step INTEGER NOT NULL DEFAULT 0,
			delivered TEXT NOT NULL DEFAULT '[]',
			step_started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS failed_deliveries (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			payload TEXT NOT NULL,
			token TEXT NOT NULL,
			failed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			url TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failed_deliveries_failed_at ON failed_deliveries(failed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_token ON attempts(token)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Drafts ---

// GetDraft returns nil, nil when the session has no stored draft.
func (s *SQLiteStorage) GetDraft(ctx context.Context, sessionID string) (*models.LeadDraft, error) {
	var d models.LeadDraft
	var data, delivered string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, variant, data, step, last_partial_step, delivered, step_started_at, created_at, updated_at
		 FROM drafts WHERE session_id = ?`, sessionID,
	).Scan(&d.SessionID, &d.Variant, &data, &d.Step, &d.LastPartialStep, &delivered, &d.StepStartedAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &d.Data); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(delivered), &d.Delivered); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStorage) SaveDraft(ctx context.Context, d *models.LeadDraft) error {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return err
	}
	delivered := d.Delivered
	if delivered == nil {
		delivered = []models.Field{}
	}
	deliveredJSON, err := json.Marshal(delivered)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (session_id, variant, data, step, last_partial_step, delivered, step_started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			variant = excluded.variant,
			data = excluded.data,
			step = excluded.step,
			last_partial_step = excluded.last_partial_step,
			delivered = excluded.delivered,
			step_started_at = excluded.step_started_at,
			updated_at = excluded.updated_at`,
		d.SessionID, d.Variant, string(data), d.Step, d.LastPartialStep, string(deliveredJSON), d.StepStartedAt, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) DeleteDraft(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE session_id = ?`, sessionID)
	return err
}

// --- Failed deliveries ---

func (s *SQLiteStorage) AppendFailure(ctx context.Context, f *models.FailedDelivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_deliveries (id, url, payload, token, failed_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.URL, string(f.Payload), f.Token, f.FailedAt,
	)
	return err
}

// ListFailures returns records oldest first.
func (s *SQLiteStorage) ListFailures(ctx context.Context) ([]models.FailedDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, payload, token, failed_at FROM failed_deliveries ORDER BY failed_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FailedDelivery
	for rows.Next() {
		var f models.FailedDelivery
		var payload string
		if err := rows.Scan(&f.ID, &f.URL, &payload, &f.Token, &f.FailedAt); err != nil {
			return nil, err
		}
		f.Payload = json.RawMessage(payload)
		out = append(out, f)
	}
	return out, rows.Err()
}

// deleteBatchSize keeps each statement under SQLite's bound-variable limit.
const deleteBatchSize = 500

func (s *SQLiteStorage) DeleteFailures(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for start := 0; start < len(ids); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(ids))
		batch := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM failed_deliveries WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- Attempts ---

func (s *SQLiteStorage) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, token, url, attempt_number, status, status_code, response_body, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Token, a.URL, a.AttemptNumber, a.Status, a.StatusCode, a.ResponseBody, a.LatencyMs, a.Error, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetAttemptsByToken(ctx context.Context, token string) ([]models.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, token, url, attempt_number, status, status_code, response_body, latency_ms, error, created_at
		 FROM attempts WHERE token = ? ORDER BY created_at, attempt_number`, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.Token, &a.URL, &a.AttemptNumber, &a.Status, &a.StatusCode, &a.ResponseBody, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM drafts`, &stats.OpenDrafts},
		{`SELECT COUNT(*) FROM attempts`, &stats.TotalAttempts},
		{`SELECT COUNT(*) FROM attempts WHERE status = 'success'`, &stats.SuccessCount},
		{`SELECT COUNT(*) FROM attempts WHERE status = 'retrying'`, &stats.RetryingCount},
		{`SELECT COUNT(*) FROM attempts WHERE status = 'exhausted'`, &stats.ExhaustedCount},
		{`SELECT COUNT(*) FROM failed_deliveries`, &stats.PendingFailures},
		{`SELECT COUNT(*) FROM attempts WHERE status = 'success' AND token LIKE 'partial\_%' ESCAPE '\'`, &stats.PartialDeliveries},
		{`SELECT COUNT(*) FROM attempts WHERE status = 'success' AND token LIKE 'final\_%' ESCAPE '\'`, &stats.FinalDeliveries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalAttempts) * 100
	}

	return stats, nil
}

var _ Storage = (*SQLiteStorage)(nil)
