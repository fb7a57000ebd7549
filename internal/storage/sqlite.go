package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS practice_completions (
		id TEXT PRIMARY KEY,
		step_id INTEGER NOT NULL,
		practice_index INTEGER NOT NULL,
		duration_sec INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_completions_step ON practice_completions(step_id);
	CREATE INDEX IF NOT EXISTS idx_completions_completed_at ON practice_completions(completed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC())
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) SaveCompletion(ctx context.Context, record *CompletionRecord) error {
	query := `
		INSERT INTO practice_completions (id, step_id, practice_index, duration_sec, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.StepID,
		record.PracticeIndex,
		record.DurationSeconds,
		record.StartedAt.UTC(),
		record.CompletedAt.UTC(),
	)

	return err
}

func (s *SQLiteStore) GetCompletionsByStep(ctx context.Context, stepID int, since time.Time) ([]CompletionRecord, error) {
	query := `
		SELECT id, step_id, practice_index, duration_sec, started_at, completed_at
		FROM practice_completions
		WHERE step_id = ? AND completed_at >= ?
		ORDER BY completed_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, stepID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCompletions(rows)
}

func (s *SQLiteStore) GetRecentCompletions(ctx context.Context, since time.Time) ([]CompletionRecord, error) {
	query := `
		SELECT id, step_id, practice_index, duration_sec, started_at, completed_at
		FROM practice_completions
		WHERE completed_at >= ?
		ORDER BY completed_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCompletions(rows)
}

func (s *SQLiteStore) GetProgressStats(ctx context.Context) (*ProgressStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COUNT(DISTINCT step_id) as steps,
			AVG(duration_sec) as avg_duration,
			SUM(duration_sec) as total_time
		FROM practice_completions
	`

	var stats ProgressStats
	var totalTime sql.NullInt64
	var avgDuration sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalCompletions,
		&stats.StepsPracticed,
		&avgDuration,
		&totalTime,
	)

	if err != nil {
		return nil, err
	}

	if avgDuration.Valid {
		stats.AverageSeconds = avgDuration.Float64
	}
	if totalTime.Valid {
		stats.TotalPracticeSeconds = int(totalTime.Int64)
	}

	return &stats, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanCompletions(rows *sql.Rows) ([]CompletionRecord, error) {
	var records []CompletionRecord

	for rows.Next() {
		var record CompletionRecord

		err := rows.Scan(
			&record.ID,
			&record.StepID,
			&record.PracticeIndex,
			&record.DurationSeconds,
			&record.StartedAt,
			&record.CompletedAt,
		)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}
