package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	store := &PostgresStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS practice_completions (
		id TEXT PRIMARY KEY,
		step_id INTEGER NOT NULL,
		practice_index INTEGER NOT NULL,
		duration_sec INTEGER NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_completions_step ON practice_completions(step_id);
	CREATE INDEX IF NOT EXISTS idx_completions_completed_at ON practice_completions(completed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now())
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) SaveCompletion(ctx context.Context, record *CompletionRecord) error {
	query := `
		INSERT INTO practice_completions (id, step_id, practice_index, duration_sec, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.StepID,
		record.PracticeIndex,
		record.DurationSeconds,
		record.StartedAt,
		record.CompletedAt,
	)

	return err
}

func (s *PostgresStore) GetCompletionsByStep(ctx context.Context, stepID int, since time.Time) ([]CompletionRecord, error) {
	query := `
		SELECT id, step_id, practice_index, duration_sec, started_at, completed_at
		FROM practice_completions
		WHERE step_id = $1 AND completed_at >= $2
		ORDER BY completed_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, stepID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCompletions(rows)
}

func (s *PostgresStore) GetRecentCompletions(ctx context.Context, since time.Time) ([]CompletionRecord, error) {
	query := `
		SELECT id, step_id, practice_index, duration_sec, started_at, completed_at
		FROM practice_completions
		WHERE completed_at >= $1
		ORDER BY completed_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCompletions(rows)
}

func (s *PostgresStore) GetProgressStats(ctx context.Context) (*ProgressStats, error) {
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
