// Package archive mirrors evaluation records into PostgreSQL for fleet
// operators who aggregate improvement history across bots. The file
// store stays the source of truth; a mirror failure is logged and never
// fails a cycle.
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ouroboros/internal/config"
	"github.com/xkilldash9x/ouroboros/internal/history"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS evaluations (
	task_id       TEXT PRIMARY KEY,
	task_type     TEXT NOT NULL,
	description   TEXT NOT NULL,
	passed_before INT NOT NULL,
	failed_before INT NOT NULL,
	passed_after  INT NOT NULL,
	failed_after  INT NOT NULL,
	publish_url   TEXT,
	outcome       TEXT NOT NULL,
	feedback      TEXT,
	recorded_at   TIMESTAMPTZ NOT NULL
);`

// execer is the slice of pgxpool.Pool the mirror needs. pgxmock
// satisfies it in tests.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Mirror writes evaluation records through a pgx connection pool.
type Mirror struct {
	db     execer
	logger *zap.Logger
}

// Connect opens a pool against cfg's DSN and ensures the schema. A nil
// Mirror with a nil error means the archive is disabled.
func Connect(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*Mirror, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive is enabled but no DSN is configured")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive pool: %w", err)
	}
	m := &Mirror{db: pool, logger: logger.Named("archive")}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return m, nil
}

// RecordEvaluation upserts one evaluation record. Re-recording the same
// task overwrites the previous row, which keeps the mirror idempotent
// across crash-replayed ticks.
func (m *Mirror) RecordEvaluation(ctx context.Context, rec history.EvaluationRecord) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO evaluations (task_id, task_type, description,
			passed_before, failed_before, passed_after, failed_after,
			publish_url, outcome, feedback, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (task_id) DO UPDATE SET
			publish_url = EXCLUDED.publish_url,
			outcome = EXCLUDED.outcome,
			feedback = EXCLUDED.feedback;
	`, rec.TaskID, string(rec.TaskType), rec.Description,
		rec.TestDelta.Before.Passed, rec.TestDelta.Before.Failed,
		rec.TestDelta.After.Passed, rec.TestDelta.After.Failed,
		rec.PublishURL, string(rec.Outcome), rec.Feedback, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to mirror evaluation %s: %w", rec.TaskID, err)
	}
	return nil
}

// UpdateOutcome flips a mirrored record's outcome after review.
func (m *Mirror) UpdateOutcome(ctx context.Context, taskID string, outcome history.Outcome) error {
	tag, err := m.db.Exec(ctx, `
		UPDATE evaluations SET outcome = $2 WHERE task_id = $1;
	`, taskID, string(outcome))
	if err != nil {
		return fmt.Errorf("failed to update outcome for %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		m.logger.Debug("Outcome update matched no mirrored record",
			zap.String("task_id", taskID))
	}
	return nil
}

// Close releases the pool.
func (m *Mirror) Close() {
	if m != nil && m.db != nil {
		m.db.Close()
	}
}
