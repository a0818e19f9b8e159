package journal

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/narenallam/e-commerce-saga/internal/saga"
)

// PostgresRecorder journals saga transitions into Postgres. One row per
// saga holds the latest snapshot; the execution log rides along as JSONB.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder constructs a recorder backed by Postgres.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// NewPostgresRecorderWithSchema initializes the schema then returns the
// recorder.
func NewPostgresRecorderWithSchema(ctx context.Context, db *sql.DB) (*PostgresRecorder, error) {
	r := NewPostgresRecorder(db)
	if err := r.InitSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// InitSchema creates the journal table if it does not exist.
func (r *PostgresRecorder) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS saga_journal (
			saga_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			description TEXT,
			failed_step_index INT,
			steps_completed INT NOT NULL,
			total_steps INT NOT NULL,
			context JSONB NOT NULL,
			execution_log JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

// Record upserts the latest snapshot for the saga.
func (r *PostgresRecorder) Record(ctx context.Context, snap saga.Snapshot) error {
	contextJSON, err := json.Marshal(snap.Context)
	if err != nil {
		return err
	}
	logJSON, err := json.Marshal(snap.ExecutionLog)
	if err != nil {
		return err
	}

	var failedStep sql.NullInt64
	if snap.FailedStepIndex != nil {
		failedStep = sql.NullInt64{Int64: int64(*snap.FailedStepIndex), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO saga_journal (saga_id, status, description, failed_step_index, steps_completed, total_steps, context, execution_log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (saga_id) DO UPDATE SET
			status = EXCLUDED.status,
			failed_step_index = EXCLUDED.failed_step_index,
			steps_completed = EXCLUDED.steps_completed,
			context = EXCLUDED.context,
			execution_log = EXCLUDED.execution_log,
			updated_at = EXCLUDED.updated_at`,
		snap.SagaID, string(snap.Status), snap.Description, failedStep,
		snap.StepsCompleted, snap.TotalSteps, contextJSON, logJSON,
		snap.CreatedAt, snap.UpdatedAt,
	)
	return err
}
