package storage

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

// RunRepository persists terminal runs so spec.md §4.6's retention window
// survives past the in-memory event bus forgetting a run.
type RunRepository struct {
	db *bun.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *bun.DB) *RunRepository {
	return &RunRepository{db: db}
}

// SaveTerminal upserts a finished run and replaces its node rows. Called once
// per run, when the scheduler reaches a terminal status.
func (r *RunRepository) SaveTerminal(ctx context.Context, run *models.RunRecordModel) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(run).
			On("CONFLICT (run_id) DO UPDATE").
			Set("status = EXCLUDED.status").
			Set("ended_at = EXCLUDED.ended_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}

		if len(run.Nodes) == 0 {
			return nil
		}

		_, err = tx.NewDelete().
			Model((*models.NodeRunRecordModel)(nil)).
			Where("run_id = ?", run.RunID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("clear node rows: %w", err)
		}

		_, err = tx.NewInsert().Model(&run.Nodes).Exec(ctx)
		if err != nil {
			return fmt.Errorf("save node rows: %w", err)
		}
		return nil
	})
}

// Get loads a persisted run and its node rows by run ID.
func (r *RunRepository) Get(ctx context.Context, runID string) (*models.RunRecordModel, error) {
	run := new(models.RunRecordModel)
	err := r.db.NewSelect().
		Model(run).
		Relation("Nodes").
		Where("fr.run_id = ?", runID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListByFlow returns a flow's persisted runs, most recent first.
func (r *RunRepository) ListByFlow(ctx context.Context, flowID int64, limit int) ([]*models.RunRecordModel, error) {
	var runs []*models.RunRecordModel
	err := r.db.NewSelect().
		Model(&runs).
		Where("flow_id = ?", flowID).
		OrderExpr("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs for flow %d: %w", flowID, err)
	}
	return runs, nil
}

// DeleteOlderThan removes persisted runs whose retention window per
// spec.md §4.6 has already elapsed, keeping the table bounded.
func (r *RunRepository) DeleteOlderThan(ctx context.Context, cutoffRunIDs []string) error {
	if len(cutoffRunIDs) == 0 {
		return nil
	}
	_, err := r.db.NewDelete().
		Model((*models.RunRecordModel)(nil)).
		Where("run_id IN (?)", bun.In(cutoffRunIDs)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete expired runs: %w", err)
	}
	return nil
}
