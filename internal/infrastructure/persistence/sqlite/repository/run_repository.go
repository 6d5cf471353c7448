package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"marketbot/internal/errs"
	"marketbot/internal/infrastructure/persistence/sqlite/model"
	"marketbot/internal/ports"
)

const runStateRunning = "Running"

type RunRepository struct {
	base
}

var _ ports.RunRepository = (*RunRepository)(nil)

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{base: base{db: db}}
}

func (r *RunRepository) CreateRun(ctx context.Context, runID string, startedAt time.Time) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return errors.New("run id is required")
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := model.Run{
		RunID:     runID,
		State:     runStateRunning,
		StartedAt: startedAt.UTC(),
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert run")
	}
	return nil
}

func (r *RunRepository) FinishRun(ctx context.Context, record ports.RunRecord) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	finishedAt := time.Now().UTC()
	if record.FinishedAt != nil {
		finishedAt = record.FinishedAt.UTC()
	}
	result := db.Model(&model.Run{}).
		Where("run_id = ?", record.RunID).
		Updates(map[string]any{
			"state":       record.State,
			"finished_at": finishedAt,
			"attempted":   record.Attempted,
			"processed":   record.Processed,
			"failed":      record.Failed,
			"early_stop":  record.EarlyStop,
			"message":     record.Message,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "finish run")
	}
	if result.RowsAffected == 0 {
		return ports.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) LatestRun(ctx context.Context) (ports.RunRecord, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.RunRecord{}, err
	}

	var row model.Run
	result := db.Order("started_at desc").Limit(1).Find(&row)
	if result.Error != nil {
		return ports.RunRecord{}, errs.Wrap(result.Error, "query latest run")
	}
	if result.RowsAffected == 0 {
		return ports.RunRecord{}, ports.ErrRunNotFound
	}
	return ports.RunRecord{
		RunID:      row.RunID,
		State:      row.State,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Attempted:  row.Attempted,
		Processed:  row.Processed,
		Failed:     row.Failed,
		EarlyStop:  row.EarlyStop,
		Message:    row.Message,
	}, nil
}
