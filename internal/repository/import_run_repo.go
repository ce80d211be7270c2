package repository

import (
	"context"
	"time"

	"milk-ticket-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportRunRepository struct {
	db *gorm.DB
}

func NewImportRunRepository(db *gorm.DB) *ImportRunRepository {
	return &ImportRunRepository{db: db}
}

// CreateRun opens a run record in processing state.
func (r *ImportRunRepository) CreateRun(ctx context.Context, filename string) (*models.ImportRun, error) {
	now := time.Now()
	run := &models.ImportRun{
		ID:        uuid.New(),
		Filename:  filename,
		Status:    models.RunStatusProcessing,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateProgress records how many tickets have been committed so far.
func (r *ImportRunRepository) UpdateProgress(ctx context.Context, id uuid.UUID, inserted int) error {
	return r.db.WithContext(ctx).Model(&models.ImportRun{}).
		Where("id = ?", id).
		Update("inserted_count", inserted).
		Error
}

// FinishRun stores the final counters and status of a run.
func (r *ImportRunRepository) FinishRun(ctx context.Context, run *models.ImportRun) error {
	now := time.Now()
	run.CompletedAt = &now
	return r.db.WithContext(ctx).Model(&models.ImportRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"rows_read":        run.RowsRead,
			"groups_built":     run.GroupsBuilt,
			"inserted_count":   run.InsertedCount,
			"skipped_existing": run.SkippedExisting,
			"skipped_invalid":  run.SkippedInvalid,
			"status":           run.Status,
			"error_message":    run.ErrorMessage,
			"completed_at":     now,
		}).Error
}

func (r *ImportRunRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.ImportRun, error) {
	var run models.ImportRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &run, nil
}
