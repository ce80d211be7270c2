package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
)

// ImportRun records one reconciliation run against a source export.
type ImportRun struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Filename        string     `json:"filename"`
	RowsRead        int        `json:"rows_read"`
	GroupsBuilt     int        `json:"groups_built"`
	InsertedCount   int        `json:"inserted_count"`
	SkippedExisting int        `json:"skipped_existing"`
	SkippedInvalid  int        `json:"skipped_invalid"`
	Status          string     `gorm:"index" json:"status"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
