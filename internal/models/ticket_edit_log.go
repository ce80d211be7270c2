package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TicketEditLog keeps the display fields a ticket had before an operator
// overwrote them.
type TicketEditLog struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TicketID       uint           `gorm:"index" json:"ticket_id"`
	LoadBatchID    string         `gorm:"index" json:"load_batch_id"`
	PerformedBy    string         `json:"performed_by"`
	PreviousFields datatypes.JSON `json:"previous_fields"`
	CreatedAt      time.Time      `json:"created_at"`
}
