package models

import (
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MilkTicket{},
		&ImportRun{},
		&TicketEditLog{},
	)
}
