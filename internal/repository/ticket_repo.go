package repository

import (
	"context"
	"errors"
	"fmt"

	"milk-ticket-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TicketRepository struct {
	db *gorm.DB
}

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

// ExistingKeys returns every load batch id already stored.
func (r *TicketRepository) ExistingKeys(ctx context.Context) (map[string]struct{}, error) {
	var keys []string
	if err := r.db.WithContext(ctx).Model(&models.MilkTicket{}).Pluck("load_batch_id", &keys).Error; err != nil {
		return nil, fmt.Errorf("load existing batch ids: %w", err)
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set, nil
}

// InsertBatch stores tickets in one transaction. A ticket whose load batch
// id is already taken is left out and reported in conflicts; any other
// error rolls the whole batch back.
func (r *TicketRepository) InsertBatch(ctx context.Context, tickets []*models.MilkTicket) ([]string, error) {
	var conflicts []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range tickets {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "load_batch_id"}},
				DoNothing: true,
			}).Create(t)
			if res.Error != nil {
				return fmt.Errorf("insert ticket %s: %w", t.LoadBatchID, res.Error)
			}
			if res.RowsAffected == 0 {
				conflicts = append(conflicts, t.LoadBatchID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conflicts, nil
}

// NextUnprocessed returns the oldest ticket still waiting for review.
func (r *TicketRepository) NextUnprocessed(ctx context.Context) (*models.MilkTicket, error) {
	var ticket models.MilkTicket
	err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("id ASC").
		First(&ticket).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ticket, nil
}

// FindByLoadBatchID fetches a single ticket by its business key.
func (r *TicketRepository) FindByLoadBatchID(ctx context.Context, key string) (*models.MilkTicket, error) {
	var ticket models.MilkTicket
	if err := r.db.WithContext(ctx).First(&ticket, "load_batch_id = ?", key).Error; err != nil {
		return nil, translate(err)
	}
	return &ticket, nil
}

// PreviousUnprocessed is the nearest unprocessed ticket that arrived
// before id.
func (r *TicketRepository) PreviousUnprocessed(ctx context.Context, id uint) (*models.MilkTicket, error) {
	var ticket models.MilkTicket
	err := r.db.WithContext(ctx).
		Where("processed = ? AND id < ?", false, id).
		Order("id DESC").
		First(&ticket).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ticket, nil
}

// NextUnprocessedAfter is the nearest unprocessed ticket that arrived
// after id.
func (r *TicketRepository) NextUnprocessedAfter(ctx context.Context, id uint) (*models.MilkTicket, error) {
	var ticket models.MilkTicket
	err := r.db.WithContext(ctx).
		Where("processed = ? AND id > ?", false, id).
		Order("id ASC").
		First(&ticket).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ticket, nil
}

// SaveEdit writes the operator's fields and the audit entry together.
func (r *TicketRepository) SaveEdit(ctx context.Context, ticket *models.MilkTicket, entry *models.TicketEditLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.MilkTicket{}).
			Where("id = ?", ticket.ID).
			Updates(map[string]interface{}{
				"driver_name":            ticket.DriverName,
				"facility":               ticket.Facility,
				"bulk_sampler_license":   ticket.BulkSamplerLicense,
				"btu_no":                 ticket.BTUNo,
				"antibiotic_test_result": ticket.AntibioticTestResult,
				"timestamp":              ticket.Timestamp,
				"temperature":            ticket.Temperature,
				"processed":              true,
			})
		if res.Error != nil {
			return fmt.Errorf("update ticket %s: %w", ticket.LoadBatchID, res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		if entry != nil {
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("write edit log for %s: %w", ticket.LoadBatchID, err)
			}
		}
		return nil
	})
}

// ListAll returns every ticket in arrival order.
func (r *TicketRepository) ListAll(ctx context.Context) ([]models.MilkTicket, error) {
	var tickets []models.MilkTicket
	err := r.db.WithContext(ctx).Order("id ASC").Find(&tickets).Error
	return tickets, err
}

// EditHistory lists audit entries for one ticket, newest first.
func (r *TicketRepository) EditHistory(ctx context.Context, ticketID uint) ([]models.TicketEditLog, error) {
	var entries []models.TicketEditLog
	err := r.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at DESC").
		Find(&entries).Error
	return entries, err
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}
