package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"milk-ticket-backend/internal/config"
	"milk-ticket-backend/internal/ingest"
	"milk-ticket-backend/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrEditNotApplied = errors.New("ticket edit not applied")
	// ErrInvalidEdit marks edits rejected before reaching the store.
	ErrInvalidEdit = errors.New("invalid ticket edit")
)

// Store is the ticket storage the review workflow reads and writes.
type Store interface {
	NextUnprocessed(ctx context.Context) (*models.MilkTicket, error)
	FindByLoadBatchID(ctx context.Context, key string) (*models.MilkTicket, error)
	PreviousUnprocessed(ctx context.Context, id uint) (*models.MilkTicket, error)
	NextUnprocessedAfter(ctx context.Context, id uint) (*models.MilkTicket, error)
	SaveEdit(ctx context.Context, ticket *models.MilkTicket, entry *models.TicketEditLog) error
	ListAll(ctx context.Context) ([]models.MilkTicket, error)
	EditHistory(ctx context.Context, ticketID uint) ([]models.TicketEditLog, error)
}

// EditFields are the values an operator may change on a ticket.
type EditFields struct {
	DriverName           string   `json:"driver_name" validate:"required"`
	Facility             string   `json:"facility" validate:"required"`
	BulkSamplerLicense   string   `json:"bulk_sampler_license" validate:"required"`
	BTUNo                string   `json:"btu_no"`
	AntibioticTestResult string   `json:"antibiotic_test_result"`
	Timestamp            string   `json:"timestamp" validate:"required"`
	Temperature          *float64 `json:"temperature"`
}

type Navigator struct {
	store    Store
	logger   *logrus.Logger
	validate *validator.Validate
}

func NewNavigator(store Store, logger *logrus.Logger) *Navigator {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Navigator{
		store:    store,
		logger:   logger,
		validate: validator.New(),
	}
}

// NextUnreviewed returns the earliest ticket nobody has reviewed yet.
func (n *Navigator) NextUnreviewed(ctx context.Context) (*models.MilkTicket, error) {
	return n.store.NextUnprocessed(ctx)
}

func (n *Navigator) Find(ctx context.Context, key string) (*models.MilkTicket, error) {
	return n.store.FindByLoadBatchID(ctx, strings.TrimSpace(key))
}

// GetNextOrByKey looks the ticket up by key when one is given and falls back
// to the next unreviewed ticket otherwise.
func (n *Navigator) GetNextOrByKey(ctx context.Context, key string) (*models.MilkTicket, error) {
	if strings.TrimSpace(key) != "" {
		return n.Find(ctx, key)
	}
	return n.NextUnreviewed(ctx)
}

// Neighbors finds the unreviewed tickets on either side of ticket. Either
// result is nil when there is none.
func (n *Navigator) Neighbors(ctx context.Context, ticket *models.MilkTicket) (prev, next *models.MilkTicket, err error) {
	prev, err = n.store.PreviousUnprocessed(ctx, ticket.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, nil, err
	}
	next, err = n.store.NextUnprocessedAfter(ctx, ticket.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, nil, err
	}
	return prev, next, nil
}

// ApplyEdit overwrites the ticket's display fields, marks it reviewed and
// stores the change with an audit entry. ticket is only updated once the
// store accepted the edit.
func (n *Navigator) ApplyEdit(ctx context.Context, ticket *models.MilkTicket, fields EditFields, performedBy string) error {
	if err := n.validate.Struct(fields); err != nil {
		return fmt.Errorf("%w: %w: %v", ErrEditNotApplied, ErrInvalidEdit, err)
	}
	ts, err := ingest.ParseTimestamp(fields.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrEditNotApplied, ErrInvalidEdit, err)
	}

	previous, err := json.Marshal(snapshot(ticket))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEditNotApplied, err)
	}

	updated := *ticket
	updated.DriverName = strings.TrimSpace(fields.DriverName)
	updated.Facility = strings.TrimSpace(fields.Facility)
	updated.BulkSamplerLicense = strings.TrimSpace(fields.BulkSamplerLicense)
	updated.BTUNo = strings.TrimSpace(fields.BTUNo)
	updated.AntibioticTestResult = strings.TrimSpace(fields.AntibioticTestResult)
	updated.Timestamp = ts
	updated.Temperature = fields.Temperature
	updated.Processed = true

	entry := &models.TicketEditLog{
		ID:             uuid.New(),
		TicketID:       ticket.ID,
		LoadBatchID:    ticket.LoadBatchID,
		PerformedBy:    performedBy,
		PreviousFields: previous,
	}
	if err := n.store.SaveEdit(ctx, &updated, entry); err != nil {
		n.logger.WithFields(logrus.Fields{
			"load_batch_id": ticket.LoadBatchID,
			"performed_by":  performedBy,
		}).WithError(err).Error("saving ticket edit failed")
		return fmt.Errorf("%w: %w", ErrEditNotApplied, err)
	}

	*ticket = updated
	n.logger.WithFields(logrus.Fields{
		"load_batch_id": ticket.LoadBatchID,
		"performed_by":  performedBy,
	}).Info("ticket reviewed")
	return nil
}

func (n *Navigator) ListAll(ctx context.Context) ([]models.MilkTicket, error) {
	return n.store.ListAll(ctx)
}

// History lists the recorded edits of a ticket, newest first.
func (n *Navigator) History(ctx context.Context, ticket *models.MilkTicket) ([]models.TicketEditLog, error) {
	return n.store.EditHistory(ctx, ticket.ID)
}

func snapshot(t *models.MilkTicket) EditFields {
	return EditFields{
		DriverName:           t.DriverName,
		Facility:             t.Facility,
		BulkSamplerLicense:   t.BulkSamplerLicense,
		BTUNo:                t.BTUNo,
		AntibioticTestResult: t.AntibioticTestResult,
		Timestamp:            t.Timestamp.Format(ingest.DisplayLayout),
		Temperature:          t.Temperature,
	}
}
