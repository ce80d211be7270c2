package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"milk-ticket-backend/internal/config"
	"milk-ticket-backend/internal/ingest"
	"milk-ticket-backend/internal/lock"
	"milk-ticket-backend/internal/models"
	"milk-ticket-backend/internal/services/grouping"
	"milk-ticket-backend/internal/services/tickets"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize = 100
	runLockKey       = "milk-tickets:reconcile"
)

var ErrRunInProgress = errors.New("another reconciliation run is in progress")

// TicketStore is the part of the ticket store a run writes to.
type TicketStore interface {
	ExistingKeys(ctx context.Context) (map[string]struct{}, error)
	// InsertBatch commits tickets atomically and reports the ids that
	// were already taken.
	InsertBatch(ctx context.Context, tickets []*models.MilkTicket) ([]string, error)
}

// RunStore keeps the bookkeeping record of each run.
type RunStore interface {
	CreateRun(ctx context.Context, filename string) (*models.ImportRun, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, inserted int) error
	FinishRun(ctx context.Context, run *models.ImportRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.ImportRun, error)
}

// SourceReader loads transaction records from an export file.
type SourceReader func(path, sheet string) ([]ingest.TransactionRecord, ingest.Stats, error)

type Options struct {
	SheetName    string
	BatchSize    int
	AnchorPolicy grouping.AnchorPolicy
}

type ReconciliationService struct {
	tickets TicketStore
	runs    RunStore
	builder *tickets.Builder
	locker  lock.Locker
	logger  *logrus.Logger
	read    SourceReader
	opts    Options
}

func NewReconciliationService(
	ticketStore TicketStore,
	runStore RunStore,
	builder *tickets.Builder,
	locker lock.Locker,
	logger *logrus.Logger,
	opts Options,
) *ReconciliationService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &ReconciliationService{
		tickets: ticketStore,
		runs:    runStore,
		builder: builder,
		locker:  locker,
		logger:  logger,
		read:    ingest.ReadFile,
		opts:    opts,
	}
}

// WithReader swaps the source reader, mainly for tests.
func (s *ReconciliationService) WithReader(r SourceReader) *ReconciliationService {
	s.read = r
	return s
}

// Result summarizes one run.
type Result struct {
	RunID           uuid.UUID `json:"run_id"`
	RowsRead        int       `json:"rows_read"`
	RowsDiscarded   int       `json:"rows_discarded"`
	Groups          int       `json:"groups"`
	Incomplete      []string  `json:"incomplete,omitempty"`
	Ambiguous       []string  `json:"ambiguous,omitempty"`
	Invalid         []string  `json:"invalid,omitempty"`
	SkippedExisting int       `json:"skipped_existing"`
	Conflicts       []string  `json:"conflicts,omitempty"`
	Inserted        int       `json:"inserted"`
}

// CommitError reports a store failure that stopped a run. Tickets in
// batches committed before the failure stay stored.
type CommitError struct {
	Committed    int
	NotPersisted []string
	Err          error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed after %d tickets, %d not persisted: %v", e.Committed, len(e.NotPersisted), e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Run imports new tickets from the export at sourcePath. Batch ids that are
// already stored are left untouched. batchSize <= 0 uses the configured
// size.
func (s *ReconciliationService) Run(ctx context.Context, sourcePath string, batchSize int) (Result, error) {
	release, run, err := s.begin(ctx, sourcePath)
	if err != nil {
		return Result{}, err
	}
	defer s.release(ctx, release)
	return s.execute(ctx, run, sourcePath, batchSize)
}

// Start opens a run and processes it in the background. Progress can be
// followed through GetRun with the returned id. onDone, if set, receives
// the outcome once the run has finished.
func (s *ReconciliationService) Start(ctx context.Context, sourcePath string, batchSize int, onDone func(Result, error)) (uuid.UUID, error) {
	release, run, err := s.begin(ctx, sourcePath)
	if err != nil {
		return uuid.Nil, err
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		res, err := s.execute(bg, run, sourcePath, batchSize)
		s.release(bg, release)
		if onDone != nil {
			onDone(res, err)
		}
	}()
	return run.ID, nil
}

func (s *ReconciliationService) begin(ctx context.Context, sourcePath string) (lock.Release, *models.ImportRun, error) {
	release, err := s.locker.Acquire(ctx, runLockKey)
	if errors.Is(err, lock.ErrHeld) {
		return nil, nil, ErrRunInProgress
	}
	if err != nil {
		return nil, nil, fmt.Errorf("acquire run lock: %w", err)
	}

	run, err := s.runs.CreateRun(ctx, filepath.Base(sourcePath))
	if err != nil {
		s.release(ctx, release)
		return nil, nil, fmt.Errorf("create import run: %w", err)
	}
	return release, run, nil
}

func (s *ReconciliationService) release(ctx context.Context, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		config.LogError(s.logger, "reconciliation", "release", "release lock", nil, err)
	}
}

func (s *ReconciliationService) execute(ctx context.Context, run *models.ImportRun, sourcePath string, batchSize int) (Result, error) {
	if batchSize <= 0 {
		batchSize = s.opts.BatchSize
	}

	res, runErr := s.run(ctx, run, sourcePath, batchSize)
	res.RunID = run.ID

	run.RowsRead = res.RowsRead
	run.GroupsBuilt = res.Groups
	run.InsertedCount = res.Inserted
	run.SkippedExisting = res.SkippedExisting
	run.SkippedInvalid = len(res.Invalid) + len(res.Incomplete) + len(res.Ambiguous)
	run.Status = models.RunStatusCompleted
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	}
	if err := s.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		config.LogError(s.logger, "reconciliation", "execute", "finish run", run.ID.String(), err)
	}

	return res, runErr
}

func (s *ReconciliationService) run(ctx context.Context, run *models.ImportRun, sourcePath string, batchSize int) (Result, error) {
	var res Result
	log := s.logger.WithFields(logrus.Fields{"run_id": run.ID.String(), "source": sourcePath})

	records, stats, err := s.read(sourcePath, s.opts.SheetName)
	if err != nil {
		return res, fmt.Errorf("read source: %w", err)
	}
	res.RowsRead = stats.RowsRead
	res.RowsDiscarded = stats.RowsDiscarded
	log.WithFields(logrus.Fields{"rows": stats.RowsRead, "discarded": stats.RowsDiscarded}).Debug("source loaded")

	grouped := grouping.GroupRecords(records, s.opts.AnchorPolicy)
	res.Groups = len(grouped.Groups)
	res.Incomplete = grouped.Incomplete
	res.Ambiguous = grouped.Ambiguous
	for _, id := range grouped.Incomplete {
		log.WithField("load_batch_id", id).Warn("skipping batch without unloaded record (incomplete load)")
	}
	for _, id := range grouped.Ambiguous {
		log.WithField("load_batch_id", id).Warn("skipping batch with several unloaded records")
	}

	existing, err := s.tickets.ExistingKeys(ctx)
	if err != nil {
		return res, err
	}

	var pending []*models.MilkTicket
	for _, g := range grouped.Groups {
		if _, ok := existing[g.LoadBatchID]; ok {
			res.SkippedExisting++
			log.WithField("load_batch_id", g.LoadBatchID).Debug("ticket already exists, skipping")
			continue
		}

		if len(g.Loaded) == 0 {
			res.Invalid = append(res.Invalid, g.LoadBatchID)
			log.WithField("load_batch_id", g.LoadBatchID).Warn("no loaded records found, skipping ticket")
			continue
		}
		ticket, err := s.builder.Build(g)
		if err != nil {
			res.Invalid = append(res.Invalid, g.LoadBatchID)
			log.WithField("load_batch_id", g.LoadBatchID).WithError(err).Warn("skipping batch")
			continue
		}
		pending = append(pending, ticket)
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		conflicts, err := s.tickets.InsertBatch(ctx, batch)
		if err != nil {
			commitErr := &CommitError{
				Committed:    res.Inserted,
				NotPersisted: batchIDs(pending[start:]),
				Err:          err,
			}
			config.LogError(s.logger, "reconciliation", "run", "insert batch", commitErr.NotPersisted, err)
			return res, commitErr
		}

		res.Conflicts = append(res.Conflicts, conflicts...)
		res.Inserted += len(batch) - len(conflicts)
		for _, id := range conflicts {
			log.WithField("load_batch_id", id).Warn("ticket inserted concurrently by another writer, skipping")
		}
		log.WithFields(logrus.Fields{"batch_size": len(batch), "inserted_total": res.Inserted}).Debug("batch committed")

		if err := s.runs.UpdateProgress(ctx, run.ID, res.Inserted); err != nil {
			config.LogError(s.logger, "reconciliation", "run", "update progress", run.ID.String(), err)
		}
	}

	log.WithField("inserted", res.Inserted).Info("reconciliation finished")
	return res, nil
}

// Preview builds tickets for the first limit batches a run would store,
// without touching the store. limit <= 0 builds them all.
func (s *ReconciliationService) Preview(ctx context.Context, sourcePath string, limit int) ([]models.MilkTicket, error) {
	records, _, err := s.read(sourcePath, s.opts.SheetName)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	grouped := grouping.GroupRecords(records, s.opts.AnchorPolicy)

	var out []models.MilkTicket
	for _, g := range grouped.Groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		if len(g.Loaded) == 0 {
			continue
		}
		ticket, err := s.builder.Build(g)
		if err != nil {
			s.logger.WithField("load_batch_id", g.LoadBatchID).WithError(err).Debug("preview skipped batch")
			continue
		}
		out = append(out, *ticket)
	}
	return out, nil
}

// GetRun fetches the bookkeeping record of a past run.
func (s *ReconciliationService) GetRun(ctx context.Context, id uuid.UUID) (*models.ImportRun, error) {
	return s.runs.GetRun(ctx, id)
}

func batchIDs(tickets []*models.MilkTicket) []string {
	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.LoadBatchID
	}
	return ids
}
