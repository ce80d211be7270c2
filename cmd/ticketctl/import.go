package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"milk-ticket-backend/internal/config"
	"milk-ticket-backend/internal/lock"
	"milk-ticket-backend/internal/models"
	"milk-ticket-backend/internal/repository"
	"milk-ticket-backend/internal/services/grouping"
	service "milk-ticket-backend/internal/services/reconciliation"
	"milk-ticket-backend/internal/services/tickets"

	"github.com/spf13/cobra"
)

var (
	importFile      string
	importBatchSize int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Reconcile an export into the ticket store",
	Long: `import reads an XLSX or CSV export, groups it by load batch and stores a
ticket for every batch that is not stored yet. Running it again on the same
file adds nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := newService(ctx, cfg)
		if err != nil {
			return err
		}

		res, err := svc.Run(ctx, importFile, importBatchSize)
		var commitErr *service.CommitError
		if errors.As(err, &commitErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d batch ids were not stored: %v\n", len(commitErr.NotPersisted), commitErr.NotPersisted)
		}
		if printErr := printJSON(cmd, res); printErr != nil && err == nil {
			err = printErr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "Path to the .xlsx or .csv export")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "Tickets per commit (default from BATCH_SIZE)")
	_ = importCmd.MarkFlagRequired("file")
}

func newService(ctx context.Context, cfg *config.Config) (*service.ReconciliationService, error) {
	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	locker, err := lock.New(ctx, cfg.RedisAddress, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	opts, err := serviceOptions(cfg)
	if err != nil {
		return nil, err
	}

	return service.NewReconciliationService(
		repository.NewTicketRepository(db),
		repository.NewImportRunRepository(db),
		tickets.NewBuilder(cfg.ReceivingPlant, cfg.ReceivingPlantLocation),
		locker,
		config.GetLogger(),
		opts,
	), nil
}

func serviceOptions(cfg *config.Config) (service.Options, error) {
	policy, err := grouping.ParseAnchorPolicy(cfg.AnchorPolicy)
	if err != nil {
		return service.Options{}, err
	}
	return service.Options{
		SheetName:    cfg.SheetName,
		BatchSize:    cfg.BatchSize,
		AnchorPolicy: policy,
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
