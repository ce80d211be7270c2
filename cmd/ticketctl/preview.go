package main

import (
	"milk-ticket-backend/internal/config"
	service "milk-ticket-backend/internal/services/reconciliation"
	"milk-ticket-backend/internal/services/tickets"

	"github.com/spf13/cobra"
)

var (
	previewFile  string
	previewLimit int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the tickets an export would produce without storing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts, err := serviceOptions(cfg)
		if err != nil {
			return err
		}

		// preview never touches the store
		svc := service.NewReconciliationService(nil, nil,
			tickets.NewBuilder(cfg.ReceivingPlant, cfg.ReceivingPlantLocation),
			nil, config.GetLogger(), opts)

		items, err := svc.Preview(cmd.Context(), previewFile, previewLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, items)
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "", "Path to the .xlsx or .csv export")
	previewCmd.Flags().IntVar(&previewLimit, "limit", 10, "Number of tickets to build, 0 for all")
	_ = previewCmd.MarkFlagRequired("file")
}
