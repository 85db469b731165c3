package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/cmd/pdf-structurer/ui"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	db, err := storage.Open(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		ui.Info("Database schema is up to date (%s)", db.Driver())
		return nil
	}
	for _, v := range applied {
		ui.Success("Applied %s", v)
	}
	return nil
}
