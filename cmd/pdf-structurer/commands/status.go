package commands

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/cmd/pdf-structurer/ui"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status and stored row counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("invalid job id %q", args[0]), err)
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}

	job, err := storage.NewJobRepository(db).Get(ctx, id)
	if err != nil {
		return err
	}

	ui.Section("Job " + job.ID.String())
	ui.Table([]string{"FIELD", "VALUE"}, [][]string{
		{"name", job.Name},
		{"url", job.SourceURL},
		{"status", string(job.Status)},
		{"error", job.Error},
		{"created", job.CreatedAt.Format("2006-01-02 15:04:05")},
		{"updated", job.UpdatedAt.Format("2006-01-02 15:04:05")},
	})

	if job.Status != domain.JobStatusSuccess {
		return nil
	}

	results := storage.NewResultRepository(db)
	var rows [][]string
	for _, table := range []string{"pdf_objects", "pdf_assets", "pdf_embeddings"} {
		n, err := results.Count(ctx, table, job.Name)
		if err != nil {
			return err
		}
		rows = append(rows, []string{table, strconv.Itoa(n)})
	}
	fmt.Println()
	ui.Table([]string{"TABLE", "ROWS"}, rows)
	return nil
}
