package commands

import (
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/cmd/pdf-structurer/ui"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/runner"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <name> <url>",
	Short: "Create a pending job and push it onto the queue",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, rawURL := args[0], args[1]

	if _, err := runner.ValidateURL(rawURL); err != nil {
		return err
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
	q, err := a.queue(ctx)
	if err != nil {
		return err
	}

	job := &domain.Job{Name: name, SourceURL: rawURL}
	if err := storage.NewJobRepository(db).Create(ctx, job); err != nil {
		return err
	}

	payload := domain.JobPayload{ID: job.ID.String(), Name: name, URL: rawURL}
	if err := q.Push(ctx, payload); err != nil {
		return err
	}

	ui.Success("Queued job %s", job.ID)
	return nil
}
