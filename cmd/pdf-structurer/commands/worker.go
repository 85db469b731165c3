package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/runner"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume jobs from the queue until interrupted",
	Long: `Poll the job queue, download each document, run the extraction and
structuring pipeline and persist the result. The worker sleeps between polls
when the queue is empty and backs off after errors.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(false)
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
	pipeline, err := a.pipeline(ctx, nil)
	if err != nil {
		return err
	}

	rc := a.cfg.Runner
	downloader := runner.NewHTTPDownloader(rc.DownloadTimeout, rc.MaxDownloadMB*1024*1024, a.logger)
	r := runner.New(q, storage.NewJobRepository(db), storage.NewResultRepository(db), pipeline, downloader, rc, a.logger)

	a.logger.Info().
		Str("queue", a.cfg.Queue.Driver).
		Str("database", db.Driver()).
		Str("llm", a.cfg.LLM.Provider).
		Msg("Worker started")

	err = r.Run(ctx)
	a.logger.Info().Msg("Worker stopped")
	return err
}
