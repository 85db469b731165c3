package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/cmd/pdf-structurer/ui"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

var (
	extractOutput  string
	extractName    string
	extractPersist bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf-path>",
	Short: "Run the pipeline on a local PDF and print the components",
	Long: `Extract, structure and merge a local PDF without going through the queue.
The component list is written as JSON to stdout or --output. With --persist the
result is also stored under the document name.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "write components JSON to this file")
	extractCmd.Flags().StringVar(&extractName, "name", "", "document name (default: file name)")
	extractCmd.Flags().BoolVar(&extractPersist, "persist", false, "store the result in the database")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	name := extractName
	if name == "" {
		name = filepath.Base(path)
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	spinner := ui.NewSpinner("Opening " + name)
	spinner.Start()

	var (
		mu    sync.Mutex
		total int
		bar   *ui.ProgressBar
	)
	onPage := func(page int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			spinner.Stop()
			bar = ui.NewProgressBar(int64(total), "Structuring")
		}
		bar.Add(1)
	}

	pipeline, err := a.pipeline(ctx, onPage)
	if err != nil {
		spinner.Stop()
		return err
	}
	pipeline.OnOpen = func(pages int) {
		mu.Lock()
		total = pages
		mu.Unlock()
		spinner.UpdateMessage(fmt.Sprintf("Extracting %d pages", pages))
	}

	workDir, err := os.MkdirTemp(a.cfg.Runner.WorkDir, "pdf-extract-*")
	if err != nil {
		spinner.Stop()
		return domain.IOError("create work dir", err)
	}
	defer os.RemoveAll(workDir)

	start := time.Now()
	out, err := pipeline.Process(ctx, name, path, workDir)

	mu.Lock()
	if bar != nil {
		bar.Finish()
	} else {
		spinner.Stop()
	}
	mu.Unlock()

	if err != nil {
		ui.Error("Extraction failed: %v", err)
		return err
	}

	if extractPersist {
		db, err := a.openDB(ctx)
		if err != nil {
			return err
		}
		if err := storage.NewResultRepository(db).Persist(ctx, &storage.Result{
			File:           name,
			Components:     out.Components,
			Assets:         out.Assets,
			PageSizes:      out.PageSizes,
			Chunks:         out.Chunks,
			EmbeddingModel: out.EmbeddingModel,
		}); err != nil {
			return err
		}
	}

	if err := writeComponents(out.Components); err != nil {
		return err
	}

	summary := fmt.Sprintf("%d components, %d assets, %d chunks in %s",
		len(out.Components), len(out.Assets), len(out.Chunks), ui.FormatDuration(time.Since(start)))
	if extractOutput != "" {
		ui.Success("%s written to %s", summary, extractOutput)
	} else {
		fmt.Fprintln(os.Stderr, summary)
	}
	return nil
}

func writeComponents(components []domain.Component) error {
	var w io.Writer = os.Stdout
	if extractOutput != "" {
		f, err := os.Create(extractOutput)
		if err != nil {
			return domain.IOError("create output file", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(components)
}
