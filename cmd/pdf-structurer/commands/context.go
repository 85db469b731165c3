package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/embedding"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

var contextLimit int

var contextCmd = &cobra.Command{
	Use:   "context <file> <sentence>",
	Short: "Find the stored chunks most similar to a sentence",
	Long: `Embed a sentence and return the nearest chunks of a processed document,
together with the chunk that contains the sentence and its neighbours.`,
	Args: cobra.ExactArgs(2),
	RunE: runContext,
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().IntVarP(&contextLimit, "limit", "n", 3, "number of similar chunks")
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	embedder, err := a.embedder(ctx)
	if err != nil {
		return err
	}
	if embedder == nil {
		return domain.ConfigError("context lookup needs embeddings enabled with an API key", nil)
	}

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}

	result, err := embedding.Lookup(ctx, storage.NewResultRepository(db), embedder, args[0], args[1], contextLimit)
	if err != nil {
		return fmt.Errorf("context lookup: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
