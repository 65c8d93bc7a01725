package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kosmos-bio/kosmos/internal/app"
	"github.com/kosmos-bio/kosmos/internal/config"
	"github.com/kosmos-bio/kosmos/internal/document"
	"github.com/kosmos-bio/kosmos/internal/log"
)

// ingestScanBufBytes bounds one JSON line; publication full texts run long.
const ingestScanBufBytes = 4 * 1024 * 1024

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl>",
	Short: "Embed and store documents from a JSON-lines file",
	Long: `Read documents from a JSON-lines file, one document per line:

  {"id": "GLDS-242", "content": "...", "metadata": {"title": "...", "source_type": "dataset", ...}}

Each document is validated, embedded and upserted. Re-ingesting a file is
safe; documents are idempotent by id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateAI(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{})
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var stored, failed int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), ingestScanBufBytes)
	for line := 1; scanner.Scan(); line++ {
		if ctx.Err() != nil {
			break
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			logger.Warn("skipping malformed line", "line", line, "error", err)
			failed++
			continue
		}
		if err := doc.Validate(); err != nil {
			logger.Warn("skipping invalid document", "line", line, "id", doc.ID, "error", err)
			failed++
			continue
		}

		embedding, err := a.Embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embedding %s (line %d, %d stored so far): %w", doc.ID, line, stored, err)
		}
		if err := a.Store.Upsert(ctx, doc, embedding); err != nil {
			return fmt.Errorf("storing %s (line %d, %d stored so far): %w", doc.ID, line, stored, err)
		}
		stored++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ingest interrupted after %d documents: %w", stored, err)
	}

	fmt.Printf("ingested %d documents (%d skipped)\n", stored, failed)
	return nil
}
