package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/curio/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest payloads from a file or stdin",
	Long: `Ingest one JSON payload or a JSON array of payloads. Each payload is
validated completely before anything is written; re-sending identical content
adds no revisions.

Examples:
  curio ingest payloads.json
  producer --emit | curio ingest -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open payload file: %w", err)
		}
		defer f.Close()
		in = f
	}

	payloads, _, err := ingest.Decode(in)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	outcomes := ingest.New(db, log).IngestMany(ctx, payloads)
	if err := printJSON(cmd.OutOrStdout(), outcomes); err != nil {
		return err
	}
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d payloads failed", failed, len(outcomes))
	}
	return nil
}
