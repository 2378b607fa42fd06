package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete ID...",
	Short: "Delete items by id",
	Long: `Delete items and all of their summary revisions. Ids may be bare or
prefixed ("yt:dQw4w9WgXcQ"). Every id is validated before anything is removed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	res, err := db.DeleteItems(context.Background(), args)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
