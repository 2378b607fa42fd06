package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/curio/internal/feedsync"
	"github.com/bryan-buckman/curio/internal/ingest"
	"github.com/bryan-buckman/curio/internal/opml"
)

var (
	channelTitle  string
	channelSource string
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage channel feed subscriptions",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscribed channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		chans, err := db.ListChannels(context.Background())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), chans)
	},
}

var channelsAddCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Subscribe to a channel feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		title := channelTitle
		if title == "" {
			title = args[0]
		}
		id, created, err := db.UpsertChannel(context.Background(), title, args[0], channelSource)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": id, "created": created})
	},
}

var channelsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Unsubscribe from a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid channel id %q", args[0])
		}
		db, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		ok, err := db.DeleteChannel(context.Background(), id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("channel %d not found", id)
		}
		return nil
	},
}

var channelsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Subscribe to every feed in an OPML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open opml: %w", err)
		}
		defer f.Close()

		db, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		res, err := opml.Import(context.Background(), db, f, cfg.DefaultSource)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d channels (%d already subscribed)\n", res.Added, res.Existing)
		return nil
	},
}

var channelsExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Write subscriptions as OPML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		chans, err := db.ListChannels(context.Background())
		if err != nil {
			return err
		}
		data, err := opml.Export("Curio Channels", chans, time.Now())
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return os.WriteFile(args[0], data, 0o644)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch every subscribed channel once",
	Long: `Fetch all subscribed channel feeds and ingest their entries. New entries
create items; entries already indexed only refresh their metadata.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		db, err := openStore()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		fetcher := feedsync.NewFetcher(db, ingest.New(db, log), cfg.FetchOptions(), log)
		results, err := fetcher.FetchAll(ctx)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range results {
			total += n
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d channels, %d new items\n", len(results), total)
		return nil
	},
}

func init() {
	channelsAddCmd.Flags().StringVar(&channelTitle, "title", "", "display title (defaults to the URL)")
	channelsAddCmd.Flags().StringVar(&channelSource, "source", "", "source slug for the channel's items")

	channelsCmd.AddCommand(channelsListCmd, channelsAddCmd, channelsRemoveCmd, channelsImportCmd, channelsExportCmd)
	rootCmd.AddCommand(channelsCmd, pollCmd)
}
