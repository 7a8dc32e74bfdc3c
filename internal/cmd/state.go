package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/masahif/oppcrawl/internal/config"
	"github.com/masahif/oppcrawl/internal/storage"
)

var errNoStateDatabase = errors.New("no checkpoint database configured (use --database or state.database_path)")

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear the resume checkpoint",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show [listing-url]",
			Short: "Print the checkpoint of the configured site",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCheckpoint(args, func(cfg *config.CrawlConfig, cp *storage.Checkpoint) error {
					return showCheckpoint(cmd.OutOrStdout(), cfg.SourceName(), cp)
				})
			},
		},
		&cobra.Command{
			Use:   "reset [listing-url]",
			Short: "Forget seen and delivered ids of the configured site",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCheckpoint(args, func(cfg *config.CrawlConfig, cp *storage.Checkpoint) error {
					if err := cp.Reset(); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint of %s cleared\n", cfg.SourceName())
					return nil
				})
			},
		},
	)
	return cmd
}

func withCheckpoint(args []string, fn func(*config.CrawlConfig, *storage.Checkpoint) error) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if cfg.State.DatabasePath == "" {
		return errNoStateDatabase
	}

	store, err := storage.NewSQLiteStorage(cfg.State.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	defer func() { _ = store.Close() }()

	return fn(cfg, store.Checkpoint(cfg.SourceName()))
}

func showCheckpoint(w io.Writer, source string, cp *storage.Checkpoint) error {
	snap, err := cp.Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "source=%s seen=%d delivered=%d pending=%d last_page=%d\n",
		source, len(snap.Seen), len(snap.Delivered), len(snap.Pending), snap.LastPage)
	return nil
}
