package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conresinc/cloin.eda/internal/config"
	"github.com/conresinc/cloin.eda/internal/cursor"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect and manage source cursors",
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset <source>",
	Short: "Clear a source's cursor so its next run starts fresh",
	Args:  cobra.ExactArgs(1),
	RunE:  runCursorReset,
}

var cursorShowCmd = &cobra.Command{
	Use:   "show <source>",
	Short: "Print a source's stored cursor",
	Args:  cobra.ExactArgs(1),
	RunE:  runCursorShow,
}

func init() {
	cursorCmd.AddCommand(cursorResetCmd)
	cursorCmd.AddCommand(cursorShowCmd)
	rootCmd.AddCommand(cursorCmd)
}

// newStore opens the configured durable backend. The memory backend has
// nothing to manage offline.
func newStore(ctx context.Context) (cursor.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	switch cfg.Cursor.Backend {
	case "redis":
		return cursor.NewRedis(cfg.Cursor.Redis.URL)
	case "postgres":
		return cursor.NewPostgres(ctx, cfg.Cursor.Postgres.URL)
	default:
		return nil, fmt.Errorf("cursor backend %q holds no durable state", cfg.Cursor.Backend)
	}
}

func runCursorReset(cmd *cobra.Command, args []string) error {
	store, err := newStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Reset(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cursor for %q cleared\n", args[0])
	return nil
}

func runCursorShow(cmd *cobra.Command, args []string) error {
	store, err := newStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	marker, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if marker == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "no cursor stored for %q\n", args[0])
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v\n", marker)
	return nil
}
