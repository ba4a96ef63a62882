package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"schedd/internal/app"
)

type rootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "schedd",
		Short: "Recurring schedule dispatcher",
		Long: `schedd evaluates recurring and one-off schedule items once per day and
emits a fire event for every item due today.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./schedd.yaml", "path to config (json or yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(
		newServeCommand(opts),
		newDispatchCommand(opts),
		newNextCommand(opts),
		newAgendaCommand(opts),
		newHistoryCommand(opts),
		newRunsCommand(opts),
		newMissedCommand(opts),
		newItemsCommand(opts),
	)
	return cmd
}

// openApp builds the app for a one-shot command. The caller must close it.
func openApp(opts *rootOptions) (*app.App, func(), error) {
	a, err := app.New(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if err := a.ImportConfigured(context.Background()); err != nil {
		_ = a.Stop(context.Background(), app.StopOneShot)
		return nil, nil, err
	}
	return a, func() { _ = a.Stop(context.Background(), app.StopOneShot) }, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
