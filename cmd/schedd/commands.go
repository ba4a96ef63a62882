package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"schedd/internal/recurrence"
	"schedd/internal/schedule"
	"schedd/internal/storage"
)

// dateFlag parses an optional YYYY-MM-DD flag; empty means today.
func dateFlag(raw string, today recurrence.Date) (recurrence.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return today, nil
	}
	return recurrence.ParseDate(raw)
}

func newDispatchCommand(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run the daily dispatch once and exit",
		Long: `Run the daily dispatch once. Items already checked on the date are
skipped, so running it twice in a day fires nothing the second time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			d, err := dateFlag(date, a.Dispatcher().Today())
			if err != nil {
				return err
			}
			rep, runErr := a.RunOnce(cmd.Context(), d)
			if opts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), rep.String())
				for _, id := range rep.FiredIDs {
					fmt.Fprintf(cmd.OutOrStdout(), "  fired %s\n", id)
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "dispatch date (YYYY-MM-DD, default today)")
	return cmd
}

type nextResult struct {
	ID       string          `json:"id"`
	Rule     string          `json:"rule"`
	Next     recurrence.Date `json:"next,omitzero"`
	HasNext  bool            `json:"has_next"`
	Expired  bool            `json:"expired,omitempty"`
	LastFire recurrence.Date `json:"last_fire,omitzero"`
}

func newNextCommand(opts *rootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Show the next occurrence of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			today, err := dateFlag(from, a.Dispatcher().Today())
			if err != nil {
				return err
			}
			it, err := a.Store().GetItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ev := a.Evaluator()
			res := nextResult{ID: it.ID, Rule: it.Describe(), Expired: ev.Expired(it, today)}
			res.Next, res.HasNext = ev.NextOccurrence(it, today)
			if n := len(it.FireHistory); n > 0 {
				res.LastFire = it.FireHistory[n-1]
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			next := "none"
			if res.HasNext {
				next = res.Next.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\nnext: %s\n", res.ID, res.Rule, next)
			if res.Expired {
				fmt.Fprintln(cmd.OutOrStdout(), "expired: start passed without firing")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "reference date (YYYY-MM-DD, default today)")
	return cmd
}

func listAll(ctx context.Context, st storage.Store) ([]schedule.Item, error) {
	return st.ListItems(ctx, storage.ListQuery{})
}

func newAgendaCommand(opts *rootOptions) *cobra.Command {
	var (
		from string
		days int
	)
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Print which items occur on each of the next days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			start, err := dateFlag(from, a.Dispatcher().Today())
			if err != nil {
				return err
			}
			items, err := listAll(cmd.Context(), a.Store())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				out := map[string][]recurrence.Date{}
				end := start.AddDays(max(days, 1) - 1)
				for _, it := range items {
					if occ := a.Evaluator().Occurrences(it, start, end); len(occ) > 0 {
						out[it.ID] = occ
					}
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			return schedule.WriteAgenda(cmd.OutOrStdout(), items, a.Evaluator(), start, days)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&days, "days", 7, "number of days")
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "List the dates an item fired on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			it, err := a.Store().GetItem(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no item %q", args[0])
			}
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"id":           it.ID,
					"last_checked": it.LastChecked,
					"fire_history": it.FireHistory,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  last checked %s\n", it.ID, orDash(it.LastChecked.String()))
			for _, d := range it.FireHistory {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", d, d.Weekday().String()[:3])
			}
			return nil
		},
	}
}

func newRunsCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent dispatch runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := a.Store().ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tSTARTED\tCHECKED\tFIRED\tINVALID\tFAILED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.Date, r.StartedAt.Format("15:04:05"), r.Checked, r.Fired, r.Invalid, r.Failed, orDash(r.Error))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}

func newMissedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "missed",
		Short: "List one-off items whose date passed without firing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := listAll(cmd.Context(), a.Store())
			if err != nil {
				return err
			}
			today := a.Dispatcher().Today()
			var missed []schedule.Item
			for _, it := range items {
				if a.Evaluator().Expired(it, today) {
					missed = append(missed, it)
				}
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), missed)
			}
			for _, it := range missed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", it.StartDate(), it.ID, it.Title)
			}
			return nil
		},
	}
}

func newItemsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage schedule items",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import item definitions (yaml or json); dispatch state is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := a.ImportItems(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d item(s)\n", n)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeFn, err := openApp(opts)
			if err != nil {
				return err
			}
			defer closeFn()
			items, err := listAll(cmd.Context(), a.Store())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tRULE")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.Status, it.Title, it.Describe())
			}
			return tw.Flush()
		},
	})
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
