package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/stackbirds/invoiceguard/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the learned price history",
	Long:  "Commands for viewing what the system has learned from approved invoices.",
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learned history counters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("history"); err != nil {
			return err
		}

		st, err := store.New(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "history: stats")
		}

		fmt.Printf("Vendors with learned history:  %d\n", stats.Vendors)
		fmt.Printf("Items with learned history:    %d\n", stats.Items)
		fmt.Printf("Learned observations:          %d\n", stats.Observations)
		fmt.Printf("Approvals recorded:            %d\n", stats.Approvals)
		fmt.Printf("Decisions stored:              %d\n", stats.Decisions)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <vendor> <item>",
	Short: "List learned observations for one vendor and item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("history"); err != nil {
			return err
		}

		st, err := store.New(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		obs, err := st.Observations(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "history: observations")
		}
		if len(obs) == 0 {
			fmt.Fprintln(os.Stderr, "No observations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OBSERVED\tQTY\tUNIT PRICE\tINVOICE")
		for _, o := range obs {
			fmt.Fprintf(w, "%s\t%s\t$%s\t%s\n",
				o.ObservedAt.Format("2006-01-02"),
				o.Quantity.String(),
				o.UnitPrice.StringFixed(2),
				o.InvoiceNumber,
			)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}
