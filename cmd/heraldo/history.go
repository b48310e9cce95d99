package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/heraldo/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		page       int
		limit      int
		date       string
	)

	cmd := &cobra.Command{
		Use:   "history <tenant>",
		Short: "List a tenant's send history",
		Long:  "Prints one page of a tenant's send records, newest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, args[0], store.HistoryQuery{Page: page, PageSize: limit, Date: date})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to heraldo config file")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultPageSize, "records per page")
	cmd.Flags().StringVar(&date, "date", "", "only show sends on this day (YYYY-MM-DD)")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath, tenant string, q store.HistoryQuery) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	st, err := storeFromConfig(cfg, gormDB)
	if err != nil {
		return err
	}
	res, err := st.History(cmd.Context(), tenant, q)
	if err != nil {
		return err
	}
	printHistory(cmd, res)
	return nil
}

func printHistory(cmd *cobra.Command, res store.HistoryPage) {
	out := cmd.OutOrStdout()
	if len(res.Records) == 0 {
		fmt.Fprintln(out, "No sends found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENT AT\tSTATUS\tADDRESS\tNAME\tMESSAGE")
	for _, r := range res.Records {
		name := r.ContactName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.SentAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Address, name, truncate(r.Message, 40))
	}
	w.Flush()
	fmt.Fprintf(out, "\nPage %d of %d (%d sends)\n", res.Page, res.TotalPages, res.Total)
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
