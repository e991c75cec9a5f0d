package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zen-systems/routegate/pkg/ledger"
)

func costsCmd() *cobra.Command {
	var (
		backendFlag string
		since       string
		until       string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show spend and savings",
		Long: `Prints the cost report: total spend, savings against the baseline
	backend and a per-backend breakdown.

	Use --since/--until (YYYY-MM-DD, or an age such as 7d or 12h for --since)
	to report on a date range, and --backend to show a single backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = l.Stop() }()

			if backendFlag != "" && since == "" && until == "" {
				t := l.ByBackend(backendFlag)
				if jsonOutput {
					return printJSON(t)
				}
				fmt.Printf("%s: %d reqs (%d failed), $%.4f, saved $%.4f, %d tokens\n",
					backendFlag, t.Requests, t.Failed, t.Cost, t.Savings, t.Tokens())
				return nil
			}

			summary := l.Summary()
			if since != "" || until != "" {
				now := time.Now()
				start, err := parseSince(since, now)
				if err != nil {
					return err
				}
				end := now
				if until != "" {
					if end, err = parseDate(until); err != nil {
						return err
					}
					end = end.Add(24*time.Hour - time.Nanosecond)
				}
				records, err := l.ByDateRange(cmd.Context(), start, end)
				if err != nil {
					return err
				}
				if backendFlag != "" {
					records = filterBackend(records, backendFlag)
				}
				summary = ledger.SummarizeRecords(records, a.cfg.RoutingConfig.BaselineBackend, a.cfg.Ledger.BudgetLimit)
			}

			if jsonOutput {
				return printJSON(summary)
			}
			fmt.Print(ledger.FormatSummary(summary))
			return nil
		},
	}

	cmd.Flags().StringVar(&backendFlag, "backend", "", "only report this backend")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD) or age (7d, 12h)")
	cmd.Flags().StringVar(&until, "until", "", "end date (YYYY-MM-DD), inclusive")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

func purgeCmd() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cost records older than a given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return err
			}

			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			l, err := a.openLedger(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = l.Stop() }()

			n, err := l.PurgeOlderThan(cmd.Context(), age)
			if err != nil {
				return err
			}
			remaining, err := l.RecordCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("purged %d records older than %s; %d remain\n", n, olderThan, remaining)
			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "90d", "age cutoff (e.g. 90d, 720h)")
	return cmd
}

func filterBackend(records []ledger.Record, id string) []ledger.Record {
	var out []ledger.Record
	for _, r := range records {
		if r.Backend == id {
			out = append(out, r)
		}
	}
	return out
}

// parseAge accepts Go durations plus a day suffix ("90d").
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := parseDate(s); err == nil {
		return t, nil
	}
	age, err := parseAge(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q", s)
	}
	return now.Add(-age), nil
}
