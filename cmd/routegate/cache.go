package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the response cache",
	}
	cmd.AddCommand(cacheStatsCmd(), cacheEvictCmd(), cacheClearCmd())
	return cmd
}

func cacheStatsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			store, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Stop() }()

			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(st)
			}
			fmt.Printf("location:  %s\n", st.Location)
			fmt.Printf("entries:   %d (%d expired)\n", st.Entries, st.Expired)
			fmt.Printf("size:      %s", formatBytes(st.SizeBytes))
			if st.MaxBytes > 0 {
				fmt.Printf(" of %s", formatBytes(st.MaxBytes))
			}
			fmt.Printf("\nttl:       %s\n", store.TTL())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print stats as JSON")
	return cmd
}

func cacheEvictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			store, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Stop() }()

			n, err := store.EvictExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d expired entries\n", n)
			return nil
		},
	}
}

func cacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			store, err := a.openCache(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Stop() }()

			n, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("cleared %d entries\n", n)
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
