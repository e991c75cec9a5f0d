package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zen-systems/routegate/pkg/adapter"
	"github.com/zen-systems/routegate/pkg/backend"
	"github.com/zen-systems/routegate/pkg/dispatch"
	"github.com/zen-systems/routegate/pkg/fallback"
	"github.com/zen-systems/routegate/pkg/router"
)

var (
	configDir   string
	configFile  string
	logLevel    string
	debugFlag   bool
	mockFlag    bool
	metricsFile string
)

func main() {
	rootCmd := newRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "routegate",
		Short: "Cost-aware dispatcher for local and hosted language models",
		Long: `Routegate classifies each prompt, picks the cheapest suitable backend,
	reuses cached answers, falls back along a ranked chain when a backend fails,
	and records what every call cost against a baseline backend.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default $ROUTEGATE_HOME or ~/.routegate)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to routing config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "debug logging with console output")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "answer every backend with the mock adapter")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file after the command")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(backendsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(costsCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(healthCmd())

	return rootCmd
}

func askCmd() *cobra.Command {
	var (
		tags        []string
		backendFlag string
		taskFlag    string
		maxTokens   int
		temperature float64
		jsonOutput  bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Dispatch a prompt to the best backend",
		Long: `Classifies the prompt, applies tag rules, and sends it along the
	resulting fallback chain. Cached answers are returned without a backend call.

	Use --tag to trigger routing rules (e.g. --tag critical).
	Use --backend or --task to bypass rules or classification.
	Use --dry-run to print the routing decision without calling anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			req := dispatch.Request{
				Prompt:          args[0],
				Tags:            tags,
				BackendOverride: backendFlag,
				TaskOverride:    taskFlag,
				Params:          adapter.Params{MaxTokens: maxTokens},
			}
			if cmd.Flags().Changed("temperature") {
				req.Params.Temperature = &temperature
			}

			if dryRun {
				r, err := router.New(a.cfg.RoutingConfig)
				if err != nil {
					return err
				}
				decision, err := r.Route(router.Input{
					Prompt:          req.Prompt,
					Tags:            req.Tags,
					TaskOverride:    req.TaskOverride,
					BackendOverride: req.BackendOverride,
				})
				if err != nil {
					return err
				}
				return printDecision(decision, jsonOutput)
			}

			d, promReg, err := a.dispatcher(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = d.Stop() }()

			res, err := d.Handle(cmd.Context(), req)
			if werr := writeMetrics(promReg); werr != nil {
				fmt.Fprintf(os.Stderr, "failed to write metrics: %v\n", werr)
			}
			if err != nil {
				var exhausted *fallback.ExhaustedError
				if errors.As(err, &exhausted) {
					printFailures(exhausted)
				}
				return err
			}

			if jsonOutput {
				return printJSON(res)
			}

			source := "live"
			if res.CacheHit {
				source = "cache"
			}
			fmt.Fprintf(os.Stderr, "Routed %s -> %s (%s)\n", res.Decision.Category, res.Backend, source)
			if res.FallbackUsed() {
				fmt.Fprintf(os.Stderr, "Fell back from %s after %d attempts\n", res.Decision.Backend, len(res.Attempts))
			}
			if res.Cost != nil {
				fmt.Fprintf(os.Stderr, "Cost $%.6f, saved $%.6f vs baseline\n", res.Cost.ActualCost, res.Cost.Savings)
			}
			fmt.Println(res.Artifact.Content)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "request tags for routing rules (repeatable)")
	cmd.Flags().StringVar(&backendFlag, "backend", "", "override the backend")
	cmd.Flags().StringVar(&taskFlag, "task", "", "override the task category")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum output tokens")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the routing decision only")

	return cmd
}

func printDecision(d *router.Decision, asJSON bool) error {
	if asJSON {
		return printJSON(d)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Category\t%s\n", d.Category)
	fmt.Fprintf(w, "Classified backend\t%s\n", d.ClassifiedBackend)
	if d.Rule != "" {
		fmt.Fprintf(w, "Rule\t%s\n", d.Rule)
	}
	fmt.Fprintf(w, "Backend\t%s\n", d.Backend)
	fmt.Fprintf(w, "Chain\t%s\n", strings.Join(d.Chain, " -> "))
	for _, reason := range d.Reasons {
		fmt.Fprintf(w, "Reason\t%s\n", reason)
	}
	return w.Flush()
}

func printFailures(err *fallback.ExhaustedError) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tKIND\tREASON")
	for _, f := range err.Failures {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Backend, f.Kind, f.Reason)
	}
	_ = w.Flush()
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show task types, rules and fallback chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			r, err := router.New(cfg.RoutingConfig)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK TYPE\tBACKEND\tCHAIN\tKEYWORDS")
			for _, route := range r.Routes() {
				keywords := "-"
				if len(route.Keywords) > 0 {
					keywords = formatList(route.Keywords)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", route.TaskType, route.Backend, strings.Join(route.Chain, " -> "), keywords)
			}

			if len(cfg.RoutingConfig.Rules) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "RULE\tTAGS\tBACKEND\tPRIORITY")
				for _, rule := range cfg.RoutingConfig.Rules {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", rule.Name, formatList(rule.Tags), rule.Backend, rule.Priority)
				}
			}
			return w.Flush()
		},
	}
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured backends, pricing and availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			reg, err := a.registry()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tADAPTER\tMODEL\tINPUT/1M\tOUTPUT/1M\tSTATUS")
			for _, info := range reg.Describe() {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t$%.2f\t%s\n",
					info.ID, info.Adapter, info.Model,
					info.Pricing.InputPerMTok, info.Pricing.OutputPerMTok,
					availability(info))
			}
			fmt.Fprintf(w, "\nbaseline: %s\n", a.cfg.RoutingConfig.BaselineBackend)
			return w.Flush()
		},
	}
}

func availability(info backend.Info) string {
	if info.Available {
		return "ready"
	}
	return "no key"
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the routing configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if _, err := router.New(cfg.RoutingConfig); err != nil {
				return err
			}
			fmt.Printf("routing config OK: %d task types, %d rules, %d backends\n",
				len(cfg.RoutingConfig.TaskTypes), len(cfg.RoutingConfig.Rules), len(cfg.RoutingConfig.Backends))
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report cache and ledger health",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer a.close()

			d, _, err := a.dispatcher(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = d.Stop() }()
			return printJSON(d.Health(cmd.Context()))
		},
	}
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
