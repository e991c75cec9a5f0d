package ledger

import (
	"fmt"
	"strings"
)

// FormatSummary renders a summary for the terminal.
func FormatSummary(s Summary) string {
	var sb strings.Builder
	sb.WriteString("=== routegate cost report ===\n")
	fmt.Fprintf(&sb, "Total requests:  %d", s.TotalRequests)
	if s.FailedRequests > 0 {
		fmt.Fprintf(&sb, " (%d failed)", s.FailedRequests)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Total cost:      $%.4f\n", s.TotalCost)
	fmt.Fprintf(&sb, "Baseline cost:   $%.4f (%s)\n", s.BaselineCost, s.BaselineBackend)
	fmt.Fprintf(&sb, "Total savings:   $%.4f\n", s.TotalSavings)
	fmt.Fprintf(&sb, "Savings:         %.1f%%\n", s.SavingsPercentage)
	if s.BudgetLimit > 0 {
		fmt.Fprintf(&sb, "Budget:          $%.2f\n", s.BudgetLimit)
	}
	if s.OverBudget {
		sb.WriteString("** OVER BUDGET **\n")
	}

	if len(s.ByBackend) > 0 {
		sb.WriteString("\n--- By Backend ---\n")
		for _, b := range s.ByBackend {
			fmt.Fprintf(&sb, "  %s: %d reqs, $%.4f, %d tokens\n", b.Backend, b.Requests, b.Cost, b.Tokens)
		}
	}
	return sb.String()
}
