package ledger

import (
	"time"

	"github.com/zen-systems/routegate/pkg/config"
)

// Record is one append-only cost entry.
type Record struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Backend      string    `json:"backend"`
	TokensIn     int       `json:"tokens_in"`
	TokensOut    int       `json:"tokens_out"`
	ActualCost   float64   `json:"actual_cost"`
	BaselineCost float64   `json:"baseline_cost"`
	Savings      float64   `json:"savings"`
	Category     string    `json:"category,omitempty"`
	Success      bool      `json:"success"`
}

// Totals aggregates a set of records.
type Totals struct {
	Requests     int     `json:"requests"`
	Failed       int     `json:"failed"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
	Cost         float64 `json:"total_cost"`
	BaselineCost float64 `json:"baseline_cost"`
	Savings      float64 `json:"total_savings"`
}

// Tokens returns input plus output tokens.
func (t Totals) Tokens() int {
	return t.TokensIn + t.TokensOut
}

func (t *Totals) add(r Record) {
	t.Requests++
	if !r.Success {
		t.Failed++
	}
	t.TokensIn += r.TokensIn
	t.TokensOut += r.TokensOut
	t.Cost += r.ActualCost
	t.BaselineCost += r.BaselineCost
	t.Savings += r.Savings
}

func (t *Totals) sub(r Record) {
	t.Requests--
	if !r.Success {
		t.Failed--
	}
	t.TokensIn -= r.TokensIn
	t.TokensOut -= r.TokensOut
	t.Cost -= r.ActualCost
	t.BaselineCost -= r.BaselineCost
	t.Savings -= r.Savings
}

// Cost prices a call in USD from per-million-token rates.
func Cost(p config.ModelPricing, tokensIn, tokensOut int) float64 {
	return (float64(tokensIn)*p.InputPerMTok + float64(tokensOut)*p.OutputPerMTok) / 1_000_000
}
