// Package cost tracks token usage and estimated spend for a run.
package cost

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sprite-ai/fixrev/internal/model"
)

// Pricing is the price of a model in USD per 1M tokens.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing applies to models missing from the table.
var DefaultPricing = Pricing{InputPer1M: 3.00, OutputPer1M: 15.00}

var pricing = map[string]Pricing{
	// Anthropic
	"claude-sonnet-4-6":         {3.00, 15.00},
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-haiku-3-5-20241022": {0.80, 4.00},
	"claude-opus-4-20250514":    {15.00, 75.00},

	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4-turbo": {10.00, 30.00},
	"o1":          {15.00, 60.00},
	"o1-mini":     {1.10, 4.40},
}

// PricingFor returns the pricing of a model, falling back to DefaultPricing.
func PricingFor(modelName string) Pricing {
	if p, ok := pricing[modelName]; ok {
		return p
	}
	return DefaultPricing
}

// Estimate returns the USD cost of usage on the given model.
func Estimate(modelName string, u model.Usage) float64 {
	p := PricingFor(modelName)
	return float64(u.InputTokens)/1_000_000*p.InputPer1M +
		float64(u.OutputTokens)/1_000_000*p.OutputPer1M
}

// Totals is a point-in-time view of a Ledger.
type Totals struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Calls        int     `json:"calls"`
}

// TotalTokens returns input plus output tokens.
func (t Totals) TotalTokens() int {
	return t.InputTokens + t.OutputTokens
}

// String renders the totals for the end-of-run report.
func (t Totals) String() string {
	return fmt.Sprintf("%s tokens (%s in / %s out), %s, %d call(s)",
		FormatTokens(t.TotalTokens()), FormatTokens(t.InputTokens), FormatTokens(t.OutputTokens),
		FormatCost(t.CostUSD), t.Calls)
}

// Observer receives every recorded call, e.g. to export metrics.
type Observer interface {
	ObserveCall(modelName string, u model.Usage, costUSD float64)
}

// Ledger accumulates usage for one run. It is safe for concurrent use and
// is passed explicitly to everything that calls a provider.
type Ledger struct {
	mu       sync.Mutex
	totals   Totals
	observer Observer
}

// NewLedger returns an empty ledger. observer may be nil.
func NewLedger(observer Observer) *Ledger {
	return &Ledger{observer: observer}
}

// Record adds one provider call and returns its cost.
func (l *Ledger) Record(modelName string, u model.Usage) float64 {
	c := Estimate(modelName, u)

	l.mu.Lock()
	l.totals.InputTokens += u.InputTokens
	l.totals.OutputTokens += u.OutputTokens
	l.totals.CostUSD += c
	l.totals.Calls++
	l.mu.Unlock()

	if l.observer != nil {
		l.observer.ObserveCall(modelName, u, c)
	}
	return c
}

// Snapshot returns the current totals.
func (l *Ledger) Snapshot() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// FormatCost renders a USD amount.
func FormatCost(usd float64) string {
	if usd < 0.001 {
		return "<$0.001"
	}
	return fmt.Sprintf("$%.3f", usd)
}

// FormatTokens renders an approximate token count, e.g. "~1,230".
func FormatTokens(n int) string {
	return "~" + humanize.Comma(int64(n))
}
