package cost

import (
	"math"
	"sync"
	"testing"

	"github.com/sprite-ai/fixrev/internal/model"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		model string
		usage model.Usage
		want  float64
	}{
		{"claude-sonnet-4-6", model.Usage{InputTokens: 1_000_000}, 3.00},
		{"claude-sonnet-4-6", model.Usage{OutputTokens: 1_000_000}, 15.00},
		{"gpt-4o-mini", model.Usage{InputTokens: 2_000_000, OutputTokens: 1_000_000}, 0.90},
		{"o1-mini", model.Usage{InputTokens: 500_000}, 0.55},
		{"some-new-model", model.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 18.00},
	}
	for _, tt := range tests {
		if got := Estimate(tt.model, tt.usage); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Estimate(%s, %+v) = %f, want %f", tt.model, tt.usage, got, tt.want)
		}
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		usd  float64
		want string
	}{
		{0, "<$0.001"},
		{0.0009, "<$0.001"},
		{0.001, "$0.001"},
		{0.01234, "$0.012"},
		{1.5, "$1.500"},
	}
	for _, tt := range tests {
		if got := FormatCost(tt.usd); got != tt.want {
			t.Errorf("FormatCost(%v) = %q, want %q", tt.usd, got, tt.want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	if got := FormatTokens(1230); got != "~1,230" {
		t.Errorf("FormatTokens(1230) = %q", got)
	}
	if got := FormatTokens(42); got != "~42" {
		t.Errorf("FormatTokens(42) = %q", got)
	}
}

type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (o *countingObserver) ObserveCall(string, model.Usage, float64) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
}

func TestLedgerConcurrent(t *testing.T) {
	obs := &countingObserver{}
	l := NewLedger(obs)

	const workers, perWorker = 16, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				l.Record("gpt-4o", model.Usage{InputTokens: 10, OutputTokens: 5})
			}
		}()
	}
	wg.Wait()

	got := l.Snapshot()
	n := workers * perWorker
	if got.Calls != n {
		t.Errorf("Calls = %d, want %d", got.Calls, n)
	}
	if got.InputTokens != 10*n || got.OutputTokens != 5*n {
		t.Errorf("tokens = %d/%d, want %d/%d", got.InputTokens, got.OutputTokens, 10*n, 5*n)
	}
	want := Estimate("gpt-4o", model.Usage{InputTokens: 10 * n, OutputTokens: 5 * n})
	if math.Abs(got.CostUSD-want) > 1e-9 {
		t.Errorf("CostUSD = %f, want %f", got.CostUSD, want)
	}
	if obs.calls != n {
		t.Errorf("observer saw %d calls, want %d", obs.calls, n)
	}
}

func TestTotalsString(t *testing.T) {
	tot := Totals{InputTokens: 1000, OutputTokens: 230, CostUSD: 0.0004, Calls: 2}
	want := "~1,230 tokens (~1,000 in / ~230 out), <$0.001, 2 call(s)"
	if got := tot.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
