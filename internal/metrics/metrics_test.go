package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sprite-ai/fixrev/internal/fault"
	"github.com/sprite-ai/fixrev/internal/model"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCall("gpt-4o", model.Usage{InputTokens: 100, OutputTokens: 40}, 0.5)
	m.ObserveAttempt("gpt-4o", nil, time.Second, false)
	m.ObserveAttempt("gpt-4o", fault.New(fault.RateLimited, "", errors.New("429")), time.Second, true)
	m.ObserveGroup(model.StateApplied)
	m.TrackInFlight(2)
	m.TrackInFlight(-1)

	got := gather(t, reg)
	checks := map[string]float64{
		"fixrev_tokens_total,direction=input,model=gpt-4o":                 100,
		"fixrev_tokens_total,direction=output,model=gpt-4o":                40,
		"fixrev_cost_usd_total":                                            0.5,
		"fixrev_provider_calls_total,model=gpt-4o,result=ok":               1,
		"fixrev_provider_calls_total,model=gpt-4o,result=rate-limited":     1,
		"fixrev_provider_retries_total":                                    1,
		"fixrev_provider_call_seconds,model=gpt-4o":                        2,
		"fixrev_patch_groups_total,state=applied":                          1,
		"fixrev_requests_in_flight":                                        1,
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s = %v, want %v", k, got[k], want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCall("x", model.Usage{}, 0)
	m.ObserveAttempt("x", nil, 0, false)
	m.ObserveGroup(model.StateSkipped)
	m.TrackInFlight(1)
	m.ObserveDegraded()
}
