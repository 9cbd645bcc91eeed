package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"revledger/core/events"
)

func findMetric(t *testing.T, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if value, ok := want[pair.GetName()]; ok {
			if value != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestDistributionMetrics(t *testing.T) {
	m := Distribution()
	m.RecordInflow("metrics-test", "", "nhb", uint256.NewInt(5))
	m.RecordInflow("metrics-test", "sync", "nhb", uint256.NewInt(7))
	m.RecordClaim("metrics-test", nil, 10*time.Millisecond)
	m.RecordClaim("metrics-test", errors.New("boom"), time.Millisecond)
	m.RecordState("metrics-test", uint256.NewInt(300), uint256.NewInt(2))

	amount := findMetric(t, "revledger_distribution_inflow_amount_total", map[string]string{"manager": "metrics-test", "asset": "NHB"})
	if got := amount.GetCounter().GetValue(); got != 12 {
		t.Fatalf("inflow amount = %v, want 12", got)
	}
	direct := findMetric(t, "revledger_distribution_inflows_total", map[string]string{"manager": "metrics-test", "origin": "direct"})
	if got := direct.GetCounter().GetValue(); got != 1 {
		t.Fatalf("direct inflows = %v, want 1", got)
	}
	failed := findMetric(t, "revledger_distribution_claims_total", map[string]string{"manager": "metrics-test", "outcome": "error"})
	if got := failed.GetCounter().GetValue(); got != 1 {
		t.Fatalf("failed claims = %v, want 1", got)
	}
	weight := findMetric(t, "revledger_distribution_total_weight", map[string]string{"manager": "metrics-test"})
	if got := weight.GetGauge().GetValue(); got != 300 {
		t.Fatalf("total weight = %v, want 300", got)
	}
}

func TestPayoutdPauseGauge(t *testing.T) {
	m := Payoutd()
	m.SetPause(true)
	if got := findMetric(t, "revledger_payoutd_pause_engaged", nil).GetGauge().GetValue(); got != 1 {
		t.Fatalf("pause gauge = %v, want 1", got)
	}
	m.SetPause(false)
	if got := findMetric(t, "revledger_payoutd_pause_engaged", nil).GetGauge().GetValue(); got != 0 {
		t.Fatalf("pause gauge = %v, want 0", got)
	}
}

type namedEvent string

func (e namedEvent) EventType() string { return string(e) }

func TestEventsCountsByType(t *testing.T) {
	var emitter events.Emitter = Events()
	emitter.Emit(namedEvent(events.TypeClaimExecuted))
	emitter.Emit(namedEvent("  "))

	executed := findMetric(t, "revledger_events_emitted_total", map[string]string{"type": events.TypeClaimExecuted})
	if executed.GetCounter().GetValue() < 1 {
		t.Fatalf("expected claim executed to be counted")
	}
	unknown := findMetric(t, "revledger_events_emitted_total", map[string]string{"type": "unknown"})
	if unknown.GetCounter().GetValue() < 1 {
		t.Fatalf("expected blank type to be counted as unknown")
	}
}

func TestBigToFloatHandlesLargeValues(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 2000)
	if got := bigToFloat(huge); got != 0 {
		t.Fatalf("overflowing value = %v, want 0", got)
	}
	if got := bigToFloat(big.NewInt(42)); got != 42 {
		t.Fatalf("bigToFloat(42) = %v", got)
	}
}
