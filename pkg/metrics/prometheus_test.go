package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue reads a counter sample from the default registry.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestRecordTickCounts(t *testing.T) {
	labels := map[string]string{"kind": "schedule", "outcome": "ok"}
	before := counterValue(t, "statusbot_ticks_total", labels)
	RecordTick("schedule", "ok", 20*time.Millisecond)
	RecordTick("schedule", "ok", 10*time.Millisecond)
	if got := counterValue(t, "statusbot_ticks_total", labels); got != before+2 {
		t.Fatalf("expected two more ticks, got %v (before %v)", got, before)
	}
}

func TestRecordStoreOperationStatus(t *testing.T) {
	RecordStoreOperation("kv_get", nil)
	RecordStoreOperation("kv_get", errors.New("boom"))
	if counterValue(t, "statusbot_store_operations_total", map[string]string{"operation": "kv_get", "status": "success"}) < 1 {
		t.Fatalf("expected success sample")
	}
	if counterValue(t, "statusbot_store_operations_total", map[string]string{"operation": "kv_get", "status": "error"}) < 1 {
		t.Fatalf("expected error sample")
	}
}
