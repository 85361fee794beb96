package metrics

import "testing"

func TestNoopProviderAcceptsEverything(t *testing.T) {
	var p Provider = Noop{}
	p.SetGauge("ledger_height", 1)
	p.IncCounter("blocks_committed_total", 1)
	p.Observe("advance_latency_ms", 2.5)
}

func TestPromProviderIgnoresUnknownNames(t *testing.T) {
	p := NewProm()
	p.SetGauge("ledger_height", 42)
	p.IncCounter("blocks_committed_total", 1)
	p.Observe("advance_latency_ms", 1.5)

	// Metrics outside the fixed set are dropped, not registered on the fly.
	p.SetGauge("nonexistent", 1)
	p.IncCounter("nonexistent", 1)
	p.Observe("nonexistent", 1)

	if p.Handler() == nil {
		t.Fatal("expected a scrape handler")
	}
}
