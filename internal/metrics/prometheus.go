package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Prom struct {
	reg *prometheus.Registry

	LedgerHeight     prometheus.Gauge
	InFlightRequests prometheus.Gauge
	PeerCount        prometheus.Gauge
	BlocksCommitted  prometheus.Counter
	BlocksRejected   prometheus.Counter
	TxGenerated      prometheus.Counter
	SendFailures     prometheus.Counter
	AdvanceLatency   prometheus.Summary
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg:              reg,
		LedgerHeight:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "ledger_height", Help: "Latest validated block height"}),
		InFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{Name: "inflight_block_requests", Help: "Registered block requests awaiting responses"}),
		PeerCount:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "peer_count", Help: "Connected peers"}),
		BlocksCommitted:  prometheus.NewCounter(prometheus.CounterOpts{Name: "blocks_committed_total", Help: "Blocks appended to the ledger"}),
		BlocksRejected:   prometheus.NewCounter(prometheus.CounterOpts{Name: "blocks_rejected_total", Help: "Blocks discarded during advancement"}),
		TxGenerated:      prometheus.NewCounter(prometheus.CounterOpts{Name: "tx_generated_total", Help: "Transactions produced by the generator loop"}),
		SendFailures:     prometheus.NewCounter(prometheus.CounterOpts{Name: "send_failures_total", Help: "Failed peer sends"}),
		AdvanceLatency:   prometheus.NewSummary(prometheus.SummaryOpts{Name: "advance_latency_ms", Help: "Latency of ledger advancement in ms"}),
	}
	reg.MustRegister(p.LedgerHeight, p.InFlightRequests, p.PeerCount, p.BlocksCommitted, p.BlocksRejected, p.TxGenerated, p.SendFailures, p.AdvanceLatency)
	return p
}

func (p *Prom) Handler() http.Handler { return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}) }

// Implement Provider
func (p *Prom) SetGauge(name string, value float64) {
	switch name {
	case "ledger_height":
		p.LedgerHeight.Set(value)
	case "inflight_block_requests":
		p.InFlightRequests.Set(value)
	case "peer_count":
		p.PeerCount.Set(value)
	}
}

func (p *Prom) IncCounter(name string, delta float64) {
	var c prometheus.Counter
	switch name {
	case "blocks_committed_total":
		c = p.BlocksCommitted
	case "blocks_rejected_total":
		c = p.BlocksRejected
	case "tx_generated_total":
		c = p.TxGenerated
	case "send_failures_total":
		c = p.SendFailures
	default:
		return
	}
	c.Add(delta)
}

func (p *Prom) Observe(name string, value float64) {
	switch name {
	case "advance_latency_ms":
		p.AdvanceLatency.Observe(value)
	}
}
