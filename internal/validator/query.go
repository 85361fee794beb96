package validator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"valnode/internal/metrics"
)

// startHTTPServer serves the query API alongside /metrics and /healthz. The
// block endpoints mirror the snapshot host layout, so one node can
// fast-forward another.
func (n *Node) startHTTPServer() {
	prom := metrics.NewProm()
	n.metrics = prom

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/latest/height", n.handleLatestHeight)
	mux.HandleFunc("/latest/block", n.handleLatestBlock)
	mux.HandleFunc("/block/", n.handleBlock)

	n.httpServer = &http.Server{
		Addr:    n.cfg.HTTP.ListenAddr,
		Handler: mux,
	}

	go func() {
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			n.logger.Warnf("HTTP server exited with error error=%v", err)
		}
	}()
	n.logger.Infof("HTTP server listening addr=%s", n.cfg.HTTP.ListenAddr)
}

func (n *Node) handleLatestHeight(w http.ResponseWriter, _ *http.Request) {
	n.writeJSON(w, http.StatusOK, n.ledger.LatestHeight())
}

func (n *Node) handleLatestBlock(w http.ResponseWriter, _ *http.Request) {
	b, err := n.ledger.GetBlock(n.ledger.LatestHeight())
	if err != nil {
		n.writeHTTPError(w, http.StatusInternalServerError, err.Error())
		return
	}
	n.writeJSON(w, http.StatusOK, b)
}

func (n *Node) handleBlock(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/block/")
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		n.writeHTTPError(w, http.StatusBadRequest, "invalid height")
		return
	}
	b, err := n.ledger.GetBlock(height)
	if err != nil {
		n.writeHTTPError(w, http.StatusNotFound, err.Error())
		return
	}
	n.writeJSON(w, http.StatusOK, b)
}

func (n *Node) writeHTTPError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (n *Node) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
