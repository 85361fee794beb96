package validator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"valnode/internal/router"
	"valnode/internal/types"
)

func TestQueryServerAccessor(t *testing.T) {
	hub := router.NewHub()
	n, _ := newTestNode(t, hub, "local")

	if n.QueryServer() != nil {
		t.Fatal("expected no query server before startup")
	}

	n.cfg.HTTP.ListenAddr = "127.0.0.1:0"
	n.startHTTPServer()
	srv := n.QueryServer()
	if srv == nil {
		t.Fatal("expected query server after startup")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestQueryEndpointsServeLedgerState(t *testing.T) {
	hub := router.NewHub()
	n, _ := newTestNode(t, hub, "local")
	chain := buildChain(t, 2)
	for _, b := range chain[1:] {
		if err := n.consensus.AdvanceToNextBlock(b); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	n.handleLatestHeight(rec, httptest.NewRequest(http.MethodGet, "/latest/height", nil))
	var height uint64
	if err := json.NewDecoder(rec.Body).Decode(&height); err != nil {
		t.Fatalf("decode height: %v", err)
	}
	if height != 2 {
		t.Fatalf("expected height 2, got %d", height)
	}

	rec = httptest.NewRecorder()
	n.handleLatestBlock(rec, httptest.NewRequest(http.MethodGet, "/latest/block", nil))
	var tip types.Block
	if err := json.NewDecoder(rec.Body).Decode(&tip); err != nil {
		t.Fatalf("decode tip: %v", err)
	}
	if tip.Hash != chain[2].Hash {
		t.Fatalf("unexpected tip hash %s", tip.Hash.Hex())
	}

	rec = httptest.NewRecorder()
	n.handleBlock(rec, httptest.NewRequest(http.MethodGet, "/block/1", nil))
	var b types.Block
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if b.Height != 1 || b.Hash != chain[1].Hash {
		t.Fatalf("unexpected block %d %s", b.Height, b.Hash.Hex())
	}

	rec = httptest.NewRecorder()
	n.handleBlock(rec, httptest.NewRequest(http.MethodGet, "/block/notanumber", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed height, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	n.handleBlock(rec, httptest.NewRequest(http.MethodGet, "/block/99", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown height, got %d", rec.Code)
	}
}
