package validator

import (
	"context"
	"testing"
	"time"

	"valnode/internal/message"
	"valnode/internal/router"
)

func runTransactionLoop(n *Node, d time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.transactionLoop(ctx)
	}()
	time.Sleep(d)
	cancel()
	<-done
}

func TestTransactionLoopGeneratesAndBroadcasts(t *testing.T) {
	hub := router.NewHub()
	n, rt := newTestNode(t, hub, "local")
	rec := newTypeRecorder()
	hub.Router("peer", nil).SetHandler(rec.handler)
	rt.AddPeer("peer")

	runTransactionLoop(n, 50*time.Millisecond)

	if got := n.consensus.MempoolSize(); got == 0 {
		t.Fatal("expected generated transactions in the mempool")
	}
	if got := rec.count(message.TypeUnconfirmedTransaction); got == 0 {
		t.Fatal("expected transaction broadcasts at the peer")
	}
}

func TestTransactionLoopSkipsSecondaryDevInstances(t *testing.T) {
	hub := router.NewHub()
	n, rt := newTestNode(t, hub, "local")
	n.cfg.Dev.Index = 1
	rec := newTypeRecorder()
	hub.Router("peer", nil).SetHandler(rec.handler)
	rt.AddPeer("peer")

	runTransactionLoop(n, 50*time.Millisecond)

	if got := n.consensus.MempoolSize(); got != 0 {
		t.Fatalf("secondary instance generated %d transactions", got)
	}
	if got := rec.count(message.TypeUnconfirmedTransaction); got != 0 {
		t.Fatalf("secondary instance broadcast %d transactions", got)
	}
}

func TestTransactionLoopUsesFreshNonces(t *testing.T) {
	hub := router.NewHub()
	n, _ := newTestNode(t, hub, "local")

	runTransactionLoop(n, 50*time.Millisecond)

	// Every generated transaction carries a fresh nonce, so none collide in
	// the mempool.
	first := n.consensus.MempoolSize()
	if first < 2 {
		t.Fatalf("expected several generated transactions, got %d", first)
	}
}
