package router

import (
	"context"
	"sync"
	"testing"

	"valnode/internal/message"
)

type recorder struct {
	mu   sync.Mutex
	from []string
	envs []*message.Envelope
}

func (r *recorder) handler(peer string, env *message.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.from = append(r.from, peer)
	r.envs = append(r.envs, env)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func TestMemorySendDeliversWithOrigin(t *testing.T) {
	hub := NewHub()
	a := hub.Router("a", nil)
	b := hub.Router("b", nil)
	rec := &recorder{}
	b.SetHandler(rec.handler)
	a.AddPeer("b")

	env, err := message.New("a", &message.BlockRequest{StartHeight: 1, EndHeight: 2})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if !a.Send("b", env) {
		t.Fatal("send failed")
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", rec.count())
	}
	if rec.from[0] != "a" {
		t.Fatalf("expected origin a, got %s", rec.from[0])
	}
}

func TestMemorySendFailures(t *testing.T) {
	hub := NewHub()
	a := hub.Router("a", nil)
	env, err := message.New("a", &message.BlockRequest{StartHeight: 1, EndHeight: 2})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	if a.Send("ghost", env) {
		t.Fatal("send to unregistered peer should fail")
	}

	// A registered peer with no handler cannot accept traffic.
	hub.Router("mute", nil)
	if a.Send("mute", env) {
		t.Fatal("send to handlerless peer should fail")
	}

	b := hub.Router("b", nil)
	b.SetHandler(func(string, *message.Envelope) {})
	a.FailSendsTo("b")
	if a.Send("b", env) {
		t.Fatal("send to failed peer should report failure")
	}

	b.ShutDown(context.Background())
	if a.Send("b", env) {
		t.Fatal("send to shut-down peer should fail")
	}
}

func TestMemoryBroadcastCountsDeliveries(t *testing.T) {
	hub := NewHub()
	a := hub.Router("a", nil)
	recB, recC := &recorder{}, &recorder{}
	hub.Router("b", nil).SetHandler(recB.handler)
	hub.Router("c", nil).SetHandler(recC.handler)
	a.AddPeer("b")
	a.AddPeer("c")
	a.AddPeer("ghost")

	env, err := message.New("a", &message.PeerLocators{})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if sent := a.Broadcast(env); sent != 2 {
		t.Fatalf("expected 2 deliveries, got %d", sent)
	}
	if recB.count() != 1 || recC.count() != 1 {
		t.Fatalf("unexpected delivery counts b=%d c=%d", recB.count(), recC.count())
	}
}

func TestMemoryShutDownUnregisters(t *testing.T) {
	hub := NewHub()
	a := hub.Router("a", nil)
	b := hub.Router("b", nil)
	b.SetHandler(func(string, *message.Envelope) {})
	a.AddPeer("b")

	b.ShutDown(context.Background())
	env, err := message.New("a", &message.PeerLocators{})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if a.Send("b", env) {
		t.Fatal("send after peer shutdown should fail")
	}
	// Shutting down twice is safe.
	b.ShutDown(context.Background())
}
