package router

import (
	"context"
	"sync"

	"valnode/internal/logging"
	"valnode/internal/message"
)

// Hub wires Memory routers together in one process. It backs development
// mode and multi-node test harnesses where real transport is unwanted.
type Hub struct {
	mu      sync.RWMutex
	routers map[string]*Memory
}

func NewHub() *Hub {
	return &Hub{routers: map[string]*Memory{}}
}

// Router creates and registers an in-process router for the given address.
func (h *Hub) Router(addr string, logger logging.Logger) *Memory {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	r := &Memory{
		hub:       h,
		addr:      addr,
		peers:     map[string]struct{}{},
		failPeers: map[string]struct{}{},
		logger:    logger,
	}
	h.mu.Lock()
	h.routers[addr] = r
	h.mu.Unlock()
	return r
}

func (h *Hub) lookup(addr string) *Memory {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.routers[addr]
}

func (h *Hub) remove(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.routers, addr)
}

// Memory is an in-process Router delivering envelopes synchronously through
// a shared Hub.
type Memory struct {
	mu        sync.RWMutex
	hub       *Hub
	addr      string
	peers     map[string]struct{}
	failPeers map[string]struct{}
	handler   Handler
	logger    logging.Logger
	closed    bool
}

func (m *Memory) LocalAddr() string { return m.addr }

func (m *Memory) Peers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers))
	for p := range m.peers {
		out = append(out, p)
	}
	return out
}

// AddPeer tracks a peer address.
func (m *Memory) AddPeer(addr string) {
	if addr == "" || addr == m.addr {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[addr] = struct{}{}
}

// RemovePeer stops tracking a peer address.
func (m *Memory) RemovePeer(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, addr)
}

// FailSendsTo makes every subsequent Send to the given peer report failure.
// Test hook for exercising partial-send recovery.
func (m *Memory) FailSendsTo(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPeers[addr] = struct{}{}
}

func (m *Memory) Send(peer string, env *message.Envelope) bool {
	m.mu.RLock()
	closed := m.closed
	_, fail := m.failPeers[peer]
	m.mu.RUnlock()
	if closed || fail {
		return false
	}
	target := m.hub.lookup(peer)
	if target == nil {
		return false
	}
	target.mu.RLock()
	handler := target.handler
	targetClosed := target.closed
	target.mu.RUnlock()
	if targetClosed || handler == nil {
		return false
	}
	handler(m.addr, env)
	return true
}

func (m *Memory) Broadcast(env *message.Envelope) int {
	sent := 0
	for _, peer := range m.Peers() {
		if m.Send(peer, env) {
			sent++
		}
	}
	return sent
}

func (m *Memory) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *Memory) ShutDown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.hub.remove(m.addr)
}
