package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"

	"valnode/internal/logging"
	"valnode/internal/message"
)

const seenCacheSize = 4096

// NATSConfig configures the NATS-backed router.
type NATSConfig struct {
	URL          string
	LocalAddr    string
	Network      string
	NodeType     string
	MaxPeers     int
	TrustedPeers []string
}

// NATS routes peer messages over per-node inbox subjects. Each node owns the
// subject valnode.<network>.inbox.<addr>; sending to a peer publishes to its
// inbox.
type NATS struct {
	mu      sync.RWMutex
	cfg     NATSConfig
	nc      *nats.Conn
	sub     *nats.Subscription
	peers   map[string]struct{}
	handler Handler
	seen    *lru.Cache[common.Hash, struct{}]
	logger  logging.Logger
	closed  bool
}

func inboxSubject(network, addr string) string {
	return fmt.Sprintf("valnode.%s.inbox.%s", network, addr)
}

// NewNATS connects to the NATS server and subscribes the local inbox.
// Trusted peers from the config are connected immediately.
func NewNATS(cfg NATSConfig, logger logging.Logger) (*NATS, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if cfg.LocalAddr == "" {
		return nil, fmt.Errorf("local address required")
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 64
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(fmt.Sprintf("%s-%s", cfg.NodeType, cfg.LocalAddr)),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Errorf("NATS error error=%v", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected error=%v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	seen, err := lru.New[common.Hash, struct{}](seenCacheSize)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create seen cache: %w", err)
	}

	r := &NATS{
		cfg:    cfg,
		nc:     nc,
		peers:  map[string]struct{}{},
		seen:   seen,
		logger: logger,
	}
	for _, peer := range cfg.TrustedPeers {
		r.AddPeer(peer)
	}

	sub, err := nc.Subscribe(inboxSubject(cfg.Network, cfg.LocalAddr), r.onMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe inbox: %w", err)
	}
	r.sub = sub

	logger.Infof("Router listening addr=%s network=%s url=%s", cfg.LocalAddr, cfg.Network, cfg.URL)
	return r, nil
}

func (r *NATS) onMessage(msg *nats.Msg) {
	env, err := message.Decode(msg.Data)
	if err != nil {
		r.logger.Warnf("Dropping malformed message error=%v", err)
		return
	}
	if env.Origin == "" || env.Origin == r.cfg.LocalAddr {
		return
	}
	// Suppress rebroadcast loops.
	digest := gethcrypto.Keccak256Hash(msg.Data)
	if _, dup := r.seen.Get(digest); dup {
		return
	}
	r.seen.Add(digest, struct{}{})

	r.mu.RLock()
	handler := r.handler
	r.mu.RUnlock()
	if handler == nil {
		r.logger.Debugf("Dropping message, no handler installed type=%s", env.Type)
		return
	}
	handler(env.Origin, env)
}

func (r *NATS) LocalAddr() string { return r.cfg.LocalAddr }

func (r *NATS) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

// AddPeer tracks a peer address, respecting the peer cap.
func (r *NATS) AddPeer(addr string) {
	if addr == "" || addr == r.cfg.LocalAddr {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[addr]; ok {
		return
	}
	if len(r.peers) >= r.cfg.MaxPeers {
		r.logger.Warnf("Peer cap reached, ignoring peer addr=%s max=%d", addr, r.cfg.MaxPeers)
		return
	}
	r.peers[addr] = struct{}{}
	r.logger.Infof("Peer connected addr=%s peers=%d", addr, len(r.peers))
}

// RemovePeer stops tracking a peer address.
func (r *NATS) RemovePeer(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[addr]; ok {
		delete(r.peers, addr)
		r.logger.Infof("Peer disconnected addr=%s peers=%d", addr, len(r.peers))
	}
}

func (r *NATS) Send(peer string, env *message.Envelope) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}
	data, err := env.Encode()
	if err != nil {
		r.logger.Errorf("Failed to encode message type=%s error=%v", env.Type, err)
		return false
	}
	if err := r.nc.Publish(inboxSubject(r.cfg.Network, peer), data); err != nil {
		r.logger.Warnf("Failed to send to peer addr=%s type=%s error=%v", peer, env.Type, err)
		return false
	}
	return true
}

func (r *NATS) Broadcast(env *message.Envelope) int {
	sent := 0
	for _, peer := range r.Peers() {
		if r.Send(peer, env) {
			sent++
		}
	}
	return sent
}

func (r *NATS) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// ShutDown unsubscribes the inbox and closes the connection. Errors are
// logged only.
func (r *NATS) ShutDown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	if r.sub != nil {
		if err := r.sub.Drain(); err != nil {
			r.logger.Warnf("Failed to drain inbox subscription error=%v", err)
		}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.nc.Flush(); err != nil {
			r.logger.Warnf("Failed to flush NATS connection error=%v", err)
		}
		r.nc.Close()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warnf("Router shutdown timed out error=%v", ctx.Err())
	}
	r.logger.Info("Router shut down")
}
