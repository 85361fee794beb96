package validator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"valnode/internal/config"
	"valnode/internal/consensus"
	"valnode/internal/crypto"
	"valnode/internal/ledger"
	"valnode/internal/logging"
	"valnode/internal/message"
	"valnode/internal/metrics"
	"valnode/internal/router"
	"valnode/internal/snapshot"
	"valnode/internal/storage"
	"valnode/internal/syncpool"
	"valnode/internal/types"
)

// devHub backs the in-process memory transport shared by every node in a
// multi-instance development run.
var devHub = router.NewHub()

// Node is a validator: a full node capable of validating blocks. It composes
// the ledger, consensus engine, router and sync pool under one task
// supervisor.
type Node struct {
	cfg        *config.NodeConfig
	account    crypto.Signer
	ledger     *ledger.Ledger
	consensus  *consensus.Engine
	router     router.Router
	discovery  *router.Discovery
	pool       *syncpool.Pool
	supervisor *TaskSupervisor
	metrics    metrics.Provider
	store      storage.Store
	httpServer *http.Server
	logger     logging.Logger

	shutdownOnce sync.Once
	downDone     <-chan struct{}
}

// New initializes a validator node. Construction is all-or-nothing: the
// first failing step aborts with its error.
func New(cfg *config.NodeConfig, genesis *types.Block, logger logging.Logger) (*Node, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Install the signal handler before anything can block; the node is
	// published into its slot as the last step.
	slot, downDone := handleSignals(logger)

	account, err := loadAccount(cfg)
	if err != nil {
		return nil, err
	}
	localAddr := cfg.Identity.Address
	if localAddr == "" {
		localAddr = account.Address().Hex()
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	l, err := ledger.Load(genesis, store, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	// Fast-forward from the trusted snapshot host before any peer connection.
	if cfg.Snapshot.URL != "" {
		client := snapshot.NewClient(cfg.Snapshot.URL, logger)
		if err := client.Sync(context.Background(), l); err != nil {
			store.Close()
			return nil, fmt.Errorf("snapshot sync: %w", err)
		}
	}

	trusted, err := parseValidators(cfg.Consensus.TrustedValidators)
	if err != nil {
		store.Close()
		return nil, err
	}
	engine, err := consensus.New(account, l, trusted, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init consensus: %w", err)
	}
	engine.SetBlockInterval(cfg.Consensus.BlockInterval)
	if err := engine.Run(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("start consensus: %w", err)
	}

	rt, discovery, err := openRouter(cfg, localAddr, logger)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		engine.ShutDown(shutdownCtx)
		cancel()
		store.Close()
		return nil, fmt.Errorf("init router: %w", err)
	}

	node := &Node{
		cfg:        cfg,
		account:    account,
		ledger:     l,
		consensus:  engine,
		router:     rt,
		discovery:  discovery,
		pool:       syncpool.NewWithConfig(logger, cfg.Sync.MaxPendingRequests, cfg.Sync.RequestTimeout),
		supervisor: NewTaskSupervisor(logger),
		metrics:    metrics.Noop{},
		store:      store,
		logger:     logger,
		downDone:   downDone,
	}

	// Seed the sync pool with the canon locators of the local chain.
	locators, err := l.Locators(64)
	if err != nil {
		node.ShutDown(context.Background())
		return nil, fmt.Errorf("collect canon locators: %w", err)
	}
	if err := node.pool.InsertCanonLocators(locators); err != nil {
		node.ShutDown(context.Background())
		return nil, fmt.Errorf("seed canon locators: %w", err)
	}

	rt.SetHandler(node.handleMessage)
	engine.SetCommitHandler(node.onBlockCommitted)

	if !cfg.TxPool.Disabled {
		node.startTransactionGenerator()
	}
	if cfg.HTTP.ListenAddr != "" {
		node.startHTTPServer()
	}
	// Block catch-up strategy is explicit: the request/response sync loop
	// runs only in protocol mode, otherwise catch-up relies on the consensus
	// engine's own block propagation.
	if cfg.Sync.Mode == config.SyncModeProtocol {
		node.startSyncLoop()
	}

	slot.set(node)
	logger.Infof("Validator node started addr=%s height=%d sync_mode=%s", localAddr, l.LatestHeight(), cfg.Sync.Mode)
	return node, nil
}

func loadAccount(cfg *config.NodeConfig) (crypto.Signer, error) {
	if cfg.Identity.PrivateKey != "" {
		account, err := crypto.NewECDSASignerFromHex(cfg.Identity.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load account key: %w", err)
		}
		return account, nil
	}
	if !cfg.Dev.Enabled {
		return nil, fmt.Errorf("identity.private_key is required outside dev mode")
	}
	return crypto.GenerateSigner()
}

func openStore(cfg *config.NodeConfig) (storage.Store, error) {
	if cfg.Storage.LevelDBPath == "" {
		return storage.NewInMemory(), nil
	}
	return storage.NewLevelDB(cfg.Storage.LevelDBPath)
}

func parseValidators(addrs []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid validator address %q", a)
		}
		out = append(out, common.HexToAddress(a))
	}
	return out, nil
}

func openRouter(cfg *config.NodeConfig, localAddr string, logger logging.Logger) (router.Router, *router.Discovery, error) {
	switch cfg.Transport {
	case config.TransportMemory:
		rt := devHub.Router(localAddr, logger)
		for _, peer := range cfg.Peers.Trusted {
			rt.AddPeer(peer)
		}
		return rt, nil, nil
	case config.TransportNATS:
		rt, err := router.NewNATS(router.NATSConfig{
			URL:          cfg.NATS.URL,
			LocalAddr:    localAddr,
			Network:      cfg.Network,
			NodeType:     "validator",
			MaxPeers:     cfg.Peers.MaxPeers,
			TrustedPeers: cfg.Peers.Trusted,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		var discovery *router.Discovery
		if cfg.Gossip.Enable {
			gossipInterval, _ := time.ParseDuration(cfg.Gossip.GossipInterval)
			probeInterval, _ := time.ParseDuration(cfg.Gossip.ProbeInterval)
			discovery, err = router.NewDiscovery(router.DiscoveryConfig{
				NodeName:       localAddr,
				BindAddress:    cfg.Gossip.BindAddress,
				BindPort:       cfg.Gossip.BindPort,
				Seeds:          cfg.Gossip.Seeds,
				GossipInterval: gossipInterval,
				ProbeInterval:  probeInterval,
			}, localAddr, rt.AddPeer, rt.RemovePeer, logger)
			if err != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				rt.ShutDown(shutdownCtx)
				cancel()
				return nil, nil, err
			}
		}
		return rt, discovery, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// Ledger returns the node's ledger.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Router returns the node's router.
func (n *Node) Router() router.Router { return n.router }

// SyncPool returns the node's sync pool.
func (n *Node) SyncPool() *syncpool.Pool { return n.pool }

// QueryServer returns the HTTP query server, or nil when no query surface is
// configured.
func (n *Node) QueryServer() *http.Server { return n.httpServer }

// Spawn registers additional long-running work under the node's supervisor.
func (n *Node) Spawn(name string, fn func(ctx context.Context)) {
	n.supervisor.Spawn(name, fn)
}

// Done closes after a process signal has driven the node through shutdown.
func (n *Node) Done() <-chan struct{} { return n.downDone }

// onBlockCommitted propagates a locally produced block to peers.
func (n *Node) onBlockCommitted(b *types.Block) {
	n.metrics.IncCounter("blocks_committed_total", 1)
	n.metrics.SetGauge("ledger_height", float64(b.Height))
	if err := n.pool.InsertCanonLocator(b.Height, b.Hash); err != nil {
		n.logger.Warnf("Failed to record canon locator height=%d error=%v", b.Height, err)
	}
	env, err := message.New(n.router.LocalAddr(), &message.BlockResponse{
		Request: message.BlockRequest{StartHeight: b.Height, EndHeight: b.Height + 1},
		Blocks:  []types.Block{*b},
	})
	if err != nil {
		n.logger.Errorf("Failed to build block announcement error=%v", err)
		return
	}
	n.router.Broadcast(env)
}

// handleUnconfirmedTransaction is the single broadcast path shared by the
// generator loop and inbound peer traffic. It returns whether the
// transaction was accepted locally and relayed to at least one peer.
func (n *Node) handleUnconfirmedTransaction(origin string, tx *types.Transaction) bool {
	if err := n.consensus.SubmitTransaction(tx); err != nil {
		n.logger.Debugf("Rejected unconfirmed transaction id=%s origin=%s error=%v", tx.ID.Hex(), origin, err)
		return false
	}
	env, err := message.New(n.router.LocalAddr(), &message.UnconfirmedTransaction{Transaction: *tx})
	if err != nil {
		n.logger.Errorf("Failed to build transaction broadcast error=%v", err)
		return false
	}
	return n.router.Broadcast(env) > 0
}

// ShutDown stops the node: background tasks first, then the router, then
// consensus. It never fails from the caller's perspective.
func (n *Node) ShutDown(ctx context.Context) {
	n.shutdownOnce.Do(func() {
		n.logger.Info("Shutting down...")

		n.supervisor.ShutDown(ctx)

		if n.httpServer != nil {
			httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := n.httpServer.Shutdown(httpCtx); err != nil && err != http.ErrServerClosed {
				n.logger.Warnf("Failed to shutdown HTTP server error=%v", err)
			}
			cancel()
		}
		if n.discovery != nil {
			n.discovery.ShutDown(2 * time.Second)
		}

		// The router must stop accepting peer traffic before consensus
		// teardown.
		n.router.ShutDown(ctx)
		n.consensus.ShutDown(ctx)

		if err := n.store.Close(); err != nil {
			n.logger.Errorf("Failed to close storage error=%v", err)
		}
		n.logger.Info("Node has shut down.")
	})
}
