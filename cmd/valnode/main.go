package main

import (
	"flag"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"valnode/internal/config"
	"valnode/internal/logging"
	"valnode/internal/types"
	"valnode/internal/validator"
)

// defaultGenesisTime anchors block zero so every node derives the same
// genesis hash. Overridable per deployment with -genesis-time.
const defaultGenesisTime = 1704067200 // 2024-01-01 00:00:00 UTC

func main() {
	configFile := flag.String("config", "", "Path to config file (YAML)")

	var (
		network     = flag.String("network", "", "Network name (isolates transport subjects)")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
		transport   = flag.String("transport", "", "Router transport: 'nats' or 'memory'")
		nodeAddr    = flag.String("id", "", "Node peer address (defaults to the account address)")
		privateKey  = flag.String("key", "", "Account private key hex (without 0x)")
		natsURL     = flag.String("nats-url", "", "NATS server URL")
		storagePath = flag.String("storage", "", "LevelDB directory (empty for in-memory storage)")
		httpAddr    = flag.String("http", "", "Query API listen address (empty to disable)")
		snapshotURL = flag.String("snapshot-url", "", "Trusted snapshot host for initial catch-up")

		syncMode = flag.String("sync-mode", "", "Block catch-up strategy: 'consensus' or 'protocol'")

		devEnable = flag.Bool("dev", false, "Enable development mode")
		devIndex  = flag.Int("dev-index", 0, "Development instance index (only index 0 generates transactions)")
		noTxPool  = flag.Bool("no-txpool", false, "Disable the transaction generator loop")

		trustedPeers      = flag.String("peers", "", "Comma-separated trusted peer addresses")
		trustedValidators = flag.String("validators", "", "Comma-separated validator account addresses in rotation order")

		gossipEnable = flag.Bool("gossip-enable", false, "Enable gossip-based peer discovery")
		gossipBind   = flag.String("gossip-bind", "", "Gossip bind address")
		gossipPort   = flag.Int("gossip-port", 0, "Gossip bind port")
		gossipSeeds  = flag.String("gossip-seeds", "", "Comma-separated gossip seed nodes (host:port)")

		genesisTime = flag.Int64("genesis-time", defaultGenesisTime, "Genesis block timestamp (unix seconds)")
	)
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config file %s: %v", *configFile, err)
		}
		cfg = loaded
	}

	// Command-line flags override the config file.
	if set["network"] {
		cfg.Network = *network
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["transport"] {
		cfg.Transport = *transport
	}
	if set["id"] {
		cfg.Identity.Address = *nodeAddr
	}
	if set["key"] {
		cfg.Identity.PrivateKey = *privateKey
	}
	if set["nats-url"] {
		cfg.NATS.URL = *natsURL
	}
	if set["storage"] {
		cfg.Storage.LevelDBPath = *storagePath
	}
	if set["http"] {
		cfg.HTTP.ListenAddr = *httpAddr
	}
	if set["snapshot-url"] {
		cfg.Snapshot.URL = *snapshotURL
	}
	if set["sync-mode"] {
		cfg.Sync.Mode = *syncMode
	}
	if set["dev"] {
		cfg.Dev.Enabled = *devEnable
	}
	if set["dev-index"] {
		cfg.Dev.Index = *devIndex
	}
	if set["no-txpool"] {
		cfg.TxPool.Disabled = *noTxPool
	}
	if set["peers"] {
		cfg.Peers.Trusted = splitList(*trustedPeers)
	}
	if set["validators"] {
		cfg.Consensus.TrustedValidators = splitList(*trustedValidators)
	}
	if set["gossip-enable"] {
		cfg.Gossip.Enable = *gossipEnable
	}
	if set["gossip-bind"] {
		cfg.Gossip.BindAddress = *gossipBind
	}
	if set["gossip-port"] {
		cfg.Gossip.BindPort = *gossipPort
	}
	if set["gossip-seeds"] {
		cfg.Gossip.Seeds = splitList(*gossipSeeds)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.Init(cfg.LogLevel)
	logger := logging.NewDefaultLogger()

	// Genesis is derived from configuration so every node in a deployment
	// computes the same block-zero hash.
	genesisValidator := common.Address{}
	if len(cfg.Consensus.TrustedValidators) > 0 {
		genesisValidator = common.HexToAddress(cfg.Consensus.TrustedValidators[0])
	}
	genesis := types.NewGenesisBlock(genesisValidator, *genesisTime)

	node, err := validator.New(cfg, genesis, logger)
	if err != nil {
		log.Fatalf("Failed to start validator node: %v", err)
	}

	logger.Info("Validator node is running. Press Ctrl+C to stop.")
	<-node.Done()
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
