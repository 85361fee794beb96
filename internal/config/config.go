package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Sync strategy values. The block-catch-up path is an explicit choice:
// "consensus" relies solely on the consensus engine's own block propagation,
// "protocol" additionally runs the block-request synchronization loop.
const (
	SyncModeConsensus = "consensus"
	SyncModeProtocol  = "protocol"
)

// Transport values for the router.
const (
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

type IdentityConfig struct {
	// Address is this node's peer address. Defaults to the account address.
	Address string `mapstructure:"address"`
	// PrivateKey is the account key hex. Empty generates an ephemeral key
	// (development mode only).
	PrivateKey string `mapstructure:"private_key"`
}

type StorageConfig struct {
	// LevelDBPath is the ledger database directory. Empty selects the
	// in-memory store.
	LevelDBPath string `mapstructure:"leveldb_path"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type SyncConfig struct {
	Mode               string `mapstructure:"mode"`
	IntervalRaw        string `mapstructure:"interval"`
	SendDelayRaw       string `mapstructure:"send_delay"`
	RequestTimeoutRaw  string `mapstructure:"request_timeout"`
	MaxPendingRequests int    `mapstructure:"max_pending_requests"`

	Interval       time.Duration
	SendDelay      time.Duration
	RequestTimeout time.Duration
}

type TxPoolConfig struct {
	// Disabled turns the transaction generator loop off. The loop runs by
	// default; in multi-instance development runs only dev index 0 generates.
	Disabled    bool   `mapstructure:"disabled"`
	IntervalRaw string `mapstructure:"interval"`

	Interval time.Duration
}

type DevConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Index designates which instance generates transactions in a
	// multi-instance development run; only index 0 produces.
	Index int `mapstructure:"index"`
}

type PeersConfig struct {
	MaxPeers int      `mapstructure:"max_peers"`
	Trusted  []string `mapstructure:"trusted"`
}

type GossipConfig struct {
	Enable         bool     `mapstructure:"enable"`
	BindAddress    string   `mapstructure:"bind_address"`
	BindPort       int      `mapstructure:"bind_port"`
	Seeds          []string `mapstructure:"seeds"`
	GossipInterval string   `mapstructure:"gossip_interval"`
	ProbeInterval  string   `mapstructure:"probe_interval"`
}

type HTTPConfig struct {
	// ListenAddr serves the query API, /metrics and /healthz. Empty disables
	// the server.
	ListenAddr string `mapstructure:"listen_addr"`
}

type SnapshotConfig struct {
	// URL of a trusted snapshot host used to fast-forward the ledger before
	// any peer connection. Empty disables snapshot sync.
	URL string `mapstructure:"url"`
}

type ConsensusConfig struct {
	// TrustedValidators are the validator account addresses in production
	// rotation order.
	TrustedValidators []string `mapstructure:"trusted_validators"`
	BlockIntervalRaw  string   `mapstructure:"block_interval"`

	BlockInterval time.Duration
}

type NodeConfig struct {
	Network   string          `mapstructure:"network"`
	LogLevel  string          `mapstructure:"log_level"`
	Transport string          `mapstructure:"transport"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Storage   StorageConfig   `mapstructure:"storage"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Sync      SyncConfig      `mapstructure:"sync"`
	TxPool    TxPoolConfig    `mapstructure:"txpool"`
	Dev       DevConfig       `mapstructure:"dev"`
	Peers     PeersConfig     `mapstructure:"peers"`
	Gossip    GossipConfig    `mapstructure:"gossip"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// Normalize fills defaults and resolves raw duration strings.
func (c *NodeConfig) Normalize() error {
	if c.Network == "" {
		c.Network = "devnet"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Transport == "" {
		c.Transport = TransportNATS
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = SyncModeConsensus
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.Peers.MaxPeers <= 0 {
		c.Peers.MaxPeers = 64
	}
	if c.Sync.MaxPendingRequests <= 0 {
		c.Sync.MaxPendingRequests = 50
	}

	var err error
	if c.Sync.Interval, err = parseDuration(c.Sync.IntervalRaw, time.Second); err != nil {
		return fmt.Errorf("invalid sync.interval: %w", err)
	}
	if c.Sync.SendDelay, err = parseDuration(c.Sync.SendDelayRaw, 10*time.Millisecond); err != nil {
		return fmt.Errorf("invalid sync.send_delay: %w", err)
	}
	if c.Sync.RequestTimeout, err = parseDuration(c.Sync.RequestTimeoutRaw, 30*time.Second); err != nil {
		return fmt.Errorf("invalid sync.request_timeout: %w", err)
	}
	if c.TxPool.Interval, err = parseDuration(c.TxPool.IntervalRaw, time.Second); err != nil {
		return fmt.Errorf("invalid txpool.interval: %w", err)
	}
	if c.Consensus.BlockInterval, err = parseDuration(c.Consensus.BlockIntervalRaw, time.Second); err != nil {
		return fmt.Errorf("invalid consensus.block_interval: %w", err)
	}
	return c.Validate()
}

// Validate rejects configurations the node cannot run with.
func (c *NodeConfig) Validate() error {
	switch c.Sync.Mode {
	case SyncModeConsensus, SyncModeProtocol:
	default:
		return fmt.Errorf("invalid sync.mode %q (want %q or %q)", c.Sync.Mode, SyncModeConsensus, SyncModeProtocol)
	}
	switch c.Transport {
	case TransportNATS, TransportMemory:
	default:
		return fmt.Errorf("invalid transport %q (want %q or %q)", c.Transport, TransportNATS, TransportMemory)
	}
	if c.Transport == TransportMemory && !c.Dev.Enabled {
		return fmt.Errorf("memory transport requires dev mode")
	}
	return nil
}

// Default returns a normalized configuration with every default applied.
func Default() *NodeConfig {
	cfg := &NodeConfig{}
	// Normalize cannot fail on an empty config.
	_ = cfg.Normalize()
	return cfg
}

// Load reads a YAML config file and normalizes it.
func Load(path string) (*NodeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg NodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
