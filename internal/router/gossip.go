package router

import (
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"

	"valnode/internal/logging"
)

// DiscoveryConfig configures gossip-based peer discovery.
type DiscoveryConfig struct {
	NodeName       string
	BindAddress    string
	BindPort       int
	AdvertiseAddr  string
	AdvertisePort  int
	Seeds          []string
	GossipInterval time.Duration
	ProbeInterval  time.Duration
}

// Discovery runs a memberlist cluster whose node metadata carries each
// member's router address. Join and leave events feed the router's peer set.
type Discovery struct {
	config     DiscoveryConfig
	memberlist *memberlist.Memberlist
	logger     logging.Logger
}

type discoveryDelegate struct {
	meta    []byte
	onJoin  func(addr string)
	onLeave func(addr string)
}

func (d *discoveryDelegate) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return d.meta[:limit]
	}
	return d.meta
}

func (d *discoveryDelegate) NotifyMsg([]byte)                           {}
func (d *discoveryDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *discoveryDelegate) LocalState(join bool) []byte                { return nil }
func (d *discoveryDelegate) MergeRemoteState(buf []byte, join bool)     {}

func (d *discoveryDelegate) NotifyJoin(node *memberlist.Node) {
	if len(node.Meta) > 0 && d.onJoin != nil {
		d.onJoin(string(node.Meta))
	}
}

func (d *discoveryDelegate) NotifyLeave(node *memberlist.Node) {
	if len(node.Meta) > 0 && d.onLeave != nil {
		d.onLeave(string(node.Meta))
	}
}

func (d *discoveryDelegate) NotifyUpdate(node *memberlist.Node) {}

// NewDiscovery creates the memberlist instance, advertising localAddr as this
// member's router address, and joins the configured seeds.
func NewDiscovery(cfg DiscoveryConfig, localAddr string, onJoin, onLeave func(addr string), logger logging.Logger) (*Discovery, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	delegate := &discoveryDelegate{meta: []byte(localAddr), onJoin: onJoin, onLeave: onLeave}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeName
	mlConfig.BindAddr = cfg.BindAddress
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	}
	if cfg.AdvertisePort > 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = delegate
	mlConfig.Events = delegate
	mlConfig.LogOutput = nil

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}

	d := &Discovery{config: cfg, memberlist: ml, logger: logger}
	logger.Infof("Peer discovery started node=%s bind=%s:%d", cfg.NodeName, cfg.BindAddress, cfg.BindPort)

	if len(cfg.Seeds) > 0 {
		if err := d.JoinSeeds(cfg.Seeds); err != nil {
			// Not fatal, the node can join later through other members.
			logger.Warnf("Failed to join some gossip seeds error=%v seeds=%v", err, cfg.Seeds)
		}
	}
	return d, nil
}

// JoinSeeds attempts to join the provided seed nodes.
func (d *Discovery) JoinSeeds(seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	numJoined, err := d.memberlist.Join(seeds)
	if err != nil {
		return fmt.Errorf("join seeds: %w", err)
	}
	d.logger.Infof("Joined gossip cluster num_joined=%d total_seeds=%d", numJoined, len(seeds))
	return nil
}

// NumMembers returns the number of cluster members.
func (d *Discovery) NumMembers() int {
	return d.memberlist.NumMembers()
}

// ShutDown leaves the cluster gracefully and stops the memberlist transport.
func (d *Discovery) ShutDown(timeout time.Duration) {
	if err := d.memberlist.Leave(timeout); err != nil {
		d.logger.Warnf("Failed to leave gossip cluster error=%v", err)
	}
	if err := d.memberlist.Shutdown(); err != nil {
		d.logger.Warnf("Failed to shut down memberlist error=%v", err)
	}
}
