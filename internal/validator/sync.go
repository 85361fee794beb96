package validator

import (
	"context"
	"time"

	"valnode/internal/message"
)

// locatorAdvertiseCount is how many recent canon locators each cycle
// advertises to peers.
const locatorAdvertiseCount = 32

func (n *Node) startSyncLoop() {
	n.supervisor.Spawn("sync", n.syncLoop)
}

// syncLoop keeps the local ledger caught up to the network's canonical
// chain: at most one outstanding request per height, only validated blocks
// accepted. Every failure degrades to retry-next-cycle; the loop terminates
// only on cancellation.
func (n *Node) syncLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Shutting down block synchronization")
			return
		// Sleep briefly to avoid triggering spam detection.
		case <-time.After(n.cfg.Sync.Interval):
		}

		n.advertiseLocators()
		n.pool.PruneStaleRequests(time.Now())

		blockRequests := n.pool.PrepareBlockRequests()
		if len(blockRequests) > 0 {
			n.logger.Debugf("Prepared block requests count=%d", len(blockRequests))
		}

	outer:
		for _, req := range blockRequests {
			// Atomic check-and-insert enforces at most one in-flight request
			// per height.
			if err := n.pool.InsertBlockRequest(req); err != nil {
				continue
			}
			env, err := message.New(n.router.LocalAddr(), &message.BlockRequest{
				StartHeight: req.Height,
				EndHeight:   req.Height + 1,
			})
			if err != nil {
				n.logger.Errorf("Failed to build block request height=%d error=%v", req.Height, err)
				n.pool.RemoveBlockRequest(req.Height)
				continue
			}
			for _, peer := range req.SyncPeers {
				if n.router.Send(peer, env) {
					continue
				}
				// A single failed send voids the whole request so a future
				// cycle can re-propose it; no further peers are attempted.
				n.metrics.IncCounter("send_failures_total", 1)
				n.pool.RemoveBlockRequest(req.Height)
				n.logger.Warnf("Aborting block request after failed send height=%d peer=%s", req.Height, peer)
				break outer
			}
			// Space successive requests to respect peer rate limits.
			select {
			case <-ctx.Done():
				n.logger.Info("Shutting down block synchronization")
				return
			case <-time.After(n.cfg.Sync.SendDelay):
			}
		}

		n.advanceWithSyncBlocks()
		n.metrics.SetGauge("inflight_block_requests", float64(n.pool.NumInFlight()))
		n.metrics.SetGauge("peer_count", float64(len(n.router.Peers())))
	}
}

// advertiseLocators shares this node's recent canon locators so peers can
// compute their sync frontier.
func (n *Node) advertiseLocators() {
	locators, err := n.ledger.Locators(locatorAdvertiseCount)
	if err != nil {
		n.logger.Warnf("Failed to collect locators error=%v", err)
		return
	}
	env, err := message.New(n.router.LocalAddr(), &message.PeerLocators{Locators: locators})
	if err != nil {
		n.logger.Errorf("Failed to build locator advertisement error=%v", err)
		return
	}
	n.router.Broadcast(env)
}

// advanceWithSyncBlocks greedily commits contiguous responses from the sync
// pool. Commit order is strictly increasing even when responses arrived out
// of order; the first failing validation step stops advancement for this
// cycle and discards the offending response.
func (n *Node) advanceWithSyncBlocks() {
	currentHeight := n.ledger.LatestHeight()
	for {
		block := n.pool.RemoveBlockResponse(currentHeight + 1)
		if block == nil {
			return
		}
		// The pool keys responses by their own height, so a mismatch here
		// means the pool's bookkeeping is corrupt, not a bad peer.
		if block.Height != currentHeight+1 {
			n.logger.Warnf("Block height mismatch: expected %d, found %d", currentHeight+1, block.Height)
			n.metrics.IncCounter("blocks_rejected_total", 1)
			return
		}
		if err := n.ledger.CheckNextBlock(block); err != nil {
			n.logger.Warnf("The next block (%d) is invalid - %v", block.Height, err)
			n.metrics.IncCounter("blocks_rejected_total", 1)
			return
		}
		start := time.Now()
		if err := n.consensus.AdvanceToNextBlock(block); err != nil {
			n.logger.Warnf("%v", err)
			n.metrics.IncCounter("blocks_rejected_total", 1)
			return
		}
		n.metrics.Observe("advance_latency_ms", float64(time.Since(start).Milliseconds()))
		n.metrics.IncCounter("blocks_committed_total", 1)
		n.metrics.SetGauge("ledger_height", float64(block.Height))
		if err := n.pool.InsertCanonLocator(block.Height, block.Hash); err != nil {
			n.logger.Warnf("Failed to record canon locator height=%d error=%v", block.Height, err)
		}
		currentHeight++
	}
}
