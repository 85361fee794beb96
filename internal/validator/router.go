package validator

import (
	"valnode/internal/message"
	"valnode/internal/types"
)

// maxBlockRequestBatch bounds how many blocks one request may ask for.
const maxBlockRequestBatch = 16

// handleMessage dispatches inbound peer traffic. Malformed or unexpected
// input is logged and dropped, never fatal.
func (n *Node) handleMessage(peer string, env *message.Envelope) {
	switch env.Type {
	case message.TypeBlockRequest:
		var req message.BlockRequest
		if err := env.DecodePayload(&req); err != nil {
			n.logger.Warnf("Dropping malformed block request peer=%s error=%v", peer, err)
			return
		}
		n.serveBlockRequest(peer, req)

	case message.TypeBlockResponse:
		var resp message.BlockResponse
		if err := env.DecodePayload(&resp); err != nil {
			n.logger.Warnf("Dropping malformed block response peer=%s error=%v", peer, err)
			return
		}
		n.acceptBlockResponse(peer, resp)

	case message.TypeUnconfirmedTransaction:
		var utx message.UnconfirmedTransaction
		if err := env.DecodePayload(&utx); err != nil {
			n.logger.Warnf("Dropping malformed transaction peer=%s error=%v", peer, err)
			return
		}
		n.handleUnconfirmedTransaction(peer, &utx.Transaction)

	case message.TypePeerLocators:
		var loc message.PeerLocators
		if err := env.DecodePayload(&loc); err != nil {
			n.logger.Warnf("Dropping malformed locators peer=%s error=%v", peer, err)
			return
		}
		n.pool.UpdatePeerLocators(peer, loc.Locators)

	default:
		n.logger.Warnf("Dropping message of unknown type peer=%s type=%s", peer, env.Type)
	}
}

// serveBlockRequest answers a peer's request with blocks from the local
// ledger.
func (n *Node) serveBlockRequest(peer string, req message.BlockRequest) {
	if req.EndHeight <= req.StartHeight || req.EndHeight-req.StartHeight > maxBlockRequestBatch {
		n.logger.Warnf("Dropping out-of-bounds block request peer=%s start=%d end=%d", peer, req.StartHeight, req.EndHeight)
		return
	}
	blocks := make([]types.Block, 0, req.EndHeight-req.StartHeight)
	for h := req.StartHeight; h < req.EndHeight; h++ {
		b, err := n.ledger.GetBlock(h)
		if err != nil {
			n.logger.Debugf("Cannot serve block height=%d peer=%s error=%v", h, peer, err)
			return
		}
		blocks = append(blocks, *b)
	}
	env, err := message.New(n.router.LocalAddr(), &message.BlockResponse{Request: req, Blocks: blocks})
	if err != nil {
		n.logger.Errorf("Failed to build block response error=%v", err)
		return
	}
	if !n.router.Send(peer, env) {
		n.logger.Warnf("Failed to send block response peer=%s start=%d", peer, req.StartHeight)
	}
}

// acceptBlockResponse feeds received blocks into the sync pool when they
// satisfy an in-flight request, or tries the consensus engine's native
// propagation path for fresh blocks pushed by their producer.
func (n *Node) acceptBlockResponse(peer string, resp message.BlockResponse) {
	for i := range resp.Blocks {
		b := resp.Blocks[i]
		if err := n.pool.InsertBlockResponse(peer, &b); err == nil {
			continue
		}
		n.tryDirectAdvance(&b)
	}
	n.advanceWithSyncBlocks()
}

// tryDirectAdvance commits a pushed block when it extends the tip exactly.
// Anything else is dropped; the sync protocol will recover the gap.
func (n *Node) tryDirectAdvance(b *types.Block) {
	if b.Height != n.ledger.LatestHeight()+1 {
		return
	}
	if err := n.ledger.CheckNextBlock(b); err != nil {
		n.logger.Warnf("The next block (%d) is invalid - %v", b.Height, err)
		n.metrics.IncCounter("blocks_rejected_total", 1)
		return
	}
	if err := n.consensus.AdvanceToNextBlock(b); err != nil {
		n.logger.Warnf("%v", err)
		n.metrics.IncCounter("blocks_rejected_total", 1)
		return
	}
	n.metrics.IncCounter("blocks_committed_total", 1)
	n.metrics.SetGauge("ledger_height", float64(b.Height))
	if err := n.pool.InsertCanonLocator(b.Height, b.Hash); err != nil {
		n.logger.Warnf("Failed to record canon locator height=%d error=%v", b.Height, err)
	}
}
