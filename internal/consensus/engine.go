package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"valnode/internal/crypto"
	"valnode/internal/ledger"
	"valnode/internal/logging"
	"valnode/internal/types"
)

const (
	// DefaultBlockInterval is how often the production loop wakes up.
	DefaultBlockInterval = time.Second
	// maxMempoolSize bounds the number of pending transactions.
	maxMempoolSize = 4096
	// maxBlockTransactions bounds how many transactions one block carries.
	maxBlockTransactions = 256
)

// Engine orders pending transactions into blocks and appends them to the
// ledger. Block production rotates round-robin over the trusted validator
// set; a node outside the set never produces.
type Engine struct {
	mu         sync.Mutex
	ledger     *ledger.Ledger
	account    crypto.Signer
	validators []common.Address
	interval   time.Duration
	logger     logging.Logger

	mempool    []*types.Transaction
	mempoolIdx map[common.Hash]struct{}
	onCommit   func(*types.Block)

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a consensus engine bound to the ledger and a fixed set of
// trusted validator addresses. An empty set means solo production.
func New(account crypto.Signer, l *ledger.Ledger, trustedValidators []common.Address, logger logging.Logger) (*Engine, error) {
	if account == nil {
		return nil, fmt.Errorf("account required")
	}
	if l == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Engine{
		ledger:     l,
		account:    account,
		validators: append([]common.Address(nil), trustedValidators...),
		interval:   DefaultBlockInterval,
		logger:     logger,
		mempoolIdx: map[common.Hash]struct{}{},
	}, nil
}

// Ledger returns the ledger the engine advances.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// SetCommitHandler installs a callback invoked for every block the engine
// itself produces.
func (e *Engine) SetCommitHandler(fn func(*types.Block)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCommit = fn
}

// SetBlockInterval overrides the production interval. Must be called before
// Run.
func (e *Engine) SetBlockInterval(d time.Duration) {
	if d > 0 {
		e.interval = d
	}
}

// Run starts the production loop. It returns only after the loop has
// completed its startup handshake, or fails if the context is canceled
// first.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("consensus engine already running")
	}
	e.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	ready := make(chan struct{})
	go e.productionLoop(loopCtx, ready)

	select {
	case <-ready:
		e.logger.Infof("Consensus engine started producer=%t validators=%d", e.isProducerAt(e.ledger.LatestHeight()+1), len(e.validators))
		return nil
	case <-ctx.Done():
		cancel()
		<-e.done
		return fmt.Errorf("consensus startup aborted: %w", ctx.Err())
	}
}

func (e *Engine) productionLoop(ctx context.Context, ready chan struct{}) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	close(ready)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Consensus production loop stopped")
			return
		case <-ticker.C:
			e.tryProduceBlock()
		}
	}
}

func (e *Engine) isProducerAt(height uint64) bool {
	if len(e.validators) == 0 {
		return true
	}
	return e.validators[height%uint64(len(e.validators))] == e.account.Address()
}

func (e *Engine) tryProduceBlock() {
	next := e.ledger.LatestHeight() + 1
	if !e.isProducerAt(next) {
		return
	}

	e.mu.Lock()
	if len(e.mempool) == 0 {
		e.mu.Unlock()
		return
	}
	count := len(e.mempool)
	if count > maxBlockTransactions {
		count = maxBlockTransactions
	}
	txs := make([]types.Transaction, count)
	for i := 0; i < count; i++ {
		txs[i] = *e.mempool[i]
	}
	onCommit := e.onCommit
	e.mu.Unlock()

	block := &types.Block{
		Height:       next,
		PreviousHash: e.ledger.LatestHash(),
		Timestamp:    time.Now().Unix(),
		Validator:    e.account.Address(),
		Transactions: txs,
	}
	block.Seal()

	if err := e.ledger.AdvanceToNextBlock(block); err != nil {
		e.logger.Warnf("Failed to commit produced block height=%d error=%v", next, err)
		return
	}
	e.pruneMempool(block)
	e.logger.Infof("Produced block height=%d txs=%d", block.Height, len(block.Transactions))
	if onCommit != nil {
		onCommit(block)
	}
}

func (e *Engine) pruneMempool(b *types.Block) {
	included := make(map[common.Hash]struct{}, len(b.Transactions))
	for i := range b.Transactions {
		included[b.Transactions[i].ID] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.mempool[:0]
	for _, tx := range e.mempool {
		if _, ok := included[tx.ID]; ok {
			delete(e.mempoolIdx, tx.ID)
			continue
		}
		kept = append(kept, tx)
	}
	e.mempool = kept
}

// SubmitTransaction validates a transaction and queues it for inclusion.
// Duplicates are rejected.
func (e *Engine) SubmitTransaction(tx *types.Transaction) error {
	if tx == nil {
		return fmt.Errorf("nil transaction")
	}
	if err := tx.Verify(); err != nil {
		return err
	}
	if !crypto.VerifySignature(tx.Sender, tx.ID.Bytes(), tx.Signature) {
		return fmt.Errorf("invalid transaction signature for %s", tx.ID.Hex())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.mempoolIdx[tx.ID]; ok {
		return fmt.Errorf("transaction %s already in mempool", tx.ID.Hex())
	}
	if len(e.mempool) >= maxMempoolSize {
		return fmt.Errorf("mempool full")
	}
	cp := *tx
	e.mempool = append(e.mempool, &cp)
	e.mempoolIdx[tx.ID] = struct{}{}
	return nil
}

// MempoolSize returns the number of queued transactions.
func (e *Engine) MempoolSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.mempool)
}

// AdvanceToNextBlock appends an externally received, already requested block
// and drops any of its transactions from the mempool.
func (e *Engine) AdvanceToNextBlock(b *types.Block) error {
	if err := e.ledger.AdvanceToNextBlock(b); err != nil {
		return err
	}
	e.pruneMempool(b)
	return nil
}

// ShutDown stops the production loop and waits for it to exit, bounded by
// the context. Errors are logged, never returned.
func (e *Engine) ShutDown(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warnf("Consensus shutdown timed out error=%v", ctx.Err())
	}
	e.logger.Info("Consensus engine shut down")
}
