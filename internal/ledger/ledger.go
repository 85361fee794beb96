package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"valnode/internal/crypto"
	"valnode/internal/logging"
	"valnode/internal/storage"
	"valnode/internal/types"
)

// knownPrograms is the execution surface exposed to transactions. Calls
// outside this set fail at execution time.
var knownPrograms = map[string]map[string]struct{}{
	"credits": {
		"mint":     {},
		"transfer": {},
		"split":    {},
	},
}

// Ledger holds the validated chain state. Height advancement is single-writer:
// AdvanceToNextBlock is the only mutator and appends strictly one height at a
// time.
type Ledger struct {
	mu     sync.RWMutex
	store  storage.Store
	logger logging.Logger

	latestHeight uint64
	latestHash   common.Hash

	// per-sender nonces for the execution context
	nonces map[common.Address]uint64
}

// Load opens a ledger over the given store, writing the genesis block if the
// store is empty and verifying it against the stored chain otherwise.
func Load(genesis *types.Block, store storage.Store, logger logging.Logger) (*Ledger, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if genesis == nil {
		return nil, fmt.Errorf("genesis block required")
	}
	if genesis.Height != 0 {
		return nil, fmt.Errorf("genesis block must have height 0, got %d", genesis.Height)
	}
	if err := genesis.VerifyIntegrity(); err != nil {
		return nil, fmt.Errorf("invalid genesis block: %w", err)
	}

	l := &Ledger{
		store:  store,
		logger: logger,
		nonces: map[common.Address]uint64{},
	}

	latest, ok, err := store.LoadLatestHeight()
	if err != nil {
		return nil, fmt.Errorf("load latest height: %w", err)
	}
	if !ok {
		if err := store.SaveBlock(genesis); err != nil {
			return nil, fmt.Errorf("persist genesis: %w", err)
		}
		l.latestHeight = 0
		l.latestHash = genesis.Hash
		logger.Infof("Initialized ledger from genesis hash=%s", genesis.Hash.Hex())
		return l, nil
	}

	stored, err := store.GetBlock(0)
	if err != nil {
		return nil, fmt.Errorf("load stored genesis: %w", err)
	}
	if stored.Hash != genesis.Hash {
		return nil, fmt.Errorf("stored genesis %s does not match supplied genesis %s", stored.Hash.Hex(), genesis.Hash.Hex())
	}
	tip, err := store.GetBlock(latest)
	if err != nil {
		return nil, fmt.Errorf("load tip block %d: %w", latest, err)
	}
	l.latestHeight = latest
	l.latestHash = tip.Hash
	logger.Infof("Loaded ledger height=%d tip=%s", latest, tip.Hash.Hex())
	return l, nil
}

// LatestHeight returns the height of the last validated block.
func (l *Ledger) LatestHeight() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestHeight
}

// LatestHash returns the hash of the last validated block.
func (l *Ledger) LatestHash() common.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latestHash
}

// GetBlock returns the block at the given height.
func (l *Ledger) GetBlock(height uint64) (*types.Block, error) {
	return l.store.GetBlock(height)
}

// CheckNextBlock is a pure validation predicate for a candidate next block.
// It does not mutate the ledger.
func (l *Ledger) CheckNextBlock(b *types.Block) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkNextLocked(b)
}

func (l *Ledger) checkNextLocked(b *types.Block) error {
	if b == nil {
		return fmt.Errorf("nil block")
	}
	if b.Height != l.latestHeight+1 {
		return fmt.Errorf("expected height %d, got %d", l.latestHeight+1, b.Height)
	}
	if b.PreviousHash != l.latestHash {
		return fmt.Errorf("previous hash %s does not match tip %s", b.PreviousHash.Hex(), l.latestHash.Hex())
	}
	if err := b.VerifyIntegrity(); err != nil {
		return err
	}
	tip, err := l.store.GetBlock(l.latestHeight)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	if b.Timestamp < tip.Timestamp {
		return fmt.Errorf("block timestamp %d precedes parent timestamp %d", b.Timestamp, tip.Timestamp)
	}
	return nil
}

// AdvanceToNextBlock validates and appends the next block. It must be called
// only with blocks whose height is exactly LatestHeight()+1.
func (l *Ledger) AdvanceToNextBlock(b *types.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkNextLocked(b); err != nil {
		return err
	}
	if err := l.store.SaveBlock(b); err != nil {
		return fmt.Errorf("persist block %d: %w", b.Height, err)
	}
	l.latestHeight = b.Height
	l.latestHash = b.Hash
	l.logger.Infof("Advanced ledger to height=%d hash=%s txs=%d", b.Height, b.Hash.Hex(), len(b.Transactions))
	return nil
}

// Execute builds and signs a transaction invoking a known program function on
// behalf of the given account. Nonces are assigned per sender.
func (l *Ledger) Execute(account crypto.Signer, program, function string, inputs []string) (*types.Transaction, error) {
	fns, ok := knownPrograms[program]
	if !ok {
		return nil, fmt.Errorf("unknown program %q", program)
	}
	if _, ok := fns[function]; !ok {
		return nil, fmt.Errorf("unknown function %q in program %q", function, program)
	}

	l.mu.Lock()
	sender := account.Address()
	nonce := l.nonces[sender]
	l.nonces[sender] = nonce + 1
	l.mu.Unlock()

	tx := &types.Transaction{
		Program:  program,
		Function: function,
		Inputs:   inputs,
		Sender:   sender,
		Nonce:    nonce,
	}
	tx.ID = tx.ComputeID()
	sig, err := account.Sign(tx.ID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	tx.Signature = sig
	return tx, nil
}

// Locators returns up to count recent height/hash bindings, newest first, for
// seeding the sync pool's canonical view.
func (l *Ledger) Locators(count int) ([]types.BlockLocator, error) {
	l.mu.RLock()
	latest := l.latestHeight
	l.mu.RUnlock()

	if count <= 0 {
		count = 1
	}
	out := make([]types.BlockLocator, 0, count)
	for i := 0; i < count; i++ {
		h := latest - uint64(i)
		b, err := l.store.GetBlock(h)
		if err != nil {
			return nil, fmt.Errorf("load block %d: %w", h, err)
		}
		out = append(out, types.BlockLocator{Height: b.Height, Hash: b.Hash})
		if h == 0 {
			break
		}
	}
	return out, nil
}
