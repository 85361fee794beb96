package syncpool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"valnode/internal/logging"
	"valnode/internal/types"
)

var (
	// ErrAlreadyInFlight is returned when a block request for the same height
	// is already registered.
	ErrAlreadyInFlight = errors.New("block request already in flight")
	// ErrLocatorConflict is returned when a canon locator is re-inserted with
	// a different hash. Locators are immutable once inserted.
	ErrLocatorConflict = errors.New("canon locator conflict")
)

const (
	// DefaultMaxPendingRequests caps the number of in-flight block requests.
	DefaultMaxPendingRequests = 50
	// DefaultRequestTimeout is how long an in-flight request may go
	// unanswered before it becomes eligible for re-proposal.
	DefaultRequestTimeout = 30 * time.Second
)

// BlockRequest is an outstanding request for the block at a single height.
type BlockRequest struct {
	Height       uint64
	Hash         common.Hash
	PreviousHash common.Hash
	SyncPeers    []string
	CreatedAt    time.Time
}

// Pool tracks outstanding block requests against the known canonical chain
// and the locators reported by peers. All check-and-insert operations are
// atomic under the pool mutex; in particular at most one request per height
// can ever be in flight.
type Pool struct {
	mu     sync.Mutex
	logger logging.Logger

	maxPending     int
	requestTimeout time.Duration

	canon     map[uint64]common.Hash
	canonTip  uint64
	requests  map[uint64]*BlockRequest
	responses map[uint64]*types.Block
	peers     map[string]map[uint64]common.Hash
	peerTips  map[string]uint64
}

func New(logger logging.Logger) *Pool {
	return NewWithConfig(logger, DefaultMaxPendingRequests, DefaultRequestTimeout)
}

func NewWithConfig(logger logging.Logger, maxPending int, requestTimeout time.Duration) *Pool {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingRequests
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Pool{
		logger:         logger,
		maxPending:     maxPending,
		requestTimeout: requestTimeout,
		canon:          map[uint64]common.Hash{},
		requests:       map[uint64]*BlockRequest{},
		responses:      map[uint64]*types.Block{},
		peers:          map[string]map[uint64]common.Hash{},
		peerTips:       map[string]uint64{},
	}
}

// InsertCanonLocator records a confirmed height to hash binding. Re-inserting
// the same binding is a no-op; a differing hash at a known height is a
// protocol violation and returns ErrLocatorConflict.
func (p *Pool) InsertCanonLocator(height uint64, hash common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertCanonLocked(height, hash)
}

// InsertCanonLocators records a batch of locators. The first conflict aborts
// with an error; earlier entries in the batch remain inserted.
func (p *Pool) InsertCanonLocators(locators []types.BlockLocator) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, loc := range locators {
		if err := p.insertCanonLocked(loc.Height, loc.Hash); err != nil {
			return fmt.Errorf("locator at height %d: %w", loc.Height, err)
		}
	}
	return nil
}

func (p *Pool) insertCanonLocked(height uint64, hash common.Hash) error {
	if existing, ok := p.canon[height]; ok {
		if existing != hash {
			return ErrLocatorConflict
		}
		return nil
	}
	p.canon[height] = hash
	if height > p.canonTip {
		p.canonTip = height
	}
	return nil
}

// LatestCanonHeight returns the highest height with a confirmed locator.
func (p *Pool) LatestCanonHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canonTip
}

// UpdatePeerLocators replaces the pool's view of a peer's canonical chain.
func (p *Pool) UpdatePeerLocators(peer string, locators []types.BlockLocator) {
	view := make(map[uint64]common.Hash, len(locators))
	var tip uint64
	for _, loc := range locators {
		view[loc.Height] = loc.Hash
		if loc.Height > tip {
			tip = loc.Height
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers[peer] = view
	p.peerTips[peer] = tip
}

// RemovePeer drops a disconnected peer's locators and removes it from the
// candidate set of every in-flight request.
func (p *Pool) RemovePeer(peer string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, peer)
	delete(p.peerTips, peer)
	for _, req := range p.requests {
		for i, addr := range req.SyncPeers {
			if addr == peer {
				req.SyncPeers = append(req.SyncPeers[:i], req.SyncPeers[i+1:]...)
				break
			}
		}
	}
}

// PrepareBlockRequests proposes requests for every height between the canon
// tip and the sync frontier that is neither in flight nor already answered,
// in ascending height order. Heights where peers disagree on the expected
// hash are skipped. Registration is a separate step via InsertBlockRequest.
func (p *Pool) PrepareBlockRequests() []BlockRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	frontier := uint64(0)
	for _, tip := range p.peerTips {
		if tip > frontier {
			frontier = tip
		}
	}
	if frontier <= p.canonTip {
		return nil
	}

	budget := p.maxPending - len(p.requests)
	if budget <= 0 {
		return nil
	}

	out := make([]BlockRequest, 0, budget)
	for h := p.canonTip + 1; h <= frontier && len(out) < budget; h++ {
		if _, ok := p.requests[h]; ok {
			continue
		}
		if _, ok := p.responses[h]; ok {
			continue
		}
		hash, peers, ok := p.agreedHashLocked(h)
		if !ok {
			continue
		}
		prev, _, _ := p.previousHashLocked(h)
		out = append(out, BlockRequest{
			Height:       h,
			Hash:         hash,
			PreviousHash: prev,
			SyncPeers:    peers,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// agreedHashLocked returns the hash peers agree on for a height and the
// peers reporting it. Disagreement disqualifies the height this cycle.
func (p *Pool) agreedHashLocked(height uint64) (common.Hash, []string, bool) {
	var hash common.Hash
	var peers []string
	for peer, view := range p.peers {
		h, ok := view[height]
		if !ok {
			continue
		}
		if len(peers) == 0 {
			hash = h
		} else if h != hash {
			p.logger.Warnf("Peers disagree on block hash height=%d", height)
			return common.Hash{}, nil, false
		}
		peers = append(peers, peer)
	}
	if len(peers) == 0 {
		return common.Hash{}, nil, false
	}
	sort.Strings(peers)
	return hash, peers, true
}

func (p *Pool) previousHashLocked(height uint64) (common.Hash, []string, bool) {
	if height == 0 {
		return common.Hash{}, nil, false
	}
	if hash, ok := p.canon[height-1]; ok {
		return hash, nil, true
	}
	hash, peers, ok := p.agreedHashLocked(height - 1)
	return hash, peers, ok
}

// InsertBlockRequest atomically registers a request as in flight. It fails
// with ErrAlreadyInFlight if a request for the height is already registered.
func (p *Pool) InsertBlockRequest(req BlockRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.requests[req.Height]; ok {
		return ErrAlreadyInFlight
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	cp := req
	cp.SyncPeers = append([]string(nil), req.SyncPeers...)
	p.requests[req.Height] = &cp
	return nil
}

// RemoveBlockRequest drops the in-flight request for a height, making the
// height eligible for re-proposal on a future cycle.
func (p *Pool) RemoveBlockRequest(height uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.requests, height)
}

// InsertBlockResponse accepts a block satisfying an in-flight request. The
// block must come from one of the request's candidate peers and match the
// expected hash when one was known. Acceptance consumes the request.
func (p *Pool) InsertBlockResponse(peer string, b *types.Block) error {
	if b == nil {
		return fmt.Errorf("nil block")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[b.Height]
	if !ok {
		return fmt.Errorf("unsolicited block response for height %d from %s", b.Height, peer)
	}
	solicited := false
	for _, addr := range req.SyncPeers {
		if addr == peer {
			solicited = true
			break
		}
	}
	if !solicited {
		return fmt.Errorf("block response for height %d from non-candidate peer %s", b.Height, peer)
	}
	if (req.Hash != common.Hash{}) && req.Hash != b.Hash {
		return fmt.Errorf("block response for height %d has hash %s, expected %s", b.Height, b.Hash.Hex(), req.Hash.Hex())
	}
	delete(p.requests, b.Height)
	p.responses[b.Height] = b
	return nil
}

// RemoveBlockResponse pops the stored response for a height, if any. A
// response is consumed exactly once.
func (p *Pool) RemoveBlockResponse(height uint64) *types.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.responses[height]
	if !ok {
		return nil
	}
	delete(p.responses, height)
	return b
}

// PruneStaleRequests removes in-flight requests older than the request
// timeout so they can be re-proposed. Returns the number removed.
func (p *Pool) PruneStaleRequests(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pruned := 0
	for h, req := range p.requests {
		if now.Sub(req.CreatedAt) > p.requestTimeout {
			delete(p.requests, h)
			pruned++
		}
	}
	if pruned > 0 {
		p.logger.Warnf("Pruned stale block requests count=%d", pruned)
	}
	return pruned
}

// NumInFlight returns the number of registered block requests.
func (p *Pool) NumInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// NumResponses returns the number of unconsumed block responses.
func (p *Pool) NumResponses() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses)
}
