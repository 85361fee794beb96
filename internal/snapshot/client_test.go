package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"valnode/internal/crypto"
	"valnode/internal/ledger"
	"valnode/internal/storage"
	"valnode/internal/types"
)

func buildChain(t *testing.T, genesis *types.Block, length int) []*types.Block {
	t.Helper()
	account, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	chain := []*types.Block{genesis}
	for i := 1; i <= length; i++ {
		parent := chain[i-1]
		b := &types.Block{
			Height:       parent.Height + 1,
			PreviousHash: parent.Hash,
			Timestamp:    parent.Timestamp + 1,
			Validator:    account.Address(),
		}
		b.Seal()
		chain = append(chain, b)
	}
	return chain
}

func snapshotHost(t *testing.T, chain []*types.Block) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/height", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(chain[len(chain)-1].Height)
	})
	mux.HandleFunc("/block/", func(w http.ResponseWriter, r *http.Request) {
		h, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/block/"), 10, 64)
		if err != nil || h >= uint64(len(chain)) {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(chain[h])
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncFastForwardsLedger(t *testing.T) {
	genesis := types.NewGenesisBlock(common.Address{1}, 1700000000)
	chain := buildChain(t, genesis, 3)
	srv := snapshotHost(t, chain)

	l, err := ledger.Load(genesis, storage.NewInMemory(), nil)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	c := NewClient(srv.URL, nil)
	if err := c.Sync(context.Background(), l); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if l.LatestHeight() != 3 || l.LatestHash() != chain[3].Hash {
		t.Fatalf("unexpected tip after sync: height=%d", l.LatestHeight())
	}

	// A second sync against the same host is a no-op.
	if err := c.Sync(context.Background(), l); err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	if l.LatestHeight() != 3 {
		t.Fatalf("re-sync moved the tip to %d", l.LatestHeight())
	}
}

func TestSyncFailsOnInvalidBlock(t *testing.T) {
	genesis := types.NewGenesisBlock(common.Address{1}, 1700000000)
	chain := buildChain(t, genesis, 2)
	// Corrupt the first served block.
	chain[1].Hash = chain[2].Hash
	srv := snapshotHost(t, chain)

	l, err := ledger.Load(genesis, storage.NewInMemory(), nil)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	c := NewClient(srv.URL, nil)
	if err := c.Sync(context.Background(), l); err == nil {
		t.Fatal("expected sync to fail on corrupt block")
	}
	// The ledger stays at its last validated height.
	if l.LatestHeight() != 0 {
		t.Fatalf("ledger advanced past corrupt block to %d", l.LatestHeight())
	}
}

func TestSyncFailsWhenHostUnreachable(t *testing.T) {
	genesis := types.NewGenesisBlock(common.Address{1}, 1700000000)
	l, err := ledger.Load(genesis, storage.NewInMemory(), nil)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	c := NewClient("http://127.0.0.1:1", nil)
	if err := c.Sync(context.Background(), l); err == nil {
		t.Fatal("expected sync to fail against unreachable host")
	}
}
