package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"valnode/internal/crypto"
	"valnode/internal/ledger"
	"valnode/internal/storage"
	"valnode/internal/types"
)

func newTestEngine(t *testing.T, validators []common.Address) (*Engine, *crypto.ECDSASigner) {
	t.Helper()
	account, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	genesis := types.NewGenesisBlock(account.Address(), 1700000000)
	l, err := ledger.Load(genesis, storage.NewInMemory(), nil)
	if err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	e, err := New(account, l, validators, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, account
}

func submitOne(t *testing.T, e *Engine, account *crypto.ECDSASigner) *types.Transaction {
	t.Helper()
	tx, err := e.Ledger().Execute(account, "credits", "mint", []string{account.Address().Hex(), "1"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := e.SubmitTransaction(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return tx
}

func TestSubmitTransactionValidation(t *testing.T) {
	e, account := newTestEngine(t, nil)

	tx := submitOne(t, e, account)
	if err := e.SubmitTransaction(tx); err == nil {
		t.Fatal("expected duplicate rejection")
	}

	tampered := *tx
	tampered.ID = common.HexToHash("0xdead")
	if err := e.SubmitTransaction(&tampered); err == nil {
		t.Fatal("expected id mismatch rejection")
	}

	forged, err := e.Ledger().Execute(account, "credits", "mint", []string{"z"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	other, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	forged.Sender = other.Address()
	forged.ID = forged.ComputeID()
	if err := e.SubmitTransaction(forged); err == nil {
		t.Fatal("expected signature rejection")
	}

	if got := e.MempoolSize(); got != 1 {
		t.Fatalf("expected mempool size 1, got %d", got)
	}
}

func TestRunProducesBlockFromMempool(t *testing.T) {
	e, account := newTestEngine(t, nil)
	e.SetBlockInterval(5 * time.Millisecond)
	submitOne(t, e, account)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer e.ShutDown(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for e.Ledger().LatestHeight() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no block produced before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b, err := e.Ledger().GetBlock(1)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if len(b.Transactions) != 1 || b.Validator != account.Address() {
		t.Fatalf("unexpected block contents: txs=%d validator=%s", len(b.Transactions), b.Validator.Hex())
	}
	if got := e.MempoolSize(); got != 0 {
		t.Fatalf("expected pruned mempool, got %d", got)
	}
}

func TestNonProducerNeverProduces(t *testing.T) {
	other, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	e, account := newTestEngine(t, []common.Address{other.Address()})
	e.SetBlockInterval(5 * time.Millisecond)
	submitOne(t, e, account)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	defer e.ShutDown(context.Background())

	time.Sleep(50 * time.Millisecond)
	if got := e.Ledger().LatestHeight(); got != 0 {
		t.Fatalf("node outside the validator set produced height %d", got)
	}
	if got := e.MempoolSize(); got != 1 {
		t.Fatalf("expected transaction to stay queued, got %d", got)
	}
}

func TestRunTwiceFails(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := e.Run(context.Background()); err == nil {
		t.Fatal("expected second run to fail")
	}
	e.ShutDown(context.Background())
}

func TestAdvanceToNextBlockPrunesMempool(t *testing.T) {
	e, account := newTestEngine(t, nil)
	tx := submitOne(t, e, account)

	tip, err := e.Ledger().GetBlock(0)
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}
	b := &types.Block{
		Height:       1,
		PreviousHash: tip.Hash,
		Timestamp:    tip.Timestamp + 1,
		Validator:    account.Address(),
		Transactions: []types.Transaction{*tx},
	}
	b.Seal()

	if err := e.AdvanceToNextBlock(b); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got := e.Ledger().LatestHeight(); got != 1 {
		t.Fatalf("expected height 1, got %d", got)
	}
	if got := e.MempoolSize(); got != 0 {
		t.Fatalf("expected included transaction pruned, got %d", got)
	}
}
