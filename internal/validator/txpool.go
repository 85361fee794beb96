package validator

import (
	"context"
	"time"
)

// The generator invokes a fixed, well-known program function with one
// identity-derived input and one fixed literal, exercising the execution
// path end to end.
const (
	txProgram  = "credits"
	txFunction = "mint"
	txAmount   = "1"
)

func (n *Node) startTransactionGenerator() {
	n.supervisor.Spawn("txpool", n.transactionLoop)
}

// transactionLoop periodically builds and broadcasts one synthetic
// transaction to keep consensus traffic live. Execution failures skip the
// cycle; the loop runs until cancellation.
func (n *Node) transactionLoop(ctx context.Context) {
	n.logger.Info("Starting transaction pool...")
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Shutting down transaction pool")
			return
		case <-time.After(n.cfg.TxPool.Interval):
		}

		// In development mode only the designated instance generates.
		if n.cfg.Dev.Enabled && n.cfg.Dev.Index != 0 {
			continue
		}

		inputs := []string{n.account.Address().Hex(), txAmount}
		tx, err := n.ledger.Execute(n.account, txProgram, txFunction, inputs)
		if err != nil {
			n.logger.Errorf("Transaction pool encountered an execution error - %v", err)
			continue
		}
		n.metrics.IncCounter("tx_generated_total", 1)

		if n.handleUnconfirmedTransaction(n.router.LocalAddr(), tx) {
			n.logger.Infof("Transaction pool broadcasted the transaction id=%s", tx.ID.Hex())
		}
	}
}
