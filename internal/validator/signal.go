package validator

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"valnode/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// signalSlot is a write-once slot resolved after construction. The signal
// handler is installed before the node exists; the constructed node is
// published into the slot as the final construction step.
type signalSlot struct {
	once sync.Once
	ch   chan *Node
}

func (s *signalSlot) set(n *Node) {
	s.once.Do(func() { s.ch <- n })
}

// handleSignals installs the process signal handler. The returned done
// channel closes once a received signal has driven the node through a full
// shutdown.
func handleSignals(logger logging.Logger) (*signalSlot, <-chan struct{}) {
	slot := &signalSlot{ch: make(chan *Node, 1)}
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)
		sig := <-sigCh
		logger.Infof("Received signal, shutting down signal=%s", sig)

		var node *Node
		select {
		case node = <-slot.ch:
		default:
			logger.Error("Received signal before node construction completed")
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		node.ShutDown(ctx)
	}()

	return slot, done
}
