package router

import (
	"context"

	"valnode/internal/message"
)

// Handler receives inbound envelopes from peers.
type Handler func(peer string, env *message.Envelope)

// Router manages peer connections and message delivery. Send is non-blocking
// from the caller's perspective and reports failure as ok=false rather than
// an error; the transport's own retry behavior is opaque to callers.
type Router interface {
	// LocalAddr returns the address of this node.
	LocalAddr() string
	// Peers enumerates the currently connected peer addresses.
	Peers() []string
	// Send delivers an envelope to one peer. False means the send failed.
	Send(peer string, env *message.Envelope) bool
	// Broadcast sends an envelope to every connected peer and returns the
	// number of peers it was accepted for.
	Broadcast(env *message.Envelope) int
	// SetHandler installs the inbound message handler. Must be called before
	// traffic is expected; envelopes arriving without a handler are dropped.
	SetHandler(h Handler)
	// ShutDown stops accepting peer traffic. It completes before returning,
	// bounded by the context.
	ShutDown(ctx context.Context)
}
