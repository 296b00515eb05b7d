package wamp

// Peer is the router's view of a connected client: a bidirectional channel
// of decoded WAMP messages. Transport adapters (WebSocket, in-process pipe)
// implement Peer; the router and realm never see raw bytes.
type Peer interface {
	// Recv returns the channel the transport delivers decoded inbound
	// messages on. The channel is closed when the transport is gone.
	Recv() <-chan Message

	// Send enqueues msg for delivery to the peer, blocking if necessary.
	Send(msg Message) error

	// TrySend enqueues msg without blocking the caller for long: it
	// attempts an immediate send, then falls back to a bounded wait, and
	// finally reports an error instead of blocking the router/realm state
	// loop on a slow or stuck peer.
	TrySend(msg Message) error

	// Close releases the transport. Safe to call more than once.
	Close()
}
