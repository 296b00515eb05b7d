// Package transport provides wamp.Peer implementations: an in-process pipe
// for same-process clients (used by the tests) and a WebSocket adapter for
// real network clients.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/wampcore/broker/wamp"
)

const trySendTimeout = 250 * time.Millisecond

// localPeer is a wamp.Peer backed by a pair of channels. NewLocalPipe
// returns two localPeers that are each other's remote end: messages sent on
// one arrive on the other's Recv channel, with no transport in between.
type localPeer struct {
	mu     sync.Mutex
	send   chan wamp.Message // owned for writing by this peer; closed on Close
	closed bool

	recv chan wamp.Message // forwards from the other peer's send channel
}

// NewLocalPipe returns a connected pair of peers.
func NewLocalPipe() (wamp.Peer, wamp.Peer) {
	aToB := make(chan wamp.Message, 16)
	bToA := make(chan wamp.Message, 16)
	a := &localPeer{send: aToB, recv: bToA}
	b := &localPeer{send: bToA, recv: aToB}
	return a, b
}

func (p *localPeer) Recv() <-chan wamp.Message { return p.recv }

func (p *localPeer) Send(msg wamp.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("peer closed")
	}
	p.send <- msg
	return nil
}

func (p *localPeer) TrySend(msg wamp.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("peer closed")
	}
	select {
	case p.send <- msg:
		return nil
	default:
	}
	select {
	case p.send <- msg:
		return nil
	case <-time.After(trySendTimeout):
		return errors.New("peer send timed out")
	}
}

func (p *localPeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}
