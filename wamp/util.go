package wamp

import (
	"errors"
	"time"
)

// RecvTimeout waits up to timeout for one message from peer, returning an
// error if the timeout elapses or the peer's receive channel closes first.
// Used by the router to bound how long it will wait for the initial HELLO.
func RecvTimeout(peer Peer, timeout time.Duration) (Message, error) {
	select {
	case msg, open := <-peer.Recv():
		if !open {
			return nil, errors.New("peer closed before sending a message")
		}
		return msg, nil
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for message")
	}
}
