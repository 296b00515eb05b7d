package router

import (
	"errors"
	"sync"

	"github.com/wampcore/broker/wamp"
)

// errClosed is returned when an operation is attempted against a realm
// whose single-writer task has already stopped.
var errClosed = errors.New("realm closed")

// idAllocator is the subset of the router's scope-generator API a realm
// needs. Realms never maintain their own live-ID sets; they just ask for
// the next ID in a scope and release it when the allocation's owner goes
// away.
type idAllocator interface {
	nextPublicationID() wamp.ID
	nextSubscriptionID() wamp.ID
	releaseSubscriptionID(wamp.ID)
	releaseSessionID(wamp.ID)
}

// realm is an administrative routing namespace: a single-writer task
// owning a session table and a broker. Every mutation of realm or broker
// state is made from inside a closure run on actionChan, so the realm
// behaves like an actor: state is only ever touched from inside its own
// goroutine, just scoped per-realm instead of per-process.
type realm struct {
	uri       wamp.URI
	strictURI bool
	ids       idAllocator
	broker    *broker

	sessions map[wamp.ID]*wamp.Session

	actionChan chan func()
	stopCh     chan struct{}
	stopOnce   sync.Once

	abortOnProtocolViolation bool
}

func newRealm(uri wamp.URI, strictURI bool, ids idAllocator) *realm {
	return &realm{
		uri:        uri,
		strictURI:  strictURI,
		ids:        ids,
		broker:     newBroker(ids),
		sessions:   map[wamp.ID]*wamp.Session{},
		actionChan: make(chan func()),
		stopCh:     make(chan struct{}),
	}
}

// run is the realm's single-writer task.
func (rlm *realm) run() {
	for {
		select {
		case action := <-rlm.actionChan:
			action()
		case <-rlm.stopCh:
			return
		}
	}
}

// enqueue posts fn to the realm's task and reports whether it was accepted;
// it returns false instead of blocking forever if the realm has already
// stopped.
func (rlm *realm) enqueue(fn func()) bool {
	select {
	case rlm.actionChan <- fn:
		return true
	case <-rlm.stopCh:
		return false
	}
}

// sessionCount returns the number of live sessions, used by admin
// introspection.
func (rlm *realm) sessionCount() int {
	n := make(chan int, 1)
	if !rlm.enqueue(func() { n <- len(rlm.sessions) }) {
		return 0
	}
	return <-n
}

// admit records sess as a live session of this realm and starts the
// goroutine that feeds its inbound messages through the session FSM.
func (rlm *realm) admit(sess *wamp.Session) error {
	done := make(chan struct{})
	ok := rlm.enqueue(func() {
		rlm.sessions[sess.ID] = sess
		close(done)
	})
	if !ok {
		return errClosed
	}
	<-done
	go rlm.sessionLoop(sess)
	return nil
}

// sessionLoop is the per-peer receive loop: it enforces strict per-peer
// FIFO delivery by handling exactly one inbound message at a time, handing
// each to the realm's single-writer task and waiting for that dispatch to
// finish before reading the next message.
func (rlm *realm) sessionLoop(sess *wamp.Session) {
	for {
		select {
		case msg, open := <-sess.Recv():
			if !open {
				rlm.detach(sess)
				return
			}
			if rlm.deliver(sess, msg) {
				rlm.detach(sess)
				return
			}
		case <-rlm.stopCh:
			return
		}
	}
}

// deliver runs one inbound message through the session FSM and
// reports whether the session should end as a result.
func (rlm *realm) deliver(sess *wamp.Session, msg wamp.Message) (sessionEnded bool) {
	done := make(chan bool, 1)
	ok := rlm.enqueue(func() {
		done <- rlm.handleMessage(sess, msg)
	})
	if !ok {
		return true
	}
	return <-done
}

// handleMessage runs on the realm's single-writer task.
func (rlm *realm) handleMessage(sess *wamp.Session, msg wamp.Message) (sessionEnded bool) {
	if DebugEnabled {
		log.Printf("realm %s: session %d: %s", rlm.uri, sess.ID, msg.MessageType())
	}
	switch m := msg.(type) {
	case *wamp.Hello:
		// A HELLO on an already-open session is a no-op: no reply, state
		// unchanged, session count unchanged.
		return false
	case *wamp.Goodbye:
		sess.SetClosing()
		sess.Send(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.CloseGoodbyeAndOut})
		return true
	case *wamp.Publish:
		if reply := rlm.broker.publish(sess, m); reply != nil {
			sess.Send(reply)
		}
		return false
	case *wamp.Subscribe:
		sess.Send(rlm.broker.subscribe(sess, m))
		return false
	case *wamp.Unsubscribe:
		sess.Send(rlm.broker.unsubscribe(sess, m))
		return false
	default:
		// Anything else (including CALL/REGISTER-family messages, since
		// the dealer role is unimplemented) is a session-level protocol
		// error.
		if rlm.abortOnProtocolViolation {
			sess.Send(&wamp.Abort{
				Details: wamp.Dict{"message": "unexpected message " + msg.MessageType().String()},
				Reason:  wamp.ErrProtocolViolation,
			})
			return true
		}
		log.Print("realm ", rlm.uri, ": dropping unexpected ", msg.MessageType(), " from session ", sess.ID)
		return false
	}
}

// detach purges sess from the realm: it is removed from the session table
// and from every subscription it belongs to, deleting any subscription
// that becomes empty as a result. detach is
// idempotent; calling it twice for the same session is a no-op the second
// time.
func (rlm *realm) detach(sess *wamp.Session) {
	rlm.enqueue(func() {
		if _, ok := rlm.sessions[sess.ID]; !ok {
			return
		}
		delete(rlm.sessions, sess.ID)
		rlm.broker.detachSession(sess.ID)
		rlm.ids.releaseSessionID(sess.ID)
		sess.End(nil)
	})
}

// close shuts the realm down: every live session's peer is closed, then
// the realm's single-writer task stops and stopCh is closed, which makes
// every sessionLoop return.
func (rlm *realm) close() {
	rlm.stopOnce.Do(func() {
		done := make(chan struct{})
		ok := rlm.enqueue(func() {
			for _, sess := range rlm.sessions {
				sess.Close()
			}
			close(done)
		})
		if ok {
			<-done
		}
		close(rlm.stopCh)
	})
}
