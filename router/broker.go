package router

import (
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/wampcore/broker/wamp"
)

// subscription is a topic's subscriber set. Every mutation replaces the
// struct and its subscribers map wholesale (copy-on-write) so that a reader
// outside the realm's single-writer task - the admin HTTP surface - can
// hold a reference to one and range over it without racing the writer.
type subscription struct {
	id          wamp.ID
	topic       wamp.URI
	subscribers map[wamp.ID]wamp.Peer // session ID -> peer
}

func (s *subscription) clone() *subscription {
	cp := &subscription{id: s.id, topic: s.topic, subscribers: make(map[wamp.ID]wamp.Peer, len(s.subscribers))}
	for k, v := range s.subscribers {
		cp.subscribers[k] = v
	}
	return cp
}

// broker matches PUBLISH to SUBSCRIBE within one realm. Exactly one
// subscription exists per distinct topic URI; a second SUBSCRIBE for the
// same topic is coalesced into the existing one rather than creating a
// duplicate.
//
// The radix index is read by the admin HTTP handlers (via snapshot) from a
// goroutine other than the realm's single-writer task, so every mutation
// goes through store/remove, which swap in a new tree holding a freshly
// cloned subscription rather than mutating one in place. byID is only
// touched from the realm's task.
type broker struct {
	ids idAllocator

	byID  map[wamp.ID]*subscription
	index atomic.Value // *iradix.Tree, keyed by topic string
}

func newBroker(ids idAllocator) *broker {
	b := &broker{
		ids:  ids,
		byID: map[wamp.ID]*subscription{},
	}
	b.index.Store(iradix.New())
	return b
}

func (b *broker) tree() *iradix.Tree {
	return b.index.Load().(*iradix.Tree)
}

func (b *broker) lookup(topic wamp.URI) (*subscription, bool) {
	v, ok := b.tree().Get([]byte(topic))
	if !ok {
		return nil, false
	}
	return v.(*subscription), true
}

// store installs sub as the subscription for its topic, replacing whatever
// was there before.
func (b *broker) store(sub *subscription) {
	tree, _, _ := b.tree().Insert([]byte(sub.topic), sub)
	b.index.Store(tree)
	b.byID[sub.id] = sub
}

// remove deletes a topic's subscription entirely.
func (b *broker) remove(sub *subscription) {
	tree, _, _ := b.tree().Delete([]byte(sub.topic))
	b.index.Store(tree)
	delete(b.byID, sub.id)
}

// snapshot returns every live subscription, for admin introspection. It is
// safe to call from outside the realm's single-writer task.
func (b *broker) snapshot() []*subscription {
	tree := b.tree()
	subs := make([]*subscription, 0, tree.Len())
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		subs = append(subs, v.(*subscription))
		return false
	})
	return subs
}

// subscribe handles SUBSCRIBE. Runs on the realm's single-writer task.
func (b *broker) subscribe(sess *wamp.Session, msg *wamp.Subscribe) wamp.Message {
	if !sess.HasRole("subscriber") {
		return &wamp.Error{
			RequestType: wamp.SUBSCRIBE,
			Request:     msg.Request,
			Details:     wamp.Dict{},
			Error:       wamp.ErrNoSubscriberRole,
		}
	}

	sub, ok := b.lookup(msg.Topic)
	if !ok {
		sub = &subscription{
			id:          b.ids.nextSubscriptionID(),
			topic:       msg.Topic,
			subscribers: map[wamp.ID]wamp.Peer{},
		}
	} else if _, already := sub.subscribers[sess.ID]; already {
		// Re-subscribing to a topic you are already on is idempotent: the
		// same subscription ID comes back and the subscriber set is
		// unchanged.
		return &wamp.Subscribed{Request: msg.Request, Subscription: sub.id}
	} else {
		sub = sub.clone()
	}
	sub.subscribers[sess.ID] = sess.Peer
	b.store(sub)

	return &wamp.Subscribed{Request: msg.Request, Subscription: sub.id}
}

// unsubscribe handles UNSUBSCRIBE. Runs on the realm's single-writer task.
func (b *broker) unsubscribe(sess *wamp.Session, msg *wamp.Unsubscribe) wamp.Message {
	sub, ok := b.byID[msg.Subscription]
	if !ok {
		return &wamp.Error{
			RequestType: wamp.UNSUBSCRIBE,
			Request:     msg.Request,
			Details:     wamp.Dict{},
			Error:       wamp.ErrNoSuchSubscription,
		}
	}

	// UNSUBSCRIBE only needs a valid subscription id; the calling session
	// need not actually be a subscriber. Removing a session absent from the
	// subscriber set is a safe no-op.
	cp := sub.clone()
	delete(cp.subscribers, sess.ID)
	if len(cp.subscribers) == 0 {
		b.remove(sub)
		b.ids.releaseSubscriptionID(sub.id)
	} else {
		b.store(cp)
	}
	return &wamp.Unsubscribed{Request: msg.Request}
}

// publish handles PUBLISH. Runs on the realm's single-writer task; the
// actual fan-out uses TrySend so a slow or dead subscriber cannot stall
// delivery to the rest of the subscriber set.
func (b *broker) publish(sess *wamp.Session, msg *wamp.Publish) wamp.Message {
	ack, _ := msg.Options["acknowledge"].(bool)

	if !sess.HasRole("publisher") {
		if ack {
			return &wamp.Error{
				RequestType: wamp.PUBLISH,
				Request:     msg.Request,
				Details:     wamp.Dict{},
				Error:       wamp.ErrNoPublisherRole,
			}
		}
		return nil
	}

	pubID := b.ids.nextPublicationID()

	if sub, ok := b.lookup(msg.Topic); ok {
		event := &wamp.Event{
			Subscription: sub.id,
			Publication:  pubID,
			Details:      wamp.Dict{},
			Arguments:    msg.Arguments,
			ArgumentsKw:  msg.ArgumentsKw,
		}
		for subID, peer := range sub.subscribers {
			if subID == sess.ID {
				// A publisher never receives its own event unless it also
				// holds a subscription and excludeMe explicitly says
				// otherwise; excludeMe defaults to true on the wire and
				// this router does not implement the opt-out.
				continue
			}
			if err := peer.TrySend(event); err != nil {
				peer.Close()
			}
		}
	}

	if ack {
		return &wamp.Published{Request: msg.Request, Publication: pubID}
	}
	return nil
}

// detachSession purges sessID from every subscription it belongs to,
// deleting any subscription left with no subscribers. Runs on the realm's
// single-writer task.
func (b *broker) detachSession(sessID wamp.ID) {
	for _, sub := range b.snapshot() {
		if _, ok := sub.subscribers[sessID]; !ok {
			continue
		}
		cp := sub.clone()
		delete(cp.subscribers, sessID)
		if len(cp.subscribers) == 0 {
			b.remove(sub)
			b.ids.releaseSubscriptionID(sub.id)
		} else {
			b.store(cp)
		}
	}
}
