package router_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wampcore/broker/router"
	"github.com/wampcore/broker/transport"
	"github.com/wampcore/broker/wamp"
)

func newAttachedSession(r router.Router, realm wamp.URI, roles ...string) wamp.Peer {
	client, server := transport.NewLocalPipe()
	roleDict := wamp.Dict{}
	for _, role := range roles {
		roleDict[role] = wamp.Dict{}
	}
	go r.Attach(server)
	Expect(client.Send(&wamp.Hello{Realm: realm, Details: wamp.Dict{"roles": roleDict}})).To(Succeed())
	msg, err := wamp.RecvTimeout(client, recvTimeout)
	Expect(err).NotTo(HaveOccurred())
	Expect(msg).To(BeAssignableToTypeOf(&wamp.Welcome{}))
	return client
}

var _ = Describe("Broker", func() {
	const realm = wamp.URI("test.realm")
	var r router.Router

	BeforeEach(func() {
		r = router.NewRouter(&router.Config{ValidationMode: "loose"})
		_, err := r.AddRealm(&router.RealmConfig{URI: realm})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		r.Close()
	})

	Context("when two peers subscribe to the same topic", func() {
		It("coalesces them into a single subscription and fans out events to both", func() {
			sub1 := newAttachedSession(r, realm, "subscriber")
			sub2 := newAttachedSession(r, realm, "subscriber")
			pub := newAttachedSession(r, realm, "publisher")

			Expect(sub1.Send(&wamp.Subscribe{Request: 1, Options: wamp.Dict{}, Topic: "a.b.c"})).To(Succeed())
			reply1, err := wamp.RecvTimeout(sub1, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			subscribed1 := reply1.(*wamp.Subscribed)

			Expect(sub2.Send(&wamp.Subscribe{Request: 2, Options: wamp.Dict{}, Topic: "a.b.c"})).To(Succeed())
			reply2, err := wamp.RecvTimeout(sub2, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			subscribed2 := reply2.(*wamp.Subscribed)

			Expect(subscribed1.Subscription).To(Equal(subscribed2.Subscription))

			Expect(pub.Send(&wamp.Publish{Request: 3, Options: wamp.Dict{}, Topic: "a.b.c", Arguments: wamp.List{"hi"}})).To(Succeed())

			evt1, err := wamp.RecvTimeout(sub1, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(evt1.(*wamp.Event).Arguments).To(Equal(wamp.List{"hi"}))

			evt2, err := wamp.RecvTimeout(sub2, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(evt2.(*wamp.Event).Arguments).To(Equal(wamp.List{"hi"}))
		})
	})

	Context("when a publisher is also a subscriber to its own topic", func() {
		It("never receives its own event", func() {
			pub := newAttachedSession(r, realm, "publisher", "subscriber")

			Expect(pub.Send(&wamp.Subscribe{Request: 1, Options: wamp.Dict{}, Topic: "loopback"})).To(Succeed())
			_, err := wamp.RecvTimeout(pub, recvTimeout)
			Expect(err).NotTo(HaveOccurred())

			Expect(pub.Send(&wamp.Publish{Request: 2, Options: wamp.Dict{}, Topic: "loopback", Arguments: wamp.List{"x"}})).To(Succeed())

			_, err = wamp.RecvTimeout(pub, shortTimeout)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("publish with no subscribers", func() {
		It("acknowledges without sending any event", func() {
			pub := newAttachedSession(r, realm, "publisher")
			Expect(pub.Send(&wamp.Publish{
				Request: 1,
				Options: wamp.Dict{"acknowledge": true},
				Topic:   "nobody.home",
			})).To(Succeed())
			reply, err := wamp.RecvTimeout(pub, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(BeAssignableToTypeOf(&wamp.Published{}))
		})
	})

	Context("role enforcement", func() {
		It("rejects SUBSCRIBE from a peer without the subscriber role", func() {
			pub := newAttachedSession(r, realm, "publisher")
			Expect(pub.Send(&wamp.Subscribe{Request: 1, Options: wamp.Dict{}, Topic: "x"})).To(Succeed())
			reply, err := wamp.RecvTimeout(pub, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			errMsg, ok := reply.(*wamp.Error)
			Expect(ok).To(BeTrue())
			Expect(errMsg.Error).To(Equal(wamp.ErrNoSubscriberRole))
		})
	})

	Context("UNSUBSCRIBE", func() {
		It("rejects an unknown subscription id", func() {
			sub := newAttachedSession(r, realm, "subscriber")
			Expect(sub.Send(&wamp.Unsubscribe{Request: 1, Subscription: 999999})).To(Succeed())
			reply, err := wamp.RecvTimeout(sub, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			errMsg, ok := reply.(*wamp.Error)
			Expect(ok).To(BeTrue())
			Expect(errMsg.Error).To(Equal(wamp.ErrNoSuchSubscription))
		})

		It("returns subscriber state to its pre-subscribe value", func() {
			sub := newAttachedSession(r, realm, "subscriber")

			Expect(sub.Send(&wamp.Subscribe{Request: 1, Options: wamp.Dict{}, Topic: "a.b.c"})).To(Succeed())
			reply, err := wamp.RecvTimeout(sub, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			subscribed := reply.(*wamp.Subscribed)
			Expect(r.TopicHasSubscribers(realm, "a.b.c")).To(BeTrue())

			Expect(sub.Send(&wamp.Unsubscribe{Request: 2, Subscription: subscribed.Subscription})).To(Succeed())
			reply, err = wamp.RecvTimeout(sub, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(BeAssignableToTypeOf(&wamp.Unsubscribed{}))
			Expect(r.TopicHasSubscribers(realm, "a.b.c")).To(BeFalse())
		})

		It("succeeds when the calling session never subscribed to that subscription", func() {
			sub := newAttachedSession(r, realm, "subscriber")
			other := newAttachedSession(r, realm, "subscriber")

			Expect(sub.Send(&wamp.Subscribe{Request: 1, Options: wamp.Dict{}, Topic: "a.b.c"})).To(Succeed())
			reply, err := wamp.RecvTimeout(sub, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			subscribed := reply.(*wamp.Subscribed)

			Expect(other.Send(&wamp.Unsubscribe{Request: 2, Subscription: subscribed.Subscription})).To(Succeed())
			reply, err = wamp.RecvTimeout(other, recvTimeout)
			Expect(err).NotTo(HaveOccurred())
			Expect(reply).To(BeAssignableToTypeOf(&wamp.Unsubscribed{}))

			// sub was never removed from the subscriber set, since it was
			// other, not sub, that called UNSUBSCRIBE.
			Expect(r.TopicHasSubscribers(realm, "a.b.c")).To(BeTrue())
		})
	})
})
