// Package features runs the router's end-to-end scenarios as Gherkin
// feature files, driven by cucumber/godog.
package features

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/wampcore/broker/router"
	"github.com/wampcore/broker/transport"
	"github.com/wampcore/broker/wamp"
)

type peerHandle struct {
	client       wamp.Peer // the end the test drives directly
	lastReply    wamp.Message
	subscription wamp.ID
}

type suite struct {
	r     router.Router
	realm wamp.URI
	peers map[string]*peerHandle
}

func newSuite() *suite {
	cfg := &router.Config{ValidationMode: "loose"}
	r := router.NewRouter(cfg)
	return &suite{r: r, peers: map[string]*peerHandle{}}
}

func (s *suite) routerWithRealm(realm string) error {
	_, err := s.r.AddRealm(&router.RealmConfig{URI: wamp.URI(realm)})
	s.realm = wamp.URI(realm)
	return err
}

func (s *suite) peerJoins(name, realm, roles string) error {
	client, server := transport.NewLocalPipe()
	s.peers[name] = &peerHandle{client: client}

	roleDict := wamp.Dict{}
	for _, role := range splitCSV(roles) {
		roleDict[role] = wamp.Dict{}
	}
	hello := &wamp.Hello{Realm: wamp.URI(realm), Details: wamp.Dict{"roles": roleDict}}

	go s.r.Attach(server)

	if err := client.Send(hello); err != nil {
		return err
	}
	msg, err := wamp.RecvTimeout(client, 2*time.Second)
	if err != nil {
		return fmt.Errorf("attach did not reply: %w", err)
	}
	s.peers[name].lastReply = msg
	return nil
}

func (s *suite) peerSendsHello(name, realm, roles string) error {
	if _, ok := s.peers[name]; !ok {
		return s.peerJoins(name, realm, roles)
	}
	p := s.peers[name]
	roleDict := wamp.Dict{}
	for _, role := range splitCSV(roles) {
		roleDict[role] = wamp.Dict{}
	}
	if err := p.client.Send(&wamp.Hello{Realm: wamp.URI(realm), Details: wamp.Dict{"roles": roleDict}}); err != nil {
		return err
	}
	msg, err := wamp.RecvTimeout(p.client, 300*time.Millisecond)
	p.lastReply = msg
	if err != nil {
		p.lastReply = nil // timeout means "no reply", not a failure for this step
		return nil
	}
	return nil
}

func (s *suite) peerReceivesWelcome(name string) error {
	p := s.peers[name]
	if _, ok := p.lastReply.(*wamp.Welcome); !ok {
		return fmt.Errorf("expected WELCOME, got %#v", p.lastReply)
	}
	return nil
}

func (s *suite) peerReceivesNoReply(name string) error {
	if s.peers[name].lastReply != nil {
		return fmt.Errorf("expected no reply, got %#v", s.peers[name].lastReply)
	}
	return nil
}

func (s *suite) peerReceivesAbort(name, reason string) error {
	p := s.peers[name]
	abort, ok := p.lastReply.(*wamp.Abort)
	if !ok {
		return fmt.Errorf("expected ABORT, got %#v", p.lastReply)
	}
	if string(abort.Reason) != reason {
		return fmt.Errorf("expected reason %s, got %s", reason, abort.Reason)
	}
	return nil
}

func (s *suite) realmHasLiveSessions(realm string, count int) error {
	n, ok := s.r.RealmSessionCount(wamp.URI(realm))
	if !ok {
		return fmt.Errorf("realm %s does not exist", realm)
	}
	if n != count {
		return fmt.Errorf("realm %s has %d live sessions, want %d", realm, n, count)
	}
	return nil
}

func (s *suite) peerSubscribes(name, topic string) error {
	p := s.peers[name]
	req := wamp.ID(1000)
	if err := p.client.Send(&wamp.Subscribe{Request: req, Options: wamp.Dict{}, Topic: wamp.URI(topic)}); err != nil {
		return err
	}
	msg, err := wamp.RecvTimeout(p.client, 2*time.Second)
	if err != nil {
		return err
	}
	subscribed, ok := msg.(*wamp.Subscribed)
	if !ok {
		return fmt.Errorf("expected SUBSCRIBED, got %#v", msg)
	}
	p.subscription = subscribed.Subscription
	return nil
}

func (s *suite) peerUnsubscribes(name, topic string) error {
	p := s.peers[name]
	req := wamp.ID(1500)
	if err := p.client.Send(&wamp.Unsubscribe{Request: req, Subscription: p.subscription}); err != nil {
		return err
	}
	msg, err := wamp.RecvTimeout(p.client, 2*time.Second)
	if err != nil {
		return err
	}
	p.lastReply = msg
	return nil
}

func (s *suite) peerReceivesUnsubscribed(name string) error {
	p := s.peers[name]
	if _, ok := p.lastReply.(*wamp.Unsubscribed); !ok {
		return fmt.Errorf("expected UNSUBSCRIBED, got %#v", p.lastReply)
	}
	return nil
}

func (s *suite) peerSendsGoodbyeBeforeHello(name string) error {
	client, server := transport.NewLocalPipe()
	s.peers[name] = &peerHandle{client: client}

	go s.r.Attach(server)

	if err := client.Send(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.CloseGoodbyeAndOut}); err != nil {
		return err
	}
	msg, err := wamp.RecvTimeout(client, 300*time.Millisecond)
	if err != nil {
		s.peers[name].lastReply = nil // timeout means "no reply", not a failure for this step
		return nil
	}
	s.peers[name].lastReply = msg
	return nil
}

func (s *suite) sameSubscriptionID(a, b string) error {
	if s.peers[a].subscription != s.peers[b].subscription {
		return fmt.Errorf("subscription ids differ: %d != %d", s.peers[a].subscription, s.peers[b].subscription)
	}
	return nil
}

func (s *suite) peerPublishes(name, payload, topic string, ack bool) error {
	p := s.peers[name]
	opts := wamp.Dict{}
	if ack {
		opts["acknowledge"] = true
	}
	req := wamp.ID(2000)
	return p.client.Send(&wamp.Publish{
		Request:   req,
		Options:   opts,
		Topic:     wamp.URI(topic),
		Arguments: wamp.List{payload},
	})
}

func (s *suite) peerReceivesEvent(name, payload string) error {
	p := s.peers[name]
	msg, err := wamp.RecvTimeout(p.client, 2*time.Second)
	if err != nil {
		return fmt.Errorf("%s did not receive an EVENT: %w", name, err)
	}
	evt, ok := msg.(*wamp.Event)
	if !ok {
		return fmt.Errorf("expected EVENT, got %#v", msg)
	}
	if len(evt.Arguments) != 1 || evt.Arguments[0] != payload {
		return fmt.Errorf("expected argument %q, got %v", payload, evt.Arguments)
	}
	return nil
}

func (s *suite) peerReceivesNoEvent(name string) error {
	p := s.peers[name]
	select {
	case msg := <-p.client.Recv():
		return fmt.Errorf("expected no EVENT, got %#v", msg)
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

func (s *suite) peerReceivesPublished(name string) error {
	p := s.peers[name]
	msg, err := wamp.RecvTimeout(p.client, 2*time.Second)
	if err != nil {
		return err
	}
	if _, ok := msg.(*wamp.Published); !ok {
		return fmt.Errorf("expected PUBLISHED, got %#v", msg)
	}
	return nil
}

func (s *suite) peerDisconnects(name string) error {
	s.peers[name].client.Close()
	time.Sleep(50 * time.Millisecond)
	return nil
}

func (s *suite) noSubscriptionRemainsFor(topic string) error {
	if s.r.TopicHasSubscribers(s.realm, wamp.URI(topic)) {
		return fmt.Errorf("expected no subscription left for %q", topic)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, trimSpace(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	var s *suite

	ctx.Before(func(c context.Context, scenario *godog.Scenario) (context.Context, error) {
		s = newSuite()
		return c, nil
	})

	ctx.Step(`^a router with realm "([^"]*)"$`, func(realm string) error { return s.routerWithRealm(realm) })
	ctx.Step(`^peer "([^"]*)" has joined realm "([^"]*)" with roles "([^"]*)"$`, func(name, realm, roles string) error {
		return s.peerJoins(name, realm, roles)
	})
	ctx.Step(`^peer "([^"]*)" sends HELLO to realm "([^"]*)" with roles "([^"]*)"$`, func(name, realm, roles string) error {
		return s.peerSendsHello(name, realm, roles)
	})
	ctx.Step(`^peer "([^"]*)" receives WELCOME$`, func(name string) error { return s.peerReceivesWelcome(name) })
	ctx.Step(`^peer "([^"]*)" receives no reply$`, func(name string) error { return s.peerReceivesNoReply(name) })
	ctx.Step(`^peer "([^"]*)" receives ABORT with reason "([^"]*)"$`, func(name, reason string) error { return s.peerReceivesAbort(name, reason) })
	ctx.Step(`^realm "([^"]*)" has (\d+) live sessions?$`, func(realm string, n int) error { return s.realmHasLiveSessions(realm, n) })
	ctx.Step(`^peer "([^"]*)" subscribes to "([^"]*)"$`, func(name, topic string) error { return s.peerSubscribes(name, topic) })
	ctx.Step(`^peer "([^"]*)" unsubscribes from "([^"]*)"$`, func(name, topic string) error { return s.peerUnsubscribes(name, topic) })
	ctx.Step(`^peer "([^"]*)" receives UNSUBSCRIBED$`, func(name string) error { return s.peerReceivesUnsubscribed(name) })
	ctx.Step(`^peer "([^"]*)" sends GOODBYE before any HELLO$`, func(name string) error { return s.peerSendsGoodbyeBeforeHello(name) })
	ctx.Step(`^peer "([^"]*)" and peer "([^"]*)" receive the same subscription id$`, func(a, b string) error { return s.sameSubscriptionID(a, b) })
	ctx.Step(`^peer "([^"]*)" publishes "([^"]*)" to "([^"]*)" without acknowledgement$`, func(name, payload, topic string) error {
		return s.peerPublishes(name, payload, topic, false)
	})
	ctx.Step(`^peer "([^"]*)" publishes "([^"]*)" to "([^"]*)" with acknowledgement$`, func(name, payload, topic string) error {
		return s.peerPublishes(name, payload, topic, true)
	})
	ctx.Step(`^peer "([^"]*)" receives an EVENT with argument "([^"]*)"$`, func(name, payload string) error { return s.peerReceivesEvent(name, payload) })
	ctx.Step(`^peer "([^"]*)" receives no EVENT$`, func(name string) error { return s.peerReceivesNoEvent(name) })
	ctx.Step(`^peer "([^"]*)" receives PUBLISHED$`, func(name string) error { return s.peerReceivesPublished(name) })
	ctx.Step(`^peer "([^"]*)" disconnects$`, func(name string) error { return s.peerDisconnects(name) })
	ctx.Step(`^no subscription remains for "([^"]*)"$`, func(topic string) error { return s.noSubscriptionRemainsFor(topic) })
}

func TestFeatures(t *testing.T) {
	suiteRunner := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"."},
			TestingT: t,
		},
	}
	if suiteRunner.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
