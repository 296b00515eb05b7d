// Package router implements the WAMP v2 Basic-Profile router core: realms,
// sessions, the per-peer session FSM, and (via the broker submodule) the
// publish/subscribe broker. Each realm owns its state with a single
// goroutine, generalizing an actor-per-router design to multi-realm,
// single-writer-per-realm ownership.
package router

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wampcore/broker/logger"
	"github.com/wampcore/broker/wamp"
)

// log is the logger the router, realm, and broker use. A stdlib-backed
// instance is installed by default; use SetLogger to install another
// implementation (e.g. the logrus-backed one in package logger) before
// starting the router.
var log logger.Logger = logger.NewStandard()

// SetLogger installs the Logger used by this package.
func SetLogger(l logger.Logger) { log = l }

// Logger returns the Logger this package is currently using.
func Logger() logger.Logger { return log }

// DebugEnabled turns on verbose per-message logging of inbound messages.
var DebugEnabled bool

const helloTimeout = 5 * time.Second

// Router handles new peers and routes their messages to the realm they
// attach to.
type Router interface {
	// AddRealm registers a realm at boot. At least one realm is needed
	// unless auto-create-realms is enabled.
	AddRealm(config *RealmConfig) (*realm, error)

	// Attach performs the HELLO/WELCOME handshake for a newly connected
	// peer and, on success, admits it to the requested realm.
	Attach(peer wamp.Peer) error

	// Close stops the router: every realm is closed and its single-writer
	// task is drained before Close returns.
	Close()

	// AdminHandler returns the read-only HTTP surface for operators.
	AdminHandler() http.Handler

	// RealmSessionCount reports the number of live sessions on the named
	// realm, and whether that realm exists.
	RealmSessionCount(uri wamp.URI) (int, bool)

	// TopicHasSubscribers reports whether the named realm currently has a
	// subscription (and hence at least one subscriber) for topic.
	TopicHasSubscribers(uri wamp.URI, topic wamp.URI) bool
}

type router struct {
	realms map[wamp.URI]*realm

	actionChan chan func()
	waitRealms sync.WaitGroup

	autoRealmTemplate        *RealmConfig
	strictURI                bool
	abortOnProtocolViolation bool
	closed                   bool

	// Scope generators. "global" backs both session IDs and publication
	// IDs; "router" backs
	// subscription IDs. Both are process-wide, i.e. shared by every realm,
	// which is why they live on the router rather than per-realm.
	idMu                sync.Mutex
	globalGen           *idGenerator
	liveSessionIDs      map[wamp.ID]struct{}
	livePublicationIDs  map[wamp.ID]struct{}
	subscriptionGen     *idGenerator
	liveSubscriptionIDs map[wamp.ID]struct{}
}

// NewRouter creates a WAMP router from a parsed Config.
//
// If cfg.AutoCreateRealms is true, realms that do not exist are
// automatically created on a client's HELLO. Caution: this allows
// unauthenticated clients to create realms by name.
func NewRouter(cfg *Config) Router {
	r := &router{
		realms:     map[wamp.URI]*realm{},
		actionChan: make(chan func()),

		strictURI:                cfg.StrictURIValidation(),
		abortOnProtocolViolation: cfg.AbortOnProtocolViolation,

		globalGen:           newIDGenerator(),
		liveSessionIDs:      map[wamp.ID]struct{}{},
		livePublicationIDs:  map[wamp.ID]struct{}{},
		subscriptionGen:     newIDGenerator(),
		liveSubscriptionIDs: map[wamp.ID]struct{}{},
	}
	if cfg.AutoCreateRealms {
		r.autoRealmTemplate = &RealmConfig{StrictURI: r.strictURI}
	}
	go r.run()
	return r
}

// Single goroutine used to safely access router-level data (the realms
// table and Close's shutdown flag). Realm and broker state is owned by
// each realm's own single-writer task, not by this one.
func (r *router) run() {
	for action := range r.actionChan {
		action()
	}
}

// AddRealm creates a new Realm and adds it to the router.
func (r *router) AddRealm(config *RealmConfig) (*realm, error) {
	if !config.URI.ValidURI(r.strictURI, "") {
		return nil, fmt.Errorf("invalid realm URI %v (strict=%v)", config.URI, r.strictURI)
	}
	var rlm *realm
	sync := make(chan error)
	r.actionChan <- func() {
		if r.closed {
			sync <- errors.New("router closed")
			return
		}
		if _, ok := r.realms[config.URI]; ok {
			sync <- errors.New("realm already exists: " + string(config.URI))
			return
		}
		rlm = newRealm(config.URI, config.StrictURI, r)
		rlm.abortOnProtocolViolation = r.abortOnProtocolViolation
		r.realms[config.URI] = rlm
		sync <- nil
	}
	if err := <-sync; err != nil {
		return nil, fmt.Errorf("error adding realm: %w", err)
	}

	r.waitRealms.Add(1)
	go func() {
		rlm.run()
		r.waitRealms.Done()
	}()

	log.Print("Added realm: ", config.URI)
	return rlm, nil
}

// Attach connects a client to the router: it reads the client's HELLO,
// resolves (or auto-creates) the requested realm, and admits the session.
func (r *router) Attach(client wamp.Peer) error {
	sendAbort := func(reason wamp.URI, abortErr error) {
		abortMsg := wamp.Abort{Reason: reason}
		if abortErr != nil {
			abortMsg.Details = wamp.Dict{"message": abortErr.Error()}
			log.Print("Aborting client connection: ", abortErr)
		}
		client.Send(&abortMsg)
		client.Close()
	}

	// A WAMP session is initiated by the client sending HELLO. Before that,
	// the peer has no session, so a GOODBYE is silently dropped rather than
	// treated as a protocol violation - a HELLO sent afterward still
	// produces WELCOME. Anything else out of order aborts the connection.
	var hello *wamp.Hello
	deadline := time.Now().Add(helloTimeout)
	for hello == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New("did not receive HELLO: timed out waiting for message")
		}
		msg, err := wamp.RecvTimeout(client, remaining)
		if err != nil {
			return errors.New("did not receive HELLO: " + err.Error())
		}
		if DebugEnabled {
			log.Printf("New client sent: %s: %+v", msg.MessageType(), msg)
		}

		switch m := msg.(type) {
		case *wamp.Hello:
			hello = m
		case *wamp.Goodbye:
			// NoSession | GOODBYE | silently drop | NoSession
			continue
		default:
			err = fmt.Errorf("protocol error: expected HELLO, received %s", msg.MessageType())
			sendAbort(wamp.ErrProtocolViolation, err)
			return err
		}
	}

	if verr := wamp.Validate(hello, r.strictURI); verr != nil {
		sendAbort(wamp.ErrNoSuchRole, verr)
		return verr
	}

	var rlm *realm
	sync := make(chan error)
	r.actionChan <- func() {
		if r.closed {
			sendAbort(wamp.ErrSystemShutdown, nil)
			sync <- errors.New("router is closing, not accepting new clients")
			return
		}
		var ok bool
		rlm, ok = r.realms[hello.Realm]
		if !ok {
			if r.autoRealmTemplate == nil {
				sendAbort(wamp.ErrNoSuchRealm, fmt.Errorf("The realm '%s' does not exist.", hello.Realm))
				sync <- fmt.Errorf("no realm %q exists on this router", hello.Realm)
				return
			}
			rlm = newRealm(hello.Realm, r.autoRealmTemplate.StrictURI, r)
			rlm.abortOnProtocolViolation = r.abortOnProtocolViolation
			r.realms[hello.Realm] = rlm
			r.waitRealms.Add(1)
			go func() {
				rlm.run()
				r.waitRealms.Done()
			}()
			log.Print("Auto-added realm: ", hello.Realm)
		}
		sync <- nil
	}
	if err = <-sync; err != nil {
		return err
	}

	hello.Details = wamp.NormalizeDict(hello.Details)
	if hello.Details == nil {
		hello.Details = wamp.Dict{}
	}

	sessID := r.nextSessionID()
	sess := wamp.NewSession(client, sessID, hello.Realm, wamp.Dict{
		"realm": hello.Realm,
		"roles": hello.Details["roles"],
	}, hello.Details)

	if err := rlm.admit(sess); err != nil {
		r.releaseSessionID(sessID)
		sendAbort(wamp.ErrSystemShutdown, nil)
		return err
	}

	welcome := &wamp.Welcome{
		ID:      sessID,
		Details: wamp.Dict{"roles": wamp.Dict{"broker": wamp.Dict{}}},
	}
	client.Send(welcome)
	log.Print("Created session: ", sessID)
	return nil
}

// Close stops the router and waits for every realm's task to stop.
func (r *router) Close() {
	sync := make(chan struct{})
	r.actionChan <- func() {
		r.closed = true
		for uri, rlm := range r.realms {
			rlm.close()
			delete(r.realms, uri)
		}
		sync <- struct{}{}
	}
	<-sync
	r.waitRealms.Wait()
}

// RealmSessionCount reports the number of live sessions on the named realm.
func (r *router) RealmSessionCount(uri wamp.URI) (int, bool) {
	var rlm *realm
	sync := make(chan struct{})
	r.actionChan <- func() {
		rlm = r.realms[uri]
		close(sync)
	}
	<-sync
	if rlm == nil {
		return 0, false
	}
	return rlm.sessionCount(), true
}

// TopicHasSubscribers reports whether topic currently has a subscription
// within the named realm.
func (r *router) TopicHasSubscribers(uri, topic wamp.URI) bool {
	var rlm *realm
	sync := make(chan struct{})
	r.actionChan <- func() {
		rlm = r.realms[uri]
		close(sync)
	}
	<-sync
	if rlm == nil {
		return false
	}
	done := make(chan bool, 1)
	if !rlm.enqueue(func() {
		_, ok := rlm.broker.lookup(topic)
		done <- ok
	}) {
		return false
	}
	return <-done
}

// --- scope generators. ---

func (r *router) nextSessionID() wamp.ID {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	id := r.globalGen.next(r.liveSessionIDs)
	r.liveSessionIDs[id] = struct{}{}
	return id
}

func (r *router) releaseSessionID(id wamp.ID) {
	r.idMu.Lock()
	delete(r.liveSessionIDs, id)
	r.idMu.Unlock()
}

func (r *router) nextPublicationID() wamp.ID {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	id := r.globalGen.next(r.livePublicationIDs)
	r.livePublicationIDs[id] = struct{}{}
	return id
}

func (r *router) nextSubscriptionID() wamp.ID {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	id := r.subscriptionGen.next(r.liveSubscriptionIDs)
	r.liveSubscriptionIDs[id] = struct{}{}
	return id
}

func (r *router) releaseSubscriptionID(id wamp.ID) {
	r.idMu.Lock()
	delete(r.liveSubscriptionIDs, id)
	r.idMu.Unlock()
}
