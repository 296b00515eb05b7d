package wamp

import (
	"fmt"
	"sync"
)

// SessionState is a session's position in the router's per-peer state
// machine: Opening while the HELLO handshake is in flight (no Session value
// exists yet for it), Open once WELCOME has gone out, Closing once a
// GOODBYE has started the teardown (SetClosing) and End has not yet run,
// Closed once End has run (GOODBYE exchanged or the peer gone). State
// derives its answer from the closing flag and the goodbye field End
// writes.
type SessionState int

const (
	SessionOpening SessionState = iota
	SessionOpen
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionOpening:
		return "OPENING"
	case SessionOpen:
		return "OPEN"
	case SessionClosing:
		return "CLOSING"
	case SessionClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is an active WAMP session.  It associates a session ID and details
// with a connected Peer, which is the remote side of the session.  So, if the
// session owned by the router, then the Peer is the connected client.
type Session struct {
	// Interface for communicating with connected peer.
	Peer
	// Unique session ID.
	ID ID
	// Realm this session is attached to.
	Realm URI
	// Details about session.
	Details Dict

	// Roles and features supported by peer.
	roles map[string]map[string]struct{}

	mu      sync.Mutex
	closing bool
	done    chan struct{}
	goodbye *Goodbye
}

var (
	// NoGoodbye indicates that no Goodbye message was sent out
	NoGoodbye = &Goodbye{}
	// closedchan is a reusable closed channel.
	closedchan = make(chan struct{})
)

func init() {
	close(closedchan)
}

func NewSession(peer Peer, id ID, realm URI, details Dict, greetDetails Dict) *Session {
	s := &Session{
		Peer:    peer,
		ID:      id,
		Realm:   realm,
		Details: details,
	}
	s.setRoles(greetDetails)
	return s
}

func (s *Session) SafeSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Session{
		ID:      s.ID,
		Realm:   s.Realm,
		Details: s.Details,
		roles:   s.roles,
		closing: s.closing,
		goodbye: s.goodbye,
	}
}

// State returns the session's current position in the session FSM, derived
// from the same goodbye/done bookkeeping End, Goodbye, and Done use: Open
// until a GOODBYE has been seen or accepted, Closing from the moment a
// GOODBYE starts the teardown until End finishes it, Closed once End has
// run.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goodbye != nil {
		return SessionClosed
	}
	if s.closing {
		return SessionClosing
	}
	return SessionOpen
}

// SetClosing marks the session as tearing down: a GOODBYE has been sent or
// received and End has not yet run. It is a no-op once End has already run.
func (s *Session) SetClosing() {
	s.mu.Lock()
	if s.goodbye == nil {
		s.closing = true
	}
	s.mu.Unlock()
}

// setRoles extracts the specified roles from HELLO or WELCOME details, and
// configures the session with the roles and features for each role.
func (s *Session) setRoles(details Dict) {
	_roles, ok := details["roles"]
	if !ok {
		s.roles = nil // no roles
		return
	}
	roles, ok := AsDict(_roles)
	if !ok || len(roles) == 0 {
		s.roles = nil // no roles
		return
	}

	roleMap := make(map[string]map[string]struct{})
	for role, _roleDict := range roles {
		roleMap[role] = nil
		roleDict, ok := _roleDict.(Dict)
		if !ok {
			roleDict = NormalizeDict(_roleDict)
			if roleDict == nil {
				continue
			}
		}
		_features, ok := roleDict["features"]
		if !ok {
			continue
		}
		features, ok := _features.(Dict)
		if !ok {
			features = NormalizeDict(_features)
			if features == nil {
				continue
			}
		}
		featMap := make(map[string]struct{})
		for feature, iface := range features {
			if b, _ := iface.(bool); !b {
				continue
			}
			featMap[feature] = struct{}{}
		}
		roleMap[role] = featMap
	}
	s.roles = roleMap
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// String returns the session ID as a string.
func (s *Session) String() string { return fmt.Sprintf("%d", s.ID) }

// HasRole returns true if the session supports the specified role.
func (s *Session) HasRole(role string) bool {
	_, ok := s.roles[role]
	return ok
}

// HasFeature returns true if the session has the specified feature for the
// specified role.
func (s *Session) HasFeature(role, feature string) bool {
	features, ok := s.roles[role]
	if !ok {
		return false
	}
	_, ok = features[feature]
	return ok
}

func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	d := s.done
	s.mu.Unlock()
	return d
}

func (s *Session) Goodbye() *Goodbye {
	s.mu.Lock()
	g := s.goodbye
	s.mu.Unlock()
	return g
}

func (s *Session) End(goodbye *Goodbye) bool {
	s.mu.Lock()
	if s.goodbye != nil {
		s.mu.Unlock()
		return false // already ended
	}

	if goodbye == nil {
		s.goodbye = NoGoodbye
	} else {
		s.goodbye = goodbye
	}

	if s.done == nil {
		s.done = closedchan
	} else {
		close(s.done)
	}
	s.mu.Unlock()
	return true
}
