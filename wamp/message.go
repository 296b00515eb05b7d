package wamp

import "fmt"

// Message is implemented by every WAMP message variant. MessageType
// identifies the variant's wire type code.
type Message interface {
	MessageType() MessageType
}

// Hello is sent by a client to initiate a session.
type Hello struct {
	Realm   URI
	Details Dict
}

func (msg *Hello) MessageType() MessageType { return HELLO }

// Welcome is sent by the router to accept a session.
type Welcome struct {
	ID      ID
	Details Dict
}

func (msg *Welcome) MessageType() MessageType { return WELCOME }

// Abort is sent by either peer to abandon a session before it is fully
// established (i.e. before a Welcome has been exchanged).
type Abort struct {
	Details Dict
	Reason  URI
}

func (msg *Abort) MessageType() MessageType { return ABORT }

// Goodbye is sent by either peer to close an established session.
type Goodbye struct {
	Details Dict
	Reason  URI
}

func (msg *Goodbye) MessageType() MessageType { return GOODBYE }

// Error is sent in response to a request that could not be fulfilled.
type Error struct {
	RequestType MessageType
	Request     ID
	Details     Dict
	Error       URI
	Arguments   List `msgpack:",omitempty"`
	ArgumentsKw Dict `msgpack:",omitempty"`
}

func (msg *Error) MessageType() MessageType { return ERROR }

// Publish requests that an event be published to a topic.
type Publish struct {
	Request     ID
	Options     Dict
	Topic       URI
	Arguments   List
	ArgumentsKw Dict
}

func (msg *Publish) MessageType() MessageType { return PUBLISH }

// Published acknowledges a Publish that requested one.
type Published struct {
	Request     ID
	Publication ID
}

func (msg *Published) MessageType() MessageType { return PUBLISHED }

// Subscribe requests subscription to a topic.
type Subscribe struct {
	Request ID
	Options Dict
	Topic   URI
}

func (msg *Subscribe) MessageType() MessageType { return SUBSCRIBE }

// Subscribed acknowledges a successful Subscribe.
type Subscribed struct {
	Request      ID
	Subscription ID
}

func (msg *Subscribed) MessageType() MessageType { return SUBSCRIBED }

// Unsubscribe requests cancellation of an existing subscription.
type Unsubscribe struct {
	Request      ID
	Subscription ID
}

func (msg *Unsubscribe) MessageType() MessageType { return UNSUBSCRIBE }

// Unsubscribed acknowledges a successful Unsubscribe.
type Unsubscribed struct {
	Request ID
}

func (msg *Unsubscribed) MessageType() MessageType { return UNSUBSCRIBED }

// Event delivers one published payload to one subscriber.
type Event struct {
	Subscription ID
	Publication  ID
	Details      Dict
	Arguments    List
	ArgumentsKw  Dict
}

func (msg *Event) MessageType() MessageType { return EVENT }

// Call, Result, Register, Registered, Unregister, Unregistered, Invocation,
// and Yield round out the message model so it, and the encoder, cover every
// Basic Profile message type code. Routing them is the dealer's job and the
// dealer is out of scope for this router; the JSON decoder rejects them.

type Call struct {
	Request     ID
	Options     Dict
	Procedure   URI
	Arguments   List
	ArgumentsKw Dict
}

func (msg *Call) MessageType() MessageType { return CALL }

type Result struct {
	Request     ID
	Details     Dict
	Arguments   List
	ArgumentsKw Dict
}

func (msg *Result) MessageType() MessageType { return RESULT }

type Register struct {
	Request   ID
	Options   Dict
	Procedure URI
}

func (msg *Register) MessageType() MessageType { return REGISTER }

type Registered struct {
	Request      ID
	Registration ID
}

func (msg *Registered) MessageType() MessageType { return REGISTERED }

type Unregister struct {
	Request      ID
	Registration ID
}

func (msg *Unregister) MessageType() MessageType { return UNREGISTER }

type Unregistered struct {
	Request ID
}

func (msg *Unregistered) MessageType() MessageType { return UNREGISTERED }

type Invocation struct {
	Request      ID
	Registration ID
	Details      Dict
	Arguments    List
	ArgumentsKw  Dict
}

func (msg *Invocation) MessageType() MessageType { return INVOCATION }

type Yield struct {
	Request     ID
	Options     Dict
	Arguments   List
	ArgumentsKw Dict
}

func (msg *Yield) MessageType() MessageType { return YIELD }

// Validate runs the structural invariants from the message model against a
// decoded message. Validation failure at construction time (by code that
// builds a Message literal directly) is a programmer error; validation
// failure here, during decode of inbound wire bytes, is reported to the
// caller so it can be turned into a protocol error.
func Validate(msg Message, strictURI bool) error {
	switch m := msg.(type) {
	case *Hello:
		if !m.Realm.ValidURI(strictURI, "") {
			return fmt.Errorf("HELLO: invalid realm URI %q", m.Realm)
		}
		return validateHelloRoles(m.Details)
	case *Goodbye:
		return nil
	case *Publish:
		if !m.Request.Valid() {
			return fmt.Errorf("PUBLISH: invalid request id")
		}
		if !m.Topic.ValidURI(strictURI, "") {
			return fmt.Errorf("PUBLISH: invalid topic URI %q", m.Topic)
		}
		return nil
	case *Subscribe:
		if !m.Request.Valid() {
			return fmt.Errorf("SUBSCRIBE: invalid request id")
		}
		if !m.Topic.ValidURI(strictURI, "") {
			return fmt.Errorf("SUBSCRIBE: invalid topic URI %q", m.Topic)
		}
		return nil
	case *Unsubscribe:
		if !m.Request.Valid() {
			return fmt.Errorf("UNSUBSCRIBE: invalid request id")
		}
		if !m.Subscription.Valid() {
			return fmt.Errorf("UNSUBSCRIBE: invalid subscription id")
		}
		return nil
	case *Error:
		if !recognizedRequestType(m.RequestType) {
			return fmt.Errorf("ERROR: unrecognized requestType %d", m.RequestType)
		}
		return nil
	default:
		return nil
	}
}

// validateHelloRoles checks that details.roles is a non-empty mapping whose
// keys are roles this router recognizes a client declaring.
func validateHelloRoles(details Dict) error {
	rolesVal, err := DictValue(details, []string{"roles"})
	if err != nil {
		return fmt.Errorf("HELLO: %w", err)
	}
	roles, ok := AsDict(rolesVal)
	if !ok {
		roles = NormalizeDict(rolesVal)
	}
	if len(roles) == 0 {
		return fmt.Errorf("HELLO: no client roles specified")
	}
	for name, featureVal := range roles {
		switch name {
		case "publisher", "subscriber", "caller", "callee":
		default:
			return fmt.Errorf("HELLO: unrecognized client role %q", name)
		}
		if featureVal == nil {
			continue
		}
		if _, ok := AsDict(featureVal); !ok && NormalizeDict(featureVal) == nil {
			return fmt.Errorf("HELLO: role %q features must be a dict", name)
		}
	}
	return nil
}

// IsGoodbyeAck reports whether msg is the final Goodbye sent in reply to a
// peer-initiated Goodbye, i.e. a GOODBYE whose reason is
// wamp.close.goodbye_and_out.
func IsGoodbyeAck(msg Message) bool {
	g, ok := msg.(*Goodbye)
	return ok && g.Reason == CloseGoodbyeAndOut
}
