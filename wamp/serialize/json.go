package serialize

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"
	"github.com/wampcore/broker/wamp"
)

// jsonHandle is shared by every JSONSerializer the same way the reference
// router shares one codec.Handle per serialization across all of its
// serializers; it holds no per-call state.
var jsonHandle = &codec.JsonHandle{}

// JSONSerializer implements Serializer using ugorji/go/codec's JSON handle
// rather than encoding/json. The Basic Profile's JSON wire format is just
// the format this handle is configured for; MessagePack, which the same
// codec library also supports, is not wired up here since this router
// only ever speaks the JSON subprotocol.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(msg wamp.Message) ([]byte, error) {
	wire, err := toWireArray(msg)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, jsonHandle)
	if err := enc.Encode(wire); err != nil {
		return nil, fmt.Errorf("serialize %s: %w", msg.MessageType(), err)
	}
	return buf.Bytes(), nil
}

func (JSONSerializer) Deserialize(data []byte) (wamp.Message, error) {
	var wire []interface{}
	dec := codec.NewDecoderBytes(data, jsonHandle)
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("deserialize: %w", err)
	}
	return fromWireArray(wire)
}

func toWireArray(msg wamp.Message) ([]interface{}, error) {
	switch m := msg.(type) {
	case *wamp.Hello:
		return []interface{}{wamp.HELLO, string(m.Realm), dictOrEmpty(m.Details)}, nil
	case *wamp.Welcome:
		return []interface{}{wamp.WELCOME, uint64(m.ID), dictOrEmpty(m.Details)}, nil
	case *wamp.Abort:
		return []interface{}{wamp.ABORT, dictOrEmpty(m.Details), string(m.Reason)}, nil
	case *wamp.Goodbye:
		return []interface{}{wamp.GOODBYE, dictOrEmpty(m.Details), string(m.Reason)}, nil
	case *wamp.Error:
		wire := []interface{}{wamp.ERROR, int(m.RequestType), uint64(m.Request), dictOrEmpty(m.Details), string(m.Error)}
		return appendPayload(wire, m.Arguments, m.ArgumentsKw), nil
	case *wamp.Publish:
		wire := []interface{}{wamp.PUBLISH, uint64(m.Request), dictOrEmpty(m.Options), string(m.Topic)}
		return appendPayload(wire, m.Arguments, m.ArgumentsKw), nil
	case *wamp.Published:
		return []interface{}{wamp.PUBLISHED, uint64(m.Request), uint64(m.Publication)}, nil
	case *wamp.Subscribe:
		return []interface{}{wamp.SUBSCRIBE, uint64(m.Request), dictOrEmpty(m.Options), string(m.Topic)}, nil
	case *wamp.Subscribed:
		return []interface{}{wamp.SUBSCRIBED, uint64(m.Request), uint64(m.Subscription)}, nil
	case *wamp.Unsubscribe:
		return []interface{}{wamp.UNSUBSCRIBE, uint64(m.Request), uint64(m.Subscription)}, nil
	case *wamp.Unsubscribed:
		return []interface{}{wamp.UNSUBSCRIBED, uint64(m.Request)}, nil
	case *wamp.Event:
		wire := []interface{}{wamp.EVENT, uint64(m.Subscription), uint64(m.Publication), dictOrEmpty(m.Details)}
		return appendPayload(wire, m.Arguments, m.ArgumentsKw), nil
	case *wamp.Call:
		wire := []interface{}{wamp.CALL, uint64(m.Request), dictOrEmpty(m.Options), string(m.Procedure)}
		return appendPayload(wire, m.Arguments, m.ArgumentsKw), nil
	case *wamp.Result:
		wire := []interface{}{wamp.RESULT, uint64(m.Request), dictOrEmpty(m.Details)}
		return appendPayload(wire, m.Arguments, m.ArgumentsKw), nil
	case *wamp.Register:
		return []interface{}{wamp.REGISTER, uint64(m.Request), dictOrEmpty(m.Options), string(m.Procedure)}, nil
	case *wamp.Registered:
		return []interface{}{wamp.REGISTERED, uint64(m.Request), uint64(m.Registration)}, nil
	case *wamp.Unregister:
		return []interface{}{wamp.UNREGISTER, uint64(m.Request), uint64(m.Registration)}, nil
	case *wamp.Unregistered:
		return []interface{}{wamp.UNREGISTERED, uint64(m.Request)}, nil
	case *wamp.Invocation:
		wire := []interface{}{wamp.INVOCATION, uint64(m.Request), uint64(m.Registration), dictOrEmpty(m.Details)}
		return appendPayload(wire, m.Arguments, m.ArgumentsKw), nil
	case *wamp.Yield:
		wire := []interface{}{wamp.YIELD, uint64(m.Request), dictOrEmpty(m.Options)}
		return appendPayload(wire, m.Arguments, m.ArgumentsKw), nil
	default:
		return nil, fmt.Errorf("unknown message type %T", msg)
	}
}

// appendPayload appends the trailing Arguments/ArgumentsKw segments only
// when present, so an absent optional field is distinguishable on the wire
// from an explicit empty one.
func appendPayload(wire []interface{}, args wamp.List, kwargs wamp.Dict) []interface{} {
	if kwargs != nil {
		return append(wire, listOrEmpty(args), kwargs)
	}
	if args != nil {
		return append(wire, listOrEmpty(args))
	}
	return wire
}

func dictOrEmpty(d wamp.Dict) wamp.Dict {
	if d == nil {
		return wamp.Dict{}
	}
	return d
}

func listOrEmpty(l wamp.List) wamp.List {
	if l == nil {
		return wamp.List{}
	}
	return l
}

func fromWireArray(wire []interface{}) (wamp.Message, error) {
	if len(wire) == 0 {
		return nil, fmt.Errorf("empty message array")
	}
	typ, err := toMessageType(wire[0])
	if err != nil {
		return nil, err
	}

	arg := func(i int) (interface{}, error) {
		if i >= len(wire) {
			return nil, fmt.Errorf("%s: missing field at index %d", typ, i)
		}
		return wire[i], nil
	}
	optPayload := func(i int) (wamp.List, wamp.Dict, error) {
		var args wamp.List
		var kwargs wamp.Dict
		if i < len(wire) {
			v, err := toList(wire[i])
			if err != nil {
				return nil, nil, fmt.Errorf("%s: arguments: %w", typ, err)
			}
			args = v
		}
		if i+1 < len(wire) {
			v, err := toDict(wire[i+1])
			if err != nil {
				return nil, nil, fmt.Errorf("%s: argumentskw: %w", typ, err)
			}
			kwargs = v
		}
		return args, kwargs, nil
	}

	var msg wamp.Message
	switch typ {
	case wamp.HELLO:
		realm, err := arg(1)
		if err != nil {
			return nil, err
		}
		details, err := arg(2)
		if err != nil {
			return nil, err
		}
		d, err := toDict(details)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Hello{Realm: wamp.URI(fmt.Sprint(realm)), Details: d}
	case wamp.WELCOME:
		id, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		d, err := wireDict(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Welcome{ID: id, Details: d}
	case wamp.ABORT:
		d, err := wireDict(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		reason, err := arg(2)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Abort{Details: d, Reason: wamp.URI(fmt.Sprint(reason))}
	case wamp.GOODBYE:
		d, err := wireDict(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		reason, err := arg(2)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Goodbye{Details: d, Reason: wamp.URI(fmt.Sprint(reason))}
	case wamp.ERROR:
		reqType, err := arg(1)
		if err != nil {
			return nil, err
		}
		reqTypeN, err := toMessageType(reqType)
		if err != nil {
			return nil, err
		}
		req, err := wireID(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		d, err := wireDict(wire, 3, typ)
		if err != nil {
			return nil, err
		}
		errURI, err := arg(4)
		if err != nil {
			return nil, err
		}
		args, kwargs, err := optPayload(5)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Error{RequestType: reqTypeN, Request: req, Details: d, Error: wamp.URI(fmt.Sprint(errURI)), Arguments: args, ArgumentsKw: kwargs}
	case wamp.PUBLISH:
		req, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		opts, err := wireDict(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		topic, err := arg(3)
		if err != nil {
			return nil, err
		}
		args, kwargs, err := optPayload(4)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Publish{Request: req, Options: opts, Topic: wamp.URI(fmt.Sprint(topic)), Arguments: args, ArgumentsKw: kwargs}
	case wamp.PUBLISHED:
		req, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		pub, err := wireID(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Published{Request: req, Publication: pub}
	case wamp.SUBSCRIBE:
		req, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		opts, err := wireDict(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		topic, err := arg(3)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Subscribe{Request: req, Options: opts, Topic: wamp.URI(fmt.Sprint(topic))}
	case wamp.SUBSCRIBED:
		req, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		sub, err := wireID(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Subscribed{Request: req, Subscription: sub}
	case wamp.UNSUBSCRIBE:
		req, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		sub, err := wireID(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Unsubscribe{Request: req, Subscription: sub}
	case wamp.UNSUBSCRIBED:
		req, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Unsubscribed{Request: req}
	case wamp.EVENT:
		sub, err := wireID(wire, 1, typ)
		if err != nil {
			return nil, err
		}
		pub, err := wireID(wire, 2, typ)
		if err != nil {
			return nil, err
		}
		d, err := wireDict(wire, 3, typ)
		if err != nil {
			return nil, err
		}
		args, kwargs, err := optPayload(4)
		if err != nil {
			return nil, err
		}
		msg = &wamp.Event{Subscription: sub, Publication: pub, Details: d, Arguments: args, ArgumentsKw: kwargs}
	default:
		return nil, fmt.Errorf("unsupported or dealer-only message type %s", typ)
	}
	return msg, nil
}

func wireID(wire []interface{}, i int, typ wamp.MessageType) (wamp.ID, error) {
	if i >= len(wire) {
		return 0, fmt.Errorf("%s: missing id at index %d", typ, i)
	}
	return toID(wire[i])
}

func wireDict(wire []interface{}, i int, typ wamp.MessageType) (wamp.Dict, error) {
	if i >= len(wire) {
		return wamp.Dict{}, nil
	}
	return toDict(wire[i])
}

func toMessageType(v interface{}) (wamp.MessageType, error) {
	switch n := v.(type) {
	case int64:
		return wamp.MessageType(n), nil
	case uint64:
		return wamp.MessageType(n), nil
	case float64:
		return wamp.MessageType(int64(n)), nil
	case int:
		return wamp.MessageType(n), nil
	default:
		return 0, fmt.Errorf("invalid message type code %v (%T)", v, v)
	}
}

func toID(v interface{}) (wamp.ID, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative id %d", n)
		}
		return wamp.ID(n), nil
	case uint64:
		return wamp.ID(n), nil
	case float64:
		if n < 0 {
			return 0, fmt.Errorf("negative id %v", n)
		}
		return wamp.ID(n), nil
	case int:
		return wamp.ID(n), nil
	default:
		return 0, fmt.Errorf("invalid id %v (%T)", v, v)
	}
}

func toDict(v interface{}) (wamp.Dict, error) {
	if v == nil {
		return wamp.Dict{}, nil
	}
	if d, ok := wamp.AsDict(v); ok {
		return d, nil
	}
	if d := wamp.NormalizeDict(v); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("expected dict, got %T", v)
}

func toList(v interface{}) (wamp.List, error) {
	if v == nil {
		return nil, nil
	}
	if l, ok := v.(wamp.List); ok {
		return l, nil
	}
	return nil, fmt.Errorf("expected list, got %T", v)
}
