// Package serialize converts between wamp.Message values and their wire
// representation: a JSON array whose first element is the message's type
// code, per the Basic Profile.
package serialize

import "github.com/wampcore/broker/wamp"

// Serializer converts a wamp.Message to and from wire bytes.
type Serializer interface {
	Serialize(msg wamp.Message) ([]byte, error)
	Deserialize(data []byte) (wamp.Message, error)
}
