package wamp

import (
	"math/rand"
	"sync"
	"time"
)

// ID is a WAMP identifier: a 53-bit unsigned integer in [1, 2^53-1], chosen
// so that every value round-trips through an IEEE-754 double without loss.
type ID uint64

const (
	idMin ID = 1
	idMax ID = 1<<53 - 1
)

// Valid reports whether id falls within the legal WAMP identifier range.
func (id ID) Valid() bool { return id >= idMin && id <= idMax }

var globalRand = struct {
	mu  sync.Mutex
	rng *rand.Rand
}{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

func randID() ID {
	globalRand.mu.Lock()
	n := globalRand.rng.Int63n(int64(idMax-idMin+1)) + int64(idMin)
	globalRand.mu.Unlock()
	return ID(n)
}

// GlobalID returns a random, collision-blind WAMP ID. It is a convenience
// for callers that need an ID but do not need the uniqueness guarantee the
// router package's scoped idGenerator provides.
func GlobalID() ID { return randID() }
