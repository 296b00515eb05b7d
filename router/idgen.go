package router

import (
	"math/rand"
	"sync"
	"time"

	"github.com/wampcore/broker/wamp"
)

// idGenerator draws pseudo-random WAMP IDs, resampling on collision against
// a caller-supplied exclusion set. It holds only PRNG state; the live-key
// set for a scope belongs to whichever table (sessions, subscriptions,
// publications) that scope backs, not to the generator itself.
type idGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newIDGenerator() *idGenerator {
	return &idGenerator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// next draws an ID in [1, 2^53-1] that is not a key of excludes.
func (g *idGenerator) next(excludes map[wamp.ID]struct{}) wamp.ID {
	const span = int64(1<<53 - 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		id := wamp.ID(g.rng.Int63n(span) + 1)
		if _, collide := excludes[id]; !collide {
			return id
		}
	}
}
