package memory

import (
	"math/rand"
	"sync"

	"gallows/contexts/game-moderation/vote-engine/ports"
)

// Rand implements ports.RandSource over math/rand with a private lock, so a
// host can share one source across workers.
type Rand struct {
	mu  sync.Mutex
	src *rand.Rand
}

func NewRand(seed int64) *Rand {
	return &Rand{src: rand.New(rand.NewSource(seed))}
}

func (r *Rand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Intn(n)
}

var _ ports.RandSource = (*Rand)(nil)
