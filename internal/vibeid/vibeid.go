// Package vibeid generates human-memorable session identifiers. The word lists themselves are externally injected and out
// of scope for this package; it only implements the collision-suffixing
// and fallback behavior around whatever lists the caller supplies.
package vibeid

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// Generator produces "<adjective>-<noun>" identifiers from caller-supplied
// word lists, appending "-2", "-3", ... on collision, and falling back to
// "session-<8 uuid hex chars>" when a list is empty or every suffix up to
// -999 is taken.
type Generator struct {
	Adjectives []string
	Nouns      []string
	rng        *rand.Rand
}

// NewGenerator builds a Generator over the given word lists.
func NewGenerator(adjectives, nouns []string) *Generator {
	return &Generator{Adjectives: adjectives, Nouns: nouns, rng: rand.New(rand.NewSource(randSeed()))}
}

// Next returns an id not present in taken: one randomly chosen
// "<adjective>-<noun>" pair, then that pair with numeric suffixes -2
// through -999, then the uuid-derived fallback.
func (g *Generator) Next(taken map[string]bool) string {
	if len(g.Adjectives) > 0 && len(g.Nouns) > 0 {
		adj := g.Adjectives[g.rng.Intn(len(g.Adjectives))]
		noun := g.Nouns[g.rng.Intn(len(g.Nouns))]
		base := fmt.Sprintf("%s-%s", adj, noun)
		if !taken[base] {
			return base
		}
		for n := 2; n < 1000; n++ {
			candidate := fmt.Sprintf("%s-%d", base, n)
			if !taken[candidate] {
				return candidate
			}
		}
	}
	return fmt.Sprintf("session-%s", uuid.NewString()[:8])
}

// randSeed avoids math/rand's default seed reuse across process restarts
// without reaching for crypto/rand, which this use has no need for.
func randSeed() int64 {
	return int64(uuid.New().ID())
}
