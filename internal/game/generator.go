package game

import "math/rand"

// Generator produces randomized color sequences for rounds. It is a pure
// function of its random source: injecting a seeded source makes generation
// fully deterministic, which the tests rely on.
//
// Thread Safety:
// A Generator is NOT safe for concurrent use; math/rand.Rand is not
// synchronized. The orchestrator owns its Generator and only calls it from
// its event loop, so no locking is needed there.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a Generator backed by the given random source.
//
// Parameters:
//   - src: Source of randomness. Pass rand.NewSource(time.Now().UnixNano())
//     in production, or a fixed seed in tests.
func NewGenerator(src rand.Source) *Generator {
	return &Generator{rng: rand.New(src)}
}

// Generate returns a new random sequence.
//
// The length is drawn uniformly from [minLen, maxLen] inclusive, then each
// element is drawn uniformly and independently from the palette, with
// repetition. minLen must be >= 1 and maxLen >= minLen; the bounds are
// validated by config parsing before they reach this point.
func (g *Generator) Generate(minLen, maxLen int) Sequence {
	length := minLen + g.rng.Intn(maxLen-minLen+1)
	palette := Palette()

	seq := make(Sequence, length)
	for i := range seq {
		seq[i] = palette[g.rng.Intn(len(palette))]
	}
	return seq
}
