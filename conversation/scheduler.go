package conversation

import (
	"math/rand"
	"time"
)

// Scheduler selects the next speaking participant. turnCount is the number
// of assistant turns appended so far, prevSpeaker the id of the immediately
// preceding speaker (-1 when nobody has spoken yet).
type Scheduler interface {
	Next(turnCount, numParticipants, prevSpeaker int) int
}

// RoundRobinScheduler alternates speakers deterministically in registration
// order. Used by the two-participant conversation mode.
type RoundRobinScheduler struct{}

func (RoundRobinScheduler) Next(turnCount, numParticipants, _ int) int {
	return turnCount % numParticipants
}

// RandomScheduler picks uniformly at random, re-rolling while the pick equals
// the previous speaker so no voice dominates consecutive turns. With exactly
// one participant it always picks that one, so the re-roll cannot spin.
type RandomScheduler struct {
	rng *rand.Rand
}

// NewRandomScheduler creates a RandomScheduler. rng may be nil, in which case
// a time-seeded source is used; tests inject a seeded source for determinism.
func NewRandomScheduler(rng *rand.Rand) *RandomScheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomScheduler{rng: rng}
}

func (s *RandomScheduler) Next(_, numParticipants, prevSpeaker int) int {
	if numParticipants == 1 {
		return 0
	}
	for {
		pick := s.rng.Intn(numParticipants)
		if pick != prevSpeaker {
			return pick
		}
	}
}
