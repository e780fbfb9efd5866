// Package srs implements the SuperMemo-2 (SM-2) spaced-repetition algorithm
// as a pure function over card scheduling state. Persistence and card
// lifecycle live in the service layer; this package only computes the next
// (repetitions, easiness, interval) triple for a graded review.
package srs

import (
	"math"
	"time"
)

// Easiness factor bounds. EF is clamped to this range after every review.
const (
	MinEasiness = 1.3
	MaxEasiness = 2.5
)

// Quality bounds for a graded review. Qualities below PassQuality reset the
// card to the learning phase.
const (
	MinQuality  = 0
	MaxQuality  = 5
	PassQuality = 3
)

// State is the scheduling state of one card.
type State struct {
	Repetitions  int     // successful reviews in a row (n >= 0)
	Easiness     float64 // EF in [MinEasiness, MaxEasiness]
	IntervalDays int     // current inter-review interval (I >= 0)
}

// ValidQuality reports whether q is a legal review grade.
func ValidQuality(q int) bool { return q >= MinQuality && q <= MaxQuality }

// Review applies one graded review of quality q at time now and returns the
// post-review state plus the next review timestamp.
//
// EF' = clamp(EF + (0.1 − (5−q)(0.08 + (5−q)·0.02)), 1.3, 2.5).
// q < 3 resets the card: n'=0, I'=1. Otherwise n'=n+1 and I' is 1 for the
// first repetition, 6 for the second, and round(I·EF') afterwards.
//
// Review is deterministic: identical (state, q, now) always produce
// identical results.
func Review(s State, q int, now time.Time) (State, time.Time) {
	ef := s.Easiness + (0.1 - float64(5-q)*(0.08+float64(5-q)*0.02))
	if ef < MinEasiness {
		ef = MinEasiness
	}
	if ef > MaxEasiness {
		ef = MaxEasiness
	}

	next := State{Easiness: ef}
	if q < PassQuality {
		next.Repetitions = 0
		next.IntervalDays = 1
	} else {
		next.Repetitions = s.Repetitions + 1
		switch next.Repetitions {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(s.IntervalDays) * ef))
		}
	}

	nowUTC := now.UTC()
	return next, nowUTC.AddDate(0, 0, next.IntervalDays)
}

// Maturity classification thresholds: a card is "new" before its first
// successful review and "mature" from the third onwards.
const matureRepetitions = 3

// Phase labels used by daily statistics.
const (
	PhaseNew      = "new"
	PhaseLearning = "learning"
	PhaseMature   = "mature"
)

// Phase classifies a card by its repetition count.
func Phase(repetitions int) string {
	switch {
	case repetitions == 0:
		return PhaseNew
	case repetitions < matureRepetitions:
		return PhaseLearning
	default:
		return PhaseMature
	}
}
