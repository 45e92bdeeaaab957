package core

import (
	"errors"
	"fmt"

	"dental-counseling/pkg"
)

var (
	// ErrInvalidInput marks a recording that cannot be processed, such as an
	// empty transcript or out-of-order utterances.  Batch callers skip it.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a session would move backwards.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

var stateRank = map[pkg.SessionState]int{
	pkg.StateCreated:       0,
	pkg.StateMatched:       1,
	pkg.StateUnmatched:     1,
	pkg.StateTranscribed:   2,
	pkg.StateSOAPGenerated: 3,
	pkg.StateReviewed:      4,
}

// Advance moves sess to the next lifecycle state.  Transitions are one-way:
// matched and unmatched are alternatives at the same step, and a state can
// only be followed by one further along.
func Advance(sess *pkg.CounselingSession, to pkg.SessionState) error {
	from := sess.State
	if from == "" {
		from = pkg.StateCreated
	}
	fr, ok := stateRank[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	tr, ok := stateRank[to]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	// reviewed may be reached again when a clinician edits twice
	if tr < fr || (tr == fr && to != pkg.StateReviewed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	sess.State = to
	return nil
}

// ValidateUtterances checks the transcript invariants: at least one
// utterance and strictly increasing sequence numbers starting at 1 or later.
func ValidateUtterances(utts []pkg.Utterance) error {
	if len(utts) == 0 {
		return fmt.Errorf("%w: empty transcript", ErrInvalidInput)
	}
	prev := 0
	for _, u := range utts {
		if u.Sequence <= prev {
			return fmt.Errorf("%w: sequence %d after %d", ErrInvalidInput, u.Sequence, prev)
		}
		prev = u.Sequence
	}
	return nil
}
