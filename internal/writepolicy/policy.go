// Package writepolicy decides whether a freshly assembled snapshot replaces
// what is already archived for its day, and performs the write.
package writepolicy

import (
	"errors"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

var (
	// ErrUnexpectedOutcome means a decision produced a state the writer does
	// not handle. It always aborts the day.
	ErrUnexpectedOutcome = errors.New("unexpected write policy outcome")
	// ErrMissingDigest is returned when a decision lacks a digest to compare.
	ErrMissingDigest = errors.New("write policy state is missing a digest")
)

// State is everything the decision depends on.
type State struct {
	PriorExists bool
	PriorDigest string
	NewDigest   string
	// IsToday reports whether the day being written is the current UTC day.
	IsToday bool
	// Overwrite replaces differing snapshots for any day.
	Overwrite bool
	// OverwriteToday replaces a differing snapshot for today only.
	OverwriteToday bool
}

// Decide maps s to a write outcome.
//
// A missing snapshot is always written. An identical one is a no-op whatever
// the flags. A differing past day is kept unless Overwrite is set; a differing
// today is replaced when either flag is set.
func Decide(s State) (monitor.WriteOutcome, error) {
	if s.NewDigest == "" {
		return "", ErrMissingDigest
	}
	if !s.PriorExists {
		return monitor.OutcomeWritten, nil
	}
	if s.PriorDigest == "" {
		return "", ErrMissingDigest
	}
	if s.PriorDigest == s.NewDigest {
		return monitor.OutcomeNoopUnchanged, nil
	}
	if s.Overwrite {
		return monitor.OutcomeWritten, nil
	}
	if s.IsToday && s.OverwriteToday {
		return monitor.OutcomeWritten, nil
	}
	return monitor.OutcomeSkippedExists, nil
}
