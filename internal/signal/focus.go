package signal

import (
	"slices"
)

// Critical reports whether a signal survives deep focus: P1 or tagged Security.
func Critical(s *Signal) bool {
	return s.CalculatedSeverity == SeverityP1 || s.HasTag(SecurityTag)
}

// FilterAndSort returns the signals visible under mode, newest first.
//
// Off and Normal both pass every signal through. DeepFocus keeps only signals
// for which Critical holds. Signals with equal timestamps keep their input order.
// The input slice is never modified.
func FilterAndSort(signals []Signal, mode FocusMode) []Signal {
	out := make([]Signal, 0, len(signals))
	for i := range signals {
		if mode == FocusDeepFocus && !Critical(&signals[i]) {
			continue
		}
		out = append(out, signals[i])
	}
	slices.SortStableFunc(out, func(a, b Signal) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}
