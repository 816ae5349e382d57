package builder

import "time"

// dateOf drops the time of day. Checkpoints compare calendar dates only.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// afterDate reports whether a falls on a later calendar day than b.
func afterDate(a, b time.Time) bool {
	return dateOf(a).After(dateOf(b))
}

// between reports whether t lies in [start, end], inclusive on both ends.
func between(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
