/*
Copyright (C) 2026 Lorekeep Authors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import "time"

// NextAlignedStart returns the smallest instant at or after `after` that
// falls on a whole multiple of total measured from the Unix epoch. Slots
// placed on these boundaries are externally guessable: every client that
// knows the round length can compute the same start times without asking
// the server when it last backfilled.
func NextAlignedStart(total time.Duration, after time.Time) time.Time {
	if total <= 0 {
		return after.UTC()
	}

	after = after.UTC()
	overflow := after.UnixNano() % int64(total)
	if overflow == 0 {
		return after
	}
	return after.Add(time.Duration(int64(total) - overflow))
}
