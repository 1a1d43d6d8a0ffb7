// Package program holds the pure scheduling math of a multi-day program:
// which day is due given wall-clock time, when a program starts and ends.
// It is deterministic and dependency-free so the same answers fall out at
// resume time, at scheduling time, and across process restarts.
package program

import "time"

// ResolveDay maps (program start, program length, now) to the 1-indexed
// current day. It is the single source of truth for "which day is due".
//
// elapsed whole days are floored; the result is clamped to [1, length].
// When more than one day has elapsed since the last interaction the result
// jumps straight to the day implied by elapsed time; skipped days are never
// auto-delivered, only reachable through the progress dashboard.
func ResolveDay(start time.Time, length int, now time.Time) int {
	if length < 1 {
		length = 1
	}
	elapsed := 0
	if now.After(start) {
		elapsed = int(now.Sub(start) / (24 * time.Hour))
	}
	day := elapsed + 1
	if day > length {
		day = length
	}
	if day < 1 {
		day = 1
	}
	return day
}

// NextStart returns the next future occurrence of the requested clock time:
// today at hour:minute if that moment is still ahead of now, otherwise
// tomorrow at the same time. Seconds are zeroed.
func NextStart(now time.Time, hour, minute int) time.Time {
	start := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if start.Before(now) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}

// EndDate returns the date of the final program day: start + (length-1) days.
func EndDate(start time.Time, length int) time.Time {
	if length < 1 {
		length = 1
	}
	return start.AddDate(0, 0, length-1)
}
