package schedule

import (
	"sort"
	"time"
)

// startGrace keeps a stream that started moments ago eligible for the current
// run instead of dropping it the second it goes live.
const startGrace = 5 * time.Minute

// windowSpan is the inclusive length of one window.
const windowSpan = 6*24*time.Hour + 23*time.Hour + 59*time.Minute + 59*time.Second

// WeekAnchor returns local midnight on the most recent Sunday (the week anchor
// day) at or before now.
func WeekAnchor(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	daysSinceSunday := int(local.Weekday()) // Sunday == 0
	anchor := local.AddDate(0, 0, -daysSinceSunday)
	return time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc)
}

// NextWeekAnchor returns local midnight on the upcoming Sunday strictly after
// now, used when force-previewing next week.
func NextWeekAnchor(now time.Time, loc *time.Location) time.Time {
	return WeekAnchor(now, loc).AddDate(0, 0, 7)
}

// Partition buckets segments into weeks-many consecutive 7-day windows starting at
// anchor. Only segments starting no earlier than now minus a small grace
// period are eligible; everything else is dropped. A fetch range too narrow to
// fill every window is not an error; later windows just end up empty.
func Partition(segments []Segment, anchor time.Time, weeks int, now time.Time) []Window {
	if weeks < 1 {
		weeks = 1
	}
	loc := anchor.Location()
	eligible := make([]Segment, 0, len(segments))
	cutoff := now.Add(-startGrace)
	for _, s := range segments {
		if s.Start.Before(cutoff) {
			continue
		}
		eligible = append(eligible, s)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Start.Before(eligible[j].Start) })

	windows := make([]Window, weeks)
	for i := range windows {
		start := anchor.AddDate(0, 0, i*7)
		windows[i] = Window{Index: i, Start: start, End: start.Add(windowSpan)}
	}
	for _, s := range eligible {
		local := s.Start.In(loc)
		for i := range windows {
			if !local.Before(windows[i].Start) && !local.After(windows[i].End) {
				windows[i].Segments = append(windows[i].Segments, s)
				break
			}
		}
	}
	return windows
}

// NextUp returns the chronologically first segment across all windows, or nil
// when every window is empty. Exactly one segment per run gets the next-up
// styling.
func NextUp(windows []Window) *Segment {
	var best *Segment
	for i := range windows {
		for j := range windows[i].Segments {
			s := &windows[i].Segments[j]
			if best == nil || s.Start.Before(best.Start) {
				best = s
			}
		}
	}
	return best
}

// TotalSegments counts segments across all windows.
func TotalSegments(windows []Window) int {
	n := 0
	for i := range windows {
		n += len(windows[i].Segments)
	}
	return n
}
