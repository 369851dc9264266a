package domain

import "sort"

// Conflicts reports whether candidate overlaps any of the existing windows.
func Conflicts(existing []TimeWindow, candidate TimeWindow) bool {
	_, ok := FirstConflict(existing, candidate)
	return ok
}

// FirstConflict returns the earliest-starting existing window overlapping candidate.
func FirstConflict(existing []TimeWindow, candidate TimeWindow) (TimeWindow, bool) {
	var (
		found TimeWindow
		ok    bool
	)
	for _, e := range existing {
		if !e.Overlaps(candidate) {
			continue
		}
		if !ok || e.Start.Before(found.Start) {
			found = e
			ok = true
		}
	}
	return found, ok
}

// BatchOverlap is a candidate dropped by SplitBatchOverlaps together with
// the accepted window it collides with.
type BatchOverlap struct {
	Window TimeWindow
	With   TimeWindow
}

// SplitBatchOverlaps sorts candidates by start and drops every candidate that
// overlaps an earlier accepted one. The accepted window reaching furthest is
// tracked so containment is caught, not only adjacent overlap.
func SplitBatchOverlaps(candidates []TimeWindow) ([]TimeWindow, []BatchOverlap) {
	sorted := make([]TimeWindow, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	accepted := make([]TimeWindow, 0, len(sorted))
	var dropped []BatchOverlap
	var reach TimeWindow
	hasReach := false
	for _, c := range sorted {
		if hasReach && reach.Overlaps(c) {
			dropped = append(dropped, BatchOverlap{Window: c, With: reach})
			continue
		}
		accepted = append(accepted, c)
		if !hasReach || c.End.After(reach.End) {
			reach = c
			hasReach = true
		}
	}
	return accepted, dropped
}
