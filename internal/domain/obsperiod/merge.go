package obsperiod

import (
	"sort"
	"time"
)

type eventKind int

// Starts sort before ends on the same date, so an interval beginning the
// day after another ends is merged with it.
const (
	kindStart eventKind = iota
	kindEnd
)

type sweepEvent struct {
	date    time.Time
	kind    eventKind
	ordinal int
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalize truncates an event to whole days and reports whether its end
// had to be clamped because it preceded its start.
func normalize(e Event) (start, end time.Time, inverted bool) {
	start = day(e.Start)
	if e.End.IsZero() {
		return start, start, false
	}
	end = day(e.End)
	if end.Before(start) {
		return start, start, true
	}
	return start, end, false
}

// Merge computes observation periods from events. The result is sorted by
// participant then start date, and does not depend on the order of events
// or on duplicates among them.
func Merge(events []Event) []Period {
	periods, _ := merge(events)
	return periods
}

// merge also returns the number of inverted intervals it clamped.
func merge(events []Event) ([]Period, int) {
	byParticipant := make(map[int64][][2]time.Time)
	inverted := 0
	for _, e := range events {
		start, end, inv := normalize(e)
		if inv {
			inverted++
		}
		byParticipant[e.ParticipantID] = append(byParticipant[e.ParticipantID], [2]time.Time{start, end})
	}

	ids := make([]int64, 0, len(byParticipant))
	for id := range byParticipant {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []Period
	for _, id := range ids {
		for _, p := range sweep(byParticipant[id]) {
			out = append(out, Period{ParticipantID: id, Start: p[0], End: p[1]})
		}
	}
	return out, inverted
}

// sweep merges one participant's intervals.
func sweep(intervals [][2]time.Time) [][2]time.Time {
	if len(intervals) == 0 {
		return nil
	}

	// Pass 1: number starts in start-date order; each end, placed the day
	// after the interval closes, inherits its start's ordinal.
	sorted := make([][2]time.Time, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i][0].Before(sorted[j][0]) })

	stream := make([]sweepEvent, 0, 2*len(sorted))
	for i, iv := range sorted {
		ordinal := i + 1
		stream = append(stream,
			sweepEvent{date: iv[0], kind: kindStart, ordinal: ordinal},
			sweepEvent{date: iv[1].AddDate(0, 0, 1), kind: kindEnd, ordinal: ordinal},
		)
	}
	sort.SliceStable(stream, func(i, j int) bool {
		if !stream[i].date.Equal(stream[j].date) {
			return stream[i].date.Before(stream[j].date)
		}
		return stream[i].kind < stream[j].kind
	})

	// Pass 2: walk the combined stream with an overall ordinal and the
	// highest start ordinal seen so far. An end where every opened interval
	// has closed marks the end of a period.
	var candidates []time.Time
	carried := 0
	for i, ev := range stream {
		overall := i + 1
		if ev.kind == kindStart && ev.ordinal > carried {
			carried = ev.ordinal
		}
		if ev.kind == kindEnd && 2*carried-overall == 0 {
			candidates = append(candidates, ev.date.AddDate(0, 0, -1))
		}
	}

	// Each start maps to the earliest candidate end at or after it; starts
	// sharing an end collapse to the earliest of them.
	periodStart := make(map[time.Time]time.Time)
	var ends []time.Time
	for _, iv := range sorted {
		j := sort.Search(len(candidates), func(k int) bool { return !candidates[k].Before(iv[0]) })
		if j == len(candidates) {
			continue
		}
		end := candidates[j]
		cur, ok := periodStart[end]
		if !ok {
			ends = append(ends, end)
			periodStart[end] = iv[0]
			continue
		}
		if iv[0].Before(cur) {
			periodStart[end] = iv[0]
		}
	}

	out := make([][2]time.Time, 0, len(ends))
	for _, end := range ends {
		out = append(out, [2]time.Time{periodStart[end], end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].Before(out[j][0]) })
	return out
}
