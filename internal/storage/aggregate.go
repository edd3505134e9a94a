package storage

import (
	"sort"
	"time"
)

// DayBounds returns the half-open millisecond range [start, end) of the
// calendar day containing now, in loc. A nil loc means time.Local.
func DayBounds(now time.Time, loc *time.Location) (startMs, endMs int64) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start.UnixMilli(), end.UnixMilli()
}

// Summarize computes dashboard statistics over the events whose timestamp
// falls in [startMs, endMs). TopKeys holds at most limit entries.
func Summarize(events []Event, startMs, endMs int64, limit int) *DashboardStats {
	stats := &DashboardStats{TopKeys: []KeyCount{}}

	var today []Event
	for _, e := range events {
		if e.Timestamp < startMs || e.Timestamp >= endMs {
			continue
		}
		if stats.TotalToday == 0 || e.Timestamp < stats.FirstTS {
			stats.FirstTS = e.Timestamp
		}
		if stats.TotalToday == 0 || e.Timestamp > stats.LastTS {
			stats.LastTS = e.Timestamp
		}
		stats.TotalToday++
		today = append(today, e)
	}

	top := CountKeys(today)
	if limit >= 0 && len(top) > limit {
		top = top[:limit]
	}
	stats.TopKeys = append(stats.TopKeys, top...)
	return stats
}

// CountKeys returns occurrences per distinct key name, most frequent
// first. Equal counts are ordered by key name.
func CountKeys(events []Event) []KeyCount {
	counts := make(map[string]int64)
	for _, e := range events {
		counts[e.KeyName]++
	}

	out := make([]KeyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, KeyCount{KeyName: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].KeyName < out[j].KeyName
	})
	return out
}
