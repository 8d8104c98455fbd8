// Package agenda groups merged occurrences into per-day buckets for the
// wall display.
package agenda

import (
	"sort"
	"time"

	"github.com/umputun/hallboard/pkg/domain"
)

// DefaultMinDays is the minimum number of forward-looking day columns the
// display always shows, even when empty.
const DefaultMinDays = 4

// Bucketize distributes occurrences into calendar-day buckets. Buckets for
// today through today+minDays-1 always exist, empty or not. An occurrence
// spanning multiple days appears in every bucket from its start day to its
// end day inclusive and is flagged multi-day; spans create buckets beyond
// the pre-seeded window as needed. Buckets are ordered chronologically and
// each bucket's occurrences are ordered by start time.
func Bucketize(events []domain.Occurrence, today domain.Date, minDays int, loc *time.Location) []domain.DayBucket {
	if minDays <= 0 {
		minDays = DefaultMinDays
	}
	if loc == nil {
		loc = time.Local
	}

	byDate := make(map[domain.Date][]domain.Occurrence)
	for i := 0; i < minDays; i++ {
		byDate[today.AddDays(i)] = []domain.Occurrence{}
	}

	for _, occ := range events {
		startDay := domain.DateOf(occ.Start.In(loc))
		end := occ.End.In(loc)
		// an end falling exactly on midnight is exclusive, so a one-day
		// all-day event does not spill into the next calendar day
		if end.After(occ.Start) && isMidnight(end) {
			end = end.Add(-time.Nanosecond)
		}
		endDay := domain.DateOf(end)
		occ.MultiDay = endDay.After(startDay)

		for day := startDay; !day.After(endDay); day = day.Next() {
			byDate[day] = append(byDate[day], occ)
		}
	}

	dates := make([]domain.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	buckets := make([]domain.DayBucket, 0, len(dates))
	for _, d := range dates {
		// multi-day placement interleaves across buckets, so per-bucket order
		// is guaranteed here rather than inherited from the merged set
		evs := byDate[d]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Start.Before(evs[j].Start) })
		buckets = append(buckets, domain.DayBucket{Date: d, Events: evs})
	}
	return buckets
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
