package main

import (
	"context"
	"time"
)

const (
	statsDays      = 7
	recentWindow   = 24 * time.Hour
	isoMillisUTC   = "2006-01-02T15:04:05.000Z"
	calendarLayout = "2006-01-02"
)

// statsSince is the earliest creation time computeStats can look at.
func statsSince(now time.Time) time.Time {
	recent := now.Add(-recentWindow)
	y, m, d := now.Date()
	firstDay := time.Date(y, m, d-(statsDays-1), 0, 0, 0, 0, now.Location())
	if firstDay.Before(recent) {
		// Posts exactly at firstDay are inside the histogram, and the
		// repository filter is exclusive.
		return firstDay.Add(-time.Nanosecond)
	}
	return recent
}

// computeStats buckets created into the seven local calendar days ending
// today, oldest first. Day boundaries follow now's location.
func computeStats(now time.Time, total int, created []time.Time) Stats {
	stats := Stats{
		TotalPosts:  total,
		PostsPerDay: make([]DayCount, 0, statsDays),
		LastUpdated: now.UTC().Format(isoMillisUTC),
	}

	recentCutoff := now.Add(-recentWindow)
	for _, t := range created {
		if t.After(recentCutoff) {
			stats.RecentPosts++
		}
	}

	y, m, d := now.Date()
	for i := statsDays - 1; i >= 0; i-- {
		start := time.Date(y, m, d-i, 0, 0, 0, 0, now.Location())
		end := time.Date(y, m, d-i+1, 0, 0, 0, 0, now.Location())

		count := 0
		for _, t := range created {
			if !t.Before(start) && t.Before(end) {
				count++
			}
		}

		stats.PostsPerDay = append(stats.PostsPerDay, DayCount{
			Date:  start.Format(calendarLayout),
			Count: count,
			Label: dayLabel(i, start),
		})
	}

	return stats
}

func dayLabel(daysAgo int, day time.Time) string {
	switch daysAgo {
	case 0:
		return "Today"
	case 1:
		return "Yesterday"
	}
	return day.Format("Mon")
}

func (b *Board) computeStats(ctx context.Context) (Stats, error) {
	now := b.now()
	total, created, err := b.posts.statsSnapshot(ctx, statsSince(now))
	if err != nil {
		return Stats{}, err
	}
	return computeStats(now, total, created), nil
}
