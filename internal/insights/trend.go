package insights

import (
	"sort"
	"time"
)

const (
	msPerDay       = 86400000
	minTrendDays   = 3
	trendThreshold = 0.01
)

type scoredAt struct {
	score     float64
	createdAt time.Time
}

// epochDay floors toward negative infinity so pre-1970 timestamps land in
// the right bucket.
func epochDay(t time.Time) int64 {
	ms := t.UnixMilli()
	day := ms / msPerDay
	if ms%msPerDay < 0 {
		day--
	}
	return day
}

// computeTrend fits an ordinary least squares line of daily mean score
// against epoch day.
func computeTrend(samples []scoredAt) Trend {
	type bucket struct {
		sum float64
		n   int
	}
	buckets := make(map[int64]*bucket)
	for _, s := range samples {
		if s.createdAt.IsZero() {
			continue
		}
		day := epochDay(s.createdAt)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{}
			buckets[day] = b
		}
		b.sum += s.score
		b.n++
	}

	points := make([]TrendPoint, 0, len(buckets))
	for day, b := range buckets {
		points = append(points, TrendPoint{Day: day, Avg: b.sum / float64(b.n), N: b.n})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })

	if len(points) < minTrendDays {
		return Trend{Label: TrendInsufficientData, Slope: 0, Points: points}
	}

	var meanX, meanY float64
	for _, p := range points {
		meanX += float64(p.Day)
		meanY += p.Avg
	}
	meanX /= float64(len(points))
	meanY /= float64(len(points))

	var num, den float64
	for _, p := range points {
		dx := float64(p.Day) - meanX
		num += dx * (p.Avg - meanY)
		den += dx * dx
	}
	slope := 0.0
	if den != 0 {
		slope = num / den
	}

	label := TrendStable
	switch {
	case slope > trendThreshold:
		label = TrendImproving
	case slope < -trendThreshold:
		label = TrendDeclining
	}
	return Trend{Label: label, Slope: slope, Points: points}
}
