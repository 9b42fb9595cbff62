package fetcher

import (
	"math"

	"kolpulse/internal/model"
)

// rawCounts is what a provider decoded before normalization. Missing fields
// stay zero.
type rawCounts struct {
	Impressions int64
	Likes       int64
	Retweets    int64
	Replies     int64
	Quotes      int64
	Bookmarks   int64
}

// Normalize clamps counters to non-negative values and derives the
// engagement rate.
func Normalize(m model.Metrics) model.Metrics {
	m.Impressions = clamp(m.Impressions)
	m.Likes = clamp(m.Likes)
	m.Retweets = clamp(m.Retweets)
	m.Replies = clamp(m.Replies)
	m.Quotes = clamp(m.Quotes)
	m.Bookmarks = clamp(m.Bookmarks)
	m.EngagementRate = EngagementRate(m)
	return m
}

// EngagementRate returns (likes+retweets+replies+quotes)/impressions*100
// rounded to two decimals, or 0 when impressions is 0.
func EngagementRate(m model.Metrics) float64 {
	if m.Impressions <= 0 {
		return 0
	}
	engaged := float64(m.Likes + m.Retweets + m.Replies + m.Quotes)
	return round2(engaged / float64(m.Impressions) * 100)
}

// Acceptable reports whether m carries any signal. Providers return zeroed
// records for rate-limited or private content instead of an error.
func Acceptable(m model.Metrics) bool {
	return m.Impressions > 0 || m.Likes > 0 || m.Retweets > 0 || m.Replies > 0
}

func (r rawCounts) metrics() model.Metrics {
	return Normalize(model.Metrics{
		Impressions: r.Impressions,
		Likes:       r.Likes,
		Retweets:    r.Retweets,
		Replies:     r.Replies,
		Quotes:      r.Quotes,
		Bookmarks:   r.Bookmarks,
	})
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
