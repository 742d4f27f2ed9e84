package ranking

import "time"

const (
	daysPerYear = 365.25

	// UnknownFreshness is the score for documents without a publication date.
	UnknownFreshness = 0.4
	recentFreshness  = 0.95
	floorFreshness   = 0.2
)

// Freshness scores a publication date relative to now. Scores are tiered:
// under 2 years 0.95, 2 to 5 years falling linearly from 0.9 to 0.5, 5 to 10
// years from 0.5 to 0.2, and 0.2 beyond that with outdated set.
func Freshness(publishedAt *time.Time, now time.Time) (score float64, outdated bool) {
	if publishedAt == nil || publishedAt.IsZero() {
		return UnknownFreshness, false
	}

	age := AgeYears(*publishedAt, now)
	switch {
	case age < 2:
		return recentFreshness, false
	case age <= 5:
		return lerp(0.9, 0.5, (age-2)/3), false
	case age <= 10:
		return lerp(0.5, floorFreshness, (age-5)/5), false
	default:
		return floorFreshness, true
	}
}

// AgeYears returns the age of t at now in years of 365.25 days.
func AgeYears(t, now time.Time) float64 {
	return now.Sub(t).Hours() / 24 / daysPerYear
}

func lerp(from, to, frac float64) float64 {
	return from + (to-from)*frac
}
