// Package classify derives display classifications from releases and tags.
// Everything here is a pure function over release values; missing dates and
// bodies degrade to explicit unknown markers rather than failing.
package classify

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/wolfeidau/showcase-cache/github"
)

// BuildType categorizes a release or tag by its name.
type BuildType string

const (
	BuildAlpha   BuildType = "alpha"
	BuildBeta    BuildType = "beta"
	BuildDev     BuildType = "dev"
	BuildNightly BuildType = "nightly"
	BuildRelease BuildType = "release"
)

// Recency buckets a release by the age of its publish date.
type Recency string

const (
	RecencyRecent  Recency = "recent"  // under 30 days
	RecencyMonthly Recency = "monthly" // 30 days to a year
	RecencyOld     Recency = "old"     // a year or more
	RecencyUnknown Recency = "unknown" // missing or invalid date
)

const (
	// BodyDisplayCap is the maximum release body length shown on a card.
	BodyDisplayCap = 150

	// UnknownDateLabel marks releases without a valid publish date.
	UnknownDateLabel = "unknown"
)

// prereleaseMarkers in priority order; the first match wins.
var prereleaseMarkers = []BuildType{BuildAlpha, BuildBeta, BuildDev, BuildNightly}

var typePrefixPattern = regexp.MustCompile(`(?i)^(beta|alpha|dev|nightly)-`)

// TypeOf classifies a tag or release name. Markers are matched
// case-insensitively, alpha before beta before dev before nightly; anything
// else is a plain release.
func TypeOf(tagOrName string) BuildType {
	name := strings.ToLower(tagOrName)
	for _, marker := range prereleaseMarkers {
		if strings.Contains(name, string(marker)) {
			return marker
		}
	}
	return BuildRelease
}

// IsPrerelease reports whether the tag carries any prerelease marker.
func IsPrerelease(tagOrName string) bool {
	return TypeOf(tagOrName) != BuildRelease
}

// RecencyOf buckets a publish date by its age at the given instant.
func RecencyOf(publishedAt *time.Time, now time.Time) Recency {
	if publishedAt == nil || publishedAt.IsZero() {
		return RecencyUnknown
	}
	age := now.Sub(*publishedAt)
	switch {
	case age >= 365*24*time.Hour:
		return RecencyOld
	case age >= 30*24*time.Hour:
		return RecencyMonthly
	default:
		return RecencyRecent
	}
}

// TypeColor returns the display color for a build type.
func TypeColor(t BuildType) string {
	switch t {
	case BuildNightly:
		return "#7c3aed"
	case BuildDev:
		return "#f59e0b"
	case BuildBeta:
		return "#3b82f6"
	case BuildAlpha:
		return "#ef4444"
	default:
		return "#ffffff"
	}
}

// RecencyColor returns the display color for a recency bucket.
func RecencyColor(r Recency) string {
	switch r {
	case RecencyRecent:
		return "#10b981"
	case RecencyMonthly:
		return "#f59e0b"
	case RecencyOld:
		return "#ef4444"
	default:
		return "#6b7280"
	}
}

// TruncateBody caps a release body at n runes with an ellipsis suffix.
func TruncateBody(body string, n int) string {
	runes := []rune(body)
	if len(runes) <= n {
		return body
	}
	return string(runes[:n]) + "..."
}

// StripTypePrefix removes a leading "beta-"/"alpha-"/"dev-"/"nightly-"
// marker from a tag for display.
func StripTypePrefix(tag string) string {
	return typePrefixPattern.ReplaceAllString(tag, "")
}

// FormatDate renders a publish date for display, or the unknown marker.
func FormatDate(publishedAt *time.Time) string {
	if publishedAt == nil || publishedAt.IsZero() {
		return UnknownDateLabel
	}
	return publishedAt.Format("Jan 2, 2006")
}

// SelectBuilds picks the latest stable release and the most recent
// prerelease from a most-recent-first release listing. A listing with no
// stable release leaves the stable slot nil; the prerelease slot alone
// carries the card. Entries sharing a tag land in the same slot, so a
// duplicated tag renders exactly once. Prereleases without a valid date
// sort after dated ones.
func SelectBuilds(releases []github.Release) (stable, prerelease *github.Release) {
	for i := range releases {
		if !IsPrerelease(releases[i].TagName) {
			stable = &releases[i]
			break
		}
	}

	var candidates []*github.Release
	for i := range releases {
		if IsPrerelease(releases[i].TagName) {
			candidates = append(candidates, &releases[i])
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].PublishedAt, candidates[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if len(candidates) > 0 {
		prerelease = candidates[0]
	}
	return stable, prerelease
}

// Percentages converts a language byte map into whole percentages. A zero
// total falls back to an even split rather than dividing by zero.
func Percentages(bytes map[string]int64) map[string]int {
	if len(bytes) == 0 {
		return map[string]int{}
	}

	var total int64
	for _, b := range bytes {
		total += b
	}

	out := make(map[string]int, len(bytes))
	if total == 0 {
		even := int(float64(100)/float64(len(bytes)) + 0.5)
		for lang := range bytes {
			out[lang] = even
		}
		return out
	}

	for lang, b := range bytes {
		out[lang] = int(float64(b)/float64(total)*100 + 0.5)
	}
	return out
}
