package aggregate

import (
	"context"
	"strings"
	"time"

	"github.com/wolfeidau/showcase-cache/classify"
	"github.com/wolfeidau/showcase-cache/fallback"
	"github.com/wolfeidau/showcase-cache/github"
	"github.com/wolfeidau/showcase-cache/telemetry"
)

// Detail widgets each run the same pipeline: cache check, remote call,
// fallback on failure. Failures are absorbed per widget; the degraded flag
// tells the caller which path produced the data.

// Build is the display view of a release: the raw card fields plus the
// derived classification, so the presentation layer never re-derives them.
type Build struct {
	Tag          string             `json:"tag"`
	Label        string             `json:"label"`
	Type         classify.BuildType `json:"type"`
	TypeColor    string             `json:"type_color"`
	Recency      classify.Recency   `json:"recency"`
	RecencyColor string             `json:"recency_color"`
	DateLabel    string             `json:"date_label"`
	PublishedAt  *time.Time         `json:"published_at,omitempty"`
	Body         string             `json:"body,omitempty"`
	Downloads    int                `json:"downloads"`
	HTMLURL      string             `json:"html_url,omitempty"`
}

// buildView derives the display classification for one release. Recency is
// computed against now and cached with the rest of the view, so it can lag
// by at most the widget TTL.
func buildView(r *github.Release, now time.Time) *Build {
	if r == nil {
		return nil
	}
	buildType := classify.TypeOf(r.TagName)
	recency := classify.RecencyOf(r.PublishedAt, now)
	return &Build{
		Tag:          r.TagName,
		Label:        classify.StripTypePrefix(r.TagName),
		Type:         buildType,
		TypeColor:    classify.TypeColor(buildType),
		Recency:      recency,
		RecencyColor: classify.RecencyColor(recency),
		DateLabel:    classify.FormatDate(r.PublishedAt),
		PublishedAt:  r.PublishedAt,
		Body:         classify.TruncateBody(r.Body, classify.BodyDisplayCap),
		Downloads:    r.TotalDownloads(),
		HTMLURL:      r.HTMLURL,
	}
}

// BuildData is the cached release selection for a repository.
type BuildData struct {
	LatestRelease *Build `json:"latest_release"`
	LatestNightly *Build `json:"latest_nightly"`
}

// empty reports whether no builds were found.
func (b *BuildData) empty() bool {
	return b.LatestRelease == nil && b.LatestNightly == nil
}

// Builds returns the latest stable and prerelease builds for a repository.
// On remote failure the result is empty and degraded; empty results are not
// cached so a later fetch can recover.
func (a *Aggregator) Builds(ctx context.Context, repo github.Repository) (*BuildData, bool, error) {
	var cached BuildData
	if err := a.cache.GetJSON(ctx, kindBuilds, repo.FullName, &cached); err == nil {
		telemetry.RecordCacheResult(ctx, kindBuilds, telemetry.CacheHit)
		return &cached, false, nil
	} else if !isNotFound(err) {
		a.logger.Warn("build cache read failed", "repository", repo.FullName, "error", err)
	}
	telemetry.RecordCacheResult(ctx, kindBuilds, telemetry.CacheMiss)

	releases, err := a.client.ListReleases(ctx, repo.FullName, releasePageSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		a.logger.Warn("release listing failed", "repository", repo.FullName, "error", err)
		telemetry.RecordFallbackServe(ctx, kindBuilds)
		return &BuildData{}, true, nil
	}

	stable, prerelease := classify.SelectBuilds(releases)
	now := a.now()
	data := &BuildData{
		LatestRelease: buildView(stable, now),
		LatestNightly: buildView(prerelease, now),
	}

	if !data.empty() {
		if err := a.cache.PutJSON(ctx, kindBuilds, repo.FullName, data, WidgetTTL); err != nil {
			a.logger.Warn("failed to cache build data", "repository", repo.FullName, "error", err)
		}
	}
	return data, false, nil
}

// Files returns the repository's root directory listing, hidden entries
// excluded and capped for display. Fallback listings are cached like real
// ones; they are deterministic re-derivations of the same repository.
func (a *Aggregator) Files(ctx context.Context, repo github.Repository) ([]github.ContentEntry, bool, error) {
	var cached []github.ContentEntry
	if err := a.cache.GetJSON(ctx, kindFiles, repo.FullName, &cached); err == nil {
		telemetry.RecordCacheResult(ctx, kindFiles, telemetry.CacheHit)
		return cached, false, nil
	} else if !isNotFound(err) {
		a.logger.Warn("file cache read failed", "repository", repo.FullName, "error", err)
	}
	telemetry.RecordCacheResult(ctx, kindFiles, telemetry.CacheMiss)

	entries, err := a.client.ListContents(ctx, repo.FullName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		a.logger.Warn("directory listing failed, using fallback", "repository", repo.FullName, "error", err)
		telemetry.RecordFallbackServe(ctx, kindFiles)
		files := fallback.Files(repo)
		a.writeFileCache(ctx, repo, files)
		return files, true, nil
	}

	files := formatEntries(entries)
	a.writeFileCache(ctx, repo, files)
	return files, false, nil
}

func (a *Aggregator) writeFileCache(ctx context.Context, repo github.Repository, files []github.ContentEntry) {
	if err := a.cache.PutJSON(ctx, kindFiles, repo.FullName, files, WidgetTTL); err != nil {
		a.logger.Warn("failed to cache file listing", "repository", repo.FullName, "error", err)
	}
}

// formatEntries drops hidden entries and truncates to the display cap.
func formatEntries(entries []github.ContentEntry) []github.ContentEntry {
	out := make([]github.ContentEntry, 0, FileDisplayCap)
	for _, e := range entries {
		if strings.HasPrefix(e.Name, ".") {
			continue
		}
		out = append(out, e)
		if len(out) == FileDisplayCap {
			break
		}
	}
	return out
}

// LanguageSummary is the per-repository language composition.
type LanguageSummary struct {
	Languages []string       `json:"languages"`
	Percent   map[string]int `json:"percent"`
}

// Languages returns the repository's language composition as whole
// percentages, ordered by descending share. Remote failures degrade to the
// generated fallback mix.
func (a *Aggregator) Languages(ctx context.Context, repo github.Repository) (*LanguageSummary, bool, error) {
	var cached LanguageSummary
	if err := a.cache.GetJSON(ctx, kindLanguages, repo.FullName, &cached); err == nil {
		telemetry.RecordCacheResult(ctx, kindLanguages, telemetry.CacheHit)
		return &cached, false, nil
	} else if !isNotFound(err) {
		a.logger.Warn("language cache read failed", "repository", repo.FullName, "error", err)
	}
	telemetry.RecordCacheResult(ctx, kindLanguages, telemetry.CacheMiss)

	bytes, err := a.client.Languages(ctx, repo.FullName)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		a.logger.Warn("language fetch failed, using fallback", "repository", repo.FullName, "error", err)
		telemetry.RecordFallbackServe(ctx, kindLanguages)
		percent := fallback.Languages(repo)
		summary := &LanguageSummary{Languages: orderedLanguages(percent), Percent: percent}
		a.writeLanguageCache(ctx, repo, summary)
		return summary, true, nil
	}

	summary := &LanguageSummary{
		Languages: orderedLanguages(bytes),
		Percent:   classify.Percentages(bytes),
	}
	if len(summary.Languages) == 0 {
		percent := fallback.Languages(repo)
		summary = &LanguageSummary{Languages: orderedLanguages(percent), Percent: percent}
	}
	a.writeLanguageCache(ctx, repo, summary)
	return summary, false, nil
}

func (a *Aggregator) writeLanguageCache(ctx context.Context, repo github.Repository, summary *LanguageSummary) {
	if err := a.cache.PutJSON(ctx, kindLanguages, repo.FullName, summary, WidgetTTL); err != nil {
		a.logger.Warn("failed to cache language summary", "repository", repo.FullName, "error", err)
	}
}
