package aggregate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/showcase-cache/classify"
	"github.com/wolfeidau/showcase-cache/github"
)

var siteRepo = github.Repository{
	ID:       1,
	Name:     "site",
	FullName: "acme/site",
}

func TestBuilds_SelectsStableAndNightly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/releases", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"tag_name": "nightly-20250810", "published_at": "2025-08-10T00:00:00Z"},
			{"tag_name": "v1.2.0", "published_at": "2025-08-01T00:00:00Z"}
		]`))
	})
	agg, _ := newTestAggregator(t, mux)

	builds, degraded, err := agg.Builds(context.Background(), siteRepo)
	require.NoError(t, err)
	require.False(t, degraded)
	require.NotNil(t, builds.LatestRelease)
	require.Equal(t, "v1.2.0", builds.LatestRelease.Tag)
	require.NotNil(t, builds.LatestNightly)
	require.Equal(t, "nightly-20250810", builds.LatestNightly.Tag)
}

func TestBuilds_DerivedClassification(t *testing.T) {
	longBody := strings.Repeat("x", classify.BodyDisplayCap+20)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/releases", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(fmt.Sprintf(`[
			{"tag_name": "nightly-20250810", "published_at": "2025-08-10T00:00:00Z",
			 "html_url": "https://example.com/nightly",
			 "assets": [{"name": "a.zip", "download_count": 7}, {"name": "b.zip", "download_count": 5}]},
			{"tag_name": "v1.2.0", "published_at": "2024-01-15T00:00:00Z", "body": %q}
		]`, longBody)))
	})
	now := time.Date(2025, 8, 15, 0, 0, 0, 0, time.UTC)
	agg, _ := newTestAggregator(t, mux, WithNow(func() time.Time { return now }))

	builds, _, err := agg.Builds(context.Background(), siteRepo)
	require.NoError(t, err)

	stable := builds.LatestRelease
	require.NotNil(t, stable)
	require.Equal(t, classify.BuildRelease, stable.Type)
	require.Equal(t, classify.TypeColor(classify.BuildRelease), stable.TypeColor)
	require.Equal(t, classify.RecencyOld, stable.Recency)
	require.Equal(t, classify.RecencyColor(classify.RecencyOld), stable.RecencyColor)
	require.Equal(t, "Jan 15, 2024", stable.DateLabel)
	require.Len(t, []rune(stable.Body), classify.BodyDisplayCap+3)

	nightly := builds.LatestNightly
	require.NotNil(t, nightly)
	require.Equal(t, classify.BuildNightly, nightly.Type)
	require.Equal(t, "20250810", nightly.Label)
	require.Equal(t, classify.RecencyRecent, nightly.Recency)
	require.Equal(t, 12, nightly.Downloads)
	require.Equal(t, "https://example.com/nightly", nightly.HTMLURL)
}

func TestBuilds_NoStableLeavesReleaseSlotEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/releases", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"tag_name": "beta-2.0", "published_at": "2025-08-10T00:00:00Z"},
			{"tag_name": "beta-1.9", "published_at": "2025-08-01T00:00:00Z"}
		]`))
	})
	agg, _ := newTestAggregator(t, mux)

	builds, degraded, err := agg.Builds(context.Background(), siteRepo)
	require.NoError(t, err)
	require.False(t, degraded)
	require.Nil(t, builds.LatestRelease)
	require.NotNil(t, builds.LatestNightly)
	require.Equal(t, "beta-2.0", builds.LatestNightly.Tag)
}

func TestBuilds_SecondCallServedFromCache(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/releases", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[{"tag_name": "v1.0.0", "published_at": "2025-08-01T00:00:00Z"}]`))
	})
	agg, _ := newTestAggregator(t, mux)
	ctx := context.Background()

	_, _, err := agg.Builds(ctx, siteRepo)
	require.NoError(t, err)
	_, _, err = agg.Builds(ctx, siteRepo)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestBuilds_EmptyResultNotCached(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/releases", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	})
	agg, _ := newTestAggregator(t, mux)
	ctx := context.Background()

	builds, degraded, err := agg.Builds(ctx, siteRepo)
	require.NoError(t, err)
	require.False(t, degraded)
	require.Nil(t, builds.LatestRelease)
	require.Nil(t, builds.LatestNightly)

	// Empty results are refetched; a release published later must show up
	_, _, err = agg.Builds(ctx, siteRepo)
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

func TestBuilds_RemoteFailureDegrades(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	agg, _ := newTestAggregator(t, mux)

	builds, degraded, err := agg.Builds(context.Background(), siteRepo)
	require.NoError(t, err)
	require.True(t, degraded)
	require.Nil(t, builds.LatestRelease)
	require.Nil(t, builds.LatestNightly)
}

func TestFiles_HiddenEntriesExcludedAndCapped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/contents", func(w http.ResponseWriter, r *http.Request) {
		body := `[{"name": ".github", "type": "dir"}, {"name": ".gitignore", "type": "file"}`
		for i := 0; i < 15; i++ {
			body += fmt.Sprintf(`, {"name": "file%02d.js", "type": "file"}`, i)
		}
		body += `]`
		_, _ = w.Write([]byte(body))
	})
	agg, _ := newTestAggregator(t, mux)

	files, degraded, err := agg.Files(context.Background(), siteRepo)
	require.NoError(t, err)
	require.False(t, degraded)
	require.Len(t, files, FileDisplayCap)
	for _, f := range files {
		require.NotEqual(t, byte('.'), f.Name[0])
	}
}

func TestFiles_FallbackOnFailureIsCached(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	agg, _ := newTestAggregator(t, mux)
	ctx := context.Background()

	files, degraded, err := agg.Files(ctx, siteRepo)
	require.NoError(t, err)
	require.True(t, degraded)
	require.NotEmpty(t, files)

	// Cached fallback serves the second call without a remote attempt
	cached, degraded, err := agg.Files(ctx, siteRepo)
	require.NoError(t, err)
	require.False(t, degraded)
	require.Equal(t, files, cached)
	require.EqualValues(t, 1, calls.Load())
}

func TestLanguages_PercentagesOrderedByShare(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/languages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"JavaScript": 300, "CSS": 100, "HTML": 100}`))
	})
	agg, _ := newTestAggregator(t, mux)

	summary, degraded, err := agg.Languages(context.Background(), siteRepo)
	require.NoError(t, err)
	require.False(t, degraded)
	require.Equal(t, []string{"JavaScript", "CSS", "HTML"}, summary.Languages)
	require.Equal(t, 60, summary.Percent["JavaScript"])
	require.Equal(t, 20, summary.Percent["CSS"])
}

func TestLanguages_EmptyRemoteMapUsesFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/site/languages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	agg, _ := newTestAggregator(t, mux)

	summary, degraded, err := agg.Languages(context.Background(), siteRepo)
	require.NoError(t, err)
	require.False(t, degraded)
	require.NotEmpty(t, summary.Languages)

	total := 0
	for _, pct := range summary.Percent {
		total += pct
	}
	require.Equal(t, 100, total)
}

func TestLanguages_RemoteFailureDegrades(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	agg, _ := newTestAggregator(t, mux)

	summary, degraded, err := agg.Languages(context.Background(), siteRepo)
	require.NoError(t, err)
	require.True(t, degraded)
	require.NotEmpty(t, summary.Languages)
	require.NotEmpty(t, summary.Percent)
}
