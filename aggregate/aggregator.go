// Package aggregate orchestrates repository metadata loading through the
// cache, the remote client, and the fallback generator. The repository list
// drives everything; per-repository detail widgets run independent
// cache/fetch/degrade pipelines keyed by the repository's full name.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wolfeidau/showcase-cache/fallback"
	"github.com/wolfeidau/showcase-cache/github"
	"github.com/wolfeidau/showcase-cache/store/cachedb"
	"github.com/wolfeidau/showcase-cache/telemetry"
)

// Status is the terminal state of a load cycle. Degraded renders in the same
// shape as Loaded; the marker exists so the API can report it.
type Status string

const (
	StatusLoaded   Status = "loaded"
	StatusDegraded Status = "degraded"
)

const (
	// RepoListTTL is the cache TTL for the repository listing.
	RepoListTTL = 10 * time.Minute

	// WidgetTTL is the cache TTL for per-repository detail widgets.
	WidgetTTL = 1 * time.Hour

	// subscriberDelay spaces out the sequential subscriber-count fetches to
	// stay under the anonymous rate limit.
	subscriberDelay = 100 * time.Millisecond

	// FileDisplayCap bounds the number of directory entries shown.
	FileDisplayCap = 12

	// releasePageSize is how many releases to consider per repository.
	releasePageSize = 5
)

// Cache kinds; each kind carries its own TTL policy.
const (
	kindRepos     = "github-repos"
	kindBuilds    = "build-data"
	kindFiles     = "file-structure"
	kindLanguages = "languages"
)

// Aggregator loads and partitions repository metadata.
type Aggregator struct {
	cache  *cachedb.DB
	client *github.Client
	user   string
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithSleep sets the delay function for testing.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Aggregator) {
		a.sleep = sleep
	}
}

// New creates an Aggregator for the given account.
func New(cache *cachedb.DB, client *github.Client, user string, opts ...Option) *Aggregator {
	a := &Aggregator{
		cache:  cache,
		client: client,
		user:   user,
		logger: slog.Default(),
		now:    time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RepositorySet is the partitioned repository listing.
type RepositorySet struct {
	Owned         []github.Repository `json:"owned"`
	Contributions []github.Repository `json:"contributions"`
	Status        Status              `json:"status"`
}

// partition splits a listing by the fork flag.
func partition(repos []github.Repository) (owned, forks []github.Repository) {
	for _, r := range repos {
		if r.Fork {
			forks = append(forks, r)
		} else {
			owned = append(owned, r)
		}
	}
	return owned, forks
}

// Repositories loads the repository listing: cache, then network, then the
// static fallback list. It never returns an error for remote failures; the
// result is degraded instead. The only error paths are context cancellation
// during the subscriber fan-out.
func (a *Aggregator) Repositories(ctx context.Context) (*RepositorySet, error) {
	if cached, err := a.cachedRepositories(ctx); err == nil {
		telemetry.RecordCacheResult(ctx, kindRepos, telemetry.CacheHit)
		return cached, nil
	}
	telemetry.RecordCacheResult(ctx, kindRepos, telemetry.CacheMiss)

	repos, err := a.client.ListRepositories(ctx, a.user)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("repository listing failed, using fallback list", "error", err)
		telemetry.RecordFallbackServe(ctx, kindRepos)
		repos = fallback.Repositories(a.user)
		a.writeRepoCache(ctx, repos)
		owned, forks := partition(repos)
		return &RepositorySet{Owned: owned, Contributions: forks, Status: StatusDegraded}, nil
	}

	owned, forks := partition(repos)
	if err := a.fetchSubscriberCounts(ctx, owned); err != nil {
		return nil, err
	}

	a.writeRepoCache(ctx, append(append([]github.Repository{}, owned...), forks...))
	return &RepositorySet{Owned: owned, Contributions: forks, Status: StatusLoaded}, nil
}

func (a *Aggregator) cachedRepositories(ctx context.Context) (*RepositorySet, error) {
	var repos []github.Repository
	if err := a.cache.GetJSON(ctx, kindRepos, a.user, &repos); err != nil {
		return nil, err
	}
	a.logger.Debug("repository listing cache hit", "count", len(repos))
	owned, forks := partition(repos)
	return &RepositorySet{Owned: owned, Contributions: forks, Status: StatusLoaded}, nil
}

func (a *Aggregator) writeRepoCache(ctx context.Context, repos []github.Repository) {
	if err := a.cache.PutJSON(ctx, kindRepos, a.user, repos, RepoListTTL); err != nil {
		a.logger.Warn("failed to cache repository listing", "error", err)
	}
}

// fetchSubscriberCounts fills in watcher counts for owned repositories. The
// fetches are deliberately sequential with a fixed delay between them; a
// per-repository failure defaults that count to zero and moves on.
func (a *Aggregator) fetchSubscriberCounts(ctx context.Context, owned []github.Repository) error {
	for i := range owned {
		if i > 0 {
			if err := a.sleep(ctx, subscriberDelay); err != nil {
				return err
			}
		}
		count, err := a.client.SubscriberCount(ctx, owned[i].FullName)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("subscriber count fetch failed",
				"repository", owned[i].FullName,
				"error", err,
			)
			count = 0
		}
		owned[i].SubscribersCount = count
	}
	return nil
}

// Lookup resolves a repository by full name from the current listing. A
// repository absent from the listing (including degraded listings) is not
// looked up remotely, so detail widgets for unknown repositories never cost
// an API call.
func (a *Aggregator) Lookup(ctx context.Context, fullName string) (github.Repository, bool) {
	set, err := a.Repositories(ctx)
	if err != nil {
		return github.Repository{}, false
	}
	for _, r := range set.Owned {
		if strings.EqualFold(r.FullName, fullName) {
			return r, true
		}
	}
	for _, r := range set.Contributions {
		if strings.EqualFold(r.FullName, fullName) {
			return r, true
		}
	}
	return github.Repository{}, false
}

// isNotFound reports whether the error is a cache miss.
func isNotFound(err error) bool {
	return errors.Is(err, cachedb.ErrNotFound)
}

// orderedLanguages returns language names sorted by descending weight,
// ties broken alphabetically for stable output.
func orderedLanguages[V int | int64](weights map[string]V) []string {
	langs := make([]string, 0, len(weights))
	for lang := range weights {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool {
		if weights[langs[i]] != weights[langs[j]] {
			return weights[langs[i]] > weights[langs[j]]
		}
		return langs[i] < langs[j]
	})
	return langs
}
