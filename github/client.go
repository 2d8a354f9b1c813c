// Package github is a read-only client for the public GitHub REST API.
// It never mutates remote state and requires no credentials; callers are
// expected to absorb rate-limit failures with cached or generated data.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultAPIURL is the public GitHub API endpoint.
	DefaultAPIURL = "https://api.github.com"

	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies this client to the API.
	DefaultUserAgent = "showcase-cache"

	// acceptHeader is the versioned JSON media type the API expects.
	acceptHeader = "application/vnd.github.v3+json"

	// repoListPageSize bounds the user repository listing.
	repoListPageSize = 50

	// contentsPageSize bounds the root directory listing.
	contentsPageSize = 20
)

var (
	// ErrNotFound is returned when a repository or resource does not exist.
	ErrNotFound = errors.New("github: not found")

	// ErrRateLimited is returned when the anonymous rate limit is exhausted.
	ErrRateLimited = errors.New("github: rate limited")
)

// RetryPolicy controls retries for calls that opt in to it.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	// RetryStatuses lists HTTP status codes worth retrying.
	RetryStatuses []int
}

// DefaultRetryPolicy retries rate-limited requests twice with a 2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		Backoff:       2 * time.Second,
		RetryStatuses: []int{http.StatusForbidden},
	}
}

func (p RetryPolicy) retryable(status int) bool {
	for _, s := range p.RetryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// apiError wraps a sentinel or descriptive error with the HTTP status that
// produced it, so the retry policy can match on status codes.
type apiError struct {
	status int
	err    error
}

func (e *apiError) Error() string { return e.err.Error() }
func (e *apiError) Unwrap() error { return e.err }

// Client fetches repository metadata from the GitHub API.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	listRetry RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIURL sets the API base URL.
func WithAPIURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithUserAgent sets the client identifier header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithListRetryPolicy sets the retry policy for the repository listing call.
func WithListRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.listRetry = p
	}
}

// NewClient creates a new API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultAPIURL,
		userAgent: DefaultUserAgent,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		listRetry: DefaultRetryPolicy(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// get issues a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &apiError{status: resp.StatusCode, err: ErrRateLimited}
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &apiError{status: resp.StatusCode, err: ErrNotFound}
	default:
		body, _ := io.ReadAll(resp.Body)
		return &apiError{
			status: resp.StatusCode,
			err:    fmt.Errorf("github returned %d: %s", resp.StatusCode, string(body)),
		}
	}
}

// ListRepositories lists the user's repositories, most recently updated
// first. This is the only call with a retry policy; everything else is
// expected to degrade to cached or generated data on failure.
func (c *Client) ListRepositories(ctx context.Context, user string) ([]Repository, error) {
	path := fmt.Sprintf("/users/%s/repos?sort=updated&per_page=%d", url.PathEscape(user), repoListPageSize)

	var lastErr error
	for attempt := 0; attempt < c.listRetry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.listRetry.Backoff); err != nil {
				return nil, err
			}
		}

		var repos []Repository
		lastErr = c.get(ctx, path, &repos)
		if lastErr == nil {
			return repos, nil
		}

		var ae *apiError
		if !errors.As(lastErr, &ae) || !c.listRetry.retryable(ae.status) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// ListReleases lists the most recent releases for a repository.
func (c *Client) ListReleases(ctx context.Context, fullName string, perPage int) ([]Release, error) {
	var releases []Release
	path := fmt.Sprintf("/repos/%s/releases?per_page=%d", fullName, perPage)
	if err := c.get(ctx, path, &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// ListTags lists the tags for a repository.
func (c *Client) ListTags(ctx context.Context, fullName string) ([]Tag, error) {
	var tags []Tag
	if err := c.get(ctx, "/repos/"+fullName+"/tags", &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// ListContents lists the root directory of a repository, non-recursively.
func (c *Client) ListContents(ctx context.Context, fullName string) ([]ContentEntry, error) {
	var entries []ContentEntry
	path := fmt.Sprintf("/repos/%s/contents?per_page=%d", fullName, contentsPageSize)
	if err := c.get(ctx, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Languages fetches the per-language byte counts for a repository.
func (c *Client) Languages(ctx context.Context, fullName string) (map[string]int64, error) {
	langs := map[string]int64{}
	if err := c.get(ctx, "/repos/"+fullName+"/languages", &langs); err != nil {
		return nil, err
	}
	return langs, nil
}

// SubscriberCount returns the number of watchers for a repository. The
// subscriber listing is fetched only for its length.
func (c *Client) SubscriberCount(ctx context.Context, fullName string) (int, error) {
	var subs []subscriber
	if err := c.get(ctx, "/repos/"+fullName+"/subscribers", &subs); err != nil {
		return 0, err
	}
	return len(subs), nil
}
