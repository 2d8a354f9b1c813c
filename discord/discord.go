// Package discord fetches public invite metadata for the community widget.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfeidau/showcase-cache/store/cachedb"
	"github.com/wolfeidau/showcase-cache/telemetry"
)

const (
	// DefaultAPIURL is the public Discord API endpoint.
	DefaultAPIURL = "https://discord.com/api/v10"

	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 15 * time.Second

	// CacheTTL is how long invite counts stay fresh; member and presence
	// counts move constantly, so this is the shortest TTL in the system.
	CacheTTL = 5 * time.Minute

	cacheKind = "discord-server"
)

// ErrNotFound is returned when the invite does not exist or has expired.
var ErrNotFound = errors.New("discord: not found")

// Invite is the subset of the invite response the widget renders.
type Invite struct {
	Code                     string `json:"code"`
	ApproximateMemberCount   int    `json:"approximate_member_count"`
	ApproximatePresenceCount int    `json:"approximate_presence_count"`
	Guild                    struct {
		Name string `json:"name"`
	} `json:"guild"`
}

// Client fetches invite metadata from the Discord API.
type Client struct {
	baseURL string
	client  *http.Client
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

// NewClient creates a new invite client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultAPIURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invite fetches an invite with approximate member and presence counts.
func (c *Client) Invite(ctx context.Context, code string) (*Invite, error) {
	u := fmt.Sprintf("%s/invites/%s?with_counts=true", c.baseURL, url.PathEscape(code))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("discord returned %d: %s", resp.StatusCode, string(body))
	}

	var invite Invite
	if err := json.NewDecoder(resp.Body).Decode(&invite); err != nil {
		return nil, fmt.Errorf("decoding invite: %w", err)
	}
	return &invite, nil
}

// Summary is the widget-facing shape of the server stats.
type Summary struct {
	ServerName string `json:"server_name,omitempty"`
	Members    int    `json:"members"`
	Online     int    `json:"online"`
}

// Service wraps the client with the widget cache pipeline.
type Service struct {
	client *Client
	cache  *cachedb.DB
	code   string
	logger *slog.Logger
}

// NewService creates a cached invite service for the given invite code.
func NewService(client *Client, cache *cachedb.DB, code string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, cache: cache, code: code, logger: logger}
}

// Summary returns the cached server stats, fetching on a miss. Remote
// failures degrade to a zero-count summary; the widget renders placeholder
// labels for those.
func (s *Service) Summary(ctx context.Context) (*Summary, bool, error) {
	var cached Summary
	if err := s.cache.GetJSON(ctx, cacheKind, s.code, &cached); err == nil {
		telemetry.RecordCacheResult(ctx, cacheKind, telemetry.CacheHit)
		return &cached, false, nil
	}
	telemetry.RecordCacheResult(ctx, cacheKind, telemetry.CacheMiss)

	invite, err := s.client.Invite(ctx, s.code)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		s.logger.Warn("invite fetch failed", "code", s.code, "error", err)
		telemetry.RecordFallbackServe(ctx, cacheKind)
		return &Summary{}, true, nil
	}

	summary := &Summary{
		ServerName: invite.Guild.Name,
		Members:    invite.ApproximateMemberCount,
		Online:     invite.ApproximatePresenceCount,
	}
	if err := s.cache.PutJSON(ctx, cacheKind, s.code, summary, CacheTTL); err != nil {
		s.logger.Warn("failed to cache invite summary", "error", err)
	}
	return summary, false, nil
}
