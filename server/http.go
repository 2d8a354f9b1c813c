// Package server provides the HTTP API for the showcase cache.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/showcase-cache/aggregate"
	"github.com/wolfeidau/showcase-cache/audio"
	"github.com/wolfeidau/showcase-cache/discord"
	"github.com/wolfeidau/showcase-cache/github"
	"github.com/wolfeidau/showcase-cache/store/cachedb"
	"github.com/wolfeidau/showcase-cache/telemetry"
)

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// CachePath is the path to the cache database file
	CachePath string

	// GitHubUser is the account whose repositories are served
	GitHubUser string

	// GitHubAPIURL overrides the GitHub API base URL (tests)
	GitHubAPIURL string

	// DiscordInvite is the invite code for the community widget.
	// Empty disables the /api/discord endpoint.
	DiscordInvite string

	// DiscordAPIURL overrides the Discord API base URL (tests)
	DiscordAPIURL string

	// PlaylistPath is the YAML playlist for the music player.
	// Empty disables the /api/player endpoints.
	PlaylistPath string

	// WatchPlaylist reloads the playlist on file changes.
	WatchPlaylist bool

	// ReapInterval is how often expired cache entries are swept.
	// Default is 1 hour.
	ReapInterval time.Duration

	// AuthToken enables Bearer token authentication when non-empty.
	AuthToken string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	cache      *cachedb.DB
	reaper     *cachedb.Reaper
	aggregator *aggregate.Aggregator
	discord    *discord.Service
	catalog    *audio.Catalog
	player     *audio.Player
	visualizer *audio.Visualizer
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "./showcase.db"
	}
	if cfg.GitHubUser == "" {
		return nil, fmt.Errorf("github user is required")
	}

	cache, err := cachedb.Open(cfg.CachePath,
		cachedb.WithLogger(cfg.Logger.With("component", "cachedb")),
	)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	reaper := cachedb.NewReaper(cache, cfg.ReapInterval,
		cfg.Logger.With("component", "reaper"))

	ghOpts := []github.ClientOption{
		github.WithHTTPClient(&http.Client{
			Timeout:   github.DefaultTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil, "github"),
		}),
	}
	if cfg.GitHubAPIURL != "" {
		ghOpts = append(ghOpts, github.WithAPIURL(cfg.GitHubAPIURL))
	}
	ghClient := github.NewClient(ghOpts...)

	aggregator := aggregate.New(cache, ghClient, cfg.GitHubUser,
		aggregate.WithLogger(cfg.Logger.With("component", "aggregate")),
	)

	s := &Server{
		config:     cfg,
		logger:     cfg.Logger,
		cache:      cache,
		reaper:     reaper,
		aggregator: aggregator,
	}

	if cfg.DiscordInvite != "" {
		dcOpts := []discord.ClientOption{
			discord.WithHTTPClient(&http.Client{
				Timeout:   discord.DefaultTimeout,
				Transport: telemetry.NewInstrumentedTransport(nil, "discord"),
			}),
		}
		if cfg.DiscordAPIURL != "" {
			dcOpts = append(dcOpts, discord.WithAPIURL(cfg.DiscordAPIURL))
		}
		s.discord = discord.NewService(
			discord.NewClient(dcOpts...),
			cache,
			cfg.DiscordInvite,
			cfg.Logger.With("component", "discord"),
		)
	}

	if cfg.PlaylistPath != "" {
		catalog, err := audio.LoadCatalog(cfg.PlaylistPath, cfg.Logger.With("component", "audio"))
		if err != nil {
			_ = cache.Close()
			return nil, fmt.Errorf("loading playlist: %w", err)
		}
		if cfg.WatchPlaylist {
			if err := catalog.Watch(); err != nil {
				cfg.Logger.Warn("playlist watch disabled", "error", err)
			}
		}
		s.catalog = catalog
		s.player = audio.NewPlayer(context.Background(), catalog, cache,
			cfg.Logger.With("component", "audio"))
		s.visualizer = audio.NewVisualizer()
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.authMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Cache stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Repository listing and per-repository widgets
	mux.HandleFunc("GET /api/repos", s.handleRepos)
	mux.HandleFunc("GET /api/repos/{owner}/{name}/builds", s.handleBuilds)
	mux.HandleFunc("GET /api/repos/{owner}/{name}/languages", s.handleLanguages)
	mux.HandleFunc("GET /api/repos/{owner}/{name}/files", s.handleFiles)

	// Community widget
	mux.HandleFunc("GET /api/discord", s.handleDiscord)

	// Music player
	mux.HandleFunc("GET /api/player/state", s.handlePlayerState)
	mux.HandleFunc("POST /api/player/event", s.handlePlayerEvent)
	mux.HandleFunc("GET /api/player/waveform", s.handleWaveform)
	mux.HandleFunc("POST /api/player/waveform", s.handleWaveform)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Inject request tags so handlers can set cache_result, endpoint, etc.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)
		telemetry.SetResource(r, deriveResource(r.URL.Path))

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"resource", tags.Resource,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}

		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.CacheResult != "" {
			attrs = append(attrs, "cache_result", string(tags.CacheResult))
		}
		if tags.Degraded {
			attrs = append(attrs, "degraded", true)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the server and the background reaper.
func (s *Server) Start() error {
	s.reaper.Start(context.Background())

	s.logger.Info("starting server", "address", s.config.Address, "user", s.config.GitHubUser)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and closes the cache.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.reaper.Stop()
	if s.catalog != nil {
		_ = s.catalog.Close()
	}
	if s.visualizer != nil {
		s.visualizer.Close()
	}

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// deriveResource maps the request path to the upstream resource it exercises.
func deriveResource(path string) string {
	switch {
	case path == "/health" || path == "/stats" || path == "/metrics":
		return "internal"
	case len(path) >= 12 && path[:12] == "/api/discord":
		return "discord"
	case len(path) >= 11 && path[:11] == "/api/player":
		return "player"
	case len(path) >= 10 && path[:10] == "/api/repos":
		return "github"
	default:
		return "unknown"
	}
}
