// Command showcase-cache serves cached GitHub portfolio metadata, a Discord
// community widget, and the music player state behind a small JSON API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/showcase-cache/server"
	"github.com/wolfeidau/showcase-cache/telemetry"
)

var version = "dev"

type cli struct {
	Address    string `help:"Address to listen on." default:":8080"`
	CachePath  string `help:"Path to the cache database file." default:"./showcase.db"`
	GithubUser string `help:"GitHub account whose repositories are served." required:""`
	GithubAPI  string `help:"Override the GitHub API base URL." default:""`

	DiscordInvite string `help:"Discord invite code for the community widget." default:""`
	DiscordAPI    string `help:"Override the Discord API base URL." default:""`

	Playlist      string `help:"YAML playlist file for the music player." default:""`
	WatchPlaylist bool   `help:"Reload the playlist when the file changes." default:"false"`

	ReapInterval time.Duration `help:"How often expired cache entries are swept." default:"1h"`
	AuthToken    string        `help:"Bearer token required on API requests." env:"SHOWCASE_AUTH_TOKEN" default:""`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text, json)." default:"text"`

	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export." default:""`
	Prometheus   bool   `help:"Enable the Prometheus /metrics endpoint." default:"true"`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var flags cli
	kong.Parse(&flags,
		kong.Name("showcase-cache"),
		kong.Description("Portfolio metadata cache and player service."),
		kong.Vars{"version": version},
	)

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(flags cli) error {
	logger, err := buildLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "showcase-cache",
		ServiceVersion:   version,
		OTLPEndpoint:     flags.OTLPEndpoint,
		EnablePrometheus: flags.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Address:       flags.Address,
		CachePath:     flags.CachePath,
		GitHubUser:    flags.GithubUser,
		GitHubAPIURL:  flags.GithubAPI,
		DiscordInvite: flags.DiscordInvite,
		DiscordAPIURL: flags.DiscordAPI,
		PlaylistPath:  flags.Playlist,
		WatchPlaylist: flags.WatchPlaylist,
		ReapInterval:  flags.ReapInterval,
		AuthToken:     flags.AuthToken,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started",
		"version", version,
		"address", srv.Address(),
		"api_url", fmt.Sprintf("http://localhost%s/api/repos", srv.Address()),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}
