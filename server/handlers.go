package server

import (
	"encoding/json"
	"errors"
	"net/http"

	showcase "github.com/wolfeidau/showcase-cache"
	"github.com/wolfeidau/showcase-cache/aggregate"
	"github.com/wolfeidau/showcase-cache/audio"
	"github.com/wolfeidau/showcase-cache/github"
	"github.com/wolfeidau/showcase-cache/telemetry"
)

// apiResponse is the envelope for every /api response. Degraded marks data
// served from the fallback generators rather than the upstream APIs; the
// shape is identical either way.
type apiResponse struct {
	Data     any  `json:"data"`
	Degraded bool `json:"degraded"`
}

// writeJSON writes the response envelope with a content-addressed ETag.
// Matching If-None-Match requests short-circuit to 304.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, data any, degraded bool) {
	body, err := json.Marshal(apiResponse{Data: data, Degraded: degraded})
	if err != nil {
		s.logger.Error("failed to encode response", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	etag := showcase.ETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleStats handles cache statistics requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// handleRepos serves the partitioned repository listing.
func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "repos")

	set, err := s.aggregator.Repositories(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "repository listing unavailable")
		return
	}

	degraded := set.Status == aggregate.StatusDegraded
	if degraded {
		telemetry.SetDegraded(r)
	}
	s.writeJSON(w, r, set, degraded)
}

// lookupRepo resolves the {owner}/{name} path values against the current
// listing. Unknown repositories are a 404 and never trigger upstream calls.
func (s *Server) lookupRepo(w http.ResponseWriter, r *http.Request) (github.Repository, bool) {
	fullName := r.PathValue("owner") + "/" + r.PathValue("name")

	repo, ok := s.aggregator.Lookup(r.Context(), fullName)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown repository")
		return github.Repository{}, false
	}
	return repo, true
}

func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "builds")

	repo, ok := s.lookupRepo(w, r)
	if !ok {
		return
	}

	builds, degraded, err := s.aggregator.Builds(r.Context(), repo)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "build data unavailable")
		return
	}
	if degraded {
		telemetry.SetDegraded(r)
	}
	s.writeJSON(w, r, builds, degraded)
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "languages")

	repo, ok := s.lookupRepo(w, r)
	if !ok {
		return
	}

	langs, degraded, err := s.aggregator.Languages(r.Context(), repo)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "language data unavailable")
		return
	}
	if degraded {
		telemetry.SetDegraded(r)
	}
	s.writeJSON(w, r, langs, degraded)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "files")

	repo, ok := s.lookupRepo(w, r)
	if !ok {
		return
	}

	files, degraded, err := s.aggregator.Files(r.Context(), repo)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "file listing unavailable")
		return
	}
	if degraded {
		telemetry.SetDegraded(r)
	}
	s.writeJSON(w, r, files, degraded)
}

func (s *Server) handleDiscord(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "discord")

	if s.discord == nil {
		s.writeError(w, http.StatusNotFound, "discord widget not configured")
		return
	}

	summary, degraded, err := s.discord.Summary(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "discord data unavailable")
		return
	}
	if degraded {
		telemetry.SetDegraded(r)
	}
	s.writeJSON(w, r, summary, degraded)
}

// playerState is the full player payload: reducer state plus the current
// catalog entry so the frontend does not need the playlist separately.
type playerState struct {
	State  audio.State   `json:"state"`
	Track  *audio.Track  `json:"track,omitempty"`
	Tracks []audio.Track `json:"tracks"`
}

func (s *Server) playerPayload() playerState {
	payload := playerState{
		State:  s.player.State(),
		Tracks: s.catalog.Tracks(),
	}
	if track, ok := s.player.CurrentTrack(); ok {
		payload.Track = &track
	}
	return payload
}

func (s *Server) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "player_state")

	if s.player == nil {
		s.writeError(w, http.StatusNotFound, "player not configured")
		return
	}

	s.writeJSON(w, r, s.playerPayload(), false)
}

func (s *Server) handlePlayerEvent(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "player_event")

	if s.player == nil {
		s.writeError(w, http.StatusNotFound, "player not configured")
		return
	}

	var ev audio.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	prev := s.player.State()
	state, err := s.player.Apply(r.Context(), ev)
	if err != nil {
		if errors.Is(err, audio.ErrUnknownEvent) {
			s.writeError(w, http.StatusBadRequest, "unknown event type")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "event failed")
		return
	}

	// Track changes reset the visualizer so the path collapses instead of
	// freezing on the previous track's last frame.
	if s.visualizer != nil && state.TrackIndex != prev.TrackIndex {
		s.visualizer.Reset()
	}

	s.writeJSON(w, r, s.playerPayload(), false)
}

// waveformFrame is the POST body for analyzer frames pushed by the frontend.
type waveformFrame struct {
	Bins []byte `json:"bins"`
}

// waveformView is the rendered waveform for the current frame.
type waveformView struct {
	Samples []float64 `json:"samples"`
	Energy  float64   `json:"energy"`
	Path    string    `json:"path"`
	Color   string    `json:"color"`
}

func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "waveform")

	if s.visualizer == nil {
		s.writeError(w, http.StatusNotFound, "player not configured")
		return
	}

	if r.Method == http.MethodPost {
		var frame waveformFrame
		if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed frame")
			return
		}
		s.visualizer.Frame(frame.Bins)
	}

	samples := s.visualizer.Samples()
	energy := s.visualizer.Energy()
	view := waveformView{
		Samples: samples,
		Energy:  energy,
		Path:    audio.WaveformPath(samples, waveformWidth, waveformHeight),
		Color:   audio.WaveformColor(energy),
	}

	s.writeJSON(w, r, view, false)
}

// Waveform viewport in SVG user units.
const (
	waveformWidth  = 400
	waveformHeight = 100
)
