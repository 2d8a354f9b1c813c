package audio

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
)

const volumeSettingKey = "musicPlayerVolume"

// SettingsStore persists scalar player settings across restarts.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// State is the player's full observable state.
type State struct {
	TrackIndex  int     `json:"track_index"`
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Volume      float64 `json:"volume"`
	Muted       bool    `json:"muted"`
	HasError    bool    `json:"has_error"`
	Interacted  bool    `json:"interacted"`
}

// EventType identifies a player event.
type EventType string

const (
	EventToggle           EventType = "toggle"
	EventNext             EventType = "next"
	EventPrev             EventType = "prev"
	EventEnded            EventType = "ended"
	EventCanPlay          EventType = "can_play"
	EventError            EventType = "error"
	EventAutoplayRejected EventType = "autoplay_rejected"
	EventFirstGesture     EventType = "first_gesture"
	EventSetVolume        EventType = "set_volume"
	EventToggleMute       EventType = "toggle_mute"
	EventSeek             EventType = "seek"
	EventTick             EventType = "tick"
)

// Event is a reducer input. Value carries the volume for set_volume, the
// position for seek and tick; Duration carries the track length for can_play
// and tick.
type Event struct {
	Type     EventType `json:"type"`
	Value    float64   `json:"value,omitempty"`
	Duration float64   `json:"duration,omitempty"`
}

// ErrUnknownEvent is returned for event types the reducer does not handle.
var ErrUnknownEvent = errors.New("audio: unknown event type")

// Player applies events to the playback state. All transitions run under a
// single mutex so the state is always internally consistent.
type Player struct {
	mu       sync.Mutex
	state    State
	catalog  *Catalog
	settings SettingsStore
	logger   *slog.Logger
}

// NewPlayer creates a player over the catalog, restoring the persisted
// volume. A missing or unparsable stored volume falls back to full volume.
func NewPlayer(ctx context.Context, catalog *Catalog, settings SettingsStore, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Player{
		catalog:  catalog,
		settings: settings,
		logger:   logger,
		state:    State{Volume: 1},
	}

	if settings != nil {
		if raw, err := settings.GetSetting(ctx, volumeSettingKey); err == nil {
			if vol, err := strconv.ParseFloat(raw, 64); err == nil {
				p.state.Volume = clampVolume(vol)
			}
		}
	}

	return p
}

// State returns a snapshot of the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CurrentTrack returns the catalog entry for the current index.
func (p *Player) CurrentTrack() (Track, bool) {
	p.mu.Lock()
	idx := p.state.TrackIndex
	p.mu.Unlock()
	return p.catalog.Track(idx)
}

// Apply runs one event through the reducer and returns the resulting state.
func (p *Player) Apply(ctx context.Context, ev Event) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.catalog.Len()

	switch ev.Type {
	case EventToggle:
		if n == 0 {
			break
		}
		p.state.Playing = !p.state.Playing
		p.state.Interacted = true
		if p.state.Playing {
			p.state.HasError = false
		}

	case EventNext:
		p.advance(n, 1)

	case EventPrev:
		p.advance(n, -1)

	case EventEnded:
		// Auto-advance wraps around and keeps playing.
		if n == 0 {
			break
		}
		p.state.TrackIndex = (p.state.TrackIndex + 1) % n
		p.state.CurrentTime = 0
		p.state.Duration = 0
		p.state.Playing = true

	case EventCanPlay:
		p.state.Duration = ev.Duration
		p.state.HasError = false

	case EventError:
		p.state.Playing = false
		p.state.HasError = true

	case EventAutoplayRejected:
		// The browser blocked unprompted playback. Not an error; wait for
		// the first gesture.
		p.state.Playing = false

	case EventFirstGesture:
		if p.state.Interacted {
			break
		}
		p.state.Interacted = true
		if n > 0 && !p.state.HasError {
			p.state.Playing = true
		}

	case EventSetVolume:
		vol := clampVolume(ev.Value)
		p.state.Volume = vol
		if vol > 0 {
			p.state.Muted = false
		}
		p.persistVolume(ctx, vol)

	case EventToggleMute:
		p.state.Muted = !p.state.Muted

	case EventSeek:
		p.state.CurrentTime = clampTime(ev.Value, p.state.Duration)

	case EventTick:
		p.state.CurrentTime = ev.Value
		if ev.Duration > 0 {
			p.state.Duration = ev.Duration
		}

	default:
		return p.state, ErrUnknownEvent
	}

	return p.state, nil
}

// advance moves the track index by delta, wrapping around the catalog.
func (p *Player) advance(n, delta int) {
	if n == 0 {
		return
	}
	p.state.TrackIndex = ((p.state.TrackIndex+delta)%n + n) % n
	p.state.CurrentTime = 0
	p.state.Duration = 0
	p.state.HasError = false
	p.state.Interacted = true
}

// persistVolume stores the volume best effort; playback is never blocked on
// the settings store.
func (p *Player) persistVolume(ctx context.Context, vol float64) {
	if p.settings == nil {
		return
	}
	val := strconv.FormatFloat(vol, 'f', -1, 64)
	if err := p.settings.PutSetting(ctx, volumeSettingKey, val); err != nil {
		p.logger.Warn("failed to persist volume", "error", err)
	}
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func clampTime(t, duration float64) float64 {
	if t < 0 {
		return 0
	}
	if duration > 0 && t > duration {
		return duration
	}
	return t
}
