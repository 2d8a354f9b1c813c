package audio

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// memSettings is an in-memory SettingsStore for player tests.
type memSettings struct {
	values map[string]string
	err    error
}

func newMemSettings() *memSettings {
	return &memSettings{values: map[string]string{}}
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *memSettings) PutSetting(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func writePlaylist(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func testCatalog(t *testing.T, n int) *Catalog {
	t.Helper()
	yaml := "tracks:\n"
	for i := 0; i < n; i++ {
		yaml += "  - title: Track\n    artist: Artist\n    source: /audio/track.mp3\n"
	}
	cat, err := LoadCatalog(writePlaylist(t, yaml), slog.Default())
	require.NoError(t, err)
	return cat
}

func newTestPlayer(t *testing.T, tracks int, settings SettingsStore) *Player {
	t.Helper()
	return NewPlayer(context.Background(), testCatalog(t, tracks), settings, slog.Default())
}

func TestNewPlayer_DefaultVolume(t *testing.T) {
	p := newTestPlayer(t, 3, newMemSettings())
	require.Equal(t, 1.0, p.State().Volume)
}

func TestNewPlayer_RestoresPersistedVolume(t *testing.T) {
	settings := newMemSettings()
	settings.values[volumeSettingKey] = "0.3"

	p := newTestPlayer(t, 3, settings)
	require.Equal(t, 0.3, p.State().Volume)
}

func TestNewPlayer_ClampsPersistedVolume(t *testing.T) {
	settings := newMemSettings()
	settings.values[volumeSettingKey] = "7.5"

	p := newTestPlayer(t, 3, settings)
	require.Equal(t, 1.0, p.State().Volume)
}

func TestNewPlayer_UnparsableVolumeFallsBack(t *testing.T) {
	settings := newMemSettings()
	settings.values[volumeSettingKey] = "loud"

	p := newTestPlayer(t, 3, settings)
	require.Equal(t, 1.0, p.State().Volume)
}

func TestApply_Toggle(t *testing.T) {
	p := newTestPlayer(t, 3, nil)
	ctx := context.Background()

	state, err := p.Apply(ctx, Event{Type: EventToggle})
	require.NoError(t, err)
	require.True(t, state.Playing)
	require.True(t, state.Interacted)

	state, err = p.Apply(ctx, Event{Type: EventToggle})
	require.NoError(t, err)
	require.False(t, state.Playing)
}

func TestApply_NextPrevWrap(t *testing.T) {
	p := newTestPlayer(t, 3, nil)
	ctx := context.Background()

	state, err := p.Apply(ctx, Event{Type: EventPrev})
	require.NoError(t, err)
	require.Equal(t, 2, state.TrackIndex)

	state, err = p.Apply(ctx, Event{Type: EventNext})
	require.NoError(t, err)
	require.Equal(t, 0, state.TrackIndex)
}

func TestApply_EndedAutoAdvancesAndWraps(t *testing.T) {
	p := newTestPlayer(t, 5, nil)
	ctx := context.Background()

	_, err := p.Apply(ctx, Event{Type: EventToggle})
	require.NoError(t, err)

	// Walk to the last track
	for i := 0; i < 4; i++ {
		_, err = p.Apply(ctx, Event{Type: EventNext})
		require.NoError(t, err)
	}
	require.Equal(t, 4, p.State().TrackIndex)

	state, err := p.Apply(ctx, Event{Type: EventEnded})
	require.NoError(t, err)
	require.Equal(t, 0, state.TrackIndex)
	require.True(t, state.Playing)
	require.Zero(t, state.CurrentTime)
}

func TestApply_ErrorPausesAndFlags(t *testing.T) {
	p := newTestPlayer(t, 3, nil)
	ctx := context.Background()

	_, err := p.Apply(ctx, Event{Type: EventToggle})
	require.NoError(t, err)

	state, err := p.Apply(ctx, Event{Type: EventError})
	require.NoError(t, err)
	require.False(t, state.Playing)
	require.True(t, state.HasError)

	// Skipping to the next track clears the error
	state, err = p.Apply(ctx, Event{Type: EventNext})
	require.NoError(t, err)
	require.False(t, state.HasError)
}

func TestApply_AutoplayRejectedPausesQuietly(t *testing.T) {
	p := newTestPlayer(t, 3, nil)
	ctx := context.Background()

	state, err := p.Apply(ctx, Event{Type: EventAutoplayRejected})
	require.NoError(t, err)
	require.False(t, state.Playing)
	require.False(t, state.HasError)
}

func TestApply_FirstGestureStartsPlaybackOnce(t *testing.T) {
	p := newTestPlayer(t, 3, nil)
	ctx := context.Background()

	state, err := p.Apply(ctx, Event{Type: EventFirstGesture})
	require.NoError(t, err)
	require.True(t, state.Playing)
	require.True(t, state.Interacted)

	// Pause, then a later gesture must not restart playback
	_, err = p.Apply(ctx, Event{Type: EventToggle})
	require.NoError(t, err)
	state, err = p.Apply(ctx, Event{Type: EventFirstGesture})
	require.NoError(t, err)
	require.False(t, state.Playing)
}

func TestApply_SetVolumePersistsAndUnmutes(t *testing.T) {
	settings := newMemSettings()
	p := newTestPlayer(t, 3, settings)
	ctx := context.Background()

	_, err := p.Apply(ctx, Event{Type: EventToggleMute})
	require.NoError(t, err)
	require.True(t, p.State().Muted)

	state, err := p.Apply(ctx, Event{Type: EventSetVolume, Value: 0.3})
	require.NoError(t, err)
	require.Equal(t, 0.3, state.Volume)
	require.False(t, state.Muted)
	require.Equal(t, "0.3", settings.values[volumeSettingKey])
}

func TestApply_SetVolumeClamps(t *testing.T) {
	p := newTestPlayer(t, 3, newMemSettings())
	ctx := context.Background()

	state, err := p.Apply(ctx, Event{Type: EventSetVolume, Value: 2.5})
	require.NoError(t, err)
	require.Equal(t, 1.0, state.Volume)

	state, err = p.Apply(ctx, Event{Type: EventSetVolume, Value: -1})
	require.NoError(t, err)
	require.Equal(t, 0.0, state.Volume)
}

func TestApply_SetVolumeZeroKeepsMute(t *testing.T) {
	p := newTestPlayer(t, 3, nil)
	ctx := context.Background()

	_, err := p.Apply(ctx, Event{Type: EventToggleMute})
	require.NoError(t, err)

	state, err := p.Apply(ctx, Event{Type: EventSetVolume, Value: 0})
	require.NoError(t, err)
	require.True(t, state.Muted)
}

func TestApply_SettingsFailureDoesNotBlockPlayback(t *testing.T) {
	settings := newMemSettings()
	settings.err = errors.New("disk full")
	p := NewPlayer(context.Background(), testCatalog(t, 3), settings, slog.Default())

	state, err := p.Apply(context.Background(), Event{Type: EventSetVolume, Value: 0.5})
	require.NoError(t, err)
	require.Equal(t, 0.5, state.Volume)
}

func TestApply_CanPlaySetsDuration(t *testing.T) {
	p := newTestPlayer(t, 3, nil)

	state, err := p.Apply(context.Background(), Event{Type: EventCanPlay, Duration: 183.5})
	require.NoError(t, err)
	require.Equal(t, 183.5, state.Duration)
	require.False(t, state.HasError)
}

func TestApply_SeekClampsToDuration(t *testing.T) {
	p := newTestPlayer(t, 3, nil)
	ctx := context.Background()

	_, err := p.Apply(ctx, Event{Type: EventCanPlay, Duration: 100})
	require.NoError(t, err)

	state, err := p.Apply(ctx, Event{Type: EventSeek, Value: 250})
	require.NoError(t, err)
	require.Equal(t, 100.0, state.CurrentTime)

	state, err = p.Apply(ctx, Event{Type: EventSeek, Value: -5})
	require.NoError(t, err)
	require.Equal(t, 0.0, state.CurrentTime)
}

func TestApply_UnknownEvent(t *testing.T) {
	p := newTestPlayer(t, 3, nil)

	_, err := p.Apply(context.Background(), Event{Type: "rewind_to_start"})
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestApply_EmptyCatalog(t *testing.T) {
	p := newTestPlayer(t, 0, nil)
	ctx := context.Background()

	state, err := p.Apply(ctx, Event{Type: EventToggle})
	require.NoError(t, err)
	require.False(t, state.Playing)

	state, err = p.Apply(ctx, Event{Type: EventEnded})
	require.NoError(t, err)
	require.Equal(t, 0, state.TrackIndex)

	_, ok := p.CurrentTrack()
	require.False(t, ok)
}

func TestCurrentTrack(t *testing.T) {
	p := newTestPlayer(t, 3, nil)

	track, ok := p.CurrentTrack()
	require.True(t, ok)
	require.Equal(t, "Track", track.Title)
}
