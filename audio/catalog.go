// Package audio implements the playback state machine and the waveform
// visualization pipeline behind the music player endpoints.
package audio

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Track is a single playlist entry.
type Track struct {
	Title  string `yaml:"title" json:"title"`
	Artist string `yaml:"artist" json:"artist"`
	Source string `yaml:"source" json:"source"`
	Image  string `yaml:"image,omitempty" json:"image,omitempty"`
}

// Catalog is the ordered playlist. It is safe for concurrent use; a watch
// goroutine may swap the track list while handlers read it.
type Catalog struct {
	mu     sync.RWMutex
	tracks []Track
	path   string
	logger *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type playlistFile struct {
	Tracks []Track `yaml:"tracks"`
}

// LoadCatalog reads a YAML playlist of the form:
//
//	tracks:
//	  - title: ...
//	    artist: ...
//	    source: ...
func LoadCatalog(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tracks, err := readPlaylist(path)
	if err != nil {
		return nil, err
	}

	return &Catalog{tracks: tracks, path: path, logger: logger}, nil
}

func readPlaylist(path string) ([]Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	var pf playlistFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	for i, t := range pf.Tracks {
		if t.Source == "" {
			return nil, fmt.Errorf("playlist track %d has no source", i)
		}
	}
	return pf.Tracks, nil
}

// Len returns the number of tracks.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tracks)
}

// Tracks returns a copy of the track list.
func (c *Catalog) Tracks() []Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// Track returns the track at index i, or false if out of range.
func (c *Catalog) Track(i int) (Track, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.tracks) {
		return Track{}, false
	}
	return c.tracks[i], true
}

// Watch reloads the playlist whenever the file changes. A reload that fails
// to parse keeps the previous track list.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(c.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching playlist: %w", err)
	}

	c.watcher = watcher
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				c.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("playlist watch error", "error", err)
			}
		}
	}()

	return nil
}

func (c *Catalog) reload() {
	tracks, err := readPlaylist(c.path)
	if err != nil {
		c.logger.Warn("playlist reload failed, keeping current tracks", "error", err)
		return
	}

	c.mu.Lock()
	c.tracks = tracks
	c.mu.Unlock()

	c.logger.Info("playlist reloaded", "tracks", len(tracks))
}

// Close stops the watch goroutine if one is running.
func (c *Catalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	<-c.done
	c.watcher = nil
	return err
}
