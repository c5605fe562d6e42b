// Package player owns the playback session: the playlist, the cursor,
// the transport flags, and the background loop that feeds tracks to the
// external decoder one at a time.
package player

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"btreceiver/internal/library"
	"btreceiver/internal/render"
)

// ExternalControl pauses and resumes the sibling Bluetooth render
// service so local playback and Bluetooth audio never fight over the
// output device. Both calls are best-effort.
type ExternalControl interface {
	PauseExternalPlayback()
	ResumeExternalPlayback()
}

// ScanFunc builds a fresh playlist from a music root.
type ScanFunc func(root string) []library.Track

// Status is a point-in-time snapshot of the session.
type Status struct {
	Playing bool   `json:"is_playing"`
	Paused  bool   `json:"is_paused"`
	Track   string `json:"current_file,omitempty"`
	Index   int    `json:"current_index"`
	Total   int    `json:"total_tracks"`
	Shuffle bool   `json:"shuffle"`
	Loop    bool   `json:"loop"`
}

// Session is the singleton playback state machine. Every field below mu
// is read and written only while mu is held; the only unbounded block
// (waiting on the decoder process) happens outside the lock so transport
// commands stay responsive mid-track.
type Session struct {
	scan      ScanFunc
	renderer  render.Renderer
	bluetooth ExternalControl
	grace     time.Duration

	mu         sync.Mutex
	root       string
	playlist   []library.Track
	cursor     int
	playing    bool
	paused     bool
	shuffle    bool
	loop       bool
	generation int
	handle     render.Handle
}

// NewSession creates a stopped session rooted at root. Loop mode starts
// enabled, matching the appliance default of playing the library
// continuously.
func NewSession(root string, scan ScanFunc, renderer render.Renderer, bluetooth ExternalControl) *Session {
	return &Session{
		scan:      scan,
		renderer:  renderer,
		bluetooth: bluetooth,
		grace:     render.DefaultTerminateGrace,
		root:      root,
		loop:      true,
	}
}

// SetLoop switches playlist looping. Intended for configuration at
// startup but safe at any time.
func (s *Session) SetLoop(loop bool) {
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
}

// SetTerminateGrace overrides how long terminations wait before
// force-killing the decoder. Call before Start.
func (s *Session) SetTerminateGrace(grace time.Duration) {
	s.grace = grace
}

// SetRoot points the session at a different music root. Takes effect on
// the next Start (or shuffle-off rescan). Used by the removable-media
// monitor when a volume is mounted.
func (s *Session) SetRoot(root string) {
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

// Start rescans the library and launches the playback loop. Returns
// false if playback is already running or the library is empty.
func (s *Session) Start() bool {
	s.mu.Lock()
	if s.playing {
		log.Warn().Msg("Already playing")
		s.mu.Unlock()
		return false
	}

	root := s.root
	playlist := s.scan(root)
	if len(playlist) == 0 {
		log.Warn().Str("root", root).Msg("No music files found in library")
		s.mu.Unlock()
		return false
	}

	s.playlist = playlist
	s.cursor = 0
	s.playing = true
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	// Local playback owns the output device now.
	s.bluetooth.PauseExternalPlayback()

	go s.run(gen)

	log.Info().Int("tracks", len(playlist)).Str("root", root).Msg("Started playback")
	return true
}

// Stop halts playback, terminating any in-flight decoder, and hands the
// output device back to Bluetooth. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	s.playing = false
	s.paused = false
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	if h != nil {
		h.Terminate(s.grace)
	}

	s.bluetooth.ResumeExternalPlayback()
	log.Info().Msg("Playback stopped")
}

// Next skips to the following track by terminating the current decoder;
// the loop advances the cursor when the render returns. Fails when not
// playing.
func (s *Session) Next() bool {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return false
	}
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		h.Terminate(s.grace)
	}
	log.Info().Msg("Skipping to next track")
	return true
}

// Previous steps back one track. The loop increments the cursor once
// after every decoder exit, including the forced termination below, so
// landing on the prior track means pre-positioning two slots earlier
// (clamped at the start of the playlist).
func (s *Session) Previous() bool {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return false
	}
	s.cursor = max(0, s.cursor-2)
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		h.Terminate(s.grace)
	}
	log.Info().Msg("Going to previous track")
	return true
}

// ToggleShuffle flips shuffle mode and returns the new state. Enabling
// permutes the playlist in place, keeping the currently playing track
// under the cursor. Disabling restores the scanner's deterministic order
// with a fresh scan.
func (s *Session) ToggleShuffle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shuffle = !s.shuffle
	if s.shuffle {
		var currentPath string
		if s.cursor < len(s.playlist) {
			currentPath = s.playlist[s.cursor].Path
		}

		rand.Shuffle(len(s.playlist), func(i, j int) {
			s.playlist[i], s.playlist[j] = s.playlist[j], s.playlist[i]
		})

		s.cursor = 0
		for i, tr := range s.playlist {
			if tr.Path == currentPath {
				s.cursor = i
				break
			}
		}
		log.Info().Msg("Shuffle enabled")
	} else {
		s.playlist = s.scan(s.root)
		log.Info().Msg("Shuffle disabled")
	}
	return s.shuffle
}

// Playing reports whether the playback loop is running.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Status returns a snapshot of the session. The track name is empty
// unless playback is running and the cursor is in range.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var track string
	if s.playing && s.cursor < len(s.playlist) {
		track = s.playlist[s.cursor].Name
	}

	return Status{
		Playing: s.playing,
		Paused:  s.paused,
		Track:   track,
		Index:   s.cursor,
		Total:   len(s.playlist),
		Shuffle: s.shuffle,
		Loop:    s.loop,
	}
}

// run is the playback loop. gen pins the loop to the Start that
// launched it: a Stop/Start pair bumps the generation, so a loop that
// was mid-track across the restart sees the mismatch and exits instead
// of running alongside its replacement.
func (s *Session) run(gen int) {
	for {
		s.mu.Lock()
		if !s.playing || gen != s.generation {
			s.mu.Unlock()
			break
		}
		if len(s.playlist) == 0 {
			s.playing = false
			s.mu.Unlock()
			log.Info().Msg("Playlist empty, stopping")
			break
		}
		if s.cursor >= len(s.playlist) {
			if !s.loop {
				s.playing = false
				s.mu.Unlock()
				log.Info().Msg("Reached end of playlist, stopping")
				break
			}
			log.Info().Msg("Reached end of playlist, looping")
			s.cursor = 0
		}
		track := s.playlist[s.cursor]
		s.mu.Unlock()

		s.renderTrack(gen, track)

		// Success and failure both advance: a bad track is skipped once,
		// never retried in place. A stale loop leaves the cursor to its
		// replacement.
		s.mu.Lock()
		if gen == s.generation {
			s.cursor++
		}
		s.mu.Unlock()
	}
	log.Debug().Msg("Playback loop ended")
}

// renderTrack plays one track to completion or termination. The decoder
// wait is the loop's only blocking point and runs without the lock held.
func (s *Session) renderTrack(gen int, track library.Track) {
	h, err := s.renderer.Start(track)
	if err != nil {
		log.Error().Err(err).Str("track", track.Name).Msg("Failed to start decoder, skipping track")
		return
	}

	s.mu.Lock()
	if !s.playing || gen != s.generation {
		// Stop (or a restart) raced with the launch; the fresh decoder
		// must not outlive this loop.
		s.mu.Unlock()
		h.Terminate(s.grace)
		return
	}
	s.handle = h
	s.mu.Unlock()

	if err := h.Wait(); err != nil {
		log.Warn().Err(err).Str("track", track.Name).Msg("Track playback failed, skipping")
	}

	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	s.mu.Unlock()
}
