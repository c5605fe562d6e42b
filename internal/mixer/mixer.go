// Package mixer reads and sets the output volume through the ALSA
// command-line mixer. Which mixer control exists varies by sound card
// and overlay, so a small preference list is tried in order.
package mixer

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultVolume is reported when no mixer control can be read.
	DefaultVolume = 50

	MinVolume = 0
	MaxVolume = 100

	commandTimeout = 5 * time.Second
)

// controls are tried in order of preference; Pi headphone output
// usually exposes only one of them.
var controls = []string{"Master", "PCM", "Speaker", "Headphone"}

// Runner executes a mixer command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Mixer shells out to amixer.
type Mixer struct {
	run Runner
}

// NewMixer creates a Mixer backed by the real amixer binary.
func NewMixer() *Mixer {
	return &Mixer{run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Clamp bounds a volume level to [0, 100].
func Clamp(level int) int {
	if level < MinVolume {
		return MinVolume
	}
	if level > MaxVolume {
		return MaxVolume
	}
	return level
}

// Volume returns the current playback volume as a percentage, from the
// first mixer control that reports one. Falls back to DefaultVolume
// when nothing can be read.
func (m *Mixer) Volume() int {
	for _, control := range controls {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		out, err := m.run(ctx, "amixer", "sget", control)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("control", control).Msg("Mixer control not readable")
			continue
		}
		if volume, ok := ParseVolume(string(out)); ok {
			log.Debug().Int("volume", volume).Str("control", control).Msg("Read volume")
			return volume
		}
	}

	log.Warn().Msg("Could not get volume from any mixer control")
	return DefaultVolume
}

// SetVolume sets the playback volume on every control that accepts it
// (the active one depends on the card, so all are tried). Returns false
// only when no control accepted the level.
func (m *Mixer) SetVolume(level int) bool {
	level = Clamp(level)

	success := false
	for _, control := range controls {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		_, err := m.run(ctx, "amixer", "sset", control, strconv.Itoa(level)+"%")
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("control", control).Msg("Mixer control not writable")
			continue
		}
		log.Info().Int("volume", level).Str("control", control).Msg("Volume set")
		success = true
	}

	if !success {
		log.Error().Msg("Could not set volume on any mixer control")
	}
	return success
}

// ParseVolume extracts the percentage from amixer sget output, e.g.
// "  Mono: Playback 255 [67%] [-10.50dB] [on]".
func ParseVolume(out string) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Playback") || !strings.Contains(line, "%") {
			continue
		}
		open := strings.Index(line, "[")
		end := strings.Index(line, "%]")
		if open < 0 || end <= open {
			continue
		}
		volume, err := strconv.Atoi(line[open+1 : end])
		if err != nil {
			continue
		}
		return volume, true
	}
	return 0, false
}
