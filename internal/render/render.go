// Package render drives the external decoder process that plays a single
// track. No audio is decoded in-process: each track is handed to either
// mpg123 (MP3, direct ALSA output) or ffplay (everything else) and the
// child is supervised until exit or termination.
package render

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"btreceiver/internal/library"
)

// DefaultTerminateGrace is how long Terminate waits after SIGTERM before
// force-killing the decoder.
const DefaultTerminateGrace = 2 * time.Second

// Handle is a live decoder process. Wait blocks until the process exits;
// Terminate requests early termination (graceful, then forced).
type Handle interface {
	Wait() error
	Terminate(grace time.Duration)
}

// Renderer starts a decoder process for one track.
type Renderer interface {
	Start(track library.Track) (Handle, error)
}

// CommandRenderer renders tracks through external command-line players.
type CommandRenderer struct {
	// Device is the ALSA device mpg123 targets, e.g. "plughw:Headphones".
	Device string
}

// NewCommandRenderer creates a renderer targeting the given ALSA device.
func NewCommandRenderer(device string) *CommandRenderer {
	return &CommandRenderer{Device: device}
}

// Command returns the player invocation for the given track path.
// mpg123 handles MP3 best on the Pi; ffplay covers the rest of the
// supported formats.
func (r *CommandRenderer) Command(path string) (string, []string) {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		return "mpg123", []string{"-q", "-o", "alsa", "-a", r.Device, path}
	}
	return "ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet", path}
}

// Start launches the decoder for track and returns a handle to the
// running process. An error means the player tool could not be started
// (typically not installed); a decode failure surfaces from Wait.
func (r *CommandRenderer) Start(track library.Track) (Handle, error) {
	name, args := r.Command(track.Path)

	h, err := startCommand(name, args)
	if err != nil {
		return nil, err
	}

	log.Info().Str("player", name).Str("track", track.Name).Msg("Playing")
	return h, nil
}

func startCommand(name string, args []string) (*processHandle, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type processHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // written once, before done is closed
}

// Wait blocks until the process exits. Returns nil on exit status zero.
func (h *processHandle) Wait() error {
	<-h.done
	return h.err
}

// Terminate sends SIGTERM, waits up to grace for the process to exit,
// then SIGKILLs it. Signal errors are swallowed: the process may have
// exited already and the reaper goroutine owns the final status.
func (h *processHandle) Terminate(grace time.Duration) {
	select {
	case <-h.done:
		return
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Msg("SIGTERM failed, decoder likely gone")
	}

	select {
	case <-h.done:
	case <-time.After(grace):
		log.Warn().Msg("Decoder ignored SIGTERM, killing")
		if err := h.cmd.Process.Kill(); err != nil {
			log.Debug().Err(err).Msg("Kill failed, decoder likely gone")
		}
	}
}
