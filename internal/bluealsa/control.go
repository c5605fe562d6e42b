// Package bluealsa coordinates with the BlueALSA playback service that
// renders Bluetooth audio. Local playback and Bluetooth rendering share
// one output device, so starting one side stops the other. There is no
// joint lock with the remote service: the signals are best-effort and a
// transient overlap is accepted rather than corrected.
package bluealsa

import (
	"context"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// aplayService is the systemd unit that forwards Bluetooth audio to
	// the sound card.
	aplayService = "bluealsa-aplay"

	serviceTimeout = 5 * time.Second
	restartTimeout = 10 * time.Second
)

// Runner executes a system command. Swapped out in tests.
type Runner func(ctx context.Context, name string, args ...string) error

// Control sends start/stop signals to the Bluetooth render service.
type Control struct {
	run Runner
}

// NewControl creates a Control that shells out to systemctl.
func NewControl() *Control {
	return &Control{run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// PauseExternalPlayback stops the Bluetooth render service so local
// playback owns the output device. Failure is logged, never raised:
// playback proceeds regardless.
func (c *Control) PauseExternalPlayback() {
	ctx, cancel := context.WithTimeout(context.Background(), serviceTimeout)
	defer cancel()

	if err := c.run(ctx, "systemctl", "stop", aplayService); err != nil {
		log.Error().Err(err).Msg("Failed to pause Bluetooth playback")
		return
	}
	log.Info().Msg("Paused Bluetooth playback")
}

// ResumeExternalPlayback restarts the Bluetooth render service after
// local playback stops. Best-effort, like PauseExternalPlayback.
func (c *Control) ResumeExternalPlayback() {
	ctx, cancel := context.WithTimeout(context.Background(), serviceTimeout)
	defer cancel()

	if err := c.run(ctx, "systemctl", "start", aplayService); err != nil {
		log.Error().Err(err).Msg("Failed to resume Bluetooth playback")
		return
	}
	log.Info().Msg("Resumed Bluetooth playback")
}

// RestartStack restarts the whole Bluetooth stack (bluetoothd and
// bluealsa). Unlike the pause/resume signals this is a user-requested
// repair action, so failures are returned.
func (c *Control) RestartStack() error {
	for _, service := range []string{"bluetooth", "bluealsa"} {
		ctx, cancel := context.WithTimeout(context.Background(), restartTimeout)
		err := c.run(ctx, "systemctl", "restart", service)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("service", service).Msg("Service restart failed")
			return err
		}
		log.Info().Str("service", service).Msg("Service restarted")
	}
	return nil
}
