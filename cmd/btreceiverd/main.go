package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"btreceiver/internal/bluealsa"
	"btreceiver/internal/bluetooth"
	"btreceiver/internal/config"
	"btreceiver/internal/library"
	"btreceiver/internal/media"
	"btreceiver/internal/mixer"
	"btreceiver/internal/player"
	"btreceiver/internal/render"
	"btreceiver/internal/web"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	configFlag  = flag.String("config", config.DefaultConfigPath, "Path to config file")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debugFlag {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	log.Info().Msgf("Starting %s v%s", config.AppName, config.AppVersion)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Warn().Err(err).Str("path", *configFlag).Msg("Config load failed, using defaults")
	}

	control := bluealsa.NewControl()
	renderer := render.NewCommandRenderer(cfg.AudioDevice)
	scanner := library.NewScanner(nil)

	session := player.NewSession(cfg.MusicDir, scanner.Scan, renderer, control)
	session.SetLoop(cfg.LoopPlaylist)
	session.SetTerminateGrace(cfg.TerminateGrace.Std())

	var monitor *media.Monitor
	var mounts web.MountInfo
	if cfg.Media.Enabled {
		monitor = media.NewMonitor(session)
		monitor.SetPollInterval(cfg.Media.PollInterval.Std())
		monitor.SetMountPoints(cfg.Media.MountPoints, cfg.Media.MediaRoot)
		monitor.Run()
		mounts = monitor
	}

	// Bluetooth glue is optional at runtime: without the bus the local
	// player still works, the web API just reports it unavailable.
	var btManager web.BluetoothManager
	if manager, err := bluetooth.NewManager(cfg.Adapter); err != nil {
		log.Error().Err(err).Msg("Bluetooth manager unavailable")
	} else {
		btManager = manager
	}

	agent, err := bluetooth.RegisterAgent()
	if err != nil {
		log.Error().Err(err).Msg("Auto-pair agent not registered")
	}

	server := web.NewServer(session, btManager, mixer.NewMixer(), control, mounts)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe(cfg.HTTPAddr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Web server failed")
		}
	}

	if monitor != nil {
		monitor.Stop()
	}
	if session.Playing() {
		session.Stop()
	}
	if agent != nil {
		agent.Unregister()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Web server shutdown incomplete")
	}

	log.Info().Msg("Receiver stopped")
}
