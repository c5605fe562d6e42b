// Package config loads the receiver's configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "btreceiver"
	AppDescription = "Bluetooth audio receiver with local music playback"

	// DefaultConfigPath is where the installer drops the config file.
	DefaultConfigPath = "/etc/btreceiver/config.yml"
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X btreceiver/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// Duration accepts yaml values like "5s" or "250ms", or a bare number
// of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// Number scalars decode into a Go string too, so dispatch on the
	// node tag rather than trying the string decode first.
	if value.Tag == "!!str" {
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MediaConfig controls the removable-media monitor.
type MediaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	PollInterval Duration `yaml:"poll_interval"`
	MountPoints  []string `yaml:"mount_points"`
	MediaRoot    string   `yaml:"media_root"`
}

// Config is the daemon configuration.
type Config struct {
	MusicDir       string      `yaml:"music_dir"`
	AudioDevice    string      `yaml:"audio_device"`
	HTTPAddr       string      `yaml:"http_addr"`
	Adapter        string      `yaml:"adapter"`
	TerminateGrace Duration    `yaml:"terminate_grace"`
	LoopPlaylist   bool        `yaml:"loop_playlist"`
	Media          MediaConfig `yaml:"media"`
}

// Default returns the configuration the appliance image ships with.
func Default() *Config {
	return &Config{
		MusicDir:       "/var/music",
		AudioDevice:    "plughw:Headphones",
		HTTPAddr:       ":80",
		Adapter:        "hci0",
		TerminateGrace: Duration(2 * time.Second),
		LoopPlaylist:   true,
		Media: MediaConfig{
			Enabled:      false,
			PollInterval: Duration(5 * time.Second),
			MountPoints:  []string{"/media/usb", "/media/usb0", "/media/usb1", "/mnt/usb"},
			MediaRoot:    "/media",
		},
	}
}

// Load reads the config file at path, merged over defaults. A missing
// file is not an error: the defaults are the shipped behavior.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the config to path atomically (temp file + rename), so a
// power cut mid-write never leaves a half-written file behind.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

// normalize replaces values the daemon cannot run with.
func (c *Config) normalize() {
	def := Default()
	if c.MusicDir == "" {
		c.MusicDir = def.MusicDir
	}
	if c.AudioDevice == "" {
		c.AudioDevice = def.AudioDevice
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = def.HTTPAddr
	}
	if c.Adapter == "" {
		c.Adapter = def.Adapter
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = def.TerminateGrace
	}
	if c.Media.PollInterval < Duration(time.Second) {
		c.Media.PollInterval = def.Media.PollInterval
	}
	if len(c.Media.MountPoints) == 0 {
		c.Media.MountPoints = def.Media.MountPoints
	}
	if c.Media.MediaRoot == "" {
		c.Media.MediaRoot = def.Media.MediaRoot
	}
}
