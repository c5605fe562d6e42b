// Package media detects removable music volumes and drives playback
// from them. Detection is a level-triggered poll: every tick compares
// "is something mounted" against "is the player playing" and corrects
// the difference, so a missed attach or detach heals on the next tick.
package media

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultPollInterval is how often the monitor re-checks mounts.
	DefaultPollInterval = 5 * time.Second

	// DefaultMediaRoot is where the OS auto-mounts removable volumes.
	DefaultMediaRoot = "/media"

	procMounts = "/proc/mounts"
)

// DefaultMountPoints are the well-known fixed mount locations checked
// before falling back to anything under the media root.
var DefaultMountPoints = []string{"/media/usb", "/media/usb0", "/media/usb1", "/mnt/usb"}

// Transport is the slice of the playback session the monitor drives.
type Transport interface {
	SetRoot(root string)
	Start() bool
	Stop()
	Playing() bool
}

// Monitor polls for removable media and starts or stops playback to
// match the mount state.
type Monitor struct {
	transport   Transport
	interval    time.Duration
	mountPoints []string
	mediaRoot   string
	mountsFile  string

	mu      sync.Mutex
	current string
	stop    chan struct{}
}

// NewMonitor creates a Monitor with the default interval, mount-point
// candidates, and media root.
func NewMonitor(transport Transport) *Monitor {
	return &Monitor{
		transport:   transport,
		interval:    DefaultPollInterval,
		mountPoints: DefaultMountPoints,
		mediaRoot:   DefaultMediaRoot,
		mountsFile:  procMounts,
	}
}

// SetPollInterval overrides the polling interval. Call before Run.
func (m *Monitor) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		m.interval = interval
	}
}

// SetMountPoints overrides the candidate mount points and media root.
// Call before Run.
func (m *Monitor) SetMountPoints(points []string, mediaRoot string) {
	if len(points) > 0 {
		m.mountPoints = points
	}
	if mediaRoot != "" {
		m.mediaRoot = mediaRoot
	}
}

// Run starts the polling loop in its own goroutine. The first check
// happens immediately so an already-inserted volume starts playing
// without waiting a full interval.
func (m *Monitor) Run() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	m.stop = stopCh
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.tick()
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-stopCh:
				return
			}
		}
	}()

	log.Info().Dur("interval", m.interval).Msg("Removable media monitor started")
}

// Stop halts the polling loop. It does not stop playback; the caller
// decides whether the session should keep running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stop != nil {
		close(m.stop)
		m.stop = nil
		log.Info().Msg("Removable media monitor stopped")
	}
}

// Mounted reports the active mount path, if any, as of the last poll.
func (m *Monitor) Mounted() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != ""
}

// tick performs one level-triggered check.
func (m *Monitor) tick() {
	mount := m.findMount()
	playing := m.transport.Playing()

	switch {
	case mount != "" && !playing:
		log.Info().Str("mount", mount).Msg("Removable media present, starting playback")
		m.transport.SetRoot(mount)
		if !m.transport.Start() {
			log.Warn().Str("mount", mount).Msg("Mounted volume has no playable files")
		}
	case mount == "" && playing:
		log.Info().Msg("Removable media gone, stopping playback")
		m.transport.Stop()
	}

	m.mu.Lock()
	m.current = mount
	m.mu.Unlock()
}

// findMount returns the active removable mount: the first well-known
// candidate that is mounted, otherwise the lexicographically first
// mount under the media root. Empty string when nothing is mounted.
func (m *Monitor) findMount() string {
	mounted := m.mountedPaths()
	if len(mounted) == 0 {
		return ""
	}

	for _, candidate := range m.mountPoints {
		if mounted[candidate] {
			return candidate
		}
	}

	prefix := strings.TrimSuffix(m.mediaRoot, "/") + "/"
	var underRoot []string
	for path := range mounted {
		if strings.HasPrefix(path, prefix) {
			underRoot = append(underRoot, path)
		}
	}
	if len(underRoot) == 0 {
		return ""
	}
	sort.Strings(underRoot)
	return underRoot[0]
}

// mountedPaths reads the kernel mount table and returns the set of
// mount points.
func (m *Monitor) mountedPaths() map[string]bool {
	f, err := os.Open(m.mountsFile)
	if err != nil {
		log.Warn().Err(err).Str("file", m.mountsFile).Msg("Cannot read mount table")
		return nil
	}
	defer f.Close()

	paths := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		// The mount table escapes spaces as \040.
		paths[strings.ReplaceAll(fields[1], `\040`, " ")] = true
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("Error reading mount table")
	}
	return paths
}
