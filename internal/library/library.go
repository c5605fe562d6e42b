// Package library scans the music directory tree for playable tracks.
package library

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultExtensions is the set of audio file extensions the receiver can
// hand off to an external decoder.
var DefaultExtensions = []string{".mp3", ".flac", ".wav", ".m4a", ".aac", ".ogg", ".opus", ".wma"}

// Track is one playable audio file. Identity is the absolute path; Name
// is the base filename used for display.
type Track struct {
	Path string
	Name string
}

// Scanner walks a directory tree and produces an ordered track list.
type Scanner struct {
	extensions map[string]bool
}

// NewScanner creates a Scanner for the given extensions (with leading
// dots, matched case-insensitively). An empty list means DefaultExtensions.
func NewScanner(extensions []string) *Scanner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Scanner{extensions: allowed}
}

// Scan returns every recognized audio file under root, sorted by full
// path case-insensitively. A missing or empty root yields an empty list,
// not an error — the caller treats "nothing to play" uniformly.
// Scanning unchanged filesystem state always yields the same sequence;
// shuffle-off relies on that to restore the original order.
func (s *Scanner) Scan(root string) []Track {
	var tracks []Track

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: skip it, keep what we can reach.
			log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		// Hidden files and AppleDouble sidecars ("._foo.mp3") from
		// Mac-formatted media.
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !s.extensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		tracks = append(tracks, Track{Path: path, Name: name})
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("root", root).Msg("Music library scan failed")
		return nil
	}

	sort.Slice(tracks, func(i, j int) bool {
		return strings.ToLower(tracks[i].Path) < strings.ToLower(tracks[j].Path)
	})

	log.Info().Int("tracks", len(tracks)).Str("root", root).Msg("Music library scanned")
	return tracks
}
