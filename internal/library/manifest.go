package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest is the on-disk form of a sync request: the playlists to sync and
// their pre-resolved track lookups, produced by the playlist pipeline.
type Manifest struct {
	Playlists []ManifestPlaylist `json:"playlists"`
}

// ManifestPlaylist is one playlist entry in a manifest.
type ManifestPlaylist struct {
	Playlist Playlist   `json:"playlist"`
	Tracks   []TrackRef `json:"tracks"`
}

// LoadManifest reads and validates a manifest file. File index entries with
// a zero size are filled in by stat'ing the file under libraryRoot; entries
// whose files are missing are left as-is; per-track failure handling at
// sync time decides what to do with them.
func LoadManifest(path, libraryRoot string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("library: reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("library: parsing manifest %s: %w", path, err)
	}

	if len(m.Playlists) == 0 {
		return nil, fmt.Errorf("library: manifest %s contains no playlists", path)
	}

	for i := range m.Playlists {
		pl := &m.Playlists[i]

		if pl.Playlist.Title == "" {
			return nil, fmt.Errorf("library: manifest playlist %d has no title", i)
		}

		if pl.Playlist.LibraryID == "" {
			pl.Playlist.LibraryID = "default"
		}

		for j := range pl.Tracks {
			ref := &pl.Tracks[j]

			if ref.File.RelPath == "" {
				return nil, fmt.Errorf("library: track %s in playlist %q has no file path",
					ref.Track.ID, pl.Playlist.Title)
			}

			if ref.Track.LibraryID == "" {
				ref.Track.LibraryID = pl.Playlist.LibraryID
			}

			if ref.Track.ID == "" {
				ref.Track.ID = ref.File.RelPath
			}

			if ref.File.Size == 0 {
				if info, err := os.Stat(filepath.Join(libraryRoot, filepath.FromSlash(ref.File.RelPath))); err == nil {
					ref.File.Size = info.Size()
					ref.File.Mtime = info.ModTime().UnixNano()
				}
			}
		}
	}

	return &m, nil
}
