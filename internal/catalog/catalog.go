// Package catalog wraps the device's native track database behind a narrow
// engine boundary. The catalog file's internal structure is owned entirely by
// the embedded engine (SQLite compiled to WASM, executed under wazero). The
// sync layer treats the file as an opaque blob inside the staging area and
// talks to the engine only through the Engine interface. Snapshot reads cross
// the boundary as JSON strings produced by the engine itself.
package catalog

import "context"

// Track is one track record in the device catalog, reconstructed from an
// engine snapshot each sync run and never persisted by callers.
type Track struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Genre       string `json:"genre"`
	TrackNumber int    `json:"track_number"`
	Year        int    `json:"year"`
	Size        int64  `json:"size"`
	DurationMS  int64  `json:"duration_ms"`
	Path        string `json:"path"` // device-relative, forward slashes
}

// Playlist is one playlist record in the device catalog.
type Playlist struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Tags is the mutable tag subset pushed to the engine when a matched source
// track's metadata differs from the catalog's.
type Tags struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	TrackNumber int
	Year        int
}

// Engine is the device catalog engine boundary. Implementations are not safe
// for concurrent mutation; callers serialize all access (the orchestrator
// never calls in from more than one in-flight track at a time).
type Engine interface {
	// Tracks returns a snapshot of all track records.
	Tracks(ctx context.Context) ([]Track, error)
	// Playlists returns a snapshot of all playlist records.
	Playlists(ctx context.Context) ([]Playlist, error)

	// AddTrack registers a new track and returns its engine-assigned id.
	AddTrack(ctx context.Context, t *Track) (int64, error)
	// UpdateTrackTags replaces the tag fields of an existing track.
	UpdateTrackTags(ctx context.Context, id int64, tags Tags) error
	// RemoveTrack deletes a track record and all its playlist memberships.
	RemoveTrack(ctx context.Context, id int64) error

	// EnsurePlaylist returns the id of the playlist with the given title,
	// creating it when absent.
	EnsurePlaylist(ctx context.Context, title string) (int64, error)
	// PlaylistMembers returns member track ids in playlist order.
	PlaylistMembers(ctx context.Context, playlistID int64) ([]int64, error)
	// AddPlaylistMember appends a track to a playlist. Adding an existing
	// member is a no-op.
	AddPlaylistMember(ctx context.Context, playlistID, trackID int64) error
	// RemovePlaylistMember removes a track from a playlist.
	RemovePlaylistMember(ctx context.Context, playlistID, trackID int64) error

	// Commit finalizes the in-memory catalog into the staged catalog file.
	// After Commit and Close the staged file is complete and ready to flush
	// back to the device.
	Commit(ctx context.Context) error
	Close() error
}
