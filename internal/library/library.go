// Package library defines the input types the sync engine consumes from the
// playlist pipeline: playlist descriptors and resolved track lookups. The
// engine never scans or tags source files itself; tag metadata and file
// index entries arrive pre-resolved on these records.
package library

// Playlist describes a playlist (or ad-hoc track selection) to sync.
type Playlist struct {
	ID        string `json:"id"`
	LibraryID string `json:"library_id"`
	Title     string `json:"title"`
}

// TrackRecord carries the tag metadata of one source library track.
type TrackRecord struct {
	ID          string `json:"id"`
	LibraryID   string `json:"library_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Genre       string `json:"genre,omitempty"`
	TrackNumber int    `json:"track_number,omitempty"`
	Year        int    `json:"year,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Codec       string `json:"codec"` // lowercase codec name, e.g. "mp3", "aac", "flac"

	// FingerprintID is an acoustic fingerprint identifier previously computed
	// by the library scanner. Empty when no fingerprint exists.
	FingerprintID string `json:"fingerprint_id,omitempty"`

	// ContentHash is the track file's content hash when the scanner has
	// already computed one. Empty means the engine hashes on demand.
	ContentHash string `json:"content_hash,omitempty"`
}

// Key returns the composite library track key used for persisted device
// mappings: stable across syncs, unique within one library.
func (t TrackRecord) Key() string {
	return t.LibraryID + ":" + t.ID
}

// FileIndexEntry is the resolved file lookup for a track: its path relative
// to the library root plus the file metadata the resolver matches on.
type FileIndexEntry struct {
	RelPath string `json:"rel_path"`
	Size    int64  `json:"size,omitempty"`
	Mtime   int64  `json:"mtime,omitempty"` // Unix nanoseconds
}

// TrackRef pairs a track record with its resolved file entry. One per
// playlist position, in playlist order.
type TrackRef struct {
	Track TrackRecord    `json:"track"`
	File  FileIndexEntry `json:"file"`
}
