// Package state persists the durable sync records: device profiles created
// on pairing and library→device track mappings written once per copied track.
// Everything else the engine touches (device track indexes, hash caches) is
// rebuilt per run and never stored here.
package state

// DeviceProfile is the persistent record for a paired device. Created on
// pairing, updated after every sync, never auto-deleted.
type DeviceProfile struct {
	ID             string
	Label          string
	Root           string // absolute path of the mounted device root
	PathStrategy   string // device path layout, e.g. "hashed" (F00..F49 fan-out)
	PlaylistFormat string // playlist export format identifier
	LastSyncAt     *int64 // Unix nanoseconds; nil before the first sync
	CreatedAt      int64
	UpdatedAt      int64
}

// TrackMapping records that a source library track exists on a device as a
// specific catalog track. Written once when a track is first copied (or first
// confirmed by a match tier), looked up on every subsequent sync so the file
// is never copied twice.
//
// Invariant: at most one mapping per (ProfileID, LibraryKey).
type TrackMapping struct {
	ID            string
	ProfileID     string
	LibraryKey    string // library.TrackRecord.Key()
	DeviceTrackID int64
	FingerprintID string // optional acoustic fingerprint id, "" when absent
	CreatedAt     int64
}
