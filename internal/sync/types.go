// Package sync implements the device synchronization engine: it reconciles
// computed playlists against the track catalog of a mounted media device,
// resolving track identity through a tiered match cascade so audio already
// on the device is never copied twice, transcoding incompatible codecs on
// the way in, and optionally mirroring device playlists to the desired set.
package sync

import (
	"context"
	"time"

	"github.com/podsync-dev/podsync/internal/catalog"
	"github.com/podsync-dev/podsync/internal/device"
	"github.com/podsync-dev/podsync/internal/library"
	"github.com/podsync-dev/podsync/internal/state"
)

// Target is one transient unit of sync work: a playlist plus the resolved
// source-file lookup for each of its tracks. Targets are computed fresh for
// every run and never persisted.
type Target struct {
	Playlist    library.Playlist
	Tracks      []library.TrackRef
	LibraryRoot string // absolute root the TrackRef relative paths resolve under

	// Mirror makes the device playlist membership exactly match Tracks,
	// removing members that are no longer desired. DeleteRemoved additionally
	// deletes the removed tracks' files and catalog records from the device.
	Mirror        bool
	DeleteRemoved bool

	// ReferenceOnly skips any track that cannot be matched to audio already
	// on the device, so the playlist references the existing collection
	// without copying new files.
	ReferenceOnly bool
}

// RunOpts holds per-run options for SyncDevice.
type RunOpts struct {
	// DryRun resolves identity for every track and reports what a real run
	// would copy, match, and remove, without mutating the catalog, the
	// mapping store, or the device.
	DryRun bool
}

// Report summarizes the result of a single sync run.
type Report struct {
	PlaylistsSynced int  `json:"playlists_synced"`
	TracksProcessed int  `json:"tracks_processed"`
	TracksMatched   int  `json:"tracks_matched"`
	TracksCopied    int  `json:"tracks_copied"`
	TracksSkipped   int  `json:"tracks_skipped"`
	TracksRemoved   int  `json:"tracks_removed"`
	DryRun          bool `json:"dry_run"`

	Duration time.Duration `json:"duration"`
	Device   device.Info   `json:"device"`
}

// ProgressFunc receives per-track progress: how many tracks of the current
// target have been processed, the target's total, and the playlist title.
// Called after every track, including skipped ones.
type ProgressFunc func(current, total int, playlistTitle string)

// MappingStore persists durable library→device track mappings and profile
// bookkeeping. Satisfied by *state.Store; tests inject in-memory fakes.
type MappingStore interface {
	GetMapping(ctx context.Context, profileID, libraryKey string) (*state.TrackMapping, error)
	GetMappingByFingerprint(ctx context.Context, profileID, fingerprintID string) (*state.TrackMapping, error)
	SaveMapping(ctx context.Context, m *state.TrackMapping) error
	TouchProfile(ctx context.Context, id string, syncedAt int64) error
}

// Transcoder converts one source file into a device-compatible container.
// Satisfied by *transcode.Pool.
type Transcoder interface {
	Transcode(ctx context.Context, srcPath string) (outPath string, cleanup func(), err error)
}

// EngineFactory opens a catalog engine on a staged catalog file. The real
// implementation wraps catalog.Open; tests inject engines over temp files.
type EngineFactory func(ctx context.Context, stagedCatalogPath string) (catalog.Engine, error)
