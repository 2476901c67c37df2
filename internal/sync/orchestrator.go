package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/podsync-dev/podsync/internal/catalog"
	"github.com/podsync-dev/podsync/internal/device"
	"github.com/podsync-dev/podsync/internal/library"
	"github.com/podsync-dev/podsync/internal/staging"
	"github.com/podsync-dev/podsync/internal/state"
	"github.com/podsync-dev/podsync/internal/tagkey"
	"github.com/podsync-dev/podsync/internal/transcode"
)

// Phase is the orchestrator's position in the sync state machine. Exposed
// for status reporting; transitions are strictly forward, with Failed as the
// terminal state of any aborted run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStructureVerified
	PhaseEngineReady
	PhaseCatalogParsed
	PhaseProcessing
	PhaseCatalogWritten
	PhaseFlushed
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStructureVerified:
		return "structure-verified"
	case PhaseEngineReady:
		return "engine-ready"
	case PhaseCatalogParsed:
		return "catalog-parsed"
	case PhaseProcessing:
		return "processing"
	case PhaseCatalogWritten:
		return "catalog-written"
	case PhaseFlushed:
		return "flushed"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// errReferenceOnlySkip marks a track skipped because the target only
// references existing device tracks and no match was found.
var errReferenceOnlySkip = errors.New("sync: no device match in reference-only mode")

// Config holds the inputs for creating an Orchestrator. Uses a struct
// because the collaborator set is too wide for positional parameters.
type Config struct {
	Profile    *state.DeviceProfile
	Store      MappingStore
	Transcoder Transcoder
	Monitor    *device.Monitor // optional; nil disables disconnection checks

	Progress      ProgressFunc              // optional per-track callback
	FlushProgress staging.FlushProgressFunc // optional flush callback

	Logger *slog.Logger
}

// Orchestrator drives a complete sync run against one device: mount the
// staging area, open the catalog engine, index the catalog, process each
// target track-by-track, then commit and flush. Per-track failures are
// logged and skipped; structural and catalog-level failures abort the run.
//
// An Orchestrator performs one run at a time. Callers must not sync the
// same device from two orchestrators concurrently.
type Orchestrator struct {
	cfg           *Config
	engineFactory EngineFactory // injectable for tests
	phase         Phase
	logger        *slog.Logger
}

// NewOrchestrator creates an Orchestrator with the real catalog engine
// factory. Tests override engineFactory after construction.
func NewOrchestrator(cfg *Config) *Orchestrator {
	return &Orchestrator{
		cfg: cfg,
		engineFactory: func(ctx context.Context, stagedCatalogPath string) (catalog.Engine, error) {
			return catalog.Open(ctx, stagedCatalogPath, cfg.Logger)
		},
		phase:  PhaseIdle,
		logger: cfg.Logger,
	}
}

// Phase returns the orchestrator's current state-machine position.
func (o *Orchestrator) Phase() Phase {
	return o.phase
}

// SyncDevice executes one sync run over the given targets. The returned
// Report is populated even on failure, reflecting work done before the
// abort. The catalog write is the atomic boundary: audio files copied
// before a failed run are left on the device, but the on-device catalog
// only changes if Commit and Flush both succeed.
func (o *Orchestrator) SyncDevice(ctx context.Context, targets []Target, opts RunOpts) (*Report, error) {
	start := time.Now()
	report := &Report{DryRun: opts.DryRun}

	fail := func(err error) (*Report, error) {
		o.phase = PhaseFailed
		report.Duration = time.Since(start)

		return report, err
	}

	if err := o.checkConnected(); err != nil {
		return fail(err)
	}

	area, err := staging.Mount(o.cfg.Profile.Root, o.logger)
	if err != nil {
		return fail(err)
	}
	defer area.Unmount()

	o.phase = PhaseStructureVerified
	report.Device = device.ReadInfo(string(area.StagedPath(staging.SysInfoPath)))

	catalogFile, err := area.CatalogFile()
	if err != nil {
		return fail(err)
	}

	engine, err := o.engineFactory(ctx, string(catalogFile))
	if err != nil {
		return fail(fmt.Errorf("sync: initializing catalog engine: %w", err))
	}

	o.phase = PhaseEngineReady

	engineClosed := false
	defer func() {
		if !engineClosed {
			engine.Close()
		}
	}()

	snapshot, err := engine.Tracks(ctx)
	if err != nil {
		return fail(fmt.Errorf("sync: reading catalog: %w", err))
	}

	session := NewSession(snapshot, func(t *catalog.Track) (string, error) {
		return ContentHashFile(area.RealPath(staging.DevicePath(t.Path)))
	})

	o.phase = PhaseCatalogParsed
	o.logger.Info("catalog indexed",
		slog.Int("device_tracks", session.Len()),
		slog.Int("targets", len(targets)),
		slog.Bool("dry_run", opts.DryRun))

	resolver := NewResolver(o.cfg.Profile.ID, o.cfg.Store, engine, session, o.logger)
	if opts.DryRun {
		resolver.pushTags = false
	}

	o.phase = PhaseProcessing

	for i := range targets {
		if err := o.processTarget(ctx, engine, area, session, resolver, &targets[i], opts, report); err != nil {
			return fail(err)
		}

		report.PlaylistsSynced++
	}

	if opts.DryRun {
		o.phase = PhaseDone
		report.Duration = time.Since(start)

		return report, nil
	}

	if err := o.checkConnected(); err != nil {
		return fail(err)
	}

	if err := engine.Commit(ctx); err != nil {
		return fail(fmt.Errorf("sync: committing catalog: %w", err))
	}

	o.phase = PhaseCatalogWritten

	engineClosed = true
	if err := engine.Close(); err != nil {
		return fail(fmt.Errorf("sync: closing catalog engine: %w", err))
	}

	if err := area.Flush(o.cfg.FlushProgress); err != nil {
		return fail(err)
	}

	o.phase = PhaseFlushed

	if err := o.cfg.Store.TouchProfile(ctx, o.cfg.Profile.ID, time.Now().UnixNano()); err != nil {
		return fail(err)
	}

	o.phase = PhaseDone
	report.Duration = time.Since(start)

	o.logger.Info("sync complete",
		slog.Int("playlists", report.PlaylistsSynced),
		slog.Int("processed", report.TracksProcessed),
		slog.Int("matched", report.TracksMatched),
		slog.Int("copied", report.TracksCopied),
		slog.Int("skipped", report.TracksSkipped),
		slog.Int("removed", report.TracksRemoved),
		slog.Duration("duration", report.Duration))

	return report, nil
}

// processTarget syncs one playlist: resolve or copy every desired track,
// then apply mirror cleanup when requested.
func (o *Orchestrator) processTarget(ctx context.Context, engine catalog.Engine, area *staging.Area,
	session *Session, resolver *Resolver, target *Target, opts RunOpts, report *Report) error {
	var playlistID int64

	if opts.DryRun {
		id, err := findPlaylistID(ctx, engine, target.Playlist.Title)
		if err != nil {
			return err
		}

		playlistID = id
	} else {
		id, err := engine.EnsurePlaylist(ctx, target.Playlist.Title)
		if err != nil {
			return fmt.Errorf("sync: ensuring playlist %q: %w", target.Playlist.Title, err)
		}

		playlistID = id
	}

	// Dedupe set is scoped to this playlist, not the run: the same track may
	// legitimately join several playlists.
	added := make(map[int64]bool)
	total := len(target.Tracks)

	for i, ref := range target.Tracks {
		if err := o.processTrack(ctx, engine, area, session, resolver, target, playlistID, added, ref, opts, report); err != nil {
			if isFatal(err) {
				return err
			}

			report.TracksSkipped++

			if errors.Is(err, errReferenceOnlySkip) {
				o.logger.Debug("track skipped",
					slog.String("library_key", ref.Track.Key()),
					slog.String("reason", err.Error()))
			} else {
				o.logger.Warn("track skipped",
					slog.String("library_key", ref.Track.Key()),
					slog.String("error", err.Error()))
			}
		}

		report.TracksProcessed++
		o.reportProgress(i+1, total, target.Playlist.Title)
	}

	if target.Mirror {
		if err := o.mirrorTarget(ctx, engine, area, session, target, playlistID, opts, report); err != nil {
			return err
		}
	}

	return nil
}

// processTrack resolves one source track against the device, copying it in
// when nothing matches. Errors returned from here are per-track unless they
// indicate disconnection or cancellation.
func (o *Orchestrator) processTrack(ctx context.Context, engine catalog.Engine, area *staging.Area,
	session *Session, resolver *Resolver, target *Target, playlistID int64, added map[int64]bool,
	ref library.TrackRef, opts RunOpts, report *Report) error {
	srcPath := filepath.Join(target.LibraryRoot, filepath.FromSlash(ref.File.RelPath))

	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("sync: source file missing: %w", err)
	}

	match, err := resolver.Resolve(ctx, ref, srcPath)
	if err != nil {
		return err
	}

	if match != nil {
		if !opts.DryRun {
			if err := o.confirmMapping(ctx, ref, match); err != nil {
				return err
			}

			if !added[match.Track.ID] {
				if err := engine.AddPlaylistMember(ctx, playlistID, match.Track.ID); err != nil {
					return err
				}
			}
		}

		added[match.Track.ID] = true
		report.TracksMatched++

		return nil
	}

	if target.ReferenceOnly {
		return errReferenceOnlySkip
	}

	if opts.DryRun {
		report.TracksCopied++
		return nil
	}

	if err := o.checkConnected(); err != nil {
		return err
	}

	writeSrc := srcPath
	ext := strings.ToLower(filepath.Ext(ref.File.RelPath))

	if transcode.NeedsTranscode(ref.Track.Codec) {
		if o.cfg.Transcoder == nil {
			return fmt.Errorf("sync: codec %s needs transcoding but no transcoder is configured", ref.Track.Codec)
		}

		out, cleanup, err := o.cfg.Transcoder.Transcode(ctx, srcPath)
		if err != nil {
			return fmt.Errorf("sync: transcoding: %w", err)
		}
		defer cleanup()

		writeSrc = out
		ext = transcode.OutputExt
	}

	dest := staging.TrackDest(ref.Track.Key(), ext)

	if err := area.Reserve(dest); err != nil {
		return err
	}

	size, err := area.WriteTrack(writeSrc, dest, nil)
	if err != nil {
		return err
	}

	id, err := engine.AddTrack(ctx, &catalog.Track{
		Title:       ref.Track.Title,
		Artist:      ref.Track.Artist,
		Album:       ref.Track.Album,
		Genre:       ref.Track.Genre,
		TrackNumber: ref.Track.TrackNumber,
		Year:        ref.Track.Year,
		Size:        size,
		DurationMS:  ref.Track.DurationMS,
		Path:        string(dest),
	})
	if err != nil {
		// The catalog never learned about the file, so don't strand it.
		_ = area.Remove(dest)

		return err
	}

	session.Add(catalog.Track{
		ID:          id,
		Title:       ref.Track.Title,
		Artist:      ref.Track.Artist,
		Album:       ref.Track.Album,
		Genre:       ref.Track.Genre,
		TrackNumber: ref.Track.TrackNumber,
		Year:        ref.Track.Year,
		Size:        size,
		DurationMS:  ref.Track.DurationMS,
		Path:        string(dest),
	})

	if err := o.cfg.Store.SaveMapping(ctx, &state.TrackMapping{
		ProfileID:     o.cfg.Profile.ID,
		LibraryKey:    ref.Track.Key(),
		DeviceTrackID: id,
		FingerprintID: ref.Track.FingerprintID,
	}); err != nil {
		return err
	}

	if err := engine.AddPlaylistMember(ctx, playlistID, id); err != nil {
		return err
	}

	added[id] = true
	report.TracksCopied++

	o.logger.Debug("track copied",
		slog.String("library_key", ref.Track.Key()),
		slog.String("dest", string(dest)),
		slog.Int64("bytes", size))

	return nil
}

// confirmMapping persists the mapping discovered by a match tier so the next
// run resolves the track on the cheap persisted-mapping tier. A tier-1 match
// already has its mapping.
func (o *Orchestrator) confirmMapping(ctx context.Context, ref library.TrackRef, match *Match) error {
	if match.Tier == TierMapping {
		return nil
	}

	return o.cfg.Store.SaveMapping(ctx, &state.TrackMapping{
		ProfileID:     o.cfg.Profile.ID,
		LibraryKey:    ref.Track.Key(),
		DeviceTrackID: match.Track.ID,
		FingerprintID: ref.Track.FingerprintID,
	})
}

// mirrorTarget reconciles the playlist's device membership down to the
// desired set: members whose tag key is not desired are removed from the
// playlist, and with DeleteRemoved also deleted from catalog and device.
// Re-running the same target converges to the same membership regardless of
// the starting state.
func (o *Orchestrator) mirrorTarget(ctx context.Context, engine catalog.Engine, area *staging.Area,
	session *Session, target *Target, playlistID int64, opts RunOpts, report *Report) error {
	if playlistID == 0 {
		return nil // dry run against a playlist that doesn't exist yet
	}

	members, err := engine.PlaylistMembers(ctx, playlistID)
	if err != nil {
		return fmt.Errorf("sync: reading playlist members: %w", err)
	}

	desired := make(map[string]bool, len(target.Tracks))
	for _, ref := range target.Tracks {
		key := tagkey.New(ref.Track.Artist, ref.Track.Title, ref.Track.Album, ref.Track.TrackNumber)
		desired[key.String()] = true
	}

	for _, id := range members {
		t := session.Track(id)
		if t != nil && desired[trackKey(t).String()] {
			continue
		}

		report.TracksRemoved++

		if opts.DryRun {
			continue
		}

		if err := engine.RemovePlaylistMember(ctx, playlistID, id); err != nil {
			return err
		}

		if target.DeleteRemoved && t != nil {
			if err := engine.RemoveTrack(ctx, id); err != nil {
				return err
			}

			if err := area.Remove(staging.DevicePath(t.Path)); err != nil {
				o.logger.Warn("mirror: device file removal failed",
					slog.String("path", t.Path),
					slog.String("error", err.Error()))
			}

			session.Remove(id)
		}

		o.logger.Debug("mirror: member removed",
			slog.String("playlist", target.Playlist.Title),
			slog.Int64("device_track_id", id),
			slog.Bool("deleted", target.DeleteRemoved))
	}

	return nil
}

// checkConnected fails fast when the connection monitor has observed the
// device missing. Checked before each filesystem phase rather than between
// every engine call.
func (o *Orchestrator) checkConnected() error {
	if o.cfg.Monitor != nil && o.cfg.Monitor.Disconnected() {
		return device.ErrDisconnected
	}

	return nil
}

func (o *Orchestrator) reportProgress(current, total int, title string) {
	if o.cfg.Progress != nil {
		o.cfg.Progress(current, total, title)
	}
}

// findPlaylistID resolves a playlist title without creating the playlist.
func findPlaylistID(ctx context.Context, engine catalog.Engine, title string) (int64, error) {
	playlists, err := engine.Playlists(ctx)
	if err != nil {
		return 0, err
	}

	for _, p := range playlists {
		if p.Title == title {
			return p.ID, nil
		}
	}

	return 0, nil
}

// isFatal distinguishes run-aborting failures from per-track skips.
func isFatal(err error) bool {
	return errors.Is(err, device.ErrDisconnected) || errors.Is(err, context.Canceled)
}
