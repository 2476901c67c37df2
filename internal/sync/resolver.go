package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/podsync-dev/podsync/internal/catalog"
	"github.com/podsync-dev/podsync/internal/library"
	"github.com/podsync-dev/podsync/internal/state"
	"github.com/podsync-dev/podsync/internal/tagkey"
)

// durationToleranceMS is the duration window used to disambiguate tag-only
// candidates: two encodings of the same recording land within it, different
// recordings that merely share tags usually do not.
const durationToleranceMS = 2000

// sizeFallbackCandidates caps how many same-size device tracks the size-only
// tier hashes before giving up.
const sizeFallbackCandidates = 5

// Match tiers, in cascade order. Cheaper tiers run first.
const (
	TierMapping = iota + 1
	TierFingerprint
	TierContentHash
	TierTagSize
	TierTagOnly
	TierSizeOnly
)

// Match identifies an existing device track a source track resolved to.
type Match struct {
	Track *catalog.Track
	Tier  int
}

// Resolver maps source library tracks onto existing device tracks through an
// ordered cascade: persisted mapping, acoustic fingerprint, precomputed
// content hash, tag+size key, tag-only key with disambiguation, and finally
// a size-only hash scan. The first tier that yields a result wins.
type Resolver struct {
	profileID string
	store     MappingStore
	engine    catalog.Engine
	session   *Session
	logger    *slog.Logger

	// pushTags controls whether a match with diverged source tags writes the
	// source values through to the engine. Disabled for dry runs.
	pushTags bool
}

// NewResolver creates a resolver bound to one sync run's session.
func NewResolver(profileID string, store MappingStore, engine catalog.Engine, session *Session, logger *slog.Logger) *Resolver {
	return &Resolver{
		profileID: profileID,
		store:     store,
		engine:    engine,
		session:   session,
		logger:    logger,
		pushTags:  true,
	}
}

// Resolve returns the device track the source track resolves to, or nil when
// nothing on the device matches and the track must be copied.
func (r *Resolver) Resolve(ctx context.Context, ref library.TrackRef, srcPath string) (*Match, error) {
	// Tier 1: persisted mapping from an earlier sync.
	m, err := r.store.GetMapping(ctx, r.profileID, ref.Track.Key())
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}

	if m != nil {
		if t := r.session.Track(m.DeviceTrackID); t != nil {
			return r.matched(ctx, ref, t, TierMapping)
		}

		// The mapped track is gone from the catalog (device wiped or track
		// deleted out-of-band). Fall through and re-resolve.
		r.logger.Debug("ignoring stale track mapping",
			slog.String("library_key", ref.Track.Key()),
			slog.Int64("device_track_id", m.DeviceTrackID))
	}

	// Tier 2: acoustic fingerprint stored by an earlier sync.
	if ref.Track.FingerprintID != "" {
		m, err := r.store.GetMappingByFingerprint(ctx, r.profileID, ref.Track.FingerprintID)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return nil, err
		}

		if m != nil {
			if t := r.session.Track(m.DeviceTrackID); t != nil {
				return r.matched(ctx, ref, t, TierFingerprint)
			}
		}
	}

	// Tier 3: the scanner supplied a precomputed content hash. Identical
	// content implies identical size, so only same-size tracks are hashed.
	if ref.Track.ContentHash != "" {
		for _, t := range r.session.BySize(ref.File.Size) {
			h, err := r.session.HashOf(t)
			if err != nil {
				r.logger.Debug("device track hash failed",
					slog.Int64("id", t.ID), slog.String("error", err.Error()))
				continue
			}

			if h == ref.Track.ContentHash {
				return r.matched(ctx, ref, t, TierContentHash)
			}
		}
	}

	key := tagkey.New(ref.Track.Artist, ref.Track.Title, ref.Track.Album, ref.Track.TrackNumber)

	// Tier 4: exact tag + size key.
	if cands := r.session.ByTagSize(key.WithSize(ref.File.Size)); len(cands) > 0 {
		if len(cands) > 1 {
			// Distinct tracks sharing both tag key and exact byte size are
			// indistinguishable at this tier; they are treated as one track.
			r.logger.Warn("tag+size key collision, using first candidate",
				slog.String("library_key", ref.Track.Key()),
				slog.String("first_path", cands[0].Path),
				slog.String("second_path", cands[1].Path))
		}

		return r.matched(ctx, ref, cands[0], TierTagSize)
	}

	// Tier 5: tag key only, sizes differ (re-encodes, retagged files).
	if cands := r.session.ByTag(key.String()); len(cands) > 0 {
		return r.matched(ctx, ref, r.disambiguate(ref, srcPath, cands), TierTagOnly)
	}

	// Tier 6: size-only scan, bounded hash comparison.
	if cands := r.session.BySize(ref.File.Size); len(cands) > 0 {
		if len(cands) > sizeFallbackCandidates {
			cands = cands[:sizeFallbackCandidates]
		}

		srcHash, err := r.sourceHash(ref, srcPath)
		if err != nil {
			r.logger.Debug("source hash failed, skipping size-only tier",
				slog.String("path", srcPath), slog.String("error", err.Error()))

			return nil, nil
		}

		for _, t := range cands {
			h, err := r.session.HashOf(t)
			if err != nil {
				continue
			}

			if h == srcHash {
				return r.matched(ctx, ref, t, TierSizeOnly)
			}
		}
	}

	return nil, nil
}

// disambiguate picks one candidate among device tracks sharing the source's
// tag key: lone candidate within the duration tolerance, then content hash,
// then nearest duration, then the first candidate.
func (r *Resolver) disambiguate(ref library.TrackRef, srcPath string, cands []*catalog.Track) *catalog.Track {
	var within []*catalog.Track

	for _, t := range cands {
		if absInt64(t.DurationMS-ref.Track.DurationMS) <= durationToleranceMS {
			within = append(within, t)
		}
	}

	if len(within) == 1 {
		return within[0]
	}

	if srcHash, err := r.sourceHash(ref, srcPath); err == nil {
		for _, t := range cands {
			if h, err := r.session.HashOf(t); err == nil && h == srcHash {
				return t
			}
		}
	}

	if ref.Track.DurationMS > 0 {
		best := cands[0]
		bestDelta := absInt64(best.DurationMS - ref.Track.DurationMS)

		for _, t := range cands[1:] {
			if d := absInt64(t.DurationMS - ref.Track.DurationMS); d < bestDelta {
				best, bestDelta = t, d
			}
		}

		return best
	}

	return cands[0]
}

// sourceHash returns the scanner-supplied hash when present, otherwise hashes
// the source file.
func (r *Resolver) sourceHash(ref library.TrackRef, srcPath string) (string, error) {
	if ref.Track.ContentHash != "" {
		return ref.Track.ContentHash, nil
	}

	return ContentHashFile(srcPath)
}

// matched finalizes a match: when the source tags have diverged from the
// catalog's, the source values are pushed to the engine and the session index
// is refreshed in place.
func (r *Resolver) matched(ctx context.Context, ref library.TrackRef, t *catalog.Track, tier int) (*Match, error) {
	if r.pushTags && tagsDiffer(ref.Track, t) {
		tags := catalog.Tags{
			Title:       ref.Track.Title,
			Artist:      ref.Track.Artist,
			Album:       ref.Track.Album,
			Genre:       ref.Track.Genre,
			TrackNumber: ref.Track.TrackNumber,
			Year:        ref.Track.Year,
		}

		if err := r.engine.UpdateTrackTags(ctx, t.ID, tags); err != nil {
			return nil, err
		}

		r.session.UpdateTags(t.ID, tags)
	}

	r.logger.Debug("track resolved",
		slog.String("library_key", ref.Track.Key()),
		slog.Int64("device_track_id", t.ID),
		slog.Int("tier", tier))

	return &Match{Track: r.session.Track(t.ID), Tier: tier}, nil
}

func tagsDiffer(src library.TrackRecord, t *catalog.Track) bool {
	return src.Title != t.Title ||
		src.Artist != t.Artist ||
		src.Album != t.Album ||
		src.Genre != t.Genre ||
		src.TrackNumber != t.TrackNumber ||
		src.Year != t.Year
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}

	return v
}
