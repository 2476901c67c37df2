package sync

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/podsync-dev/podsync/internal/catalog"
	"github.com/podsync-dev/podsync/internal/tagkey"
)

// hashPrefixBytes is how much of a file the content hash reads. Hashing a
// bounded prefix plus the exact length keeps identity checks cheap on large
// lossless files while still distinguishing real-world track collections.
const hashPrefixBytes = 2 << 20

// ContentHashFile computes the content identity hash of a file: SHA-256 over
// the first hashPrefixBytes of the file followed by its total byte length.
func ContentHashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("sync: hashing %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("sync: hashing %s: %w", path, err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, hashPrefixBytes)); err != nil {
		return "", fmt.Errorf("sync: hashing %s: %w", path, err)
	}

	var size [8]byte

	binary.BigEndian.PutUint64(size[:], uint64(info.Size()))
	h.Write(size[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}

// trackHashFunc computes the content hash of a device track. The orchestrator
// supplies a closure that resolves the track's device-relative path against
// the mounted device root.
type trackHashFunc func(t *catalog.Track) (string, error)

// Session is the per-run in-memory view of the device catalog: every track
// record indexed by id, tag key, tag+size key, and exact size, plus a lazy
// cache of device-track content hashes. Built once per run from an engine
// snapshot and kept consistent as the run adds, retags, and removes tracks.
// Not safe for concurrent use; the orchestrator is single-writer.
type Session struct {
	hashFn trackHashFunc

	tracks    map[int64]*catalog.Track
	byTagSize map[string][]int64
	byTag     map[string][]int64
	bySize    map[int64][]int64

	// hashes caches device-track content hashes by track id. Populated
	// lazily: a hash is computed at most once per track per run.
	hashes map[int64]string
}

// NewSession indexes a catalog snapshot.
func NewSession(tracks []catalog.Track, hashFn trackHashFunc) *Session {
	s := &Session{
		hashFn:    hashFn,
		tracks:    make(map[int64]*catalog.Track, len(tracks)),
		byTagSize: make(map[string][]int64),
		byTag:     make(map[string][]int64),
		bySize:    make(map[int64][]int64),
		hashes:    make(map[int64]string),
	}

	for i := range tracks {
		s.Add(tracks[i])
	}

	return s
}

// trackKey builds the normalized tag key of a catalog track.
func trackKey(t *catalog.Track) tagkey.Key {
	return tagkey.New(t.Artist, t.Title, t.Album, t.TrackNumber)
}

// Add indexes a track record. Called for every snapshot row and for each
// track copied during the run, so later tracks in the same run can match it.
func (s *Session) Add(t catalog.Track) {
	rec := t
	s.tracks[rec.ID] = &rec

	key := trackKey(&rec)
	s.byTag[key.String()] = append(s.byTag[key.String()], rec.ID)
	s.byTagSize[key.WithSize(rec.Size)] = append(s.byTagSize[key.WithSize(rec.Size)], rec.ID)
	s.bySize[rec.Size] = append(s.bySize[rec.Size], rec.ID)
}

// Track returns the indexed record for an id, or nil when the id is not in
// the catalog (a stale mapping or playlist member).
func (s *Session) Track(id int64) *catalog.Track {
	return s.tracks[id]
}

// Len returns the number of indexed tracks.
func (s *Session) Len() int {
	return len(s.tracks)
}

// UpdateTags replaces the tag fields of an indexed track and refreshes the
// tag indexes in place. The content hash cache is untouched: retagging does
// not change file bytes.
func (s *Session) UpdateTags(id int64, tags catalog.Tags) {
	t := s.tracks[id]
	if t == nil {
		return
	}

	old := trackKey(t)
	s.byTag[old.String()] = removeID(s.byTag[old.String()], id)
	s.byTagSize[old.WithSize(t.Size)] = removeID(s.byTagSize[old.WithSize(t.Size)], id)

	t.Title = tags.Title
	t.Artist = tags.Artist
	t.Album = tags.Album
	t.Genre = tags.Genre
	t.TrackNumber = tags.TrackNumber
	t.Year = tags.Year

	key := trackKey(t)
	s.byTag[key.String()] = append(s.byTag[key.String()], id)
	s.byTagSize[key.WithSize(t.Size)] = append(s.byTagSize[key.WithSize(t.Size)], id)
}

// Remove drops a track from every index and the hash cache.
func (s *Session) Remove(id int64) {
	t := s.tracks[id]
	if t == nil {
		return
	}

	key := trackKey(t)
	s.byTag[key.String()] = removeID(s.byTag[key.String()], id)
	s.byTagSize[key.WithSize(t.Size)] = removeID(s.byTagSize[key.WithSize(t.Size)], id)
	s.bySize[t.Size] = removeID(s.bySize[t.Size], id)

	delete(s.tracks, id)
	delete(s.hashes, id)
}

// ByTagSize returns the tracks whose tag+size key matches, in index order.
func (s *Session) ByTagSize(key string) []*catalog.Track {
	return s.resolve(s.byTagSize[key])
}

// ByTag returns the tracks whose tag key matches, in index order.
func (s *Session) ByTag(key string) []*catalog.Track {
	return s.resolve(s.byTag[key])
}

// BySize returns the tracks with an exact byte size, in index order.
func (s *Session) BySize(size int64) []*catalog.Track {
	return s.resolve(s.bySize[size])
}

// HashOf returns the content hash of a device track, computing and caching
// it on first use.
func (s *Session) HashOf(t *catalog.Track) (string, error) {
	if h, ok := s.hashes[t.ID]; ok {
		return h, nil
	}

	h, err := s.hashFn(t)
	if err != nil {
		return "", err
	}

	s.hashes[t.ID] = h

	return h, nil
}

func (s *Session) resolve(ids []int64) []*catalog.Track {
	if len(ids) == 0 {
		return nil
	}

	out := make([]*catalog.Track, 0, len(ids))
	for _, id := range ids {
		if t := s.tracks[id]; t != nil {
			out = append(out, t)
		}
	}

	return out
}

func removeID(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}

	return ids
}
