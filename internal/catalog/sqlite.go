package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the WASM engine binary
)

// ErrCatalogCorrupt wraps engine parse failures: the staged catalog file is
// not readable by the native engine. This is a hard precondition failure for
// the whole sync, never a per-track skip.
var ErrCatalogCorrupt = errors.New("catalog: file is not a valid device catalog")

// schemaSQL is the catalog layout the engine creates on a fresh device.
// Existing catalogs are used as-is; CREATE IF NOT EXISTS keeps re-opens
// idempotent.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS tracks (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    title        TEXT NOT NULL DEFAULT '',
    artist       TEXT NOT NULL DEFAULT '',
    album        TEXT NOT NULL DEFAULT '',
    genre        TEXT NOT NULL DEFAULT '',
    track_number INTEGER NOT NULL DEFAULT 0,
    year         INTEGER NOT NULL DEFAULT 0,
    size         INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    path         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS playlists (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS playlist_items (
    playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
    track_id    INTEGER NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    PRIMARY KEY (playlist_id, track_id)
);
`

// Snapshot queries return one JSON document built by the engine's own JSON
// functions, keeping the boundary a single string marshal in each direction.
const (
	sqlTracksSnapshot = `SELECT json_group_array(json_object(
		'id', id, 'title', title, 'artist', artist, 'album', album,
		'genre', genre, 'track_number', track_number, 'year', year,
		'size', size, 'duration_ms', duration_ms, 'path', path))
		FROM tracks`

	sqlPlaylistsSnapshot = `SELECT json_group_array(json_object(
		'id', id, 'title', title))
		FROM playlists`
)

// SQLiteEngine implements Engine on a staged catalog file using the
// wazero-sandboxed SQLite build. One instance per sync run.
type SQLiteEngine struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open initializes the engine on the staged catalog file. A zero-length file
// (fresh device, or a reserved placeholder) gets the catalog schema created;
// a non-empty file that the engine cannot parse returns ErrCatalogCorrupt.
func Open(ctx context.Context, stagedCatalogPath string, logger *slog.Logger) (*SQLiteEngine, error) {
	db, err := sql.Open("sqlite3", "file:"+stagedCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening engine: %w", err)
	}

	// Catalog mutation is serialized by the orchestrator; a single connection
	// keeps the engine instance effectively single-threaded.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCatalogCorrupt, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: enabling foreign keys: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCatalogCorrupt, err)
	}

	logger.Debug("catalog engine ready", slog.String("path", stagedCatalogPath))

	return &SQLiteEngine{db: db, logger: logger}, nil
}

// Tracks returns a snapshot of all track records via the engine's JSON
// marshalling boundary.
func (e *SQLiteEngine) Tracks(ctx context.Context) ([]Track, error) {
	var doc string
	if err := e.db.QueryRowContext(ctx, sqlTracksSnapshot).Scan(&doc); err != nil {
		return nil, fmt.Errorf("catalog: reading track snapshot: %w", err)
	}

	var tracks []Track
	if err := json.Unmarshal([]byte(doc), &tracks); err != nil {
		return nil, fmt.Errorf("catalog: decoding track snapshot: %w", err)
	}

	return tracks, nil
}

// Playlists returns a snapshot of all playlist records.
func (e *SQLiteEngine) Playlists(ctx context.Context) ([]Playlist, error) {
	var doc string
	if err := e.db.QueryRowContext(ctx, sqlPlaylistsSnapshot).Scan(&doc); err != nil {
		return nil, fmt.Errorf("catalog: reading playlist snapshot: %w", err)
	}

	var playlists []Playlist
	if err := json.Unmarshal([]byte(doc), &playlists); err != nil {
		return nil, fmt.Errorf("catalog: decoding playlist snapshot: %w", err)
	}

	return playlists, nil
}

// AddTrack registers a new track and returns the engine-assigned id.
func (e *SQLiteEngine) AddTrack(ctx context.Context, t *Track) (int64, error) {
	res, err := e.db.ExecContext(ctx,
		`INSERT INTO tracks (title, artist, album, genre, track_number, year, size, duration_ms, path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Artist, t.Album, t.Genre, t.TrackNumber, t.Year, t.Size, t.DurationMS, t.Path)
	if err != nil {
		return 0, fmt.Errorf("catalog: adding track %q: %w", t.Title, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("catalog: adding track %q: %w", t.Title, err)
	}

	return id, nil
}

// UpdateTrackTags replaces the tag fields of an existing track.
func (e *SQLiteEngine) UpdateTrackTags(ctx context.Context, id int64, tags Tags) error {
	res, err := e.db.ExecContext(ctx,
		`UPDATE tracks SET title = ?, artist = ?, album = ?, genre = ?, track_number = ?, year = ?
		 WHERE id = ?`,
		tags.Title, tags.Artist, tags.Album, tags.Genre, tags.TrackNumber, tags.Year, id)
	if err != nil {
		return fmt.Errorf("catalog: updating track %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: updating track %d: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("catalog: updating track %d: no such track", id)
	}

	return nil
}

// RemoveTrack deletes a track record; playlist memberships cascade.
func (e *SQLiteEngine) RemoveTrack(ctx context.Context, id int64) error {
	if _, err := e.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: removing track %d: %w", id, err)
	}

	return nil
}

// EnsurePlaylist returns the id of the named playlist, creating it if needed.
func (e *SQLiteEngine) EnsurePlaylist(ctx context.Context, title string) (int64, error) {
	if _, err := e.db.ExecContext(ctx,
		`INSERT INTO playlists (title) VALUES (?) ON CONFLICT(title) DO NOTHING`, title); err != nil {
		return 0, fmt.Errorf("catalog: ensuring playlist %q: %w", title, err)
	}

	var id int64
	if err := e.db.QueryRowContext(ctx,
		`SELECT id FROM playlists WHERE title = ?`, title).Scan(&id); err != nil {
		return 0, fmt.Errorf("catalog: ensuring playlist %q: %w", title, err)
	}

	return id, nil
}

// PlaylistMembers returns member track ids in playlist order.
func (e *SQLiteEngine) PlaylistMembers(ctx context.Context, playlistID int64) ([]int64, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT track_id FROM playlist_items WHERE playlist_id = ? ORDER BY position`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading playlist %d members: %w", playlistID, err)
	}
	defer rows.Close()

	var members []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("catalog: reading playlist %d members: %w", playlistID, err)
		}

		members = append(members, id)
	}

	return members, rows.Err()
}

// AddPlaylistMember appends a track to a playlist; re-adding is a no-op.
func (e *SQLiteEngine) AddPlaylistMember(ctx context.Context, playlistID, trackID int64) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO playlist_items (playlist_id, track_id, position)
		 SELECT ?, ?, COALESCE(MAX(position), -1) + 1
		 FROM playlist_items WHERE playlist_id = ?
		 ON CONFLICT(playlist_id, track_id) DO NOTHING`,
		playlistID, trackID, playlistID)
	if err != nil {
		return fmt.Errorf("catalog: adding track %d to playlist %d: %w", trackID, playlistID, err)
	}

	return nil
}

// RemovePlaylistMember removes a track from a playlist.
func (e *SQLiteEngine) RemovePlaylistMember(ctx context.Context, playlistID, trackID int64) error {
	_, err := e.db.ExecContext(ctx,
		`DELETE FROM playlist_items WHERE playlist_id = ? AND track_id = ?`, playlistID, trackID)
	if err != nil {
		return fmt.Errorf("catalog: removing track %d from playlist %d: %w", trackID, playlistID, err)
	}

	return nil
}

// Commit folds the write-ahead log into the staged catalog file so the flush
// step copies one complete file. This is the catalog's atomic boundary:
// failure here fails the whole sync.
func (e *SQLiteEngine) Commit(ctx context.Context) error {
	if _, err := e.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("catalog: committing catalog: %w", err)
	}

	return nil
}

// Close releases the engine and its sandboxed runtime.
func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}
