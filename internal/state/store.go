package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// ErrNotFound is returned when a profile or mapping does not exist.
var ErrNotFound = errors.New("state: not found")

// Store persists device profiles and track mappings in an embedded SQLite
// database with WAL mode. Use ":memory:" as the path in tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	profileStmts profileStatements
	mappingStmts mappingStatements
}

// Statement groups, prepared once at open.
type profileStatements struct {
	insert, get, getByRoot, list, touch, delete *sql.Stmt
}

type mappingStatements struct {
	insert, getByKey, getByFingerprint, deleteByProfile *sql.Stmt
}

// NewStore opens (or creates) the state database at dbPath, applies
// migrations, and prepares all repeated statements.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening state database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: prepare statements: %w", err)
	}

	return s, nil
}

// migrate brings the schema up to date from the embedded migration files.
// Goose keeps its version table in the same database.
func (s *Store) migrate(ctx context.Context) error {
	dir, err := fs.Sub(schemaFS, "migrations")
	if err != nil {
		return fmt.Errorf("state: schema fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, dir)
	if err != nil {
		return fmt.Errorf("state: migration provider: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("state: migrating schema: %w", err)
	}

	if len(applied) > 0 {
		s.logger.Info("state schema migrated",
			slog.Int("applied", len(applied)),
			slog.Int64("version", applied[len(applied)-1].Source.Version),
		)
	}

	return nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("state: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlProfileColumns = `id, label, root, path_strategy, playlist_format,
		last_sync_at, created_at, updated_at`

	sqlInsertProfile = `INSERT INTO device_profiles (` + sqlProfileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlGetProfile = `SELECT ` + sqlProfileColumns +
		` FROM device_profiles WHERE id = ?`

	sqlGetProfileByRoot = `SELECT ` + sqlProfileColumns +
		` FROM device_profiles WHERE root = ?`

	sqlListProfiles = `SELECT ` + sqlProfileColumns +
		` FROM device_profiles ORDER BY created_at`

	sqlTouchProfile = `UPDATE device_profiles
		SET last_sync_at = ?, updated_at = ?
		WHERE id = ?`

	sqlDeleteProfile = `DELETE FROM device_profiles WHERE id = ?`
)

const (
	sqlInsertMapping = `INSERT INTO track_mappings
		(id, profile_id, library_key, device_track_id, fingerprint_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, library_key) DO UPDATE SET
			device_track_id = excluded.device_track_id,
			fingerprint_id  = excluded.fingerprint_id`

	sqlGetMappingByKey = `SELECT id, profile_id, library_key, device_track_id,
		fingerprint_id, created_at
		FROM track_mappings WHERE profile_id = ? AND library_key = ?`

	sqlGetMappingByFingerprint = `SELECT id, profile_id, library_key, device_track_id,
		fingerprint_id, created_at
		FROM track_mappings
		WHERE profile_id = ? AND fingerprint_id = ? AND fingerprint_id != ''`

	sqlDeleteMappingsByProfile = `DELETE FROM track_mappings WHERE profile_id = ?`
)

// prepareStatements prepares all repeated queries.
func (s *Store) prepareStatements(ctx context.Context) error {
	stmts := []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.profileStmts.insert, sqlInsertProfile},
		{&s.profileStmts.get, sqlGetProfile},
		{&s.profileStmts.getByRoot, sqlGetProfileByRoot},
		{&s.profileStmts.list, sqlListProfiles},
		{&s.profileStmts.touch, sqlTouchProfile},
		{&s.profileStmts.delete, sqlDeleteProfile},
		{&s.mappingStmts.insert, sqlInsertMapping},
		{&s.mappingStmts.getByKey, sqlGetMappingByKey},
		{&s.mappingStmts.getByFingerprint, sqlGetMappingByFingerprint},
		{&s.mappingStmts.deleteByProfile, sqlDeleteMappingsByProfile},
	}

	for _, st := range stmts {
		prepared, err := s.db.PrepareContext(ctx, st.sql)
		if err != nil {
			return fmt.Errorf("preparing %q: %w", st.sql, err)
		}

		*st.dst = prepared
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Profiles ---

// CreateProfile inserts a new device profile. The ID is generated here;
// callers fill in Label, Root, PathStrategy, and PlaylistFormat.
func (s *Store) CreateProfile(ctx context.Context, p *DeviceProfile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	now := time.Now().UnixNano()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.profileStmts.insert.ExecContext(ctx,
		p.ID, p.Label, p.Root, p.PathStrategy, p.PlaylistFormat,
		p.LastSyncAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("state: creating profile %q: %w", p.Label, err)
	}

	return nil
}

// GetProfile returns the profile with the given ID, or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id string) (*DeviceProfile, error) {
	return scanProfile(s.profileStmts.get.QueryRowContext(ctx, id))
}

// GetProfileByRoot returns the profile paired at the given device root,
// or ErrNotFound.
func (s *Store) GetProfileByRoot(ctx context.Context, root string) (*DeviceProfile, error) {
	return scanProfile(s.profileStmts.getByRoot.QueryRowContext(ctx, root))
}

// ListProfiles returns all paired device profiles in pairing order.
func (s *Store) ListProfiles(ctx context.Context) ([]*DeviceProfile, error) {
	rows, err := s.profileStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*DeviceProfile

	for rows.Next() {
		p := &DeviceProfile{}
		if err := rows.Scan(&p.ID, &p.Label, &p.Root, &p.PathStrategy, &p.PlaylistFormat,
			&p.LastSyncAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("state: scanning profile: %w", err)
		}

		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

// TouchProfile records a completed sync on the profile.
func (s *Store) TouchProfile(ctx context.Context, id string, syncedAt int64) error {
	res, err := s.profileStmts.touch.ExecContext(ctx, syncedAt, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("state: touching profile %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("state: touching profile %s: %w", id, err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteProfile removes a profile and, via cascade, all its track mappings.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	if _, err := s.profileStmts.delete.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("state: deleting profile %s: %w", id, err)
	}

	return nil
}

// scanProfile scans one profile row, mapping sql.ErrNoRows to ErrNotFound.
func scanProfile(row *sql.Row) (*DeviceProfile, error) {
	p := &DeviceProfile{}

	err := row.Scan(&p.ID, &p.Label, &p.Root, &p.PathStrategy, &p.PlaylistFormat,
		&p.LastSyncAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("state: scanning profile: %w", err)
	}

	return p, nil
}

// --- Track mappings ---

// SaveMapping upserts a track mapping. The (profile, library key) pair is
// unique; re-saving an existing key updates the device track id in place.
func (s *Store) SaveMapping(ctx context.Context, m *TrackMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixNano()
	}

	_, err := s.mappingStmts.insert.ExecContext(ctx,
		m.ID, m.ProfileID, m.LibraryKey, m.DeviceTrackID, m.FingerprintID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("state: saving mapping %s: %w", m.LibraryKey, err)
	}

	return nil
}

// GetMapping looks up the mapping for a library track key, or ErrNotFound.
func (s *Store) GetMapping(ctx context.Context, profileID, libraryKey string) (*TrackMapping, error) {
	return scanMapping(s.mappingStmts.getByKey.QueryRowContext(ctx, profileID, libraryKey))
}

// GetMappingByFingerprint looks up a mapping by stored acoustic fingerprint
// id, or ErrNotFound. Mappings without fingerprints are never returned.
func (s *Store) GetMappingByFingerprint(ctx context.Context, profileID, fingerprintID string) (*TrackMapping, error) {
	if fingerprintID == "" {
		return nil, ErrNotFound
	}

	return scanMapping(s.mappingStmts.getByFingerprint.QueryRowContext(ctx, profileID, fingerprintID))
}

// DeleteMappings removes all mappings for a profile. Used when the device
// catalog is rebuilt from scratch and old device track ids become invalid.
func (s *Store) DeleteMappings(ctx context.Context, profileID string) error {
	if _, err := s.mappingStmts.deleteByProfile.ExecContext(ctx, profileID); err != nil {
		return fmt.Errorf("state: deleting mappings for %s: %w", profileID, err)
	}

	return nil
}

// scanMapping scans one mapping row, mapping sql.ErrNoRows to ErrNotFound.
func scanMapping(row *sql.Row) (*TrackMapping, error) {
	m := &TrackMapping{}

	err := row.Scan(&m.ID, &m.ProfileID, &m.LibraryKey, &m.DeviceTrackID,
		&m.FingerprintID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("state: scanning mapping: %w", err)
	}

	return m, nil
}
