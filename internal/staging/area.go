// Package staging bridges the real device filesystem and the native catalog
// engine. The device's control files are copied into a private scratch
// directory ("the staging area") that the engine operates on synchronously;
// after the engine commits, the staged catalog and artwork are flushed back
// to the device. Audio bytes never pass through the staging area; they are
// streamed directly to the device filesystem.
package staging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotDeviceRoot is returned by Mount when the expected control-folder
// hierarchy is absent. This is a hard precondition failure, not retryable.
var ErrNotDeviceRoot = errors.New("staging: not a valid device root")

// FlushProgressFunc reports flush progress as a percentage plus the file
// currently being copied.
type FlushProgressFunc func(percent float64, detail string)

// WriteProgressFunc reports bytes written so far during a track copy.
type WriteProgressFunc func(written, total int64)

// Area is a mounted staging area for one device. Not safe for concurrent
// use; one sync run owns the Area for its whole lifetime.
type Area struct {
	deviceRoot string
	scratch    string
	logger     *slog.Logger

	// secondaryOnDevice records whether the device carried a secondary
	// catalog at mount time, so Flush can remove it when the engine stops
	// producing one.
	secondaryOnDevice bool
}

// Mount verifies the device structure, creates the scratch directory, and
// stages in the catalog, identity, and artwork files. Optional files that
// are absent are silently skipped.
func Mount(deviceRoot string, logger *slog.Logger) (*Area, error) {
	if err := verifyStructure(deviceRoot); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "podsync-staging-")
	if err != nil {
		return nil, fmt.Errorf("staging: creating scratch dir: %w", err)
	}

	a := &Area{
		deviceRoot: deviceRoot,
		scratch:    scratch,
		logger:     logger,
	}

	if err := a.stageIn(); err != nil {
		os.RemoveAll(scratch)
		return nil, err
	}

	logger.Debug("staging area mounted",
		slog.String("device", deviceRoot),
		slog.String("scratch", scratch),
	)

	return a, nil
}

// Verify checks the control-folder layout without mounting anything.
func Verify(deviceRoot string) error {
	return verifyStructure(deviceRoot)
}

// verifyStructure probes for the control-folder layout that marks a device
// root. Only directories are checked; control files themselves may be absent
// on a freshly formatted device.
func verifyStructure(deviceRoot string) error {
	for _, dir := range []string{ControlDir, iTunesDir, musicDir} {
		info, err := os.Stat(filepath.Join(deviceRoot, filepath.FromSlash(dir)))
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: missing %s under %s", ErrNotDeviceRoot, dir, deviceRoot)
		}
	}

	return nil
}

// stageIn copies catalog, identity, and artwork files from the device into
// the scratch directory. The primary catalog is staged if present; a fresh
// device without one starts from an empty staged catalog created by the
// engine. Existing artwork is always preserved so re-syncs don't destroy it.
func (a *Area) stageIn() error {
	staged := []DevicePath{
		CatalogPath,
		SecondaryCatalogPath,
		SysInfoPath,
		ExtendedSysInfoPath,
		ArtworkDBPath,
	}

	for _, dp := range staged {
		real := a.RealPath(dp)

		if _, err := os.Stat(real); err != nil {
			continue // optional-resource tier: absent files are tolerated
		}

		if dp == SecondaryCatalogPath {
			a.secondaryOnDevice = true
		}

		if err := copyFile(real, string(a.StagedPath(dp))); err != nil {
			return fmt.Errorf("staging: staging in %s: %w", dp, err)
		}
	}

	// Per-thumbnail files live next to the artwork catalog.
	thumbs, err := a.deviceThumbs()
	if err != nil {
		return err
	}

	for _, dp := range thumbs {
		if err := copyFile(a.RealPath(dp), string(a.StagedPath(dp))); err != nil {
			return fmt.Errorf("staging: staging in %s: %w", dp, err)
		}
	}

	return nil
}

// deviceThumbs lists the .ithmb thumbnail files in the device artwork dir.
func (a *Area) deviceThumbs() ([]DevicePath, error) {
	entries, err := os.ReadDir(filepath.Join(a.deviceRoot, filepath.FromSlash(artworkDir)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("staging: listing artwork dir: %w", err)
	}

	var thumbs []DevicePath

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ithmb") {
			continue
		}

		thumbs = append(thumbs, DevicePath(artworkDir+"/"+e.Name()))
	}

	return thumbs, nil
}

// StagedPath translates a device-relative path to its scratch location.
func (a *Area) StagedPath(dp DevicePath) StagedPath {
	return StagedPath(filepath.Join(a.scratch, dp.toNative()))
}

// RealPath translates a device-relative path to its real device location.
func (a *Area) RealPath(dp DevicePath) string {
	return filepath.Join(a.deviceRoot, dp.toNative())
}

// CatalogFile returns the staged primary catalog location for the engine,
// creating its parent directories so a fresh device gets an empty catalog.
func (a *Area) CatalogFile() (StagedPath, error) {
	sp := a.StagedPath(CatalogPath)

	if err := os.MkdirAll(filepath.Dir(string(sp)), 0o755); err != nil {
		return "", fmt.Errorf("staging: preparing catalog dir: %w", err)
	}

	return sp, nil
}

// Reserve records a destination path before its bytes are written: parent
// directories and an empty placeholder are created in the staging area, and
// parent directories on the real device, so the engine's path bookkeeping
// stays consistent while the audio bytes land on the device separately.
func (a *Area) Reserve(dp DevicePath) error {
	sp := string(a.StagedPath(dp))

	if err := os.MkdirAll(filepath.Dir(sp), 0o755); err != nil {
		return fmt.Errorf("staging: reserving %s: %w", dp, err)
	}

	f, err := os.OpenFile(sp, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("staging: reserving %s: %w", dp, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("staging: reserving %s: %w", dp, err)
	}

	if err := os.MkdirAll(filepath.Dir(a.RealPath(dp)), 0o755); err != nil {
		return fmt.Errorf("staging: reserving %s: %w", dp, err)
	}

	return nil
}

// WriteTrack streams a source file to its device destination, reporting
// progress through the byte-counting writer. On any write error the partial
// destination is removed before the error propagates.
func (a *Area) WriteTrack(srcPath string, dp DevicePath, progress WriteProgressFunc) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("staging: opening source %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("staging: stat source %s: %w", srcPath, err)
	}

	dstPath := a.RealPath(dp)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, fmt.Errorf("staging: creating device dir for %s: %w", dp, err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("staging: creating %s: %w", dp, err)
	}

	w := io.Writer(dst)
	if progress != nil {
		w = io.MultiWriter(dst, &countingWriter{total: info.Size(), fn: progress})
	}

	n, err := io.Copy(w, src)
	if err != nil {
		dst.Close()
		os.Remove(dstPath)

		return 0, fmt.Errorf("staging: writing %s: %w", dp, err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return 0, fmt.Errorf("staging: closing %s: %w", dp, err)
	}

	return n, nil
}

// Remove deletes a file from the real device filesystem (mirror cleanup).
// The catalog entry is removed separately through the engine.
func (a *Area) Remove(dp DevicePath) error {
	if err := os.Remove(a.RealPath(dp)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: removing %s: %w", dp, err)
	}

	return nil
}

// Flush copies the committed catalog and artwork files back to the device.
// Each copy is independent: a failure on an optional file only logs, a
// failure on the primary catalog fails the flush. A secondary catalog the
// engine no longer produces is removed from the device.
func (a *Area) Flush(progress FlushProgressFunc) error {
	type flushFile struct {
		dp       DevicePath
		required bool
	}

	files := []flushFile{{dp: CatalogPath, required: true}}

	if a.stagedExists(SecondaryCatalogPath) {
		files = append(files, flushFile{dp: SecondaryCatalogPath})
	}

	if a.stagedExists(ArtworkDBPath) {
		files = append(files, flushFile{dp: ArtworkDBPath})
	}

	stagedThumbs, err := a.stagedThumbs()
	if err != nil {
		return err
	}

	for _, dp := range stagedThumbs {
		files = append(files, flushFile{dp: dp})
	}

	var failed int

	for i, f := range files {
		if progress != nil {
			progress(float64(i)/float64(len(files))*100, string(f.dp))
		}

		if err := a.flushOne(f.dp); err != nil {
			if f.required {
				failed++
			}

			a.logger.Warn("flush: file copy failed",
				slog.String("path", string(f.dp)),
				slog.Bool("required", f.required),
				slog.String("error", err.Error()),
			)
		}
	}

	if failed > 0 {
		return fmt.Errorf("staging: flushing catalog to device: %d required file(s) failed", failed)
	}

	// The device had a secondary catalog but the engine no longer needs one.
	if a.secondaryOnDevice && !a.stagedExists(SecondaryCatalogPath) {
		if err := a.Remove(SecondaryCatalogPath); err != nil {
			a.logger.Warn("flush: removing stale secondary catalog failed",
				slog.String("error", err.Error()))
		}
	}

	if progress != nil {
		progress(100, "")
	}

	return nil
}

// flushOne copies one staged file back to its device location.
func (a *Area) flushOne(dp DevicePath) error {
	real := a.RealPath(dp)

	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return err
	}

	return copyFile(string(a.StagedPath(dp)), real)
}

// stagedExists reports whether a staged copy of the path exists.
func (a *Area) stagedExists(dp DevicePath) bool {
	info, err := os.Stat(string(a.StagedPath(dp)))
	return err == nil && !info.IsDir()
}

// stagedThumbs lists thumbnail files currently in the staged artwork dir,
// covering both preserved and newly written artwork.
func (a *Area) stagedThumbs() ([]DevicePath, error) {
	entries, err := os.ReadDir(filepath.Join(a.scratch, filepath.FromSlash(artworkDir)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("staging: listing staged artwork: %w", err)
	}

	var thumbs []DevicePath

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ithmb") {
			continue
		}

		thumbs = append(thumbs, DevicePath(artworkDir+"/"+e.Name()))
	}

	return thumbs, nil
}

// Unmount removes the scratch directory and everything staged in it.
func (a *Area) Unmount() error {
	if err := os.RemoveAll(a.scratch); err != nil {
		return fmt.Errorf("staging: unmounting: %w", err)
	}

	return nil
}

// DeviceRoot returns the real device root this area is mounted on.
func (a *Area) DeviceRoot() string {
	return a.deviceRoot
}

// countingWriter drives a progress callback from bytes flowing through the
// write stream.
type countingWriter struct {
	written int64
	total   int64
	fn      WriteProgressFunc
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.written += int64(len(p))
	c.fn(c.written, c.total)

	return len(p), nil
}

// copyFile copies src to dst, creating dst's parent directories.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)

		return err
	}

	return out.Close()
}
