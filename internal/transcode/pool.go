// Package transcode converts lossless source audio into a device-compatible
// ALAC container before it is written to the device. Work runs through a
// bounded pool of slots so concurrent transcodes never oversubscribe the CPU,
// and every job carries its own timeout, so a slow or failing conversion skips
// one track, never the run.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrEngineUnavailable is returned when no codec engine slot can serve the
// job. Callers skip the track; the pool never retries a dead slot.
var ErrEngineUnavailable = errors.New("transcode: codec engine unavailable")

// Defaults applied by NewPool when Options fields are zero.
const (
	defaultWorkers = 2
	defaultTimeout = 120 * time.Second
)

// OutputExt is the container extension produced by every transcode job.
const OutputExt = ".m4a"

// CodecRunner abstracts the codec engine inside a slot. The real
// implementation shells out to ffmpeg; tests inject fakes.
type CodecRunner interface {
	// Probe verifies the engine is usable. Called once per slot, lazily.
	Probe(ctx context.Context) error
	// Convert transcodes inPath to an ALAC .m4a at outPath using at most
	// threads codec threads.
	Convert(ctx context.Context, inPath, outPath string, threads int) error
}

// Options configures a Pool.
type Options struct {
	Workers    int           // concurrent slots (0 → 2)
	Timeout    time.Duration // per-job timeout (0 → 120s)
	ScratchDir string        // job buffer directory (empty → os.TempDir())
	Runner     CodecRunner   // nil → ffmpeg on PATH
}

// slot is one codec engine instance. Lazily initialized on first use;
// a failed probe marks it dead for the remainder of the run.
type slot struct {
	id          int
	initialized bool
	dead        bool
	busy        bool
}

// Pool is a bounded set of codec-conversion workers. Safe for concurrent
// Transcode calls; capacity is enforced with a weighted semaphore rather
// than polling over slot state. A dead slot keeps its semaphore unit, so
// the pool only ever admits as many jobs as there are live engines.
type Pool struct {
	sem        *semaphore.Weighted
	timeout    time.Duration
	threads    int
	scratchDir string
	runner     CodecRunner
	logger     *slog.Logger

	mu        gosync.Mutex
	slots     []*slot
	deadUnits int64
}

// NewPool creates a transcode pool. No engine is initialized until the
// first job touches a slot.
func NewPool(opts Options, logger *slog.Logger) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}

	runner := opts.Runner
	if runner == nil {
		runner = NewFFmpegRunner("ffmpeg", logger)
	}

	slots := make([]*slot, workers)
	for i := range slots {
		slots[i] = &slot{id: i}
	}

	// Divide host parallelism across the pool so concurrent jobs share the
	// CPU instead of each claiming all of it.
	threads := runtime.NumCPU() / workers
	if threads < 1 {
		threads = 1
	}

	return &Pool{
		sem:        semaphore.NewWeighted(int64(workers)),
		timeout:    timeout,
		threads:    threads,
		scratchDir: scratch,
		runner:     runner,
		logger:     logger,
		slots:      slots,
	}
}

// NeedsTranscode reports whether a source codec must be converted before it
// can play on the device.
func NeedsTranscode(codec string) bool {
	switch strings.ToLower(codec) {
	case "flac", "wav", "aiff", "ape":
		return true
	default:
		return false
	}
}

// Transcode converts srcPath and returns the path of the converted output
// plus a cleanup function the caller must invoke once the output has been
// consumed. Job buffers are removed on every failure path before returning.
func (p *Pool) Transcode(ctx context.Context, srcPath string) (string, func(), error) {
	s, err := p.acquireSlot(ctx)
	if err != nil {
		return "", nil, err
	}
	defer p.releaseSlot(s)

	// Unique per-job names: concurrent jobs on different slots never collide
	// even transiently.
	base := fmt.Sprintf("tx-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
	inPath := filepath.Join(p.scratchDir, base+filepath.Ext(srcPath))
	outPath := filepath.Join(p.scratchDir, base+OutputExt)

	if err := copyBuffer(srcPath, inPath); err != nil {
		return "", nil, fmt.Errorf("transcode: staging job input: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.runner.Convert(jobCtx, inPath, outPath, p.threads)

	// The input buffer is never needed after Convert returns.
	os.Remove(inPath)

	if err != nil {
		os.Remove(outPath)

		if jobCtx.Err() != nil {
			return "", nil, fmt.Errorf("transcode: job exceeded %s: %w", p.timeout, jobCtx.Err())
		}

		return "", nil, fmt.Errorf("transcode: converting %s: %w", filepath.Base(srcPath), err)
	}

	p.logger.Debug("transcode complete",
		slog.String("src", srcPath),
		slog.Duration("duration", time.Since(start)),
		slog.Int("threads", p.threads),
	)

	return outPath, func() { os.Remove(outPath) }, nil
}

// acquireSlot blocks on the pool semaphore, then claims a free live slot,
// lazily probing its engine on first use. A failed probe marks the slot dead
// and surfaces as ErrEngineUnavailable for this job; the dead slot's
// semaphore unit is retained so later jobs queue on live capacity instead of
// being admitted past it.
func (p *Pool) acquireSlot(ctx context.Context) (*slot, error) {
	if p.allDead() {
		return nil, ErrEngineUnavailable
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("transcode: acquiring slot: %w", err)
	}

	p.mu.Lock()

	var s *slot

	for _, cand := range p.slots {
		if !cand.busy && !cand.dead {
			s = cand
			break
		}
	}

	if s == nil {
		// Dead slots retain their units, so admission normally implies a
		// free live slot; the last engine died while we waited.
		p.mu.Unlock()
		p.sem.Release(1)

		return nil, ErrEngineUnavailable
	}

	s.busy = true
	needsInit := !s.initialized
	p.mu.Unlock()

	if !needsInit {
		return s, nil
	}

	if err := p.runner.Probe(ctx); err != nil {
		p.mu.Lock()
		s.initialized = true
		s.dead = true
		s.busy = false

		live := 0

		for _, cand := range p.slots {
			if !cand.dead {
				live++
			}
		}

		retained := p.deadUnits

		if live == 0 {
			p.deadUnits = 0
		} else {
			p.deadUnits++
		}
		p.mu.Unlock()

		if live == 0 {
			// The last engine is gone: hand back every retained unit so
			// callers blocked in Acquire wake up and observe the dead pool.
			p.sem.Release(retained + 1)
		}

		p.logger.Warn("transcode: slot engine init failed, marking slot dead",
			slog.Int("slot", s.id),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	p.mu.Lock()
	s.initialized = true
	p.mu.Unlock()

	return s, nil
}

// releaseSlot returns a slot to the pool.
func (p *Pool) releaseSlot(s *slot) {
	p.mu.Lock()
	s.busy = false
	p.mu.Unlock()
	p.sem.Release(1)
}

// allDead reports whether every slot's engine has failed initialization.
func (p *Pool) allDead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if !s.dead {
			return false
		}
	}

	return true
}

// copyBuffer streams a source file into a job buffer. Lossless sources can
// run to hundreds of megabytes, so the copy never holds the file in memory.
func copyBuffer(src, dst string) error {
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
