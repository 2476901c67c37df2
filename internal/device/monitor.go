package device

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrDisconnected is returned by callers that observe a tripped monitor.
var ErrDisconnected = errors.New("device: disconnected during sync")

// defaultProbeInterval is how often the monitor stats the control folder.
const defaultProbeInterval = 5 * time.Second

// Monitor is a background liveness probe for a mounted device. It combines
// a periodic stat of the control folder with an fsnotify watch on the device
// root, and latches into the disconnected state on the first failure: a
// device that comes back mid-run is still treated as disconnected, because
// the OS may have remounted it with different state.
type Monitor struct {
	root     string
	interval time.Duration
	logger   *slog.Logger

	disconnected atomic.Bool
	tripped      chan struct{}
	tripOnce     gosync.Once

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// NewMonitor creates a monitor for the given device root. interval <= 0
// uses the default probe interval.
func NewMonitor(root string, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	return &Monitor{
		root:     root,
		interval: interval,
		logger:   logger,
		tripped:  make(chan struct{}),
	}
}

// Start launches the probe goroutine. The fsnotify watch is best-effort:
// if the watcher cannot be created the periodic probe still runs.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		closer func() error
	)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.logger.Warn("device monitor: fsnotify unavailable, probe only",
			slog.String("error", err.Error()))
	} else if addErr := watcher.Add(m.root); addErr != nil {
		m.logger.Warn("device monitor: cannot watch device root, probe only",
			slog.String("error", addErr.Error()))

		watcher.Close()
	} else {
		events = watcher.Events
		errs = watcher.Errors
		closer = watcher.Close
	}

	m.wg.Add(1)

	go m.run(ctx, events, errs, closer)
}

// run is the monitor loop: probe on a ticker, trip on watcher removal events.
// Watcher errors are drained and logged; leaving them unread stalls the
// watcher's event delivery.
func (m *Monitor) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, closer func() error) {
	defer m.wg.Done()

	if closer != nil {
		defer closer()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !m.probe() {
				m.trip("liveness probe failed")
				return
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				if !m.probe() {
					m.trip("device root removed")
					return
				}
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			m.logger.Warn("device monitor: watch error",
				slog.String("error", err.Error()))
		}
	}
}

// probe checks that the control folder still exists.
func (m *Monitor) probe() bool {
	info, err := os.Stat(filepath.Join(m.root, "iPod_Control"))
	return err == nil && info.IsDir()
}

// trip latches the disconnected state.
func (m *Monitor) trip(reason string) {
	m.tripOnce.Do(func() {
		m.disconnected.Store(true)
		close(m.tripped)

		m.logger.Warn("device disconnected",
			slog.String("root", m.root),
			slog.String("reason", reason),
		)
	})
}

// Disconnected reports whether the device has been observed missing.
// Orchestrators check this before each filesystem phase to fail fast.
func (m *Monitor) Disconnected() bool {
	return m.disconnected.Load()
}

// Tripped returns a channel closed when disconnection is detected.
func (m *Monitor) Tripped() <-chan struct{} {
	return m.tripped
}

// Stop terminates the probe goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.wg.Wait()
}
