package device

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMonitor_StaysConnectedWhileDevicePresent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "iPod_Control"), 0o755))

	m := NewMonitor(root, 10*time.Millisecond, testLogger())
	m.Start(context.Background())
	defer m.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.Disconnected())
}

func TestMonitor_TripsWhenControlFolderVanishes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	control := filepath.Join(root, "iPod_Control")
	require.NoError(t, os.MkdirAll(control, 0o755))

	m := NewMonitor(root, 10*time.Millisecond, testLogger())
	m.Start(context.Background())
	defer m.Stop()

	require.NoError(t, os.RemoveAll(control))

	select {
	case <-m.Tripped():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not trip after control folder removal")
	}

	assert.True(t, m.Disconnected())
}

func TestMonitor_WatchErrorsDoNotStallEvents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	control := filepath.Join(root, "iPod_Control")
	require.NoError(t, os.MkdirAll(control, 0o755))

	m := NewMonitor(root, time.Hour, testLogger())

	events := make(chan fsnotify.Event)
	errs := make(chan error)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.wg.Add(1)
	go m.run(ctx, events, errs, nil)

	// The loop must keep draining errors; an unread error channel would
	// block the sends below.
	for range 3 {
		select {
		case errs <- errors.New("watch queue overflow"):
		case <-time.After(time.Second):
			t.Fatal("monitor stopped draining the watcher error channel")
		}
	}

	require.NoError(t, os.RemoveAll(control))
	events <- fsnotify.Event{Name: root, Op: fsnotify.Remove}

	select {
	case <-m.Tripped():
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not trip on the removal event after errors")
	}

	cancel()
	m.wg.Wait()
}

func TestMonitor_StopBeforeTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "iPod_Control"), 0o755))

	m := NewMonitor(root, time.Hour, testLogger())
	m.Start(context.Background())
	m.Stop()

	assert.False(t, m.Disconnected())
}
