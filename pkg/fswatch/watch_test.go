package fswatch

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/mirrord/pkg/errors"
)

func TestGetPathsToWatch(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	dirs := []string{"/src", "/src/app", "/src/app/controllers", "/src/tests", "/other"}
	files := []string{"/src/package.json", "/src/app/controllers/index.js", "/other/file"}
	for _, dir := range dirs {
		assert.NoError(t, fs.MkdirAll(dir, 0755))
	}
	for _, file := range files {
		assert.NoError(t, afero.WriteFile(fs, file, []byte("testfile"), 0644))
	}

	paths, err := getPathsToWatch("/src")
	assert.NoError(t, err)

	expPaths := []string{"/src", "/src/app", "/src/app/controllers", "/src/tests"}
	sort.Strings(paths)
	assert.Equal(t, expPaths, paths)
}

func TestWatchMissingRoot(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	_, err := Watch("/missing")
	assert.Equal(t, errors.FileNotFound{Path: "/missing"}, err)
}

func TestCombineUpdates(t *testing.T) {
	t.Parallel()

	updates := make(chan fsnotify.Event, 1024)
	addEvents := func(num int) {
		for i := 0; i < num; i++ {
			updates <- fsnotify.Event{}
		}
	}

	// Seed with events.
	numUpdates := 100
	addEvents(numUpdates)
	combined, _ := combineUpdates(updates, nil, func(string) error { return nil })

	// Assert that the events are being combined.
	numCombined := countEvents(combined)
	assert.True(t, numCombined < numUpdates,
		"expected less combined events (%d) than %d", numCombined, numUpdates)

	// Add more events.
	addEvents(100)
	<-combined

	// The combined channel is closed once the raw channels are closed.
	close(updates)
	for range combined {
	}
}

func TestCombineUpdatesErrors(t *testing.T) {
	t.Parallel()

	updates := make(chan fsnotify.Event)
	watchErrs := make(chan error, 1)
	combined, errs := combineUpdates(updates, watchErrs, func(string) error { return nil })

	watchErrs <- fsnotify.ErrEventOverflow
	assert.Equal(t, fsnotify.ErrEventOverflow, <-errs)

	// Overflows trigger a notification since events were lost.
	select {
	case <-combined:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a notification after an overflow")
	}

	close(updates)
	close(watchErrs)
	_, ok := <-errs
	assert.False(t, ok)
}

func TestCombineUpdatesWatchesNewDirs(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()
	require.NoError(t, fs.MkdirAll("/src/new", 0755))
	require.NoError(t, afero.WriteFile(fs, "/src/file", []byte("file"), 0644))

	updates := make(chan fsnotify.Event, 2)
	watched := make(chan string, 2)
	combined, _ := combineUpdates(updates, nil, func(dir string) error {
		watched <- dir
		return nil
	})

	updates <- fsnotify.Event{Name: "/src/file", Op: fsnotify.Create}
	updates <- fsnotify.Event{Name: "/src/new", Op: fsnotify.Create}
	close(updates)
	for range combined {
	}

	close(watched)
	var dirs []string
	for dir := range watched {
		dirs = append(dirs, dir)
	}
	assert.Equal(t, []string{"/src/new"}, dirs)
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	watcher, err := Watch(root)
	require.NoError(t, err)
	defer watcher.Close()

	// Changes in directories created after the watch started are noticed.
	subdir := filepath.Join(root, "subdir")
	require.NoError(t, os.Mkdir(subdir, 0755))
	waitForEvent(t, watcher.Events)

	// Wait for any events from the mkdir to be combined before writing.
	time.Sleep(100 * time.Millisecond)
	drain(watcher.Events)

	require.NoError(t, os.WriteFile(filepath.Join(subdir, "file"), []byte("contents"), 0644))
	waitForEvent(t, watcher.Events)
}

func waitForEvent(t *testing.T, c <-chan struct{}) {
	select {
	case <-c:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}

func drain(c <-chan struct{}) {
	for {
		select {
		case <-c:
		default:
			return
		}
	}
}

func countEvents(c chan struct{}) (n int) {
	// Block until the first event.
	<-c
	n++

	// Count the number of events until there hasn't been any new events in 500
	// milliseconds.
	for {
		select {
		case <-c:
			n++
		case <-time.After(500 * time.Millisecond):
			return n
		}
	}
}
