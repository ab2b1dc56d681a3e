package fswatch

import (
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/mirrord/pkg/errors"
)

var fs = afero.NewOsFs()

// Watcher notifies about changes anywhere within a directory tree.
type Watcher struct {
	// Events receives a value whenever something in the tree changes.
	// Multiple changes that happen before the value is received are combined
	// into a single value. The channel is closed when the watcher stops.
	Events <-chan struct{}

	// Errors receives failures of the underlying watcher. Errors that arrive
	// while a previous error hasn't been received yet are dropped.
	Errors <-chan error

	watcher *fsnotify.Watcher
}

// Watch watches for changes in every directory under `root`. Because fsnotify
// doesn't watch directories recursively, every subdirectory is watched
// individually, and directories created after the watch starts are added as
// they appear.
func Watch(root string) (*Watcher, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}
	if !fi.IsDir() {
		return nil, errors.New("%q is not a directory", root)
	}

	pathsToWatch, err := getPathsToWatch(root)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, "watch "+path)
		}
	}

	events, errs := combineUpdates(watcher.Events, watcher.Errors, func(dir string) error {
		return addTree(watcher, dir)
	})
	return &Watcher{Events: events, Errors: errs, watcher: watcher}, nil
}

// Close stops watching. Events and Errors are closed once the watcher has
// shut down.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// combineUpdates collapses the raw fsnotify events into change notifications.
// `watchDir` is called for every directory that's created.
func combineUpdates(updates <-chan fsnotify.Event, watchErrs <-chan error,
	watchDir func(string) error) (chan struct{}, chan error) {

	combined := make(chan struct{}, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(combined)
		defer close(errs)

		for updates != nil || watchErrs != nil {
			select {
			case event, ok := <-updates:
				if !ok {
					updates = nil
					continue
				}

				if event.Op&fsnotify.Create == fsnotify.Create {
					if isDir, _ := afero.IsDir(fs, event.Name); isDir {
						if err := watchDir(event.Name); err != nil {
							sendError(errs, errors.WithContext(err, "watch "+event.Name))
						}
					}
				}
				notify(combined)

			case err, ok := <-watchErrs:
				if !ok {
					watchErrs = nil
					continue
				}

				sendError(errs, err)

				// Events were dropped, so there may be unsynced changes.
				if err == fsnotify.ErrEventOverflow {
					notify(combined)
				}
			}
		}
	}()
	return combined, errs
}

func notify(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

func sendError(c chan error, err error) {
	select {
	case c <- err:
	default:
		log.WithError(err).Debug("Dropped file watcher error")
	}
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	paths, err := getPathsToWatch(root)
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			return errors.WithContext(err, "watch "+path)
		}
	}
	return nil
}

// getPathsToWatch returns `root` and all directories below it. Files don't
// need to be watched individually since changes to them are reported on
// their parent directory.
func getPathsToWatch(root string) (paths []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			// Directories can be removed while we're walking them. The
			// removal itself triggers a sync, so there's nothing to watch.
			if os.IsNotExist(err) {
				return nil
			}
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
