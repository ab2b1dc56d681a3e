package sync

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/sidkik/mirrord/pkg/errors"
)

// tempFilePattern is the name of the staging files created next to the copy
// destination. Leftover staging files (e.g. after a crash) have no source
// counterpart, so they're removed by the next prune.
const tempFilePattern = ".mirrord-*.tmp"

const copyBufferSize = 64 * 1024

// copyFile copies `src` to `dst`. The contents are written to a temporary
// file in dst's directory that's renamed into place once it's complete, so
// `dst` always holds either the old or the new contents.
func copyFile(fs afero.Fs, src, dst string, srcInfo os.FileInfo) error {
	// Some filesystems return a FileInfo that reflects later changes to the
	// file, so the attributes are copied before anything is read.
	want := AttributesOf(srcInfo)

	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	tmpFile, err := afero.TempFile(fs, filepath.Dir(dst), tempFilePattern)
	if err != nil {
		return errors.WithContext(err, "create staging file")
	}

	// Cleared once the rename succeeds.
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = fs.Remove(tmpPath)
		}
	}()

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(tmpFile, srcFile, buf); err != nil {
		tmpFile.Close()
		return errors.WithContext(err, "copy")
	}

	if err := tmpFile.Close(); err != nil {
		return errors.WithContext(err, "close staging file")
	}

	// Abort if the source was written to while we were reading it, since the
	// copy may contain a mix of the old and new contents.
	if currInfo, err := fs.Stat(src); err != nil {
		return errors.WithContext(err, "stat source")
	} else if currInfo.Size() != want.Size || !currInfo.ModTime().Equal(want.ModTime) {
		return errors.ErrFileChanged
	}

	if err := setAttributes(fs, tmpPath, want); err != nil {
		return err
	}

	if err := fs.Rename(tmpPath, dst); err != nil {
		return errors.WithContext(err, "rename staging file")
	}
	tmpPath = ""
	return nil
}

// setAttributes makes the mode and modification time of `path` match
// `attrs`.
func setAttributes(fs afero.Fs, path string, attrs FileAttributes) error {
	if err := fs.Chmod(path, attrs.Mode); err != nil {
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(path, time.Now(), attrs.ModTime); err != nil {
		return errors.WithContext(err, "set file modtime")
	}
	return nil
}

// dirMode returns the mode for a replica directory mirroring a source
// directory with mode `srcMode`. The owner always gets write access so that
// the directory's contents can be synced.
func dirMode(srcMode os.FileMode) os.FileMode {
	return srcMode.Perm() | 0700
}
