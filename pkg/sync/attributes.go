package sync

import (
	"crypto/sha512"
	"encoding/base64"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/sidkik/mirrord/pkg/errors"
)

// FileAttributes contains the metadata used to compare whether a source file
// and its replica are the same.
type FileAttributes struct {
	Size int64

	// Mode is the permission bits of the file.
	Mode os.FileMode

	// ModTime is the time of the last file modification.
	ModTime time.Time
}

// AttributesOf returns the FileAttributes described by `fi`.
func AttributesOf(fi os.FileInfo) FileAttributes {
	return FileAttributes{
		Size:    fi.Size(),
		Mode:    fi.Mode().Perm(),
		ModTime: fi.ModTime(),
	}
}

// Equal returns whether all the attributes of two files match.
func (f FileAttributes) Equal(other FileAttributes) bool {
	return f.Size == other.Size &&
		f.Mode == other.Mode &&
		f.ModTime.Equal(other.ModTime)
}

// HashFile returns the sha512 hash of the file at the given path. The file is
// streamed through the hasher, so memory use doesn't depend on the file size.
func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}
