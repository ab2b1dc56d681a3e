package sync

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Kind is the type of a directory entry.
type Kind int

const (
	// KindOther is any entry that isn't mirrored, such as a symlink or device.
	KindOther Kind = iota
	KindFile
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "other"
	}
}

// Entry is a single path within a tree, identified by its path relative to
// the root of the tree.
type Entry struct {
	RelativePath string
	Kind         Kind
	FileAttributes
}

func kindOf(fi os.FileInfo) Kind {
	switch {
	case fi.IsDir():
		return KindDirectory
	case fi.Mode().IsRegular():
		return KindFile
	default:
		return KindOther
	}
}

// lstatEntry returns the entry at `root`/`rel` without following symlinks.
func lstatEntry(fs afero.Fs, root, rel string) (Entry, error) {
	fi, err := lstat(fs, filepath.Join(root, rel))
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		RelativePath:   rel,
		Kind:           kindOf(fi),
		FileAttributes: AttributesOf(fi),
	}, nil
}

func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if lstater, ok := fs.(afero.Lstater); ok {
		fi, _, err := lstater.LstatIfPossible(path)
		return fi, err
	}
	return fs.Stat(path)
}
