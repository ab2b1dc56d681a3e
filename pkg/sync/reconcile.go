package sync

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/mirrord/pkg/errors"
)

// Options tune the behavior of a Reconciler.
type Options struct {
	// PruneEmptyDirs removes replica directories that don't exist in the
	// source once all their files have been pruned. When it's false, only
	// files are pruned.
	PruneEmptyDirs bool

	// QuickCheck skips hashing when the size, mode, and modification time of
	// the source and replica files all match.
	QuickCheck bool
}

// Reconciler converges a replica tree onto a source tree. A Reconciler keeps
// no state between passes, but it must not be used by concurrent passes on
// overlapping trees.
type Reconciler struct {
	fs   afero.Fs
	sink EventSink
	opts Options
}

// NewReconciler creates a Reconciler that operates on `fs` and reports every
// event to `sink`.
func NewReconciler(fs afero.Fs, sink EventSink, opts Options) *Reconciler {
	if sink == nil {
		sink = Sinks{}
	}
	return &Reconciler{fs: fs, sink: sink, opts: opts}
}

// pass holds the state of a single call to Reconcile.
type pass struct {
	*Reconciler
	source  string
	replica string
	report  Report
}

// Reconcile makes the tree at `replicaRoot` match the tree at `sourceRoot`.
// Failures on individual entries are listed in the returned report rather
// than aborting the pass. An error is only returned if one of the roots
// can't be used, in which case the report contains whatever was applied
// before the problem was detected.
func (r *Reconciler) Reconcile(sourceRoot, replicaRoot string) (Report, error) {
	p := &pass{
		Reconciler: r,
		source:     filepath.Clean(sourceRoot),
		replica:    filepath.Clean(replicaRoot),
	}
	p.report = Report{
		ID:          uuid.New().String(),
		SourceRoot:  p.source,
		ReplicaRoot: p.replica,
		Started:     time.Now(),
	}

	if err := p.prepareRoots(); err != nil {
		p.report.Finished = time.Now()
		return p.report, err
	}

	p.propagate()

	// A source root that disappeared mid-pass would otherwise look like an
	// empty source, and prune would wipe the replica.
	if err := p.checkSourceRoot(); err != nil {
		p.report.Finished = time.Now()
		return p.report, err
	}

	p.prune()
	p.report.Finished = time.Now()
	return p.report, nil
}

func (p *pass) checkSourceRoot() error {
	fi, err := p.fs.Stat(p.source)
	if err != nil {
		return errors.RootUnavailable{Role: "source", Path: p.source, Err: err}
	}
	if !fi.IsDir() {
		return errors.RootUnavailable{Role: "source", Path: p.source,
			Err: errors.New("not a directory")}
	}
	return nil
}

// prepareRoots checks that the source root is usable, and creates the replica
// root if it doesn't exist yet.
func (p *pass) prepareRoots() error {
	if err := p.checkSourceRoot(); err != nil {
		return err
	}

	fi, err := p.fs.Stat(p.replica)
	switch {
	case err == nil && fi.IsDir():
		return nil
	case err == nil:
		return errors.RootUnavailable{Role: "replica", Path: p.replica,
			Err: errors.New("not a directory")}
	case !os.IsNotExist(err):
		return errors.RootUnavailable{Role: "replica", Path: p.replica, Err: err}
	}

	if err := p.fs.MkdirAll(p.replica, 0755); err != nil {
		return errors.RootUnavailable{Role: "replica", Path: p.replica,
			Err: errors.WithContext(err, "create")}
	}
	p.succeeded(ActionCreateDir, ".")
	return nil
}

// propagate copies everything that's missing or stale from the source tree
// into the replica tree.
func (p *pass) propagate() {
	_ = afero.Walk(p.fs, p.source, func(path string, fi os.FileInfo, err error) error {
		rel, relErr := filepath.Rel(p.source, path)
		if relErr != nil {
			p.failed("walk source", path, relErr)
			return nil
		}

		if err != nil {
			// The entry was removed after its parent was listed. If it's
			// recreated, the change will be picked up by the next pass.
			if !os.IsNotExist(err) {
				p.failed("walk source", rel, err)
			}
			return nil
		}

		if rel == "." {
			return nil
		}

		switch kindOf(fi) {
		case KindDirectory:
			if err := p.ensureDir(rel, fi); err != nil {
				// None of the directory's children can be synced without
				// the directory.
				return filepath.SkipDir
			}
		case KindFile:
			p.syncFile(rel, fi)
		default:
			log.WithFields(log.Fields{
				"pass": p.report.ID,
				"path": rel,
				"mode": fi.Mode().String(),
			}).Debug("Skipping entry that isn't a regular file or directory")
		}
		return nil
	})
}

// ensureDir creates the replica directory for `rel`. Anything else at the
// same path in the replica is removed first.
func (p *pass) ensureDir(rel string, srcInfo os.FileInfo) error {
	dst := filepath.Join(p.replica, rel)
	dstInfo, err := lstat(p.fs, dst)
	switch {
	case err == nil && dstInfo.IsDir():
		return nil
	case err == nil:
		if err := p.fs.Remove(dst); err != nil {
			return p.failed("remove", rel, err)
		}
		p.succeeded(ActionDeleteFile, rel)
	case !os.IsNotExist(err):
		return p.failed("stat replica", rel, err)
	}

	if err := p.fs.MkdirAll(dst, dirMode(srcInfo.Mode())); err != nil {
		return p.failed("mkdir", rel, err)
	}
	p.succeeded(ActionCreateDir, rel)
	return nil
}

// syncFile makes the replica file at `rel` identical to the source file.
func (p *pass) syncFile(rel string, srcInfo os.FileInfo) {
	src := filepath.Join(p.source, rel)
	dst := filepath.Join(p.replica, rel)

	dstInfo, err := lstat(p.fs, dst)
	switch {
	case os.IsNotExist(err):
		p.copy(rel, src, dst, srcInfo)
		return
	case err != nil:
		p.failed("stat replica", rel, err)
		return
	case dstInfo.IsDir():
		// A file can't be renamed over a directory.
		if err := p.fs.RemoveAll(dst); err != nil {
			p.failed("remove", rel, err)
			return
		}
		p.succeeded(ActionDeleteDir, rel)
		p.copy(rel, src, dst, srcInfo)
		return
	case !dstInfo.Mode().IsRegular():
		// Renaming over a symlink replaces the link rather than its target.
		p.copy(rel, src, dst, srcInfo)
		return
	}

	srcAttrs, dstAttrs := AttributesOf(srcInfo), AttributesOf(dstInfo)
	if srcAttrs.Size != dstAttrs.Size {
		p.copy(rel, src, dst, srcInfo)
		return
	}

	if p.opts.QuickCheck && srcAttrs.Equal(dstAttrs) {
		return
	}

	// A file that can't be hashed is never assumed to be identical.
	srcHash, err := HashFile(p.fs, src)
	if err != nil {
		p.failed("hash source", rel, err)
		return
	}

	dstHash, err := HashFile(p.fs, dst)
	if err != nil {
		p.failed("hash replica", rel, err)
		return
	}

	if srcHash != dstHash {
		p.copy(rel, src, dst, srcInfo)
		return
	}

	if !srcAttrs.Equal(dstAttrs) {
		if err := setAttributes(p.fs, dst, srcAttrs); err != nil {
			p.failed("update attributes", rel, err)
			return
		}
		p.succeeded(ActionUpdateAttributes, rel)
	}
}

func (p *pass) copy(rel, src, dst string, srcInfo os.FileInfo) {
	if err := copyFile(p.fs, src, dst, srcInfo); err != nil {
		p.failed("copy", rel, err)
		return
	}
	p.succeeded(ActionCopyFile, rel)
}

// prune removes everything from the replica tree that doesn't have a
// counterpart in the source tree.
func (p *pass) prune() {
	// Directories are collected in walk order, so parents always come before
	// their children.
	var orphanedDirs []string

	// The source isn't consulted below an orphaned directory. A source path
	// such as `link/file` may resolve through a symlink even though `link`
	// itself isn't mirrored.
	orphaned := map[string]bool{}

	_ = afero.Walk(p.fs, p.replica, func(path string, fi os.FileInfo, err error) error {
		rel, relErr := filepath.Rel(p.replica, path)
		if relErr != nil {
			p.failed("walk replica", path, relErr)
			return nil
		}

		if err != nil {
			if !os.IsNotExist(err) {
				p.failed("walk replica", rel, err)
			}
			return nil
		}

		if rel == "." {
			return nil
		}

		srcKind := KindOther
		if !orphaned[filepath.Dir(rel)] {
			srcEntry, srcErr := lstatEntry(p.fs, p.source, rel)
			if srcErr != nil && !os.IsNotExist(srcErr) {
				// Don't delete anything when it's unclear whether the
				// source still has it.
				p.failed("stat source", rel, srcErr)
				if fi.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			srcKind = srcEntry.Kind
		}

		if fi.IsDir() {
			if srcKind != KindDirectory {
				orphaned[rel] = true
				orphanedDirs = append(orphanedDirs, rel)
			}
			return nil
		}

		if srcKind == KindFile {
			return nil
		}

		if err := p.fs.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				p.failed("remove", rel, err)
			}
			return nil
		}
		p.succeeded(ActionDeleteFile, rel)
		return nil
	})

	if !p.opts.PruneEmptyDirs {
		return
	}

	for i := len(orphanedDirs) - 1; i >= 0; i-- {
		rel := orphanedDirs[i]
		path := filepath.Join(p.replica, rel)

		// Directories still containing files that failed to be pruned are
		// left in place.
		empty, err := afero.IsEmpty(p.fs, path)
		if err != nil {
			p.failed("read dir", rel, err)
			continue
		}
		if !empty {
			continue
		}

		if err := p.fs.Remove(path); err != nil {
			p.failed("remove", rel, err)
			continue
		}
		p.succeeded(ActionDeleteDir, rel)
	}
}

func (p *pass) succeeded(kind ActionKind, rel string) {
	p.report.Actions = append(p.report.Actions, Action{Kind: kind, Path: rel})
	p.sink.Handle(Event{
		Pass: p.report.ID,
		Time: time.Now(),
		Path: rel,
		Kind: kind,
	})
}

// failed records that the entry at `rel` couldn't be synced. It returns the
// recorded error so that callers can propagate it.
func (p *pass) failed(op, rel string, cause error) error {
	err := errors.EntryError{Op: op, Path: rel, Err: cause}
	p.report.Failures = append(p.report.Failures, Failure{Path: rel, Err: err})
	p.sink.Handle(Event{
		Pass: p.report.ID,
		Time: time.Now(),
		Path: rel,
		Err:  err,
	})
	return err
}
