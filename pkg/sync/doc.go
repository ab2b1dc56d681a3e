/*
The sync package implements mirrord's reconciliation algorithm. It converges a
replica directory tree onto a source directory tree.

There are two trees:
1) The source tree -- The authoritative content. It is only ever read.
2) The replica tree -- A copy of the source tree. Every regular file in the
   source tree must exist with identical contents under the replica, and
   everything in the replica without a counterpart in the source is removed.

Neither tree is indexed between passes. Each call to Reconcile walks both trees
from scratch, so the filesystem is the only source of truth.

A pass has two phases that always run in the same order:
1) Propagate -- Walk the source tree. Create missing directories and copy files
   that are missing from the replica or whose contents differ.
2) Prune -- Walk the replica tree. Delete files that no longer exist in the
   source, then remove directories that are empty and have no source
   counterpart.

Copies are written to a temporary file in the destination directory and renamed
into place, so readers of the replica never see a partially written file.

Symlinks and other non-regular files in the source aren't mirrored.
*/
package sync
