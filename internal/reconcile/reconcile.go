// notmuch-sync-go
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

// Package reconcile classifies per-message file diffs against the remote
// change-set as in-place, move-candidate, copy-candidate,
// duplicate-to-remove, or fetch-required, using content-hash identity
// rather than paths (spec §4.6).
package reconcile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/log"
)

var e = errors.New("reconcile")

// FetchItem is one (message, name, expected sha) the local side must pull
// from the peer in FileTransfer's Phase B.
type FetchItem struct {
	ID   store.MessageId
	Name store.RelPath
	Sha  store.Hex32
}

// Result is the side-effect-free summary of a reconciliation pass; the
// side effects (copy/move/unlink/add_file/remove_file calls) have already
// been applied to s by the time Reconcile returns.
type Result struct {
	Fetch        []FetchItem
	CopyMove     uint32
	DupDeletions uint32
}

// Divergent is the fatal safety assertion of spec §4.6 step 6: the local
// and remote file sets for a message share no name at all after
// reconciliation, meaning the databases have diverged beyond safe
// automatic handling.
type Divergent struct {
	ID store.MessageId
}

func (d *Divergent) Error() string {
	return fmt.Sprintf("local/remote file set disjoint for message %s", d.ID)
}

// Reconcile classifies and applies file diffs for every message in
// remote. aggressiveMove is true on the initiator, false on the
// responder (spec §5); it governs whether a move candidate that also has
// a concurrent local change is treated conservatively as a copy.
func Reconcile(s store.Store, local, remote store.ChangeSet, aggressiveMove bool, logger *log.Logger) (*Result, error) {
	res := &Result{}

	for id, r := range remote {
		m, ok, err := s.Find(id)
		if err != nil {
			return nil, e.E(err)
		}
		if !ok {
			for _, f := range r.Files {
				res.Fetch = append(res.Fetch, FetchItem{ID: id, Name: f.Name, Sha: f.Sha})
			}
			continue
		}

		if err := reconcileOne(s, id, local, r, m, aggressiveMove, res, logger); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func reconcileOne(s store.Store, id store.MessageId, local store.ChangeSet, r store.MessageRecord, m store.MessageRecord, aggressiveMove bool, res *Result, logger *log.Logger) error {
	localFiles := append([]store.FileRecord(nil), m.Files...)

	remoteNames := make(map[store.RelPath]bool, len(r.Files))
	for _, f := range r.Files {
		remoteNames[f.Name] = true
	}
	localNames := make(map[store.RelPath]bool, len(localFiles))
	for _, f := range localFiles {
		localNames[f.Name] = true
	}

	var missing []store.FileRecord
	for _, f := range r.Files {
		if !localNames[f.Name] {
			missing = append(missing, f)
		}
	}

	_, hasLocalChange := local[id]

	for _, f := range missing {
		srcIdx := -1
		for i, g := range localFiles {
			if g.Sha == f.Sha {
				srcIdx = i
				break
			}
		}
		if srcIdx == -1 {
			continue // genuinely missing: stays in the FETCH list
		}
		src := localFiles[srcIdx]

		srcAbs := filepath.Join(s.Root(), filepath.FromSlash(string(src.Name)))
		dstAbs := filepath.Join(s.Root(), filepath.FromSlash(string(f.Name)))

		remoteHasSource := remoteNames[src.Name]
		asCopy := remoteHasSource || (hasLocalChange && !aggressiveMove)

		if asCopy {
			if err := copyFile(srcAbs, dstAbs); err != nil {
				return e.E(err)
			}
			if _, _, err := s.AddFile(dstAbs); err != nil {
				return e.E(err)
			}
			localFiles = append(localFiles, store.FileRecord{Name: f.Name, Sha: f.Sha})
			localNames[f.Name] = true
		} else {
			if err := os.MkdirAll(filepath.Dir(dstAbs), 0o777); err != nil {
				return e.E(fmt.Errorf("mkdir for move destination: %w", err))
			}
			if err := os.Rename(srcAbs, dstAbs); err != nil {
				return e.E(fmt.Errorf("move %s to %s: %w", src.Name, f.Name, err))
			}
			if _, _, err := s.AddFile(dstAbs); err != nil {
				return e.E(err)
			}
			if err := s.RemoveFile(srcAbs); err != nil {
				return e.E(err)
			}
			localFiles[srcIdx] = store.FileRecord{Name: f.Name, Sha: f.Sha}
			delete(localNames, src.Name)
			localNames[f.Name] = true
			if logger != nil {
				logger.Debugf("reconcile: moved %s to %s for %s", src.Name, f.Name, id)
			}
		}
		res.CopyMove++
	}

	var stillMissing []store.FileRecord
	for _, f := range missing {
		if !localNames[f.Name] {
			stillMissing = append(stillMissing, f)
		}
	}
	for _, f := range stillMissing {
		res.Fetch = append(res.Fetch, FetchItem{ID: id, Name: f.Name, Sha: f.Sha})
	}

	if hasLocalChange {
		return nil
	}

	anyShared := false
	for name := range localNames {
		if remoteNames[name] {
			anyShared = true
			break
		}
	}
	if !anyShared && len(localNames) > 0 && len(remoteNames) > 0 {
		return e.E(&Divergent{ID: id})
	}

	for name := range localNames {
		if remoteNames[name] {
			continue
		}
		abs := filepath.Join(s.Root(), filepath.FromSlash(string(name)))
		if err := s.RemoveFile(abs); err != nil {
			return e.E(err)
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return e.E(fmt.Errorf("unlink %s: %w", name, err))
		}
		res.DupDeletions++
	}

	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return fmt.Errorf("mkdir for copy destination: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open copy source %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create copy destination %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
