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

// Package transfer implements the symmetric filename-request and
// body-exchange phases (spec §4.7, §6.2 steps 3-4): both sides request
// the files they're missing, then both sides serve what was requested,
// each concurrently so neither side's write buffer can block the other's
// drain (spec §5).
package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/hash"
	"github.com/sgotti/notmuch-sync-go/internal/reconcile"
	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/internal/wire"
	"github.com/sgotti/notmuch-sync-go/log"
)

var e = errors.New("transfer")

// HashMismatch is spec §7's fatal error kind for a received file whose
// content hash doesn't match what the sender's change-set promised.
type HashMismatch struct {
	Name store.RelPath
	Want store.Hex32
	Got  store.Hex32
}

func (h *HashMismatch) Error() string {
	return fmt.Sprintf("hash mismatch for %s: want %s, got %s", h.Name, h.Want, h.Got)
}

// OverwriteConflict is spec §7's fatal error kind when a destination file
// already exists with content that doesn't match the incoming bytes.
type OverwriteConflict struct {
	Name store.RelPath
}

func (o *OverwriteConflict) Error() string {
	return fmt.Sprintf("destination %s exists with different content than the incoming file", o.Name)
}

// ProgressReporter is advanced once per framed blob sent or received, in
// either direction, so a caller can drive a progress bar (SPEC_FULL.md
// §4.7). nil is a valid no-op reporter.
type ProgressReporter interface {
	Increment()
}

// Result is what the local side learns about a Phase A/B run: tags for
// newly-adopted messages come from the remote change-set and are applied
// as an authoritative overwrite (spec §4.7 step 4).
type Result struct {
	NewFiles    uint32
	NewMessages uint32
}

// Run executes Phase A (filename exchange) then Phase B (body exchange)
// against codec, fetching everything in fetchList and serving whatever
// the peer names in its own request. remoteTags supplies the tag set to
// install on any message newly adopted during this run.
func Run(codec *wire.Codec, s store.Store, fetchList []reconcile.FetchItem, remoteTags map[store.MessageId]map[store.Tag]bool, progress ProgressReporter, logger *log.Logger) (*Result, error) {
	localNames := make([]string, len(fetchList))
	for i, f := range fetchList {
		localNames[i] = string(f.Name)
	}

	var peerWants []string
	var phaseAErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := codec.WriteNames(localNames); err != nil {
			phaseAErr = fmt.Errorf("send fetch names: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		names, err := codec.ReadNames()
		if err != nil {
			phaseAErr = fmt.Errorf("receive fetch names: %w", err)
			return
		}
		peerWants = names
	}()
	wg.Wait()
	if phaseAErr != nil {
		return nil, e.E(phaseAErr)
	}

	res := &Result{}
	var sendErr, recvErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = sendBodies(codec, s, peerWants, progress)
	}()
	go func() {
		defer wg.Done()
		recvErr = receiveBodies(codec, s, fetchList, remoteTags, res, progress, logger)
	}()
	wg.Wait()
	if sendErr != nil {
		return nil, e.E(sendErr)
	}
	if recvErr != nil {
		return nil, e.E(recvErr)
	}
	return res, nil
}

func sendBodies(codec *wire.Codec, s store.Store, names []string, progress ProgressReporter) error {
	for _, name := range names {
		abs := filepath.Join(s.Root(), filepath.FromSlash(name))
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("local file not found: %s: %w", name, err)
		}
		if err := codec.WriteBlob(data); err != nil {
			return fmt.Errorf("send body for %s: %w", name, err)
		}
		if progress != nil {
			progress.Increment()
		}
	}
	return nil
}

func receiveBodies(codec *wire.Codec, s store.Store, fetchList []reconcile.FetchItem, remoteTags map[store.MessageId]map[store.Tag]bool, res *Result, progress ProgressReporter, logger *log.Logger) error {
	for _, item := range fetchList {
		data, err := codec.ReadBlob()
		if err != nil {
			return fmt.Errorf("receive body for %s: %w", item.Name, err)
		}
		if progress != nil {
			progress.Increment()
		}

		got := hash.Digest(data)
		if got != item.Sha {
			return &HashMismatch{Name: item.Name, Want: item.Sha, Got: got}
		}

		abs := filepath.Join(s.Root(), filepath.FromSlash(string(item.Name)))
		wrote, err := writeIfAbsentOrMatching(abs, data, item)
		if err != nil {
			return err
		}

		id, isDuplicate, err := s.AddFile(abs)
		if err != nil {
			return fmt.Errorf("add_file %s: %w", item.Name, err)
		}
		if wrote {
			res.NewFiles++
		}
		if !isDuplicate {
			res.NewMessages++
			if tags, ok := remoteTags[id]; ok {
				if err := s.SetTags(id, tags); err != nil {
					return fmt.Errorf("install tags on newly adopted %s: %w", id, err)
				}
			}
		}
		if logger != nil {
			logger.Debugf("transfer: adopted %s as %s (new message: %v)", item.Name, id, !isDuplicate)
		}
	}
	return nil
}

// writeIfAbsentOrMatching implements spec §4.7 step (b): if the
// destination already exists and its hash doesn't match, fail; if it
// matches, no write is necessary; otherwise write atomically.
func writeIfAbsentOrMatching(abs string, data []byte, item reconcile.FetchItem) (wrote bool, err error) {
	if existing, statErr := os.ReadFile(abs); statErr == nil {
		if hash.Digest(existing) == item.Sha {
			return false, nil
		}
		return false, &OverwriteConflict{Name: item.Name}
	} else if !os.IsNotExist(statErr) {
		return false, fmt.Errorf("stat destination %s: %w", item.Name, statErr)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o777); err != nil {
		return false, fmt.Errorf("mkdir for %s: %w", item.Name, err)
	}
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, ".notmuch-sync-tmp-"+uuid.NewString())
	if err != nil {
		return false, fmt.Errorf("create temp file for %s: %w", item.Name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, fmt.Errorf("write %s: %w", item.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("close temp file for %s: %w", item.Name, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("rename into place for %s: %w", item.Name, err)
	}
	return true, nil
}
