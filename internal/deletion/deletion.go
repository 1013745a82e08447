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

// Package deletion implements the optional whole-id diff and coordinated
// removal phase (spec §4.9). Only the initiator diffs the two id sets,
// halving the bandwidth; the responder just hands over its id list and
// applies whatever the initiator asks it to delete.
package deletion

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/internal/wire"
	"github.com/sgotti/notmuch-sync-go/log"
)

var e = errors.New("deletion")

const deletedTag = store.Tag("deleted")

// Options configures one side of a deletion exchange.
type Options struct {
	// RequireDeletedTag enables the safe mode: an id slated for deletion
	// whose local tag set lacks "deleted" is spared (spec §4.9 "Safety
	// option"). False is spec's "unsafe-deletion".
	RequireDeletedTag bool
}

// Result is the outcome local to this node.
type Result struct {
	MsgDeletions uint32
}

// selfDeleted removes every local message already carrying the "deleted"
// sentinel tag (spec §4.5's deletion-marking convention, consumed here
// per §4.9). TagMerge, run earlier in the same orchestration, has
// already propagated this tag from a peer's changeset, so by the time
// DeletionSync runs on either side independently, a message deleted via
// the tag on one node self-deletes on the other node too, without
// needing the id-diff exchange below. That exchange instead catches
// messages removed by some other means (outside the tag convention).
func selfDeleted(s store.Store, opts Options, logger *log.Logger) (uint32, error) {
	ids, err := s.AllIDs()
	if err != nil {
		return 0, err
	}
	var count uint32
	for _, id := range ids {
		rec, ok, err := s.Find(id)
		if err != nil {
			return count, err
		}
		if !ok || !rec.Tags[deletedTag] {
			continue
		}
		deleted, err := deleteOne(s, id, opts, logger)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

// RunResponder sends all local ids, then receives and applies the
// initiator's delete list.
func RunResponder(codec *wire.Codec, s store.Store, opts Options, logger *log.Logger) (*Result, error) {
	selfCount, err := selfDeleted(s, opts, logger)
	if err != nil {
		return nil, e.E(err)
	}

	ids, err := s.AllIDs()
	if err != nil {
		return nil, e.E(err)
	}

	var toDelete []string
	var sendErr, recvErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendErr = codec.WriteNames(idsToStrings(ids))
	}()
	go func() {
		defer wg.Done()
		toDelete, recvErr = codec.ReadNames()
	}()
	wg.Wait()
	if sendErr != nil {
		return nil, e.E(fmt.Errorf("send local ids: %w", sendErr))
	}
	if recvErr != nil {
		return nil, e.E(fmt.Errorf("receive delete list: %w", recvErr))
	}

	res := &Result{MsgDeletions: selfCount}
	for _, id := range toDelete {
		deleted, err := deleteOne(s, store.MessageId(id), opts, logger)
		if err != nil {
			return nil, e.E(err)
		}
		if deleted {
			res.MsgDeletions++
		}
	}
	return res, nil
}

// RunInitiator receives the responder's id list, computes the two
// deletion sets, sends the remote side its delete list, and applies the
// local delete list.
func RunInitiator(codec *wire.Codec, s store.Store, opts Options, logger *log.Logger) (*Result, error) {
	selfCount, err := selfDeleted(s, opts, logger)
	if err != nil {
		return nil, e.E(err)
	}

	remoteIDs, err := codec.ReadNames()
	if err != nil {
		return nil, e.E(fmt.Errorf("receive responder ids: %w", err))
	}
	localIDs, err := s.AllIDs()
	if err != nil {
		return nil, e.E(err)
	}

	remoteSet := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		remoteSet[id] = true
	}
	localSet := make(map[string]bool, len(localIDs))
	for _, id := range localIDs {
		localSet[string(id)] = true
	}

	// delete_remote = remote_ids \ local_ids: ids the responder still has
	// that we no longer do; tell it to drop them. delete_local is the
	// mirror image, applied here. Either way, the side missing an id
	// wins and the deletion propagates to the side that still has it.
	var deleteRemote, deleteLocal []string
	for _, id := range remoteIDs {
		if !localSet[id] {
			deleteRemote = append(deleteRemote, id)
		}
	}
	for _, id := range localIDs {
		if !remoteSet[string(id)] {
			deleteLocal = append(deleteLocal, string(id))
		}
	}

	if err := codec.WriteNames(deleteRemote); err != nil {
		return nil, e.E(fmt.Errorf("send delete-remote list: %w", err))
	}

	res := &Result{MsgDeletions: selfCount}
	for _, id := range deleteLocal {
		deleted, err := deleteOne(s, store.MessageId(id), opts, logger)
		if err != nil {
			return nil, e.E(err)
		}
		if deleted {
			res.MsgDeletions++
		}
	}
	return res, nil
}

func deleteOne(s store.Store, id store.MessageId, opts Options, logger *log.Logger) (bool, error) {
	rec, ok, err := s.Find(id)
	if err != nil {
		return false, err
	}
	if !ok {
		if logger != nil {
			logger.Infof("deletion: %s already absent or a ghost, skipping", id)
		}
		return false, nil
	}

	if opts.RequireDeletedTag && !rec.Tags[deletedTag] {
		// Bump the revision with a no-op tag write so this id re-enters
		// the normal change-set flow on the next sync and is retained.
		bump := make(map[store.Tag]bool, len(rec.Tags)+1)
		for t := range rec.Tags {
			bump[t] = true
		}
		bump["notmuch-sync-go-bump"] = true
		if err := s.SetTags(id, bump); err != nil {
			return false, err
		}
		if err := s.SetTags(id, rec.Tags); err != nil {
			return false, err
		}
		if logger != nil {
			logger.Infof("deletion: %s lacks the deleted tag, sparing it (safe mode)", id)
		}
		return false, nil
	}

	for _, f := range rec.Files {
		abs := filepath.Join(s.Root(), filepath.FromSlash(string(f.Name)))
		if err := s.RemoveFile(abs); err != nil {
			return false, err
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("unlink %s: %w", f.Name, err)
		}
	}
	return true, nil
}

func idsToStrings(ids []store.MessageId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
