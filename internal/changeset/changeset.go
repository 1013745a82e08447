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

// Package changeset computes the set of messages modified since a
// bookmarked revision (spec §4.4), validating the bookmark against the
// store's current identity first.
package changeset

import (
	"fmt"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/internal/syncstate"
)

var e = errors.New("changeset")

// Incompatible is returned by Build when the bookmark can no longer be
// trusted as an incremental base (spec §4.4, error kind BookmarkIncompatible
// in spec §7). The sync must abort without mutating anything.
type Incompatible struct {
	Reason string
}

func (i *Incompatible) Error() string {
	return fmt.Sprintf("bookmark incompatible: %s", i.Reason)
}

// Build returns the ChangeSet for s since the bookmark recorded for
// peerUUID, or every message if no bookmark exists yet.
func Build(s store.Store, peerUUID string) (store.ChangeSet, error) {
	rev, err := s.Revision()
	if err != nil {
		return nil, e.E(err)
	}

	bookmark, ok, err := syncstate.Load(s.Root(), peerUUID)
	if err != nil {
		return nil, e.E(&Incompatible{Reason: fmt.Sprintf(
			"%v; delete the bookmark file and resync from scratch", err)})
	}

	startRev := uint64(0)
	if ok {
		if bookmark.UUID != rev.UUID {
			return nil, e.E(&Incompatible{Reason: fmt.Sprintf(
				"stored uuid %s does not match store uuid %s; the local database was rebuilt — delete the bookmark file and resync from scratch",
				bookmark.UUID, rev.UUID)})
		}
		if bookmark.Rev > rev.Rev {
			return nil, e.E(&Incompatible{Reason: fmt.Sprintf(
				"stored revision %d exceeds current revision %d", bookmark.Rev, rev.Rev)})
		}
		startRev = bookmark.Rev
	}

	since, err := s.MessagesSince(startRev)
	if err != nil {
		return nil, e.E(err)
	}

	cs := make(store.ChangeSet, len(since))
	for id, rec := range since {
		cs[id] = rec
	}
	return cs, nil
}
