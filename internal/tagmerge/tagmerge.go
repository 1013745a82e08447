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

// Package tagmerge applies the remote tag-union rule (spec §4.5) to local
// messages: a commutative, associative, idempotent merge that never
// silently drops a tag, since tags carry no per-tag timestamp.
package tagmerge

import (
	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/log"
)

var e = errors.New("tagmerge")

// Apply merges remote's tags into local's store for every message in
// remote, per spec §4.5. It returns the number of messages whose tag set
// actually changed (TransferCounters.TagChanges).
func Apply(s store.Store, local, remote store.ChangeSet, logger *log.Logger) (uint32, error) {
	var changed uint32
	for id, r := range remote {
		wanted := r.Tags
		if l, ok := local[id]; ok {
			wanted = store.UnionTags(l.Tags, r.Tags)
		}

		rec, ok, err := s.Find(id)
		if err != nil {
			return changed, e.E(err)
		}
		if !ok {
			// Absent or a ghost: will be adopted later during file
			// transfer, or is not a message we can tag today.
			if logger != nil {
				logger.Infof("tagmerge: skipping %s, not present locally", id)
			}
			continue
		}

		if store.TagsEqual(rec.Tags, wanted) {
			continue
		}
		if err := s.SetTags(id, wanted); err != nil {
			return changed, e.E(err)
		}
		changed++
	}
	return changed, nil
}
