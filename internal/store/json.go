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

package store

import (
	"encoding/json"
	"fmt"

	"github.com/sgotti/notmuch-sync-go/internal/maildir"
)

// MarshalJSON encodes a MessageRecord as {"tags":[...], "files":[...]},
// the wire format spec §6.2 specifies for changeset_exchange.
func (m MessageRecord) MarshalJSON() ([]byte, error) {
	tags := make([]string, 0, len(m.Tags))
	for t := range m.Tags {
		tags = append(tags, string(t))
	}
	files := m.Files
	if files == nil {
		files = []FileRecord{}
	}
	return json.Marshal(wireMessageRecord{Tags: tags, Files: files})
}

// UnmarshalJSON rejects any file name that fails maildir.ValidateRelPath
// before it ever reaches Reconcile or FileTransfer — this is the one
// place a peer's changeset data turns into a RelPath a later phase will
// filepath.Join against the store root, so it's the one place a
// traversal attempt ("../../.ssh/authorized_keys") can be caught.
func (m *MessageRecord) UnmarshalJSON(data []byte) error {
	var w wireMessageRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	for _, f := range w.Files {
		if err := maildir.ValidateRelPath(string(f.Name)); err != nil {
			return fmt.Errorf("invalid file name in message record: %w", err)
		}
	}
	tags := make(map[Tag]bool, len(w.Tags))
	for _, t := range w.Tags {
		tags[Tag(t)] = true
	}
	m.Tags = tags
	m.Files = w.Files
	return nil
}

// TagSet is a convenience constructor for tests and callers building a
// MessageRecord by hand.
func TagSet(tags ...Tag) map[Tag]bool {
	m := make(map[Tag]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

// TagsEqual reports whether two tag sets contain exactly the same tags.
func TagsEqual(a, b map[Tag]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for t := range a {
		if !b[t] {
			return false
		}
	}
	return true
}

// UnionTags returns the union of a and b as a new map.
func UnionTags(a, b map[Tag]bool) map[Tag]bool {
	out := make(map[Tag]bool, len(a)+len(b))
	for t := range a {
		out[t] = true
	}
	for t := range b {
		out[t] = true
	}
	return out
}
